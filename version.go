package patchbay

// Version is the release of this build. Release builds override it with
// -ldflags "-X github.com/aretw0/patchbay.Version=...".
var Version = "0.3.0"
