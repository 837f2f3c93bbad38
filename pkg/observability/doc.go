/*
Package observability provides tools for monitoring the patchbay control plane.

It turns topology lifecycle events into Prometheus metrics and structured log
lines, and decorates an audio-server backend so every connect and disconnect
is counted.
*/
package observability
