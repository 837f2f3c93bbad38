// Package nodes provides the node types patchbay can route between:
//
//   - mpv: a media player source. One output port "0".
//   - icecast: an ffmpeg stream encoder sink. One input port "0".
//   - mux: a selector passing exactly one of its inputs through to its output.
//
// Players and encoders are external processes registering a stereo pair of
// ports on the audio server. The selector never touches the audio server: it
// routes by answering InputPorts for its active input only.
package nodes
