// Package device enumerates audio inputs and opens raw capture streams.
//
// Registry asks a Backend for capture permission at most once per
// enumeration, keeps the latest device list and only opens devices from it.
// The wavfile backend replays recordings from a directory; the portaudio
// backend, built with -tags portaudio, captures from host devices.
package device
