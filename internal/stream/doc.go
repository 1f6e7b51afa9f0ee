// Package stream orchestrates a capture session: it binds the captured audio
// to a recognition backend, runs the transcript stream that feeds the log,
// and moves the session to Failed when transcription is interrupted.
package stream
