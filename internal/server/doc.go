// Package server exposes the meeting pipeline over HTTP: capture session
// control, the transcript, alert rule management, meeting minutes, live
// events over a WebSocket and Prometheus metrics.
//
// Domain errors map to status codes: 409 for busy sessions, duplicate
// keywords and an empty transcript, 400 for invalid rules, 403 when capture
// permission is refused, 404 for unknown ids and 502 when capture,
// transcription or summarization fails.
package server
