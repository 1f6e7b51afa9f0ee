// Package tui is a terminal front end for a running insights server.
//
// It loads devices, rules and the transcript over the HTTP API, then follows
// the /events WebSocket to render interim text, final segments with keyword
// highlights and the latest alert. Dropped connections are retried with
// exponential backoff. Keys start and stop capture, pick the device, edit
// keyword rules, clear the transcript and export meeting minutes.
package tui
