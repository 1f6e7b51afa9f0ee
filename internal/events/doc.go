// Package events is the in-process publish/subscribe bus that carries
// pipeline activity to renderers, persistence and the WebSocket API.
package events
