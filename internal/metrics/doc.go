// Package metrics defines the Prometheus metrics exported by the service:
// capture session lifecycle, transcript segments, alert matches and
// dispatch, recognition requests, summaries and the HTTP API.
package metrics
