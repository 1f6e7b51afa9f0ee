// Package capture owns the single audio capture session and its lifecycle:
// Idle, Starting, Active, Stopping and Failed. Streams are always opened with
// echo cancellation, noise suppression and gain control off, and a stream that
// reports otherwise is refused.
package capture
