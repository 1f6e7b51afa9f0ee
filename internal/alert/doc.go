// Package alert implements keyword alerts over the transcript.
//
// Registry stores the operator's keyword rules; keywords are unique ignoring
// case. Engine checks each finalized segment once, reporting every rule found
// on whole word boundaries and choosing at most one rule to sound: the highest
// priority, then the smallest rule id. Side effects such as playback and
// persistence run behind Dispatcher's bounded per-sink queues.
package alert
