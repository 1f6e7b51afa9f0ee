// Package store persists capture sessions, final segments and alert
// triggers in SQLite so past meetings can be browsed after the process
// exits. A Recorder feeds it from the event bus.
package store
