// Package transcript turns recognition results into the session transcript.
//
// Stream tracks utterances in detection order, surfaces interim text to an
// observer and appends each utterance exactly once as a Final segment to the
// Log. Completed utterances wait at most the reorder window for earlier ones;
// anything overtaken that way is logged late with Late set. Log is the
// append-only, timestamp-ordered record that snapshots can read without
// blocking the writer.
package transcript
