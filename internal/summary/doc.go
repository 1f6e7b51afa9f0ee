// Package summary produces meeting minutes ("ata da reunião") from a
// transcript snapshot.
//
// The template summarizer builds the minutes locally from the transcript and
// the alert rules it mentions. The openai summarizer asks a chat completion
// model to write them. Both return a Document that Export writes to
// ata-reuniao-YYYY-MM-DD.md.
package summary
