// Package transcription turns a stream of audio frames into recognition
// results keyed by utterance id.
//
// Three Backend implementations are provided. The realtime backend streams
// PCM16 over a WebSocket and maps the server's delta and completed events to
// interim and final results. The http backend cuts utterances with the
// energy VAD and posts each one as a WAV file to a transcription endpoint,
// retrying transient failures with exponential backoff. The mock backend
// ignores the audio and produces scripted meeting phrases.
//
// A backend never reconnects on its own: losing the connection ends the
// result channel with a Result whose Err wraps ErrDisconnected.
package transcription
