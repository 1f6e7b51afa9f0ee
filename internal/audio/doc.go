// Package audio holds the PCM plumbing shared by capture and recognition:
// frames, resampling, WAV encoding and decoding, windowing and VAD driven
// utterance chunking.
package audio
