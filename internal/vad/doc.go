// Package vad provides energy based voice activity detection over fixed-size
// PCM windows. It drives utterance segmentation for chunked recognition.
package vad
