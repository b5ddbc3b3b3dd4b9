// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A transcriber wraps a batch transcription service (the OpenAI Whisper API
// or a local whisper.cpp model) and exposes a uniform request/response
// interface: one complete audio recording in, one timestamped transcript out.
// Word-level timestamps are required — the fluency judge reasons about
// inter-word gaps, so a transcriber that cannot produce per-word timing is
// not usable for recitation assessment.
//
// Implementations must be safe for concurrent use. There is no retry layer
// here: a failed transcription is fatal to the assessment that requested it,
// and the caller surfaces the failure immediately.
package stt

import "context"

// Word is a single transcribed word with its position in the audio timeline.
type Word struct {
	// Text is the transcribed word, including any attached punctuation.
	Text string

	// Start is the word's start offset in seconds from the beginning of the
	// recording.
	Start float64

	// End is the word's end offset in seconds.
	End float64
}

// Transcription is the complete result of transcribing one audio recording.
type Transcription struct {
	// Text is the full transcript.
	Text string

	// Words is the ordered word-by-word breakdown with timestamps. Never nil
	// on a successful transcription, though it may be empty for silent audio.
	Words []Word

	// Duration is the length of the recording in seconds.
	Duration float64
}

// Transcriber is the abstraction over any batch STT backend.
//
// Implementations must be safe for concurrent use; multiple submissions may
// be transcribed simultaneously.
type Transcriber interface {
	// Transcribe converts one complete audio recording into a timestamped
	// transcript. mimeType identifies the container format of audio (e.g.,
	// "audio/wav", "audio/mpeg", "audio/webm").
	//
	// Returns an error on network or service failure, on unsupported audio, or
	// when ctx is cancelled. No partial result is returned alongside an error.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*Transcription, error)
}
