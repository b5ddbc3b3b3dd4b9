// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber in unit tests to feed controlled transcripts without a
// live STT backend.
package mock

import (
	"context"
	"sync"

	"github.com/offbookhq/offbook/pkg/provider/stt"
)

// Compile-time interface check.
var _ stt.Transcriber = (*Transcriber)(nil)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Audio is the audio payload passed to Transcribe.
	Audio []byte
	// MimeType is the MIME type passed to Transcribe.
	MimeType string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe. May be nil (returns nil, nil).
	Result *stt.Transcription

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured result or error.
func (t *Transcriber) Transcribe(_ context.Context, audio []byte, mimeType string) (*stt.Transcription, error) {
	t.mu.Lock()
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Audio: audio, MimeType: mimeType})
	t.mu.Unlock()

	if t.Err != nil {
		return nil, t.Err
	}
	return t.Result, nil
}
