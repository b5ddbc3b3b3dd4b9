package assess

import (
	"errors"
	"fmt"
)

// ErrUnknownPassage is returned when the submitted passage ref is not in the
// catalog.
var ErrUnknownPassage = errors.New("assess: unknown passage")

// TranscriptionError wraps a failed speech-to-text call. Transcription is the
// engine's single point of failure before the panel, so the failure is
// surfaced as its own type for the HTTP layer to map to 502 rather than 500.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("assess: transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
