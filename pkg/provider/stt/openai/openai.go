// Package openai provides a batch transcriber backed by the OpenAI audio
// transcription API (Whisper).
//
// The provider requests the verbose JSON response format with word-level
// timestamp granularity, which is the only Whisper API mode that returns the
// per-word timing the fluency judge needs.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/offbookhq/offbook/pkg/provider/stt"
)

// Compile-time interface check.
var _ stt.Transcriber = (*Transcriber)(nil)

const defaultModel = "whisper-1"

// config holds optional configuration for the transcriber.
type config struct {
	baseURL  string
	model    string
	language string
	timeout  time.Duration
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the transcription model (e.g., "whisper-1"). Defaults to
// "whisper-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets the ISO-639-1 language hint (e.g., "en"). An empty value
// lets the service auto-detect.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout. Defaults to 60 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Transcriber implements stt.Transcriber using the OpenAI audio API.
type Transcriber struct {
	client   oai.Client
	model    string
	language string
}

// New constructs a new OpenAI Transcriber. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel, timeout: 60 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Transcriber{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
	}, nil
}

// Transcribe implements stt.Transcriber. The audio bytes are uploaded whole;
// the filename extension forwarded to the API is derived from mimeType so the
// service can pick the right decoder.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (*stt.Transcription, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("openai stt: empty audio")
	}

	params := oai.AudioTranscriptionNewParams{
		Model:                  oai.AudioModel(t.model),
		File:                   oai.File(bytes.NewReader(audio), "audio"+extensionFor(mimeType), mimeType),
		ResponseFormat:         oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word"},
	}
	if t.language != "" {
		params.Language = oai.String(t.language)
	}

	// The typed New result only carries the plain-JSON fields; decode the
	// verbose body separately to get word timestamps and duration.
	var verbose oai.TranscriptionVerbose
	_, err := t.client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&verbose))
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcribe: %w", err)
	}

	words := make([]stt.Word, 0, len(verbose.Words))
	for _, w := range verbose.Words {
		words = append(words, stt.Word{
			Text:  w.Word,
			Start: w.Start,
			End:   w.End,
		})
	}

	return &stt.Transcription{
		Text:     verbose.Text,
		Words:    words,
		Duration: verbose.Duration,
	}, nil
}

// extensionFor maps an audio MIME type to a filename extension the API
// recognises. Unknown types fall back to .wav.
func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	default:
		return ".wav"
	}
}
