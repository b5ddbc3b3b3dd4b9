// Package whisper provides a batch transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded once at construction and shared across all concurrent
// transcriptions; each Transcribe call creates its own whisper context since
// contexts are not thread-safe.
//
// Only WAV input (16-bit signed little-endian PCM) is accepted. Submissions
// in other container formats should go through the OpenAI transcriber, which
// decodes server-side.
package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/offbookhq/offbook/pkg/provider/stt"
)

// Compile-time interface check.
var _ stt.Transcriber = (*Transcriber)(nil)

const (
	defaultLanguage = "en"

	// whisper.cpp requires 16 kHz mono float32 input.
	whisperSampleRate = 16000
)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the language code for transcription (e.g., "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// Transcriber implements stt.Transcriber using the whisper.cpp Go bindings.
type Transcriber struct {
	model    whisperlib.Model
	language string
}

// New creates a Transcriber that loads the whisper.cpp model from the given
// file path. The caller must call Close when the transcriber is no longer
// needed.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model. Must be called when the transcriber is no
// longer needed.
func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe implements stt.Transcriber. audio must be a WAV container with
// 16-bit PCM samples; mimeType must be "audio/wav" or "audio/x-wav".
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (*stt.Transcription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if mimeType != "audio/wav" && mimeType != "audio/x-wav" && mimeType != "audio/wave" {
		return nil, fmt.Errorf("whisper: unsupported mime type %q (WAV only)", mimeType)
	}

	pcm, sampleRate, channels, err := decodeWAV(audio)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if sampleRate != whisperSampleRate {
		return nil, fmt.Errorf("whisper: sample rate %d Hz not supported; resample to %d Hz", sampleRate, whisperSampleRate)
	}

	samples := pcmToFloat32Mono(pcm, channels)
	duration := float64(len(samples)) / float64(whisperSampleRate)

	// Each call gets a fresh context; contexts are NOT thread-safe but the
	// model can be shared across goroutines.
	wctx, err := t.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(t.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", t.language, "error", err)
	}
	wctx.SetTokenTimestamps(true)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts []string
		words []stt.Word
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}

		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
		words = append(words, tokensToWords(segment.Tokens)...)
	}

	return &stt.Transcription{
		Text:     strings.Join(parts, " "),
		Words:    words,
		Duration: duration,
	}, nil
}

// tokensToWords merges whisper sub-word tokens into whole words. whisper.cpp
// marks word boundaries with a leading space on the first token of each word;
// special tokens (e.g., "[_BEG_]") are skipped.
func tokensToWords(tokens []whisperlib.Token) []stt.Word {
	var words []stt.Word
	var current *stt.Word

	for _, tok := range tokens {
		text := tok.Text
		if text == "" || strings.HasPrefix(text, "[_") {
			continue
		}

		startsWord := strings.HasPrefix(text, " ") || current == nil
		trimmed := strings.TrimLeft(text, " ")
		if trimmed == "" {
			continue
		}

		if startsWord {
			if current != nil {
				words = append(words, *current)
			}
			current = &stt.Word{
				Text:  trimmed,
				Start: tok.Start.Seconds(),
				End:   tok.End.Seconds(),
			}
		} else {
			current.Text += trimmed
			current.End = tok.End.Seconds()
		}
	}
	if current != nil {
		words = append(words, *current)
	}
	return words
}

// decodeWAV extracts the raw PCM payload, sample rate, and channel count from
// a RIFF/WAV container. Only format 1 (integer PCM) with 16 bits per sample
// is supported.
func decodeWAV(data []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("not a RIFF/WAVE file")
	}

	// Walk sub-chunks; "fmt " and "data" may appear in any order and other
	// chunks (LIST, INFO) may be interleaved.
	var (
		haveFmt  bool
		audioFmt uint16
		bits     uint16
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, errors.New("truncated fmt chunk")
			}
			audioFmt = binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt || pcm == nil {
		return nil, 0, 0, errors.New("missing fmt or data chunk")
	}
	if audioFmt != 1 || bits != 16 {
		return nil, 0, 0, fmt.Errorf("unsupported WAV encoding (format %d, %d bits); need 16-bit PCM", audioFmt, bits)
	}
	if channels <= 0 || sampleRate <= 0 {
		return nil, 0, 0, errors.New("invalid fmt chunk values")
	}
	return pcm, sampleRate, channels, nil
}
