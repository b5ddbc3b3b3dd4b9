// Package server exposes the Offbook assessment engine over HTTP.
//
// Routes:
//
//   - POST /recite/transcribe/{passageRef}   — submit a recording for assessment
//   - GET  /recite/trouble-spots/{passageRef} — recurring trouble-spot profile
//   - GET  /passages                          — list available passages
//   - GET  /healthz, /readyz                  — probes
//   - GET  /metrics                           — Prometheus scrape endpoint
//
// The performer identity comes from the X-User-ID request header; requests
// without one are attributed to the "default" user, which keeps single-user
// local setups zero-config.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/offbookhq/offbook/internal/assess"
	"github.com/offbookhq/offbook/internal/attempt"
	"github.com/offbookhq/offbook/internal/health"
	"github.com/offbookhq/offbook/internal/history"
	"github.com/offbookhq/offbook/internal/observe"
	"github.com/offbookhq/offbook/internal/passage"
)

// DefaultMaxAudioBytes caps uploads when no explicit limit is configured.
const DefaultMaxAudioBytes = 32 << 20 // 32 MiB

// defaultUserID attributes unauthenticated requests.
const defaultUserID = "default"

// Server holds the handler dependencies. Construct with New and mount via
// Handler.
type Server struct {
	assessor      *assess.Assessor
	store         attempt.Store
	catalog       *passage.Catalog
	healthz       *health.Handler
	maxAudioBytes int64
	historyWindow int
}

// Option configures a Server.
type Option func(*Server)

// WithMaxAudioBytes overrides the upload size cap.
func WithMaxAudioBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxAudioBytes = n
		}
	}
}

// WithHistoryWindow overrides the number of recent attempts scored by the
// trouble-spot profile.
func WithHistoryWindow(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.historyWindow = n
		}
	}
}

// WithHealthCheckers registers readiness checkers on the /readyz endpoint.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(s *Server) {
		s.healthz = health.New(checkers...)
	}
}

// New creates a Server around the given pipeline pieces.
func New(assessor *assess.Assessor, store attempt.Store, catalog *passage.Catalog, opts ...Option) *Server {
	s := &Server{
		assessor:      assessor,
		store:         store,
		catalog:       catalog,
		healthz:       health.New(),
		maxAudioBytes: DefaultMaxAudioBytes,
		historyWindow: history.DefaultWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the full route table wrapped in the observability
// middleware.
func (s *Server) Handler(metrics *observe.Metrics) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /recite/transcribe/{passageRef}", s.handleTranscribe)
	mux.HandleFunc("GET /recite/trouble-spots/{passageRef}", s.handleTroubleSpots)
	mux.HandleFunc("GET /passages", s.handlePassages)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.healthz.Register(mux)

	return observe.Middleware(metrics)(mux)
}

// transcribeResponse is the body returned by POST /recite/transcribe.
type transcribeResponse struct {
	PassageRef      string                 `json:"passage_ref"`
	Transcript      string                 `json:"transcript"`
	DurationSeconds float64                `json:"duration_seconds"`
	TroubleSpots    []assess.ConfirmedSpot `json:"trouble_spots"`
	Stats           assess.Stats           `json:"stats"`
	JudgeSummaries  map[string]string      `json:"judge_summaries"`
	JudgesConsulted int                    `json:"judges_consulted"`
	DramaticPauses  []assess.GoodPause     `json:"dramatic_pauses"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	passageRef := r.PathValue("passageRef")
	userID := userID(r)

	audio, mimeType, err := s.readAudio(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "audio_too_large",
				fmt.Sprintf("recording exceeds the %d byte limit", s.maxAudioBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		return
	}
	if !strings.HasPrefix(mimeType, "audio/") {
		writeError(w, http.StatusUnsupportedMediaType, "invalid_audio",
			fmt.Sprintf("unsupported content type %q; submit an audio/* recording", mimeType))
		return
	}

	res, err := s.assessor.Assess(r.Context(), userID, passageRef, audio, mimeType)
	if err != nil {
		s.writeAssessError(r, w, passageRef, err)
		return
	}

	writeJSON(w, http.StatusOK, transcribeResponse{
		PassageRef:      passageRef,
		Transcript:      res.Transcript,
		DurationSeconds: res.DurationSeconds,
		TroubleSpots:    emptyIfNil(res.Spots),
		Stats:           res.Stats,
		JudgeSummaries:  res.JudgeSummaries,
		JudgesConsulted: res.JudgesConsulted,
		DramaticPauses:  emptyIfNil(res.GoodPauses),
	})
}

// writeAssessError maps engine errors onto the HTTP error taxonomy. Unknown
// passage is the caller's fault; everything else that reaches here is an
// upstream dependency failing mid-pipeline.
func (s *Server) writeAssessError(r *http.Request, w http.ResponseWriter, passageRef string, err error) {
	log := observe.Logger(r.Context())

	var trErr *assess.TranscriptionError
	switch {
	case errors.Is(err, assess.ErrUnknownPassage):
		writeError(w, http.StatusNotFound, "unknown_passage",
			fmt.Sprintf("passage %q is not in the catalog", passageRef))
	case errors.As(err, &trErr):
		log.Error("transcription failed", "passage", passageRef, "error", trErr.Err)
		writeError(w, http.StatusBadGateway, "transcription_failed",
			"the recording could not be transcribed; resubmit the attempt")
	case errors.Is(err, assess.ErrAllJudgesFailed):
		log.Error("all judges failed", "passage", passageRef)
		writeError(w, http.StatusBadGateway, "assessment_failed",
			"no judge delivered a verdict; resubmit the attempt")
	default:
		log.Error("assessment failed", "passage", passageRef, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "assessment failed")
	}
}

// readAudio extracts the recording from the request. Multipart uploads use
// the "audio" form field; anything else is treated as a raw body upload with
// the Content-Type header naming the codec.
func (s *Server) readAudio(w http.ResponseWriter, r *http.Request) (data []byte, mimeType string, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxAudioBytes)

	contentType := r.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(s.maxAudioBytes); err != nil {
			return nil, "", err
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			return nil, "", fmt.Errorf(`multipart form is missing the "audio" field: %w`, err)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		if len(data) == 0 {
			return nil, "", errors.New("submitted recording is empty")
		}
		partType, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
		return data, partType, nil
	}

	data, err = io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errors.New("submitted recording is empty")
	}
	return data, mediaType, nil
}

// troubleSpotsResponse is the body returned by GET /recite/trouble-spots.
type troubleSpotsResponse struct {
	PassageRef         string             `json:"passage_ref"`
	TotalAttempts      int                `json:"total_attempts"`
	AttemptsConsidered int                `json:"attempts_considered"`
	WeakSpots          []history.WeakSpot `json:"weak_spots"`
}

func (s *Server) handleTroubleSpots(w http.ResponseWriter, r *http.Request) {
	passageRef := r.PathValue("passageRef")
	if _, _, ok := s.catalog.Get(passageRef); !ok {
		writeError(w, http.StatusNotFound, "unknown_passage",
			fmt.Sprintf("passage %q is not in the catalog", passageRef))
		return
	}

	attempts, err := s.store.Log(r.Context(), userID(r), passageRef)
	if err != nil {
		observe.Logger(r.Context()).Error("attempt log read failed", "passage", passageRef, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not read attempt history")
		return
	}

	profile := history.Aggregate(attempts, s.historyWindow)
	writeJSON(w, http.StatusOK, troubleSpotsResponse{
		PassageRef:         passageRef,
		TotalAttempts:      profile.TotalAttempts,
		AttemptsConsidered: profile.AttemptsConsidered,
		WeakSpots:          emptyIfNil(profile.WeakSpots),
	})
}

// passageSummary is one entry in the GET /passages listing.
type passageSummary struct {
	Ref        string `json:"ref"`
	Title      string `json:"title"`
	LineCount  int    `json:"line_count"`
	TotalWords int    `json:"total_words"`
}

func (s *Server) handlePassages(w http.ResponseWriter, r *http.Request) {
	summaries := make([]passageSummary, 0, s.catalog.Len())
	for _, ref := range s.catalog.Refs() {
		p, idx, _ := s.catalog.Get(ref)
		summaries = append(summaries, passageSummary{
			Ref:        p.Ref,
			Title:      p.Title,
			LineCount:  idx.LineCount(),
			TotalWords: idx.TotalWords(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"passages": summaries})
}

// userID resolves the performer identity for a request.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return defaultUserID
}

// errorBody is the JSON error envelope shared by all endpoints.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// emptyIfNil keeps list fields rendering as [] instead of null.
func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
