package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/offbookhq/offbook/internal/assess"
	"github.com/offbookhq/offbook/internal/attempt"
	"github.com/offbookhq/offbook/internal/observe"
	"github.com/offbookhq/offbook/internal/passage"
	"github.com/offbookhq/offbook/internal/server"
	"github.com/offbookhq/offbook/pkg/provider/llm"
	llmmock "github.com/offbookhq/offbook/pkg/provider/llm/mock"
	"github.com/offbookhq/offbook/pkg/provider/stt"
	sttmock "github.com/offbookhq/offbook/pkg/provider/stt/mock"
)

func testCatalog(t *testing.T) *passage.Catalog {
	t.Helper()
	c, err := passage.NewCatalog([]*passage.Passage{{
		Ref:   "hamlet-3-1",
		Title: "Hamlet, Act III Scene 1",
		Lines: []passage.Line{
			{Front: "HAMLET", Back: "To be, or not to be,"},
			{Back: "that is the question:"},
		},
	}})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func cleanVerdict() *llmmock.Provider {
	return &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"spots":[],"summary":"clean run"}`},
	}
}

func cleanTranscriber() *sttmock.Transcriber {
	return &sttmock.Transcriber{Result: &stt.Transcription{
		Text:     "to be or not to be that is the question",
		Duration: 6.5,
	}}
}

// newTestServer assembles a full pipeline around mock providers and an
// in-memory attempt store.
func newTestServer(t *testing.T, tr *sttmock.Transcriber, providers []*llmmock.Provider, opts ...server.Option) (http.Handler, *attempt.MemoryStore) {
	t.Helper()

	roles := []string{assess.RoleAccuracy, assess.RoleFluency, assess.RoleInterpretive}
	var judges []*assess.Judge
	for i, p := range providers {
		judges = append(judges, assess.NewJudge(roles[i], p))
	}

	catalog := testCatalog(t)
	store := attempt.NewMemoryStore()
	assessor := assess.NewAssessor(catalog, tr, assess.NewPanel(judges), store)
	srv := server.New(assessor, store, catalog, opts...)
	return srv.Handler(observe.DefaultMetrics()), store
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	return body.Error.Code
}

func TestTranscribe_RawBody(t *testing.T) {
	t.Parallel()

	handler, store := newTestServer(t, cleanTranscriber(),
		[]*llmmock.Provider{cleanVerdict(), cleanVerdict(), cleanVerdict()})

	req := httptest.NewRequest(http.MethodPost, "/recite/transcribe/hamlet-3-1",
		strings.NewReader("riff-wave-bytes"))
	req.Header.Set("Content-Type", "audio/wav")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	var body struct {
		PassageRef      string            `json:"passage_ref"`
		Transcript      string            `json:"transcript"`
		DurationSeconds float64           `json:"duration_seconds"`
		TroubleSpots    []json.RawMessage `json:"trouble_spots"`
		JudgeSummaries  map[string]string `json:"judge_summaries"`
		JudgesConsulted int               `json:"judges_consulted"`
		DramaticPauses  []json.RawMessage `json:"dramatic_pauses"`
	}
	decodeBody(t, resp, &body)

	if body.PassageRef != "hamlet-3-1" {
		t.Errorf("passage_ref = %q", body.PassageRef)
	}
	if body.Transcript != "to be or not to be that is the question" {
		t.Errorf("transcript = %q", body.Transcript)
	}
	if body.JudgesConsulted != 3 {
		t.Errorf("judges_consulted = %d, want 3", body.JudgesConsulted)
	}
	if body.TroubleSpots == nil {
		t.Error("trouble_spots is null, want []")
	}
	if body.DramaticPauses == nil {
		t.Error("dramatic_pauses is null, want []")
	}

	log, err := store.Log(context.Background(), "default", "hamlet-3-1")
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(log) != 1 {
		t.Errorf("stored attempts = %d, want 1 under the default user", len(log))
	}
}

func TestTranscribe_MultipartUpload(t *testing.T) {
	t.Parallel()

	tr := cleanTranscriber()
	handler, _ := newTestServer(t, tr,
		[]*llmmock.Provider{cleanVerdict(), cleanVerdict(), cleanVerdict()})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="audio"; filename="take.webm"`)
	hdr.Set("Content-Type", "audio/webm")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write([]byte("webm-bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/recite/transcribe/hamlet-3-1", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if calls := tr.TranscribeCalls; len(calls) != 1 || calls[0].MimeType != "audio/webm" {
		t.Errorf("transcriber calls = %+v, want one audio/webm call", calls)
	}
}

func TestTranscribe_UnknownPassage(t *testing.T) {
	t.Parallel()

	handler, _ := newTestServer(t, cleanTranscriber(), []*llmmock.Provider{cleanVerdict()})

	req := httptest.NewRequest(http.MethodPost, "/recite/transcribe/no-such-ref",
		strings.NewReader("bytes"))
	req.Header.Set("Content-Type", "audio/wav")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
	if code := errorCode(t, resp); code != "unknown_passage" {
		t.Errorf("error code = %q", code)
	}
}

func TestTranscribe_RejectsNonAudio(t *testing.T) {
	t.Parallel()

	handler, _ := newTestServer(t, cleanTranscriber(), []*llmmock.Provider{cleanVerdict()})

	req := httptest.NewRequest(http.MethodPost, "/recite/transcribe/hamlet-3-1",
		strings.NewReader("to be or not to be"))
	req.Header.Set("Content-Type", "text/plain")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", resp.Code)
	}
	if code := errorCode(t, resp); code != "invalid_audio" {
		t.Errorf("error code = %q", code)
	}
}

func TestTranscribe_RejectsOversizedUpload(t *testing.T) {
	t.Parallel()

	handler, _ := newTestServer(t, cleanTranscriber(), []*llmmock.Provider{cleanVerdict()},
		server.WithMaxAudioBytes(16))

	req := httptest.NewRequest(http.MethodPost, "/recite/transcribe/hamlet-3-1",
		strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set("Content-Type", "audio/wav")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.Code)
	}
	if code := errorCode(t, resp); code != "audio_too_large" {
		t.Errorf("error code = %q", code)
	}
}

func TestTranscribe_RejectsEmptyBody(t *testing.T) {
	t.Parallel()

	handler, _ := newTestServer(t, cleanTranscriber(), []*llmmock.Provider{cleanVerdict()})

	req := httptest.NewRequest(http.MethodPost, "/recite/transcribe/hamlet-3-1", http.NoBody)
	req.Header.Set("Content-Type", "audio/wav")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
	if code := errorCode(t, resp); code != "invalid_audio" {
		t.Errorf("error code = %q", code)
	}
}

func TestTranscribe_TranscriptionFailure(t *testing.T) {
	t.Parallel()

	tr := &sttmock.Transcriber{Err: errors.New("whisper crashed")}
	handler, store := newTestServer(t, tr, []*llmmock.Provider{cleanVerdict()})

	req := httptest.NewRequest(http.MethodPost, "/recite/transcribe/hamlet-3-1",
		strings.NewReader("bytes"))
	req.Header.Set("Content-Type", "audio/wav")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.Code)
	}
	if code := errorCode(t, resp); code != "transcription_failed" {
		t.Errorf("error code = %q", code)
	}

	log, _ := store.Log(context.Background(), "default", "hamlet-3-1")
	if len(log) != 0 {
		t.Error("failed attempt was stored")
	}
}

func TestTranscribe_AllJudgesFailed(t *testing.T) {
	t.Parallel()

	down := &llmmock.Provider{CompleteErr: errors.New("provider down")}
	handler, _ := newTestServer(t, cleanTranscriber(), []*llmmock.Provider{down, down, down})

	req := httptest.NewRequest(http.MethodPost, "/recite/transcribe/hamlet-3-1",
		strings.NewReader("bytes"))
	req.Header.Set("Content-Type", "audio/wav")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.Code)
	}
	if code := errorCode(t, resp); code != "assessment_failed" {
		t.Errorf("error code = %q", code)
	}
}

func TestTranscribe_UserHeaderSeparatesLogs(t *testing.T) {
	t.Parallel()

	handler, store := newTestServer(t, cleanTranscriber(),
		[]*llmmock.Provider{cleanVerdict(), cleanVerdict(), cleanVerdict()})

	req := httptest.NewRequest(http.MethodPost, "/recite/transcribe/hamlet-3-1",
		strings.NewReader("bytes"))
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("X-User-ID", "ophelia")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}

	ctx := context.Background()
	if log, _ := store.Log(ctx, "ophelia", "hamlet-3-1"); len(log) != 1 {
		t.Errorf("ophelia's log has %d attempts, want 1", len(log))
	}
	if log, _ := store.Log(ctx, "default", "hamlet-3-1"); len(log) != 0 {
		t.Errorf("default log has %d attempts, want 0", len(log))
	}
}

func seedAttempts(t *testing.T, store *attempt.MemoryStore, userID string, results ...*assess.Result) {
	t.Helper()
	for _, res := range results {
		if err := store.Append(context.Background(), userID, "hamlet-3-1", res); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func TestTroubleSpots(t *testing.T) {
	t.Parallel()

	handler, store := newTestServer(t, cleanTranscriber(), []*llmmock.Provider{cleanVerdict()})

	flagged := &assess.Result{Spots: []assess.ConfirmedSpot{
		{Line: 0, Word: 2, Kind: assess.KindOmission, Expected: "or"},
	}}
	// Four attempts; the default window keeps the newest three, so the spot
	// flagged in the two newest scores 2/3.
	seedAttempts(t, store, "default", flagged, &assess.Result{}, flagged, flagged)

	req := httptest.NewRequest(http.MethodGet, "/recite/trouble-spots/hamlet-3-1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	var body struct {
		PassageRef         string `json:"passage_ref"`
		TotalAttempts      int    `json:"total_attempts"`
		AttemptsConsidered int    `json:"attempts_considered"`
		WeakSpots          []struct {
			Line        int     `json:"line"`
			Word        int     `json:"word"`
			Occurrences int     `json:"occurrences"`
			Severity    float64 `json:"severity"`
		} `json:"weak_spots"`
	}
	decodeBody(t, resp, &body)

	if body.TotalAttempts != 4 || body.AttemptsConsidered != 3 {
		t.Errorf("attempts = %d/%d, want 4/3", body.TotalAttempts, body.AttemptsConsidered)
	}
	if len(body.WeakSpots) != 1 {
		t.Fatalf("len(weak_spots) = %d, want 1", len(body.WeakSpots))
	}
	ws := body.WeakSpots[0]
	if ws.Line != 0 || ws.Word != 2 || ws.Occurrences != 2 {
		t.Errorf("weak spot = %+v", ws)
	}
}

func TestTroubleSpots_UnknownPassage(t *testing.T) {
	t.Parallel()

	handler, _ := newTestServer(t, cleanTranscriber(), []*llmmock.Provider{cleanVerdict()})

	req := httptest.NewRequest(http.MethodGet, "/recite/trouble-spots/no-such-ref", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
}

func TestTroubleSpots_EmptyHistory(t *testing.T) {
	t.Parallel()

	handler, _ := newTestServer(t, cleanTranscriber(), []*llmmock.Provider{cleanVerdict()})

	req := httptest.NewRequest(http.MethodGet, "/recite/trouble-spots/hamlet-3-1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var body struct {
		TotalAttempts int               `json:"total_attempts"`
		WeakSpots     []json.RawMessage `json:"weak_spots"`
	}
	decodeBody(t, resp, &body)
	if body.TotalAttempts != 0 {
		t.Errorf("total_attempts = %d, want 0", body.TotalAttempts)
	}
	if body.WeakSpots == nil {
		t.Error("weak_spots is null, want []")
	}
}

func TestPassages(t *testing.T) {
	t.Parallel()

	handler, _ := newTestServer(t, cleanTranscriber(), []*llmmock.Provider{cleanVerdict()})

	req := httptest.NewRequest(http.MethodGet, "/passages", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var body struct {
		Passages []struct {
			Ref        string `json:"ref"`
			Title      string `json:"title"`
			LineCount  int    `json:"line_count"`
			TotalWords int    `json:"total_words"`
		} `json:"passages"`
	}
	decodeBody(t, resp, &body)

	if len(body.Passages) != 1 {
		t.Fatalf("len(passages) = %d, want 1", len(body.Passages))
	}
	p := body.Passages[0]
	if p.Ref != "hamlet-3-1" || p.Title != "Hamlet, Act III Scene 1" {
		t.Errorf("passage = %+v", p)
	}
	if p.LineCount != 2 || p.TotalWords != 10 {
		t.Errorf("counts = %d lines / %d words, want 2/10", p.LineCount, p.TotalWords)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	handler, _ := newTestServer(t, cleanTranscriber(), []*llmmock.Provider{cleanVerdict()})

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.Code)
		}
	}
}
