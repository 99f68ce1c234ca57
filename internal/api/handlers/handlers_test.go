package handlers

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

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/speechmentor/internal/audit"
	"github.com/nikhilbhutani/speechmentor/internal/auth"
	"github.com/nikhilbhutani/speechmentor/internal/execution"
	"github.com/nikhilbhutani/speechmentor/internal/storage"
	"github.com/nikhilbhutani/speechmentor/internal/trigger"
)

type fakeListener struct {
	events []trigger.Event
	err    error
}

func (l *fakeListener) Handle(_ context.Context, ev trigger.Event) (trigger.Result, error) {
	if l.err != nil {
		return trigger.Result{}, l.err
	}
	l.events = append(l.events, ev)
	return trigger.Result{ExecutionID: "exec-1", Created: len(l.events) == 1}, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyz(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"database": pingFunc(func(context.Context) error { return nil }),
		"redis":    nil,
	})
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	h = NewHealthHandler(map[string]Pinger{
		"redis": pingFunc(func(context.Context) error { return errors.New("refused") }),
	})
	rec = httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unhealthy: refused") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestObjectCreated(t *testing.T) {
	l := &fakeListener{}
	h := NewEventHandler(l)

	body := `{"detail":{"bucket":{"name":"b"},"object":{"key":"raw-audio-files/s/x.mp3"}}}`
	rec := httptest.NewRecorder()
	h.ObjectCreated(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if len(l.events) != 1 || l.events[0].ObjectKey != "raw-audio-files/s/x.mp3" {
		t.Errorf("events = %+v", l.events)
	}

	rec = httptest.NewRecorder()
	h.ObjectCreated(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Errorf("duplicate status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ObjectCreated(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bucket":"b"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad event status = %d", rec.Code)
	}

	l.err = errors.New("db down")
	rec = httptest.NewRecorder()
	h.ObjectCreated(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("listener error status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db down") {
		t.Errorf("internal error leaked: %s", rec.Body)
	}
}

func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestCleanName(t *testing.T) {
	tests := map[string]string{
		"talk.mp3":          "talk.mp3",
		"../../etc/passwd":  "passwd",
		`C:\Users\me\a.wav`: "a.wav",
		"what?#.mp4":        "what__.mp4",
		"":                  "recording",
		"/":                 "recording",
		"50%.m4a":           "50_.m4a",
	}
	for in, want := range tests {
		if got := cleanName(in); got != want {
			t.Errorf("cleanName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUpload_RejectsNonMedia(t *testing.T) {
	blobs := storage.NewMemoryStorage()
	l := &fakeListener{}
	h := NewUploadHandler(blobs, "b", "raw-audio-files/", l)

	body, ct := multipartBody(t, "notes.txt", "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	req = req.WithContext(withSession(req.Context(), "sess"))
	rec := httptest.NewRecorder()
	h.Upload(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(l.events) != 0 {
		t.Error("trigger fired for rejected upload")
	}
}

func TestUpload_TooLarge(t *testing.T) {
	h := NewUploadHandler(storage.NewMemoryStorage(), "b", "raw-audio-files/", &fakeListener{})
	h.maxBytes = 16

	body, ct := multipartBody(t, "talk.mp3", "audio/mpeg", bytes.Repeat([]byte("x"), 64))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	req = req.WithContext(withSession(req.Context(), "sess"))
	rec := httptest.NewRecorder()
	h.Upload(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpload_StoresAndTriggers(t *testing.T) {
	blobs := storage.NewMemoryStorage()
	l := &fakeListener{}
	h := NewUploadHandler(blobs, "b", "raw-audio-files/", l)

	body, ct := multipartBody(t, "my talk.mp3", "audio/mpeg", []byte("ID3"))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	req = req.WithContext(withSession(req.Context(), "sess"))
	rec := httptest.NewRecorder()
	h.Upload(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		ObjectKey   string `json:"object_key"`
		ExecutionID string `json:"execution_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.ObjectKey, "raw-audio-files/sess/") || !strings.HasSuffix(resp.ObjectKey, "-my talk.mp3") {
		t.Errorf("object key = %q", resp.ObjectKey)
	}
	if data, err := blobs.Get(context.Background(), "b", resp.ObjectKey); err != nil || string(data) != "ID3" {
		t.Errorf("stored = %q, %v", data, err)
	}
	if len(l.events) != 1 || l.events[0].ObjectKey != resp.ObjectKey {
		t.Errorf("events = %+v", l.events)
	}
}

func withSession(ctx context.Context, session string) context.Context {
	return auth.WithClaims(ctx, &auth.Claims{Sub: session})
}

func seedExecution(t *testing.T, store *execution.MemoryStore, id, session string) {
	t.Helper()
	out := "final"
	_, err := store.Create(context.Background(), &execution.Execution{
		ID:         id,
		SessionKey: session,
		Status:     execution.StatusRunning,
		Context:    execution.Context{FinalOutput: &out},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExecutions_Current(t *testing.T) {
	store := execution.NewMemoryStore()
	h := NewExecutionHandler(store, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(withSession(req.Context(), "sess"))
	rec := httptest.NewRecorder()
	h.Current(rec, req)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Not started") {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	seedExecution(t, store, "e1", "sess")
	rec = httptest.NewRecorder()
	h.Current(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp executionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != "e1" || resp.DisplayStatus != "Running" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.FinalOutput != "" {
		t.Error("final output exposed before success")
	}
}

func TestExecutions_GetScopedToSession(t *testing.T) {
	store := execution.NewMemoryStore()
	seedExecution(t, store, "e1", "owner")
	if err := store.SetStatus(context.Background(), "e1", execution.StatusSucceeded, nil); err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	r.Get("/executions/{id}", NewExecutionHandler(store, nil).Get)

	get := func(session, id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/executions/"+id, nil)
		req = req.WithContext(withSession(req.Context(), session))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := get("owner", "e1")
	if rec.Code != http.StatusOK {
		t.Fatalf("owner status = %d", rec.Code)
	}
	var resp executionResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.DisplayStatus != "Succeeded" || resp.FinalOutput != "final" {
		t.Errorf("resp = %+v", resp)
	}

	if rec := get("intruder", "e1"); rec.Code != http.StatusNotFound {
		t.Errorf("other session status = %d", rec.Code)
	}
	if rec := get("owner", "missing"); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", rec.Code)
	}
}

func TestExecutions_History(t *testing.T) {
	ctx := context.Background()
	store := execution.NewMemoryStore()
	seedExecution(t, store, "e1", "owner")
	log := audit.NewMemoryLog()
	_ = log.Record(ctx, audit.Event{ExecutionID: "e1", Action: audit.ActionTransition, State: "WAIT"})

	r := chi.NewRouter()
	r.Get("/executions/{id}/history", NewExecutionHandler(store, log).History)

	req := httptest.NewRequest(http.MethodGet, "/executions/e1/history", nil)
	req = req.WithContext(withSession(req.Context(), "owner"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Events []audit.Event `json:"events"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if len(body.Events) != 1 || body.Events[0].State != "WAIT" {
		t.Errorf("events = %+v", body.Events)
	}

	req = httptest.NewRequest(http.MethodGet, "/executions/e1/history", nil)
	req = req.WithContext(withSession(req.Context(), "intruder"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("intruder status = %d", rec.Code)
	}
}
