package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestURIRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		uri        string
		bucket     string
		key        string
		wantErrStr string
	}{
		{uri: URI("b", "raw-audio-files/x.mp3"), bucket: "b", key: "raw-audio-files/x.mp3"},
		{uri: "s3://media/a/b/c.wav", bucket: "media", key: "a/b/c.wav"},
		{uri: "https://example.com/x", wantErrStr: "unsupported"},
		{uri: "blob://onlybucket", wantErrStr: "scheme://bucket/key"},
	}
	for _, tc := range tests {
		t.Run(tc.uri, func(t *testing.T) {
			t.Parallel()
			bucket, key, err := ParseURI(tc.uri)
			if tc.wantErrStr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErrStr) {
					t.Fatalf("want error containing %q, got %v", tc.wantErrStr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURI: %v", err)
			}
			if bucket != tc.bucket || key != tc.key {
				t.Fatalf("got %s/%s, want %s/%s", bucket, key, tc.bucket, tc.key)
			}
		})
	}
}

func TestMemoryStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStorage()

	if _, err := m.Get(ctx, "b", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	data := []byte("hello")
	if err := m.Put(ctx, "b", "k", data, "text/plain"); err != nil {
		t.Fatal(err)
	}
	data[0] = 'j'

	got, err := m.Get(ctx, "b", "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("stored object aliased caller buffer: %q", got)
	}
	if n := m.PutCount("b", "k"); n != 1 {
		t.Fatalf("PutCount = %d, want 1", n)
	}
}

// fakeSupabase serves the subset of the Supabase storage API used by
// SupabaseStorage.
func fakeSupabase(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	objects := map[string][]byte{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer service-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		path := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/")
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			if r.Header.Get("x-upsert") != "true" {
				if _, exists := objects[path]; exists {
					w.WriteHeader(http.StatusConflict)
					return
				}
			}
			body, _ := io.ReadAll(r.Body)
			objects[path] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			body, ok := objects[path]
			if !ok {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"statusCode":"404","error":"not_found","message":"Object not found"}`))
				return
			}
			_, _ = w.Write(body)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSupabaseStorage_PutGet(t *testing.T) {
	t.Parallel()
	srv := fakeSupabase(t)
	s := NewSupabaseStorage(srv.URL, "service-key")
	ctx := context.Background()

	if err := s.Put(ctx, "b", "transcribed-text-files/x.txt", []byte("v1"), "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Deterministic keys are rewritten on stage re-runs.
	if err := s.Put(ctx, "b", "transcribed-text-files/x.txt", []byte("v2"), "text/plain"); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	got, err := s.Get(ctx, "b", "transcribed-text-files/x.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("Get = %q, want v2", got)
	}

	if _, err := s.Get(ctx, "b", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSupabaseStorage_Unauthorized(t *testing.T) {
	t.Parallel()
	srv := fakeSupabase(t)
	s := NewSupabaseStorage(srv.URL, "wrong")

	err := s.Put(context.Background(), "b", "k", []byte("x"), "")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("want 401 error, got %v", err)
	}
}
