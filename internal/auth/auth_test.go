package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sessionEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(SessionFromContext(r.Context())))
	})
}

func TestJWTMiddleware(t *testing.T) {
	m := NewJWTMiddleware("secret")
	valid, err := m.Sign("user-42", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, _ := m.Sign("user-42", -time.Minute)
	other, _ := NewJWTMiddleware("other").Sign("user-42", time.Hour)
	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Sub: "user-42"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name   string
		header string
		want   int
		body   string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, "user-42"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + other, http.StatusUnauthorized, ""},
		{"alg none", "Bearer " + noneAlg, http.StatusUnauthorized, ""},
	}
	h := m.Authenticate(sessionEcho())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("session = %q", rec.Body.String())
			}
		})
	}
}

func TestTokenMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	open := NewTokenMiddleware("X-Trigger-Token", "").Authenticate(ok)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("disabled check status = %d", rec.Code)
	}

	guarded := NewTokenMiddleware("X-Trigger-Token", "s3cret").Authenticate(ok)
	for header, want := range map[string]int{"": 401, "nope": 401, "s3cret": 204} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if header != "" {
			req.Header.Set("X-Trigger-Token", header)
		}
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("token %q status = %d, want %d", header, rec.Code, want)
		}
	}
}
