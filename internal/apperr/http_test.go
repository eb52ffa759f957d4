package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteHTTP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		withStack bool
		status    int
		code      string
		message   string
		hasStack  bool
	}{
		{"authorization", Authorization("origin %s is not allowed", "x"), false, http.StatusForbidden, "authorization_error", "origin x is not allowed", false},
		{"not found with stack", NotFound("quiz q1 not found"), true, http.StatusNotFound, "not_found", "quiz q1 not found", true},
		{"plain error hides details", errors.New("secret"), true, http.StatusInternalServerError, "internal_error", "internal server error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteHTTP(rec, tt.err, tt.withStack)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("content type = %q", ct)
			}
			var env map[string]envelopeBody
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			body := env["error"]
			if body.Code != tt.code || body.Message != tt.message {
				t.Fatalf("body = %+v", body)
			}
			if (body.Stack != "") != tt.hasStack {
				t.Fatalf("stack present = %v, want %v", body.Stack != "", tt.hasStack)
			}
		})
	}
}
