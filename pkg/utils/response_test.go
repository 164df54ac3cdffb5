package utils

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

var (
	errMissing = errors.New("message not found")
	errClosed  = errors.New("session has ended")
)

var testStatuses = []ErrorStatus{
	{Err: errMissing, Status: http.StatusNotFound},
	{Err: errClosed, Status: http.StatusConflict},
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusConflict, "session has ended")

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if rec.Body.String() != "{\"error\":\"session has ended\"}\n" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"direct", errMissing, http.StatusNotFound},
		{"wrapped", fmt.Errorf("select option: %w", errClosed), http.StatusConflict},
		{"unmapped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusFor(tc.err, testStatuses); got != tc.want {
				t.Fatalf("StatusFor = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRespondErrorFor(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondErrorFor(rec, fmt.Errorf("open: %w", errMissing), testStatuses)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec.Body.String() != "{\"error\":\"open: message not found\"}\n" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}
