package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantDetails string
	}{
		{"not found", echo.ErrNotFound, http.StatusNotFound, "NotFound", "Not Found"},
		{"too large", echo.ErrStatusRequestEntityTooLarge, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "Request Entity Too Large"},
		{"rate limited", echo.ErrTooManyRequests, http.StatusTooManyRequests, "TooManyRequests", "Too Many Requests"},
		{"custom message", echo.NewHTTPError(http.StatusBadRequest, "bad event"), http.StatusBadRequest, "BadRequest", "bad event"},
		{"unmapped status", echo.NewHTTPError(http.StatusTeapot, "short and stout"), http.StatusTeapot, "InternalError", "short and stout"},
		{"plain error", errors.New("secret internals"), http.StatusInternalServerError, "InternalError", "internal server error"},
	}

	h := NewErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", http.NoBody), rec)

			h(tt.err, c)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			eb := decodeErrorBody(t, rec.Body.Bytes())
			if eb.Error != tt.wantCode {
				t.Errorf("error = %q, want %q", eb.Error, tt.wantCode)
			}
			if eb.Details != tt.wantDetails {
				t.Errorf("details = %q, want %q", eb.Details, tt.wantDetails)
			}
			if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
				t.Error("error response is missing CORS headers")
			}
		})
	}
}

func TestErrorHandler_HeadAndCommitted(t *testing.T) {
	h := NewErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	e := echo.New()

	t.Run("head has no body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodHead, "/", http.NoBody), rec)
		h(echo.ErrNotFound, c)
		if rec.Code != http.StatusNotFound || rec.Body.Len() != 0 {
			t.Errorf("got %d with %d body bytes, want 404 and no body", rec.Code, rec.Body.Len())
		}
	})

	t.Run("committed response is left alone", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", http.NoBody), rec)
		_ = c.String(http.StatusOK, "partial")
		h(errors.New("late failure"), c)
		if rec.Code != http.StatusOK || rec.Body.String() != "partial" {
			t.Errorf("got %d %q, want the original response untouched", rec.Code, rec.Body.String())
		}
	})
}
