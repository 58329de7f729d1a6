package web

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/khanakya/internal/domain"
	"github.com/vbonduro/khanakya/internal/imaging"
	"github.com/vbonduro/khanakya/internal/input"
)

func TestFormErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"missing key", input.ErrMissingCredential, http.StatusBadRequest, "API key"},
		{"missing image", input.ErrMissingImage, http.StatusBadRequest, "Upload or capture"},
		{"unsupported", input.ErrUnsupportedImage, http.StatusBadRequest, "JPG or PNG"},
		{"decode", input.ErrDecodeImage, http.StatusBadRequest, "could not be read"},
		{"too large", errUploadTooLarge, http.StatusRequestEntityTooLarge, "too large"},
		{"other", errors.New("boom"), http.StatusBadRequest, "form could not be read"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := formErrorStatus(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Contains(t, msg, tt.wantMsg)
		})
	}
}

func TestSSEObserverWritesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	obs := newSSEObserver(rec, slog.Default())

	enc := &imaging.Encoded{PNG: []byte{1}, Base64: "AQ=="}
	rc := &domain.RunContext{ID: "r1", Image: &domain.Image{Encoded: enc}}

	obs.ImageReady(rc)
	obs.Detected(rc, "tomato, onion")
	obs.Generated(rc, "1. Curry")

	body := rec.Body.String()
	assert.Contains(t, body, "event: image\ndata: {\"data_uri\":\"data:image/png;base64,AQ==\",\"run_id\":\"r1\"}\n\n")
	assert.Contains(t, body, "event: detected\ndata: {\"text\":\"tomato, onion\"}\n\n")
	assert.Contains(t, body, "event: recipes\ndata: {\"text\":\"1. Curry\"}\n\n")
	assert.Less(t, strings.Index(body, "event: detected"), strings.Index(body, "event: recipes"))
	assert.True(t, rec.Flushed)
}

func TestClientLimiterDisabled(t *testing.T) {
	l := newClientLimiter(0)
	assert.Nil(t, l)
	for i := 0; i < 100; i++ {
		assert.True(t, l.allow("1.2.3.4"))
	}
}

func TestClientLimiterPerClient(t *testing.T) {
	l := newClientLimiter(1)
	require.NotNil(t, l)
	assert.Equal(t, time.Minute, l.every)

	for i := 0; i < limiterBurst; i++ {
		assert.True(t, l.allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"), "other clients keep their own bucket")
}

func TestClientLimiterMiddleware(t *testing.T) {
	l := newClientLimiter(1)
	h := l.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i <= limiterBurst; i++ {
		req := httptest.NewRequest(http.MethodPost, "/runs", nil)
		req.RemoteAddr = "192.0.2.7:5555"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:443"
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req.RemoteAddr = "not-an-addr"
	assert.Equal(t, "not-an-addr", clientIP(req))
}

func TestDecodeToolImage(t *testing.T) {
	src, err := decodeToolImage("", "x.png")
	require.NoError(t, err)
	assert.Nil(t, src)

	src, err = decodeToolImage("aGVsbG8=", "x.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), src.Data)
	assert.Equal(t, "x.png", src.Filename)

	src, err = decodeToolImage("data:image/png;base64,aGVsbG8=", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), src.Data)

	_, err = decodeToolImage("***", "")
	assert.Error(t, err)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	securityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "img-src 'self' data:")
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := requestLogger(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/history", nil))

	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/history"`)
}
