package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homiodev/addon-ipscanner/internal/logging"
)

func createTestLogger(buf *bytes.Buffer) *logging.Logger {
	return logging.NewWithWriter(logging.Config{Level: logging.LevelDebug, Format: logging.FormatJSON}, buf, nil)
}

type httpCall struct {
	method, path, status string
}

type fakeRecorder struct {
	mu        sync.Mutex
	requests  []httpCall
	durations int
}

func (f *fakeRecorder) IncrementHTTPRequests(method, path, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, httpCall{method, path, status})
}

func (f *fakeRecorder) RecordHTTPDuration(string, string, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations++
}

func TestRequestID(t *testing.T) {
	existing := uuid.NewString()

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "generated when missing"},
		{name: "kept when valid", header: existing, keep: true},
		{name: "replaced when malformed", header: "not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r)
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			_, err := uuid.Parse(seen)
			require.NoError(t, err)
			assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
			if tt.keep {
				assert.Equal(t, existing, seen)
			}
		})
	}
}

func TestGetRequestID_Unknown(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	assert.Equal(t, "unknown", GetRequestID(req))
	assert.Equal(t, "unknown", RequestIDFromContext(context.Background()))
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := createTestLogger(&buf)

	handler := RequestID()(Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", http.NoBody)
	req.Header.Set("X-Forwarded-For", "10.1.1.1, 10.2.2.2")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusTeapot, w.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "HTTP request", entry["msg"])
	assert.Equal(t, "POST", entry["method"])
	assert.Equal(t, "/api/v1/scans", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status_code"])
	assert.EqualValues(t, len("short and stout"), entry["response_size"])
	assert.Equal(t, "10.1.1.1", entry["remote_addr"])
	assert.Equal(t, w.Header().Get(RequestIDHeader), entry["request_id"])
}

func TestLoggingMiddleware_NilLogger(t *testing.T) {
	handler := Logging(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsMiddleware(t *testing.T) {
	rec := &fakeRecorder{}

	router := mux.NewRouter()
	router.Use(Metrics(rec))
	router.HandleFunc("/api/v1/results", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/scans", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}).Methods(http.MethodPost)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/v1/results?dead=true", http.NoBody),
		httptest.NewRequest(http.MethodPost, "/api/v1/scans", http.NoBody),
	} {
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []httpCall{
		{"GET", "/api/v1/results", "200"},
		{"POST", "/api/v1/scans", "409"},
	}, rec.requests)
	assert.Equal(t, 2, rec.durations)
}

func TestMetricsMiddleware_Unmatched(t *testing.T) {
	rec := &fakeRecorder{}
	handler := Metrics(rec)(http.NotFoundHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", http.NoBody))

	require.Len(t, rec.requests, 1)
	assert.Equal(t, httpCall{"GET", "unmatched", "404"}, rec.requests[0])
}

func TestRecoveryMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		panicValue  any
		shouldPanic bool
	}{
		{name: "string panic", panicValue: "something went wrong", shouldPanic: true},
		{name: "error panic", panicValue: fmt.Errorf("test error"), shouldPanic: true},
		{name: "no panic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := Recovery(createTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.shouldPanic {
					panic(tt.panicValue)
				}
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("success"))
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			req = req.WithContext(context.WithValue(req.Context(), RequestIDKey, "test-req-123"))
			w := httptest.NewRecorder()

			assert.NotPanics(t, func() {
				handler.ServeHTTP(w, req)
			})

			if !tt.shouldPanic {
				assert.Equal(t, http.StatusOK, w.Code)
				assert.Equal(t, "success", w.Body.String())
				assert.Empty(t, buf.String())
				return
			}

			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "Internal server error", response["error"])
			assert.Equal(t, "test-req-123", response["request_id"])
			assert.Contains(t, buf.String(), "HTTP request panic recovered")
		})
	}
}

func TestContentTypeMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		contentType string
		expected    int
	}{
		{name: "GET ignores content type", method: http.MethodGet, contentType: "text/plain", expected: http.StatusOK},
		{name: "POST json", method: http.MethodPost, contentType: "application/json", expected: http.StatusOK},
		{name: "POST json with charset", method: http.MethodPost, contentType: "application/json; charset=utf-8", expected: http.StatusOK},
		{name: "POST without content type", method: http.MethodPost, expected: http.StatusOK},
		{name: "PUT form", method: http.MethodPut, contentType: "application/x-www-form-urlencoded", expected: http.StatusUnsupportedMediaType},
		{name: "POST xml", method: http.MethodPost, contentType: "application/xml", expected: http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := ContentType()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/v1/scans", http.NoBody)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{name: "forwarded for", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, remote: "10.0.0.1:1234", expected: "203.0.113.5"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, remote: "10.0.0.1:1234", expected: "198.51.100.7"},
		{name: "remote addr", remote: "192.0.2.1:5555", expected: "192.0.2.1:5555"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, getClientIP(req))
		})
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	assert.Equal(t, http.StatusOK, rw.statusCode)

	rw.WriteHeader(http.StatusCreated)
	n, err := rw.Write([]byte("abc"))
	require.NoError(t, err)
	_, _ = rw.Write([]byte("de"))

	assert.Equal(t, 3, n)
	assert.Equal(t, http.StatusCreated, rw.statusCode)
	assert.Equal(t, 5, rw.size)
	assert.Same(t, w, rw.Unwrap())

	_, _, err = rw.Hijack()
	assert.Error(t, err, "httptest recorder cannot be hijacked")
}
