package web

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

// FilterMaxBodySize bounds the camera filter request body.
const FilterMaxBodySize = 16 << 10 // 16 KB

// RequestSizeLimitMiddleware limits the size of request bodies
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// handleMaxBytesError writes a 413 response if err is due to the request body
// being too large.
func handleMaxBytesError(w http.ResponseWriter, r *http.Request, err error, maxBytes int64) bool {
	var mberr *http.MaxBytesError
	if !errors.As(err, &mberr) {
		return false
	}
	slog.Warn("request body size limit exceeded",
		"remote_addr", r.RemoteAddr,
		"method", r.Method,
		"path", r.URL.Path,
		"max_bytes", maxBytes,
		"max_human", humanize.IBytes(uint64(maxBytes)))
	writeJSONResponse(w, messageResponse{
		Error: "request body exceeds " + humanize.IBytes(uint64(maxBytes)),
	}, http.StatusRequestEntityTooLarge)
	return true
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs every request once it completes. GET requests are logged at
// debug level.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		level := slog.LevelInfo
		if r.Method == http.MethodGet {
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
		)
	})
}
