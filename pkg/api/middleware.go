package api

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/matzehuels/luam/pkg/observability"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	loggerKey
)

// requestID tags each request with the caller's X-Request-ID or a fresh
// UUID, and echoes it on the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// logRequests attaches a request-scoped logger and logs one line per
// response.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := s.opts.Logger.With("request_id", requestIDFrom(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		r = r.WithContext(context.WithValue(r.Context(), loggerKey, logger))
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		observability.HTTP().OnResponse(r.Context(), r.Method, route, status, elapsed)
		logger.Log(statusLevel(status), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"package", r.Header.Get(HeaderPackageName),
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", elapsed.Round(time.Millisecond),
		)
	})
}

// statusLevel picks the request log level from the status class.
func statusLevel(status int) log.Level {
	switch {
	case status >= 500:
		return log.ErrorLevel
	case status >= 400:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func loggerFor(r *http.Request, fallback *log.Logger) *log.Logger {
	if l, ok := r.Context().Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return fallback
}
