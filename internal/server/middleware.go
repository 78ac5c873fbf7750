package server

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// route collapses request IDs so metric labels stay bounded.
func route(path string) string {
	path = strings.TrimSuffix(path, "/")
	const prefix = "/api/v1/requests/"
	if !strings.HasPrefix(path, prefix) {
		switch path {
		case "/healthz", "/metrics", "/api/v1/strains", "/api/v1/counts", "/api/v1/selection",
			"/api/v1/refresh", "/api/v1/status", "/api/v1/requests":
			return path
		}
		return "other"
	}
	rest := strings.Split(strings.TrimPrefix(path, prefix), "/")
	switch len(rest) {
	case 1:
		return prefix + "{id}"
	case 2:
		switch rest[1] {
		case "volunteer", "status", "comments":
			return prefix + "{id}/" + rest[1]
		}
	}
	return "other"
}

func (h *Handler) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		rt := route(r.URL.Path)
		if h.Metrics != nil {
			h.Metrics.ObserveHTTP(rt, rec.status)
		}
		if rt == "/metrics" || rt == "/healthz" {
			return
		}
		h.Logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(started)),
			zap.String("user", r.Header.Get(HeaderEmail)))
	})
}
