package util

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type responseMeta struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (m *responseMeta) WriteHeader(statusCode int) {
	m.status = statusCode
	m.ResponseWriter.WriteHeader(statusCode)
}

func (m *responseMeta) Write(p []byte) (int, error) {
	if m.status == 0 {
		m.status = http.StatusOK
	}
	n, err := m.ResponseWriter.Write(p)
	m.bytes += n
	return n, err
}

// WithRequestLog emits one structured log line per HTTP request, carrying the
// request_id so log lines correlate across services. Forwarded client IPs are
// resolved against the trusted proxy allowlist.
func WithRequestLog(service string, trusted *TrustedProxies, next http.Handler) http.Handler {
	service = strings.TrimSpace(service)
	if service == "" {
		service = "unknown"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		meta := &responseMeta{ResponseWriter: w}
		next.ServeHTTP(meta, r)
		if meta.status == 0 {
			meta.status = http.StatusOK
		}
		slog.Info(
			"http_request",
			"service", service,
			"method", r.Method,
			"path", r.URL.Path,
			"status", meta.status,
			"bytes", meta.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", ClientIP(r, trusted),
			"request_id", RequestIDFromRequest(r),
		)
	})
}
