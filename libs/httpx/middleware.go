package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
)

type Middleware func(http.Handler) http.Handler

func Chain(h http.Handler, m ...Middleware) http.Handler {
	// Apply in reverse so Chain(h, a, b) becomes a(b(h)).
	for i := len(m) - 1; i >= 0; i-- {
		if m[i] == nil {
			continue
		}
		h = m[i](h)
	}
	return h
}

func WithBodyLimit(limitBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limitBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// WithTimeout bounds request handling. It must not wrap websocket routes:
// the timeout writer cannot be hijacked.
func WithTimeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type slogRecoveryLogger struct {
	logger *slog.Logger
}

func (l slogRecoveryLogger) Println(v ...any) {
	l.logger.Error("panic recovered", "detail", v)
}

// WithRecovery turns handler panics into 500 responses and logs them.
func WithRecovery(logger *slog.Logger) Middleware {
	return Middleware(handlers.RecoveryHandler(
		handlers.RecoveryLogger(slogRecoveryLogger{logger: logger}),
		handlers.PrintRecoveryStack(false),
	))
}
