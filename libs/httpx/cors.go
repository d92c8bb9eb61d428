package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
)

// CORSPolicy configures cross-origin access for browser clients.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// WithCORS wraps gorilla's CORS handler. An empty origin list disables it.
func WithCORS(cfg CORSPolicy) Middleware {
	origins := trimAll(cfg.AllowedOrigins)
	if len(origins) == 0 {
		return nil
	}
	opts := []handlers.CORSOption{
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods(trimAll(cfg.AllowedMethods)),
		handlers.AllowedHeaders(trimAll(cfg.AllowedHeaders)),
		handlers.ExposedHeaders([]string{RequestIDHeader, "Retry-After"}),
	}
	if cfg.MaxAge > 0 {
		opts = append(opts, handlers.MaxAge(int(cfg.MaxAge.Seconds())))
	}
	if cfg.AllowCredentials {
		opts = append(opts, handlers.AllowCredentials())
	}
	cors := handlers.CORS(opts...)
	return func(next http.Handler) http.Handler { return cors(next) }
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
