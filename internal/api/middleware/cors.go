// Package middleware provides HTTP middleware components for the Fletcher API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfigProvider supplies CORS settings to the middleware without
// importing the api package. The concrete type lives in internal/api/config.go.
type CORSConfigProvider interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
	GetMaxAge() int
}

// CORS applies the configured cross-origin headers and answers preflight
// requests with 204. Non-wildcard origins are echoed back per request, so
// Vary tells caches the response depends on the caller.
func CORS(config CORSConfigProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			applyCORSHeaders(w, r, config)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func applyCORSHeaders(w http.ResponseWriter, r *http.Request, config CORSConfigProvider) {
	headers := w.Header()

	if origins := config.GetAllowedOrigins(); len(origins) > 0 {
		switch {
		case len(origins) == 1 && origins[0] == "*":
			headers.Set("Access-Control-Allow-Origin", "*")
		default:
			if origin := r.Header.Get("Origin"); originAllowed(origin, origins) {
				headers.Set("Access-Control-Allow-Origin", origin)
				headers.Add("Vary", "Origin")
			}
		}
	}

	if methods := config.GetAllowedMethods(); len(methods) > 0 {
		headers.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	}

	if allowed := config.GetAllowedHeaders(); len(allowed) > 0 {
		headers.Set("Access-Control-Allow-Headers", strings.Join(allowed, ", "))
	}

	if maxAge := config.GetMaxAge(); maxAge > 0 {
		headers.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
	}
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}

	for _, candidate := range allowed {
		if candidate == origin {
			return true
		}
	}

	return false
}
