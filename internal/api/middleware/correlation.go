// Package middleware provides HTTP middleware components for the Fletcher API.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// correlationHeader carries the request ID across service boundaries.
const correlationHeader = "X-Correlation-ID"

// maxCorrelationIDLength caps inbound correlation IDs; anything longer is
// replaced rather than echoed into logs and responses.
const maxCorrelationIDLength = 128

// correlationIDKey is the context key for the correlation ID.
type correlationIDKey struct{}

// CorrelationID tags every request with a correlation ID. An acceptable
// inbound X-Correlation-ID is kept so callers can stitch traces across
// services; otherwise a fresh one is generated. The ID is echoed in the
// response header and stored in the request context.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(correlationHeader)
			if !acceptableCorrelationID(correlationID) {
				correlationID = newCorrelationID()
			}

			w.Header().Set(correlationHeader, correlationID)

			ctx := context.WithValue(r.Context(), correlationIDKey{}, correlationID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCorrelationID extracts the correlation ID from the request context.
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return correlationID
	}

	return "unknown"
}

// acceptableCorrelationID screens inbound IDs: present, not oversized, and
// free of characters that could split a log line or response header.
func acceptableCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLength {
		return false
	}

	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}

	return true
}

// newCorrelationID generates a random ID, falling back to a timestamp when
// the system entropy source fails.
func newCorrelationID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("t-%016x", time.Now().UnixNano())
	}

	return id.String()
}
