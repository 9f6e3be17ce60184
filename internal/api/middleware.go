package api

import (
	"context"
	"log"
	"net/http"
	"time"
)

// householdIDKey is the context key the household middleware stores the
// caller's household under
type contextKey string

const householdIDKey contextKey = "householdID"

// HouseholdHeader identifies the calling household. Until user
// authentication lands this is the only tenancy signal.
const HouseholdHeader = "X-Household-ID"

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		log.Printf(
			"[%s] %s %s - Status: %d - Duration: %v - IP: %s",
			r.Method,
			r.URL.Path,
			r.Proto,
			wrapped.statusCode,
			duration,
			r.RemoteAddr,
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware recovers from panics and returns 500 error.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("PANIC: %v", err)
				respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal server error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware adds CORS headers to responses.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+HouseholdHeader)
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HouseholdMiddleware extracts the caller's household from the request
// header. Every API route is household-scoped; a missing header is
// rejected before any handler runs.
func HouseholdMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		householdID := r.Header.Get(HouseholdHeader)
		if householdID == "" {
			respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing "+HouseholdHeader+" header", nil)
			return
		}

		ctx := context.WithValue(r.Context(), householdIDKey, householdID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// householdFromContext returns the household the middleware attached
func householdFromContext(ctx context.Context) string {
	id, _ := ctx.Value(householdIDKey).(string)
	return id
}
