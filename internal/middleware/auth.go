// Package middleware contains HTTP middleware for the notebookdir API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/notebookdir/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader carries the shared key for internal API calls.
const APIKeyHeader = "X-API-Key"

// =============================================================================
// API Key Middleware
// =============================================================================

// APIKeyMiddleware guards internal /api routes with a shared key.
//
// The key is optional: when none is configured every request passes, which is
// how local development and the demo deployment run.
type APIKeyMiddleware struct {
	key    string
	logger *slog.Logger
}

// NewAPIKeyMiddleware creates a new API key middleware. An empty key disables
// the check.
func NewAPIKeyMiddleware(key string, logger *slog.Logger) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		key:    key,
		logger: logger,
	}
}

// Handler returns middleware that requires the shared API key.
func (m *APIKeyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.key == "" {
			next.ServeHTTP(w, r)
			return
		}

		got := r.Header.Get(APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(m.key)) != 1 {
			m.logger.Info("rejected request with invalid api key",
				"path", r.URL.Path,
				"ip", getClientIP(r),
			)
			writeError(w, http.StatusUnauthorized, domain.EUNAUTHORIZED, "A valid API key is required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Admin Middleware
// =============================================================================

// AdminMiddleware guards admin routes. The admin key is stored as a bcrypt
// hash and compared against the X-API-Key header.
type AdminMiddleware struct {
	hash   []byte
	logger *slog.Logger
}

// NewAdminMiddleware creates a new admin middleware from a bcrypt hash.
// With an empty hash every admin request is rejected.
func NewAdminMiddleware(hash string, logger *slog.Logger) *AdminMiddleware {
	return &AdminMiddleware{
		hash:   []byte(hash),
		logger: logger,
	}
}

// RequireAdmin returns middleware that requires the admin key.
func (m *AdminMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.hash) == 0 {
			writeError(w, http.StatusForbidden, domain.EFORBIDDEN, "Admin access is not configured")
			return
		}

		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			writeError(w, http.StatusUnauthorized, domain.EUNAUTHORIZED, "Admin key required")
			return
		}

		if err := bcrypt.CompareHashAndPassword(m.hash, []byte(key)); err != nil {
			m.logger.Warn("rejected admin request",
				"path", r.URL.Path,
				"ip", getClientIP(r),
			)
			writeError(w, http.StatusForbidden, domain.EFORBIDDEN, "You don't have permission to access this resource")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeError writes the API's JSON error shape.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": message,
		"code":  code,
	})
}
