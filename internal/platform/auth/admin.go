package auth

import (
	"net/http"
	"strings"

	"github.com/walletkun/Bookstagram/internal/platform/api"
)

// RequireAdmin guards moderation endpoints such as thread reparenting.
// Both admin and moderator roles qualify; RequireUser must run first so
// the role claim is already in context.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := RoleFromContext(r.Context())
		switch strings.ToLower(strings.TrimSpace(role)) {
		case "admin", "moderator":
			next.ServeHTTP(w, r)
		default:
			api.Forbidden(w, "FORBIDDEN", "moderation role required",
				strings.TrimSpace(r.Header.Get("X-Request-Id")))
		}
	})
}
