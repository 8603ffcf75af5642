package middleware

import (
	"net/http"

	"github.com/rpattn/persway/internal/profileloader"
	"github.com/rpattn/persway/internal/repository"
)

// DataLoaderMiddleware attaches a per-request profile loader to the request context
func DataLoaderMiddleware(repo repository.ProfileRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := profileloader.NewProfileLoader(repo)
			ctx := profileloader.WithLoader(r.Context(), loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
