package web

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/importer/internal/core"
)

// withRequester records the client on the request context so lifecycle
// events can name who validated or imported a file. RemoteAddr has already
// been resolved by TrustedRealIP.
func withRequester(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.WithRequester(r.Context(), core.Requester{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
			RequestID: middleware.GetReqID(r.Context()),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
