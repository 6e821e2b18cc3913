// Package requesttime pins one "now" per HTTP request so grant expiry,
// seat timestamps and throttling agree within a request.
package requesttime

import (
	"net/http"
	"time"

	"ldgate/pkg/requestcontext"
)

// Middleware stores now() in the request context. A nil now uses time.Now.
func Middleware(now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
