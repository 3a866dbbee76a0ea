package identitymap

import (
	"net/http"
)

// Middleware enables m for each request and clears it before and after the
// handler runs. The map is placed in the request context so models pick it
// up without extra wiring.
//
// m is shared by concurrent requests; run it behind a server that handles
// one request at a time, or build a Map per request and attach it with
// WithContext instead.
func Middleware(m *Map) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			_ = m.Clear(ctx)
			defer func() { _ = m.Clear(ctx) }()

			_ = m.Use(func() error {
				next.ServeHTTP(w, r.WithContext(WithContext(ctx, m)))
				return nil
			})
		})
	}
}
