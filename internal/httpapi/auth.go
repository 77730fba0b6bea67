package httpapi

import (
	"net/http"
	"strings"

	"github.com/quern/quern/internal/errs"
)

// unauthenticatedPaths is the explicit allow-list from spec §4.9: health,
// the Prometheus /metrics endpoint, and the proxy certificate download a
// device's Safari fetches before it has ever presented an API key.
var unauthenticatedPaths = map[string]bool{
	"/health":            true,
	"/metrics":           true,
	"/api/v1/proxy/cert": true,
}

// authMiddleware requires Authorization: Bearer <key> or X-API-Key: <key>
// on every path not in the allow-list, comparing against the daemon's
// generated key. Grounded on r3e-network-service_layer's ServiceAuthMiddleware
// skip-paths shape, generalized from RSA-signed service JWTs down to a
// single shared key since Quern authenticates a local CLI/companion app,
// not another service.
func authMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if unauthenticatedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if apiKey == "" || presentedKey(r) == apiKey {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, errs.Unauthenticated("missing or invalid API key"))
		})
	}
}

func presentedKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return rest
		}
	}
	return r.Header.Get("X-API-Key")
}
