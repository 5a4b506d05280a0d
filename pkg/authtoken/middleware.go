package authtoken

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type contextKey struct{}

// MiddlewareOpts configures the server side verification of tokens.
type MiddlewareOpts struct {
	// BaseURL is prepended to the request path to rebuild the URL the token
	// must be scoped to, ie. https://relay.example.com.
	BaseURL string
	// AllowedPubKeys restricts access to the listed keys. Empty means any
	// correctly signed token is accepted.
	AllowedPubKeys []string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Middleware rejects requests without a valid token for the requested URL
// and stores the authenticated public key in the request context.
func Middleware(opts MiddlewareOpts) func(http.Handler) http.Handler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	allowed := make(map[string]struct{}, len(opts.AllowedPubKeys))
	for _, k := range opts.AllowedPubKeys {
		allowed[strings.ToLower(k)] = struct{}{}
	}
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(HeaderKey)
			if len(header) <= 0 {
				http.Error(w, "missing auth token", http.StatusUnauthorized)
				return
			}
			token, err := Decode(header)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			if err := Verify(*token, baseURL+r.URL.Path, now()); err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			if len(allowed) > 0 {
				if _, ok := allowed[strings.ToLower(token.PubKey)]; !ok {
					http.Error(w, "pubkey not allowed", http.StatusForbidden)
					return
				}
			}

			ctx := context.WithValue(r.Context(), contextKey{}, token.PubKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PubKeyFromContext returns the public key authenticated by Middleware.
func PubKeyFromContext(ctx context.Context) (string, bool) {
	pubkey, ok := ctx.Value(contextKey{}).(string)
	return pubkey, ok
}
