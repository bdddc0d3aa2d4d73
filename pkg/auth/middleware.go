package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/kubently"
	"github.com/kubently/kubently/pkg/observability"
)

// SkipList maps a path to the set of HTTP methods that bypass
// authentication for it; "*" in the method set skips every method.
// Grounded on the original source's DualAuthMiddleware.should_skip_auth.
type SkipList map[string]map[string]bool

// Skips reports whether path/method should bypass authentication.
func (s SkipList) Skips(path, method string) bool {
	methods, ok := s[path]
	if !ok {
		return false
	}
	return methods["*"] || methods[strings.ToUpper(method)]
}

// jsonRPCPrefix marks which paths get a JSON-RPC error envelope instead of
// the plain {error,status} body on an auth failure.
const jsonRPCPrefix = "/a2a/"

// Middleware authenticates every inbound request per spec.md §4.8: bearer
// token preferred, falling through to API key on bearer failure, attaching
// the resolved AuthContext to the request context on success.
func Middleware(apiKeys *APIKeyValidator, oidc *OIDCAuthenticator, skip SkipList, logger *slog.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip.Skips(r.URL.Path, r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			apiKey := firstNonEmptyHeader(r, "X-API-Key", "X-Api-Key", "x-api-key")

			var ac kubently.AuthContext
			var err error
			authenticated := false
			method := "api_key"

			if bearer, ok := bearerToken(authHeader); ok && oidc != nil {
				ac, err = oidc.Authenticate(r.Context(), bearer)
				if err == nil {
					authenticated = true
					method = "bearer_token"
				} else {
					logger.Warn("bearer authentication failed, falling through to api key", "error", err)
				}
			}

			if !authenticated {
				if apiKey == "" {
					if err == nil {
						err = kerrors.New(kerrors.Unauthenticated, "no credentials provided")
					}
					if metrics != nil {
						metrics.AuthFailures.Inc()
					}
					writeAuthError(w, r, err)
					return
				}
				if apiKeys == nil {
					if metrics != nil {
						metrics.AuthFailures.Inc()
					}
					writeAuthError(w, r, kerrors.New(kerrors.Unauthenticated, "api key auth not configured"))
					return
				}
				ac, err = apiKeys.Validate(apiKey)
				if err != nil {
					if metrics != nil {
						metrics.AuthFailures.Inc()
					}
					writeAuthError(w, r, err)
					return
				}
			}

			if metrics != nil {
				metrics.AuthSuccesses.WithLabelValues(method).Inc()
			}
			r = r.WithContext(kubently.WithAuthContext(r.Context(), ac))
			next.ServeHTTP(w, r)
		})
	}
}

func firstNonEmptyHeader(r *http.Request, names ...string) string {
	for _, n := range names {
		if v := r.Header.Get(n); v != "" {
			return v
		}
	}
	return ""
}

func bearerToken(authHeader string) (string, bool) {
	for _, prefix := range []string{"Bearer ", "bearer "} {
		if strings.HasPrefix(authHeader, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(authHeader, prefix)), true
		}
	}
	return "", false
}

// writeAuthError responds 401 with a body shape matching the endpoint's
// protocol: a JSON-RPC error envelope under jsonRPCPrefix, plain JSON
// otherwise (spec.md §4.8 step 6).
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if strings.HasPrefix(r.URL.Path, jsonRPCPrefix) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"error":   map[string]any{"code": kerrors.Unauthenticated.JSONRPCCode(), "message": err.Error()},
			"id":      nil,
		})
		return
	}
	_, body := kerrors.AsHTTPBody(err)
	body.Status = http.StatusUnauthorized
	_ = json.NewEncoder(w).Encode(body)
}
