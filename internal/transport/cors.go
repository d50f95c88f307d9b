package transport

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig controls cross-origin access to the RPC endpoint.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to call the endpoint. "*" allows
	// any origin and a trailing "*" matches a prefix.
	AllowedOrigins []string

	// AllowCredentials lets browsers send cookies and Authorization headers.
	AllowCredentials bool

	// MaxAge is how long a preflight result may be cached, in seconds.
	MaxAge int
}

var (
	corsMethods = strings.Join([]string{http.MethodPost, http.MethodGet, http.MethodOptions}, ", ")
	corsHeaders = strings.Join([]string{"Origin", "Accept", "Content-Type", "Authorization"}, ", ")
)

// CORS answers preflight requests and sets the Access-Control headers on
// requests from allowed origins.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := cfg.allowedOrigin(origin)
			if allowed == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Add("Vary", "Origin")
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allowedOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when it is not allowed.
func (c CORSConfig) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}

	for _, allowed := range c.AllowedOrigins {
		switch {
		case allowed == "*":
			// A wildcard cannot be combined with credentials.
			if c.AllowCredentials {
				return origin
			}
			return "*"
		case allowed == origin:
			return origin
		case strings.HasSuffix(allowed, "*") && strings.HasPrefix(origin, strings.TrimSuffix(allowed, "*")):
			return origin
		}
	}
	return ""
}
