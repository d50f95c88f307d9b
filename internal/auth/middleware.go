package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"norelock.dev/rpcdispatch/internal/utils"
	"norelock.dev/rpcdispatch/pkg/jsonrpc"
)

type claimsKey struct{}

// ClaimsFromContext returns the claims of the authenticated bearer, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

// RequireBearer rejects requests without a valid bearer token with 401 and
// stores the verified claims in the request context.
func RequireBearer(verifier *JWT, logger *utils.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	logger = logger.Named("auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := utils.ExtractBearerToken(r)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, err.Error())
				return
			}

			claims, err := verifier.Verify(token)
			switch {
			case errors.Is(err, ErrExpiredToken):
				utils.RespondWithError(w, http.StatusUnauthorized, "Token has expired")
				return
			case err != nil:
				logger.Debug("Rejected bearer token", "error", err, "remote", utils.GetRequestIP(r))
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CodeForbidden is the application error code of invocations outside the
// bearer's scopes.
const CodeForbidden jsonrpc.ErrorCode = -32001

// Permits reports whether scopes allow method. An empty scope list allows
// everything; "*" matches any method and "prefix.*" any method under prefix.
func Permits(scopes []string, method string) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, scope := range scopes {
		switch {
		case scope == "*", scope == method:
			return true
		case strings.HasSuffix(scope, ".*") && strings.HasPrefix(method, strings.TrimSuffix(scope, "*")):
			return true
		}
	}
	return false
}

// ScopeMiddleware rejects invocations not permitted by the scopes of the
// authenticated bearer. Unauthenticated invocations pass through.
func ScopeMiddleware() jsonrpc.Middleware {
	return func(next jsonrpc.Handler) jsonrpc.Handler {
		return jsonrpc.HandlerFunc(func(ctx context.Context, params jsonrpc.Params) (any, error) {
			claims, ok := ClaimsFromContext(ctx)
			if ok {
				info, _ := jsonrpc.RequestInfoFromContext(ctx)
				if !Permits(claims.Scopes, info.Method) {
					return nil, &jsonrpc.Error{
						Code:    CodeForbidden,
						Message: "Method not permitted",
						Data:    info.Method,
					}
				}
			}
			return next.ServeRPC(ctx, params)
		})
	}
}
