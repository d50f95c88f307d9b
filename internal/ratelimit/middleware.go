package ratelimit

import (
	"context"
	"math"

	"norelock.dev/rpcdispatch/internal/utils"
	"norelock.dev/rpcdispatch/pkg/jsonrpc"
)

// CodeRateLimited is the application error code of rejected invocations.
const CodeRateLimited jsonrpc.ErrorCode = -32003

// KeyFunc derives the rate limit key of an invocation.
type KeyFunc func(ctx context.Context) string

// PeerMethodKey keys on the remote peer and the invoked method.
func PeerMethodKey(ctx context.Context) string {
	peer := jsonrpc.PeerFromContext(ctx)
	if peer == "" {
		peer = "local"
	}
	info, _ := jsonrpc.RequestInfoFromContext(ctx)
	return peer + ":" + info.Method
}

// Middleware rejects invocations over the limit with a "Rate limit exceeded"
// error whose data is the number of seconds to wait. When the limiter itself
// fails the invocation is let through.
func Middleware(limiter Limiter, logger *utils.Logger, keyFunc KeyFunc) jsonrpc.Middleware {
	if keyFunc == nil {
		keyFunc = PeerMethodKey
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return func(next jsonrpc.Handler) jsonrpc.Handler {
		return jsonrpc.HandlerFunc(func(ctx context.Context, params jsonrpc.Params) (any, error) {
			key := keyFunc(ctx)

			res, err := limiter.Allow(ctx, key)
			if err != nil {
				logger.Warn("Rate limiter unavailable, allowing request", "key", key, "error", err)
				return next.ServeRPC(ctx, params)
			}

			if !res.Allowed {
				logger.Debug("Rate limit exceeded", "key", key, "retry_after", res.RetryAfter)
				return nil, &jsonrpc.Error{
					Code:    CodeRateLimited,
					Message: "Rate limit exceeded",
					Data:    int(math.Ceil(res.RetryAfter.Seconds())),
				}
			}

			return next.ServeRPC(ctx, params)
		})
	}
}
