package methods

import (
	"context"
	"time"

	"norelock.dev/rpcdispatch/internal/utils"
	"norelock.dev/rpcdispatch/pkg/jsonrpc"
)

// LoggingMiddleware logs every invocation at debug level.
func LoggingMiddleware(logger *utils.Logger) jsonrpc.Middleware {
	logger = logger.Named("rpc")

	return func(next jsonrpc.Handler) jsonrpc.Handler {
		return jsonrpc.HandlerFunc(func(ctx context.Context, params jsonrpc.Params) (any, error) {
			info, _ := jsonrpc.RequestInfoFromContext(ctx)
			peer := jsonrpc.PeerFromContext(ctx)
			start := time.Now()

			logger.Debug("RPC request", "method", info.Method, "id", info.ID, "peer", peer, "args", params.Len())
			result, err := next.ServeRPC(ctx, params)
			if err != nil {
				logger.Debug("RPC error", "method", info.Method, "id", info.ID, "peer", peer, "error", err)
			} else {
				logger.Debug("RPC response", "method", info.Method, "id", info.ID, "peer", peer, "duration", time.Since(start))
			}
			return result, err
		})
	}
}
