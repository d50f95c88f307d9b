package jsonrpc

import "context"

// RequestInfo describes the request a handler is serving.
type RequestInfo struct {
	Method       string
	ID           any
	Notification bool
}

type requestInfoKey struct{}

// RequestInfoFromContext returns the request being served, if any.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}

func withRequestInfo(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, RequestInfo{
		Method:       req.Method,
		ID:           req.ID,
		Notification: req.IsNotification(),
	})
}

type peerKey struct{}

// WithPeer attaches the address of the remote peer to ctx. Transports call it
// so that middleware can key on the caller.
func WithPeer(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, peerKey{}, addr)
}

// PeerFromContext returns the remote peer address set by WithPeer.
func PeerFromContext(ctx context.Context) string {
	addr, _ := ctx.Value(peerKey{}).(string)
	return addr
}
