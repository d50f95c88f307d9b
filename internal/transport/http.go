// Package transport carries raw payloads between peers and the dispatcher.
package transport

import (
	"errors"
	"mime"
	"net/http"

	"norelock.dev/rpcdispatch/internal/utils"
	"norelock.dev/rpcdispatch/pkg/jsonrpc"
)

// jsonAliases are media types some clients send instead of application/json.
var jsonAliases = []string{"application/json-rpc", "application/jsonrequest"}

// HTTPHandler serves JSON-RPC over HTTP POST.
type HTTPHandler struct {
	dispatcher *jsonrpc.Dispatcher
	logger     *utils.Logger
	maxBody    int64
}

// NewHTTPHandler creates a handler reading at most maxBody bytes per request.
// A maxBody of zero disables the limit.
func NewHTTPHandler(dispatcher *jsonrpc.Dispatcher, logger *utils.Logger, maxBody int64) *HTTPHandler {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &HTTPHandler{
		dispatcher: dispatcher,
		logger:     logger.Named("rpc_http"),
		maxBody:    maxBody,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	codec := h.dispatcher.Codec()
	if !acceptsContentType(r.Header.Get("Content-Type"), codec.ContentType()) {
		utils.RespondWithError(w, http.StatusUnsupportedMediaType, "Unsupported content type")
		return
	}

	body, err := utils.ReadBody(r.Body, h.maxBody)
	if err != nil {
		if errors.Is(err, utils.ErrBodyTooLarge) {
			utils.RespondWithError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		h.logger.Debug("Failed to read request body", "error", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	ctx := jsonrpc.WithPeer(r.Context(), utils.GetRequestIP(r))
	out, err := h.dispatcher.Call(ctx, body)
	if err != nil {
		h.logger.Error("Failed to serialize reply", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", codec.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.logger.Debug("Failed to write reply", "error", err)
	}
}

// acceptsContentType reports whether a request with the given Content-Type
// header can be handled by a codec producing want. A missing header is
// accepted.
func acceptsContentType(header, want string) bool {
	if header == "" {
		return true
	}

	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	if mediaType == want {
		return true
	}
	if want == "application/json" {
		for _, alias := range jsonAliases {
			if mediaType == alias {
				return true
			}
		}
	}
	return false
}
