package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// ErrBodyTooLarge is returned by ReadBody when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("request body too large")

// APIResponse represents a standard API response.
type APIResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   any  `json:"error,omitempty"`
}

// RespondWithJSON sends a JSON response with the given status code and data.
func RespondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// RespondWithError sends an error response with the given status code and message.
func RespondWithError(w http.ResponseWriter, statusCode int, message string) {
	RespondWithJSON(w, statusCode, APIResponse{
		Success: false,
		Error: map[string]string{
			"message": message,
		},
	})
}

// Bearer token errors
var (
	ErrNoToken            = errors.New("no token provided")
	ErrInvalidTokenFormat = errors.New("invalid token format")
)

// ExtractBearerToken returns the token of an "Authorization: Bearer <token>"
// header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" || strings.ContainsRune(token, ' ') {
		return "", ErrInvalidTokenFormat
	}
	return token, nil
}

// GetRequestIP returns the client address of r without the port. The first
// X-Forwarded-For entry wins over RemoteAddr.
func GetRequestIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}

	if strings.Contains(ip, ",") {
		ip = strings.TrimSpace(strings.Split(ip, ",")[0])
	}

	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

// ReadBody reads at most limit bytes from r into a pooled buffer and returns
// a copy. A limit of zero or less reads everything.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && int64(buf.Len()) > limit {
		return nil, ErrBodyTooLarge
	}

	return append([]byte(nil), buf.B...), nil
}
