package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/rpcdispatch/internal/config"
	"norelock.dev/rpcdispatch/internal/transport"
	"norelock.dev/rpcdispatch/pkg/jsonrpc"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rpcdispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newServer(t *testing.T, body string) *Server {
	t.Helper()
	s, err := New(loadConfig(t, body), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func post(t *testing.T, h http.Handler, payload, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServerHTTP(t *testing.T) {
	s := newServer(t, "{}\n")
	h := s.Handler()

	rec := post(t, h, `{"jsonrpc":"2.0","method":"subtract","params":{"subtrahend":23,"minuend":42},"id":3}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":19,"id":3}`, rec.Body.String())

	rec = post(t, h, `{"jsonrpc":"2.0","method":"notify_hello","params":[7]}`, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `rpcdispatch_requests_total{code="0",kind="call",method="subtract"} 1`)
	assert.Contains(t, body, `rpcdispatch_requests_total{code="0",kind="notification",method="notify_hello"} 1`)
	assert.Contains(t, body, `rpcdispatch_http_requests_total{status="200"}`)
	assert.Contains(t, body, "go_goroutines")
}

func TestServerMetricsDisabled(t *testing.T) {
	s := newServer(t, "metrics:\n  enabled: false\n")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerCustomSentinel(t *testing.T) {
	s := newServer(t, "dispatcher:\n  sentinel_key: $args\n")

	rec := post(t, s.Handler(), `{"jsonrpc":"2.0","method":"greet","params":{"$args":["Ada"],"greeting":"Hi"},"id":1}`, "")
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"Hi, Ada!","id":1}`, rec.Body.String())
}

func TestServerMaxBatchSize(t *testing.T) {
	s := newServer(t, "dispatcher:\n  max_batch_size: 1\n")

	rec := post(t, s.Handler(), `[{"jsonrpc":"2.0","method":"system.ping","id":1},{"jsonrpc":"2.0","method":"system.ping","id":2}]`, "")
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, -32600, resp["error"].(map[string]any)["code"])
	assert.Nil(t, resp["id"])
}

func TestServerAuth(t *testing.T) {
	s := newServer(t, "auth:\n  jwt_secret: "+testSecret+"\n")
	h := s.Handler()

	rec := post(t, h, `{"jsonrpc":"2.0","method":"system.ping","id":1}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	issuer, err := NewJWT(s.cfg)
	require.NoError(t, err)
	token, err := issuer.Issue("alice", "system.*")
	require.NoError(t, err)

	rec = post(t, h, `{"jsonrpc":"2.0","method":"system.ping","id":1}`, token)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"pong","id":1}`, rec.Body.String())

	rec = post(t, h, `{"jsonrpc":"2.0","method":"sum","params":[1,2],"id":2}`, token)
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32001,"message":"Method not permitted","data":"sum"},"id":2}`, rec.Body.String())

	// Metrics stay public.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerRateLimit(t *testing.T) {
	s := newServer(t, "rate_limit:\n  enabled: true\n  requests: 1\n  window: 1m\n")
	h := s.Handler()

	rec := post(t, h, `{"jsonrpc":"2.0","method":"system.ping","id":1}`, "")
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"pong","id":1}`, rec.Body.String())

	rec = post(t, h, `{"jsonrpc":"2.0","method":"system.ping","id":2}`, "")
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	errObj := resp["error"].(map[string]any)
	assert.EqualValues(t, -32003, errObj["code"])
	assert.Equal(t, "Rate limit exceeded", errObj["message"])
}

func TestServerRedisUnreachable(t *testing.T) {
	cfg := loadConfig(t, "rate_limit:\n  enabled: true\n  backend: redis\n  redis:\n    address: 127.0.0.1:1\n")

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis at 127.0.0.1:1")
}

func TestServerCBOR(t *testing.T) {
	s := newServer(t, "dispatcher:\n  codec: cbor\n")
	assert.Equal(t, "application/cbor", s.Dispatcher().Codec().ContentType())
}

func TestServerWebSocket(t *testing.T) {
	s := newServer(t, "{}\n")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"echo","params":["hi"],"id":1}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"hi","id":1}`, string(msg))
}

func TestServerServeAndShutdown(t *testing.T) {
	s := newServer(t, "{}\n")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/rpc", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","method":"system.ping","id":1}`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"pong","id":1}`, string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerServeStdio(t *testing.T) {
	s := newServer(t, "{}\n")

	in := strings.NewReader(`{"jsonrpc":"2.0","method":"sum","params":[1,2,3],"id":1}` + "\n" +
		`{"jsonrpc":"2.0","method":"notify_hello","params":[1]}` + "\n")
	var out bytes.Buffer
	require.NoError(t, s.ServeStdio(context.Background(), in, &out))
	assert.Equal(t, `{"jsonrpc":"2.0","result":6,"id":1}`+"\n", out.String())
}

func TestServerServeStdioLimits(t *testing.T) {
	line := `{"jsonrpc":"2.0","method":"sum","params":[1,2,3],"id":1}` + "\n"

	s := newServer(t, "server:\n  max_body_bytes: 32\n")
	var out bytes.Buffer
	err := s.ServeStdio(context.Background(), strings.NewReader(line), &out)
	assert.ErrorContains(t, err, "token too long")
	assert.Empty(t, out.String())

	s = newServer(t, "dispatcher:\n  codec: cbor\n")
	err = s.ServeStdio(context.Background(), strings.NewReader(line), &out)
	assert.ErrorIs(t, err, transport.ErrBinaryCodec)
	assert.Empty(t, out.String())
}

func TestServerHealth(t *testing.T) {
	s := newServer(t, "environment: staging\nauth:\n  jwt_secret: "+testSecret+"\n")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, StatusUp, health.Status)
	assert.Equal(t, "staging", health.Environment)
	assert.NotEmpty(t, health.GoVersion)
	require.Len(t, health.Components, 1)
	assert.Equal(t, "dispatcher", health.Components[0].Name)
	assert.Contains(t, health.Components[0].Description, "methods registered")
}

func TestServerHealthDisabled(t *testing.T) {
	s := newServer(t, "server:\n  health_path: \"\"\n")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCheckerEmptyTable(t *testing.T) {
	h := NewHealthChecker(jsonrpc.New(), nil, "test", nil)

	health := h.Check(context.Background())
	assert.Equal(t, StatusDegraded, health.Status)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerCORS(t *testing.T) {
	s := newServer(t, "server:\n  cors:\n    allowed_origins: [\"https://app.test\"]\n")

	req := httptest.NewRequest(http.MethodOptions, "/rpc", nil)
	req.Header.Set("Origin", "https://app.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}
