package jsonrpc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEndpoint serves d over a minimal POST handler.
func newTestEndpoint(t *testing.T, d *Dispatcher, token string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		out, err := d.Call(r.Context(), body)
		require.NoError(t, err)
		if out == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSend(t *testing.T) {
	called := make(chan struct{}, 1)
	d := New()
	require.NoError(t, d.RegisterFunc("subtract", func(a, b int) int { return a - b }, "minuend", "subtrahend"))
	require.NoError(t, d.RegisterFunc("hello", func() { called <- struct{}{} }))
	srv := newTestEndpoint(t, d, "")

	c := NewClient(srv.URL)
	ctx := context.Background()

	out, err := c.Send(ctx, []byte(`{"jsonrpc":"2.0","method":"subtract","params":{"subtrahend":2,"minuend":5},"id":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":3,"id":1}`, string(out))

	out, err = c.Send(ctx, []byte(`[{"jsonrpc":"2.0","method":"missing","id":2}]`))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found","data":"Method \"missing\" not found"},"id":2}]`, string(out))

	// A notification gets 204 and no reply.
	out, err = c.Send(ctx, []byte(`{"jsonrpc":"2.0","method":"hello"}`))
	require.NoError(t, err)
	assert.Nil(t, out)
	<-called
}

func TestClientContextErrors(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(block) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient(srv.URL).Send(ctx, []byte(`{}`))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = NewClient(srv.URL).Send(ctx, []byte(`{}`))
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientBearerAndStatus(t *testing.T) {
	d := New()
	require.NoError(t, d.RegisterFunc("ping", func() string { return "pong" }))
	srv := newTestEndpoint(t, d, "secret")

	_, err := NewClient(srv.URL).Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"ping","id":1}`))
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "unauthorized", statusErr.Body)

	out, err := NewClient(srv.URL, WithBearerToken("secret")).Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"ping","id":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"pong","id":1}`, string(out))
}

func TestClientClosed(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	require.NoError(t, c.Close())

	_, err := c.Send(context.Background(), []byte(`{}`))
	assert.True(t, errors.Is(err, ErrClientClosed))
}
