package cli

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/rpcdispatch/internal/config"
	"norelock.dev/rpcdispatch/internal/server"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rpcdispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCall(t *testing.T) {
	cfg := writeConfig(t, "{}\n")

	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{
			name: "argument",
			args: []string{"call", `{"jsonrpc":"2.0","method":"subtract","params":[42,23],"id":1}`},
			want: `{"jsonrpc":"2.0","result":19,"id":1}` + "\n",
		},
		{
			name:  "stdin dash",
			stdin: `{"jsonrpc":"2.0","method":"system.ping","id":"x"}` + "\n",
			args:  []string{"call", "-"},
			want:  `{"jsonrpc":"2.0","result":"pong","id":"x"}` + "\n",
		},
		{
			name:  "stdin implicit",
			stdin: `[{"jsonrpc":"2.0","method":"sum","params":[1,2],"id":1},{"jsonrpc":"2.0","method":"notify_hello","params":[1]}]`,
			args:  []string{"call"},
			want:  `[{"jsonrpc":"2.0","result":3,"id":1}]` + "\n",
		},
		{
			name: "notification prints nothing",
			args: []string{"call", `{"jsonrpc":"2.0","method":"notify_hello","params":[1]}`},
			want: "",
		},
		{
			name: "parse error",
			args: []string{"call", `{`},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.stdin, append([]string{"--config", cfg}, tt.args...)...)
			require.NoError(t, err)
			if tt.name == "parse error" {
				assert.Contains(t, out, `"code":-32700`)
				return
			}
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestCallPretty(t *testing.T) {
	cfg := writeConfig(t, "{}\n")

	out, err := run(t, "", "--config", cfg, "call", "--pretty", `{"jsonrpc":"2.0","method":"get_data","id":1}`)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"jsonrpc\": \"2.0\",\n  \"result\": [\n    \"hello\",\n    5\n  ],\n  \"id\": 1\n}\n", out)
}

func TestMethods(t *testing.T) {
	cfg := writeConfig(t, "{}\n")

	out, err := run(t, "", "--config", cfg, "methods")
	require.NoError(t, err)
	for _, want := range []string{
		"system.listMethods",
		"system.ping",
		"subtract",
		"(minuend float64, subtrahend float64)",
		"(...float64)",
		"greet",
	} {
		assert.Contains(t, out, want)
	}
}

func TestToken(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: 0123456789abcdef0123456789abcdef\n")

	out, err := run(t, "", "--config", path, "token", "--subject", "alice", "--scope", "system.*", "--scope", "sum")
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	verifier, err := server.NewJWT(cfg)
	require.NoError(t, err)

	claims, err := verifier.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, []string{"system.*", "sum"}, claims.Scopes)
}

func TestTokenErrors(t *testing.T) {
	noSecret := writeConfig(t, "{}\n")
	_, err := run(t, "", "--config", noSecret, "token", "--subject", "alice")
	assert.EqualError(t, err, "auth.jwt_secret is not configured")

	withSecret := writeConfig(t, "auth:\n  jwt_secret: 0123456789abcdef0123456789abcdef\n")
	_, err = run(t, "", "--config", withSecret, "token")
	assert.Error(t, err)
}

func TestStdio(t *testing.T) {
	cfg := writeConfig(t, "{}\n")

	out, err := run(t, `{"jsonrpc":"2.0","method":"echo","params":{"value":"hi"},"id":1}`+"\n", "--config", cfg, "stdio")
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","result":"hi","id":1}`+"\n", out)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := run(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "methods")
	assert.Error(t, err)
}

func TestCallRemote(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: 0123456789abcdef0123456789abcdef\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	srv, err := server.New(cfg, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	token, err := run(t, "", "--config", path, "token", "--subject", "bob")
	require.NoError(t, err)

	payload := `{"jsonrpc":"2.0","method":"sum","params":[4,5],"id":9}`
	out, err := run(t, "", "--config", path, "call", "--url", ts.URL+"/rpc", "--token", strings.TrimSpace(token), payload)
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","result":9,"id":9}`+"\n", out)

	out, err = run(t, "", "--config", path, "call", "--url", ts.URL+"/rpc", `{"jsonrpc":"2.0","method":"notify_hello","params":[1]}`, "--token", strings.TrimSpace(token))
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run(t, "", "--config", path, "call", "--url", ts.URL+"/rpc", payload)
	assert.ErrorContains(t, err, "401")
}
