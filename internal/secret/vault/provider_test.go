package vault

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeVault(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/secret/data/llm":
			_, _ = w.Write([]byte(`{"data":{"data":{"openai":"sk-kv2","value":"default"}}}`))
		case "/v1/kv1/llm":
			_, _ = w.Write([]byte(`{"data":{"anthropic":"sk-kv1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProvider_Get(t *testing.T) {
	srv := newFakeVault(t)
	p, err := New(Config{Address: srv.URL, Token: "root"})
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	v, err := p.Get(ctx, "secret/data/llm#openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-kv2", v)

	v, err = p.Get(ctx, "secret/data/llm")
	require.NoError(t, err)
	assert.Equal(t, "default", v)

	v, err = p.Get(ctx, "kv1/llm#anthropic")
	require.NoError(t, err)
	assert.Equal(t, "sk-kv1", v)

	_, err = p.Get(ctx, "secret/data/llm#missing")
	assert.Error(t, err)

	_, err = p.Get(ctx, "secret/data/nothing#x")
	assert.Error(t, err)
}

func TestNew_Errors(t *testing.T) {
	t.Setenv("VAULT_TOKEN", "")
	_, err := New(Config{Address: "http://127.0.0.1:1", AuthMethod: "token"})
	assert.Error(t, err)

	_, err = New(Config{Address: "http://127.0.0.1:1", AuthMethod: "kerberos"})
	assert.Error(t, err)
}
