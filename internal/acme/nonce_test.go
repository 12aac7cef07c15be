package acme_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/internal/acme"
	"github.com/certforge/certforge/internal/model"
)

func nonceTestServer() *model.Server {
	return &model.Server{
		ID:       "srv-1",
		Name:     "test",
		Protocol: model.ProtocolV2,
		Directory: &model.Directory{
			NewNonce: "https://acme.test/new-nonce",
		},
	}
}

func nonceResponse(nonce string) *http.Response {
	header := http.Header{}
	if nonce != "" {
		header.Set("Replay-Nonce", nonce)
	}
	return &http.Response{
		StatusCode: http.StatusNoContent,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}
}

func TestNonceManagerSingleUse(t *testing.T) {
	fetches := 0
	fetched := []string{"fetch-1", "fetch-2"}
	m := acme.NewNonceManager(func(ctx context.Context, server *model.Server, url string) (*http.Response, error) {
		resp := nonceResponse(fetched[fetches])
		fetches++
		return resp, nil
	})
	server := nonceTestServer()

	first, err := m.Next(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, "fetch-1", first)
	assert.Equal(t, 1, fetches)

	// Nothing pooled, so the second call fetches again; no value is
	// returned twice.
	second, err := m.Next(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, "fetch-2", second)
	assert.Equal(t, 2, fetches)
	assert.NotEqual(t, first, second)
}

func TestNonceManagerObserve(t *testing.T) {
	fetches := 0
	m := acme.NewNonceManager(func(ctx context.Context, server *model.Server, url string) (*http.Response, error) {
		fetches++
		return nonceResponse("from-fetch"), nil
	})
	server := nonceTestServer()

	m.Observe(server, nonceResponse("observed-1"))
	m.Observe(server, nonceResponse("observed-2"))

	// Most recently observed wins, and no fetch happens while the pool
	// holds a value.
	nonce, err := m.Next(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, "observed-2", nonce)
	assert.Equal(t, 0, fetches)

	// The slot is consumed; the next call falls back to fetching.
	nonce, err = m.Next(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, "from-fetch", nonce)
	assert.Equal(t, 1, fetches)
}

func TestNonceManagerObserveIgnoresInvalid(t *testing.T) {
	fetches := 0
	m := acme.NewNonceManager(func(ctx context.Context, server *model.Server, url string) (*http.Response, error) {
		fetches++
		return nonceResponse("from-fetch"), nil
	})
	server := nonceTestServer()

	m.Observe(server, nonceResponse(""))
	m.Observe(server, nonceResponse("not a valid nonce!"))

	nonce, err := m.Next(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, "from-fetch", nonce)
	assert.Equal(t, 1, fetches)
}

func TestNonceManagerNoNonce(t *testing.T) {
	m := acme.NewNonceManager(func(ctx context.Context, server *model.Server, url string) (*http.Response, error) {
		return nonceResponse(""), nil
	})
	_, err := m.Next(context.Background(), nonceTestServer())
	assert.ErrorIs(t, err, acme.ErrNoNonce)

	m = acme.NewNonceManager(func(ctx context.Context, server *model.Server, url string) (*http.Response, error) {
		return nonceResponse("white space"), nil
	})
	_, err = m.Next(context.Background(), nonceTestServer())
	assert.ErrorIs(t, err, acme.ErrNoNonce)
}
