package acme_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/internal/acme"
	"github.com/certforge/certforge/internal/model"
)

func serveNonce(mux *http.ServeMux, counter *atomic.Int64) {
	mux.HandleFunc("/new-nonce", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", fmt.Sprintf("nonce-%d", counter.Add(1)))
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestSendRetriesOnBadNonce(t *testing.T) {
	var heads, posts atomic.Int64
	mux := http.NewServeMux()
	serveNonce(mux, &heads)
	mux.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.Header().Set("Replay-Nonce", fmt.Sprintf("retry-nonce-%d", posts.Load()))
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"urn:ietf:params:acme:error:badNonce","detail":"stale nonce"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	comm := acme.NewCommunicator(5 * time.Second)
	account := newTestAccount(t, true)
	server := newTestServer(model.ProtocolV2, ts.URL)

	_, err := comm.Send(context.Background(), account, server, http.MethodPost, ts.URL+"/resource", []byte(`{}`), []int{http.StatusOK})
	require.Error(t, err)

	var protoErr *acme.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.True(t, protoErr.Problem.IsBadNonce())
	assert.EqualValues(t, 5, posts.Load())
	// Only the first attempt needed a dedicated fetch; retries reuse the
	// nonce mined from each rejection.
	assert.EqualValues(t, 1, heads.Load())
}

func TestSendRecoversFromSingleBadNonce(t *testing.T) {
	var heads, posts atomic.Int64
	mux := http.NewServeMux()
	serveNonce(mux, &heads)
	mux.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		n := posts.Add(1)
		w.Header().Set("Replay-Nonce", fmt.Sprintf("retry-nonce-%d", n))
		if n == 1 {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"type":"urn:ietf:params:acme:error:badNonce","detail":"stale nonce"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"valid"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	comm := acme.NewCommunicator(5 * time.Second)
	account := newTestAccount(t, true)
	server := newTestServer(model.ProtocolV2, ts.URL)

	resp, err := comm.Send(context.Background(), account, server, http.MethodPost, ts.URL+"/resource", []byte(`{}`), []int{http.StatusOK})
	require.NoError(t, err)
	assert.True(t, resp.JSON)
	assert.EqualValues(t, 2, posts.Load())
}

func TestSendRejectsUnexpectedStatus(t *testing.T) {
	var heads atomic.Int64
	mux := http.NewServeMux()
	serveNonce(mux, &heads)
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"type":"urn:ietf:params:acme:error:unauthorized","detail":"account does not exist"}`)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	comm := acme.NewCommunicator(5 * time.Second)
	account := newTestAccount(t, true)
	server := newTestServer(model.ProtocolV2, ts.URL)

	t.Run("with problem detail", func(t *testing.T) {
		_, err := comm.Send(context.Background(), account, server, http.MethodPost, ts.URL+"/missing", []byte(`{}`), []int{http.StatusOK})
		require.Error(t, err)
		assert.EqualError(t, err, "acme: account does not exist (status 403, type urn:ietf:params:acme:error:unauthorized)")
	})

	t.Run("without problem detail", func(t *testing.T) {
		_, err := comm.Send(context.Background(), account, server, http.MethodGet, ts.URL+"/broken", nil, []int{http.StatusOK})
		require.Error(t, err)
		assert.EqualError(t, err, "acme: server responded with status 500")
	})
}

func TestSendExtractsResponseMetadata(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://acme.test/order/42")
		w.Header().Add("Link", `<https://acme.test/issuer-1>;rel="up"`)
		w.Header().Add("Link", `<https://acme.test/issuer-2>;rel="up", <https://acme.test/alt>;rel="alternate"`)
		w.Header().Set("Retry-After", "120")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"processing"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	comm := acme.NewCommunicator(5 * time.Second)
	server := newTestServer(model.ProtocolV2, ts.URL)

	resp, err := comm.Send(context.Background(), nil, server, http.MethodGet, ts.URL+"/resource", nil, []int{http.StatusOK})
	require.NoError(t, err)

	assert.Equal(t, "https://acme.test/order/42", resp.Location)
	// First URL wins per relation.
	assert.Equal(t, "https://acme.test/issuer-1", resp.Links["up"])
	assert.Equal(t, "https://acme.test/alt", resp.Links["alternate"])
	require.NotNil(t, resp.RetryAfter)
	assert.InDelta(t, 120, resp.RetryAfterSeconds(5), 2)
}

func TestSendRetryAfterHTTPDate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", time.Now().Add(60*time.Second).UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	comm := acme.NewCommunicator(5 * time.Second)
	server := newTestServer(model.ProtocolV2, ts.URL)

	resp, err := comm.Send(context.Background(), nil, server, http.MethodGet, ts.URL+"/resource", nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, 60, resp.RetryAfterSeconds(5), 2)
}

func TestRetryAfterSecondsFallback(t *testing.T) {
	resp := &acme.Response{}
	assert.Equal(t, 7, resp.RetryAfterSeconds(7))

	past := time.Now().Add(-time.Minute)
	resp.RetryAfter = &past
	assert.Equal(t, 0, resp.RetryAfterSeconds(7))
}

func TestSendClassifiesContentTypes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprint(w, `{"status":"valid"}`)
	})
	mux.HandleFunc("/problem", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"type":"urn:ietf:params:acme:error:malformed","detail":"no such order"}`)
	})
	mux.HandleFunc("/pem", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pem-certificate-chain")
		fmt.Fprint(w, "-----BEGIN CERTIFICATE-----")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	comm := acme.NewCommunicator(5 * time.Second)
	server := newTestServer(model.ProtocolV2, ts.URL)

	t.Run("json", func(t *testing.T) {
		resp, err := comm.Send(context.Background(), nil, server, http.MethodGet, ts.URL+"/json", nil, nil)
		require.NoError(t, err)
		assert.True(t, resp.JSON)
		assert.Nil(t, resp.Problem)

		var body struct {
			Status string `json:"status"`
		}
		require.NoError(t, resp.Unmarshal(&body))
		assert.Equal(t, "valid", body.Status)
	})

	t.Run("problem", func(t *testing.T) {
		resp, err := comm.Send(context.Background(), nil, server, http.MethodGet, ts.URL+"/problem", nil, nil)
		require.NoError(t, err)
		assert.False(t, resp.JSON)
		require.NotNil(t, resp.Problem)
		assert.Equal(t, "no such order", resp.Problem.Detail)
		assert.False(t, resp.Problem.IsBadNonce())
	})

	t.Run("opaque", func(t *testing.T) {
		resp, err := comm.Send(context.Background(), nil, server, http.MethodGet, ts.URL+"/pem", nil, nil)
		require.NoError(t, err)
		assert.False(t, resp.JSON)
		assert.Nil(t, resp.Problem)
		assert.Contains(t, string(resp.Body), "BEGIN CERTIFICATE")
	})
}
