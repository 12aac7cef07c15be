package acme_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/internal/acme"
	"github.com/certforge/certforge/internal/model"
)

type builtEnvelope struct {
	Header    map[string]any `json:"header"`
	Protected string         `json:"protected"`
	Payload   string         `json:"payload"`
	Signature string         `json:"signature"`
	Resource  string         `json:"resource"`
}

func buildEnvelope(t *testing.T, account *model.Account, server *model.Server, url string, payload []byte) builtEnvelope {
	t.Helper()
	manager := acme.NewNonceManager(func(ctx context.Context, server *model.Server, url string) (*http.Response, error) {
		return nonceResponse("fixed-nonce"), nil
	})
	builder := acme.NewRequestBuilder(manager)

	raw, err := builder.Build(context.Background(), account, server, url, payload)
	require.NoError(t, err)

	var env builtEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func protectedHeader(t *testing.T, env builtEnvelope) map[string]any {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(env.Protected)
	require.NoError(t, err)
	var header map[string]any
	require.NoError(t, json.Unmarshal(raw, &header))
	return header
}

func TestBuildEmbedsKeyUntilRegistered(t *testing.T) {
	account := newTestAccount(t, false)
	server := newTestServer(model.ProtocolV2, "https://acme.test")

	env := buildEnvelope(t, account, server, "https://acme.test/new-account", []byte(`{"termsOfServiceAgreed":true}`))
	protected := protectedHeader(t, env)

	assert.Equal(t, "RS256", protected["alg"])
	assert.Equal(t, "fixed-nonce", protected["nonce"])
	assert.Equal(t, "https://acme.test/new-account", protected["url"])
	assert.NotContains(t, protected, "kid")

	jwk, ok := protected["jwk"].(map[string]any)
	require.True(t, ok, "unregistered account must embed its public JWK")
	assert.Equal(t, "RSA", jwk["kty"])
	assert.NotEmpty(t, jwk["n"])
	assert.NotEmpty(t, jwk["e"])
}

func TestBuildUsesKeyIDWhenRegistered(t *testing.T) {
	account := newTestAccount(t, true)
	server := newTestServer(model.ProtocolV2, "https://acme.test")

	env := buildEnvelope(t, account, server, "https://acme.test/new-order", []byte(`{"identifiers":[]}`))
	protected := protectedHeader(t, env)

	assert.Equal(t, account.RegistrationURI, protected["kid"])
	assert.NotContains(t, protected, "jwk")
}

func TestBuildSignatureVerifies(t *testing.T) {
	account := newTestAccount(t, true)
	server := newTestServer(model.ProtocolV2, "https://acme.test")

	env := buildEnvelope(t, account, server, "https://acme.test/new-order", []byte(`{"identifiers":[]}`))

	sig, err := base64.RawURLEncoding.DecodeString(env.Signature)
	require.NoError(t, err)
	pair := sharedPair(t)
	assert.NoError(t, pair.Verify([]byte(env.Protected+"."+env.Payload), sig))
}

func TestBuildPostAsGet(t *testing.T) {
	account := newTestAccount(t, true)
	server := newTestServer(model.ProtocolV2, "https://acme.test")

	env := buildEnvelope(t, account, server, "https://acme.test/order/1", nil)

	// The payload segment is empty but still covered by the signature.
	assert.Equal(t, "", env.Payload)
	sig, err := base64.RawURLEncoding.DecodeString(env.Signature)
	require.NoError(t, err)
	pair := sharedPair(t)
	assert.NoError(t, pair.Verify([]byte(env.Protected+"."), sig))
}

func TestBuildLegacyEnvelope(t *testing.T) {
	account := newTestAccount(t, false)
	server := newTestServer(model.ProtocolV1, "https://acme.test")

	env := buildEnvelope(t, account, server, "https://acme.test/new-reg", []byte(`{"resource":"new-reg","contact":["mailto:admin@example.com"]}`))
	protected := protectedHeader(t, env)

	// The legacy dialect carries neither url nor kid in the protected header,
	// and duplicates the signing header plus the resource at the top level.
	assert.NotContains(t, protected, "url")
	assert.NotContains(t, protected, "kid")
	assert.Equal(t, "fixed-nonce", protected["nonce"])

	require.NotNil(t, env.Header)
	assert.Equal(t, "RS256", env.Header["alg"])
	assert.Contains(t, env.Header, "jwk")
	assert.Equal(t, "new-reg", env.Resource)
}

func TestBuildRejectsUnknownVersion(t *testing.T) {
	account := newTestAccount(t, true)
	server := newTestServer(model.ProtocolV2, "https://acme.test")
	server.Protocol = model.ProtocolVersion("v9")

	manager := acme.NewNonceManager(func(ctx context.Context, server *model.Server, url string) (*http.Response, error) {
		return nonceResponse("fixed-nonce"), nil
	})
	builder := acme.NewRequestBuilder(manager)

	_, err := builder.Build(context.Background(), account, server, "https://acme.test/x", nil)
	require.Error(t, err)
	var versionErr *acme.VersionError
	require.ErrorAs(t, err, &versionErr)
	assert.EqualError(t, err, `acme: unrecognized protocol version "v9"`)
}
