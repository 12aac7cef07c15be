package acme

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"

	"github.com/certforge/certforge/internal/keys"
	"github.com/certforge/certforge/internal/model"
)

// RequestBuilder assembles the signed JWS-style envelope for a call to a
// given server endpoint. Header shape is chosen by protocol version:
// key-embedded (jwk) until the account is registered, key-id based afterwards.
type RequestBuilder struct {
	nonces *NonceManager
}

// NewRequestBuilder returns a builder drawing nonces from m.
func NewRequestBuilder(m *NonceManager) *RequestBuilder {
	return &RequestBuilder{nonces: m}
}

// envelope is the outer signed request object. Header and Resource are only
// populated for the legacy dialect, which expects them duplicated at the top
// level for backward compatibility.
type envelope struct {
	Header    map[string]any `json:"header,omitempty"`
	Protected string         `json:"protected"`
	Payload   string         `json:"payload"`
	Signature string         `json:"signature"`
	Resource  string         `json:"resource,omitempty"`
}

// Build signs a request for account against url. A nil payload signals a
// POST-as-GET request: the payload segment is empty but still signed.
func (b *RequestBuilder) Build(ctx context.Context, account *model.Account, server *model.Server, url string, payload []byte) ([]byte, error) {
	pair, err := keys.FromPEM([]byte(account.PrivateKeyPEM))
	if err != nil {
		return nil, err
	}

	header, err := signingHeader(pair, account)
	if err != nil {
		return nil, err
	}

	nonce, err := b.nonces.Next(ctx, server)
	if err != nil {
		return nil, err
	}

	protected := make(map[string]any, len(header)+3)
	for k, v := range header {
		protected[k] = v
	}
	protected["nonce"] = nonce
	switch server.Protocol {
	case model.ProtocolV1:
		// The legacy dialect carries neither url nor kid in the protected header.
	case model.ProtocolV2:
		protected["url"] = url
		if account.Registered() {
			protected["kid"] = account.RegistrationURI
		}
	default:
		return nil, &VersionError{Version: string(server.Protocol)}
	}

	protectedJSON, err := json.Marshal(protected)
	if err != nil {
		return nil, fmt.Errorf("acme: failed to encode protected header: %w", err)
	}

	protected64 := base64.RawURLEncoding.EncodeToString(protectedJSON)
	payload64 := ""
	if payload != nil {
		payload64 = base64.RawURLEncoding.EncodeToString(payload)
	}

	sig, err := pair.Sign([]byte(protected64 + "." + payload64))
	if err != nil {
		return nil, err
	}

	env := envelope{
		Protected: protected64,
		Payload:   payload64,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}
	if server.Protocol == model.ProtocolV1 {
		env.Header = header
		env.Resource = resourceOf(payload)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("acme: failed to encode request envelope: %w", err)
	}
	return body, nil
}

// signingHeader identifies the signing key: the raw public JWK before the
// account is registered, just the signature algorithm afterwards.
func signingHeader(pair *keys.Pair, account *model.Account) (map[string]any, error) {
	header := map[string]any{"alg": string(jose.RS256)}
	if account.Registered() {
		return header, nil
	}
	jwkJSON, err := json.Marshal(jose.JSONWebKey{Key: pair.Signer().Public()})
	if err != nil {
		return nil, fmt.Errorf("acme: failed to encode account JWK: %w", err)
	}
	var jwk map[string]any
	if err := json.Unmarshal(jwkJSON, &jwk); err != nil {
		return nil, fmt.Errorf("acme: failed to decode account JWK: %w", err)
	}
	header["jwk"] = jwk
	return header, nil
}

// resourceOf extracts a legacy payload's resource member, if any, so the
// envelope can duplicate it at the top level.
func resourceOf(payload []byte) string {
	if payload == nil {
		return ""
	}
	var probe struct {
		Resource string `json:"resource"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.Resource
}
