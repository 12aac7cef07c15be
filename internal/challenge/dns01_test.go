package challenge_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/internal/challenge"
	"github.com/certforge/certforge/internal/model"
)

type recordingProvider struct {
	presented map[string]string
	cleaned   map[string]string
}

func newRecordingProvider() *recordingProvider {
	return &recordingProvider{presented: make(map[string]string), cleaned: make(map[string]string)}
}

func (p *recordingProvider) Present(ctx context.Context, fqdn, value string) error {
	p.presented[fqdn] = value
	return nil
}

func (p *recordingProvider) CleanUp(ctx context.Context, fqdn, value string) error {
	p.cleaned[fqdn] = value
	return nil
}

func TestDNS01Lifecycle(t *testing.T) {
	provider := newRecordingProvider()
	instance := challenge.NewDNS01WithProvider(provider)
	assert.Equal(t, "dns-01", instance.ACMETypeName())

	domain := &model.Domain{Hostname: "example.com", ChallengeType: "dns"}
	ac := &model.AuthorizationChallenge{
		ChallengeToken:   "tok-dns",
		ChallengeAuthKey: "tok-dns.thumbprint",
	}

	require.NoError(t, instance.BeforeChallenge(context.Background(), domain, ac))
	digest := sha256.Sum256([]byte("tok-dns.thumbprint"))
	want := base64.RawURLEncoding.EncodeToString(digest[:])
	assert.Equal(t, want, provider.presented["_acme-challenge.example.com."])

	require.NoError(t, instance.AfterChallenge(context.Background(), domain, ac))
	assert.Equal(t, want, provider.cleaned["_acme-challenge.example.com."])
}

func TestDNS01WebhookProvider(t *testing.T) {
	var calls []map[string]string
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls = append(calls, body)
	}))
	defer ts.Close()

	instance, err := challenge.NewDNS01(json.RawMessage(`{"endpoint":"` + ts.URL + `","token":"secret"}`))
	require.NoError(t, err)

	domain := &model.Domain{Hostname: "example.com", ChallengeType: "dns"}
	ac := &model.AuthorizationChallenge{ChallengeAuthKey: "tok.thumb"}

	require.NoError(t, instance.BeforeChallenge(context.Background(), domain, ac))
	require.NoError(t, instance.AfterChallenge(context.Background(), domain, ac))

	require.Len(t, calls, 2)
	assert.Equal(t, "present", calls[0]["action"])
	assert.Equal(t, "cleanup", calls[1]["action"])
	assert.Equal(t, "_acme-challenge.example.com.", calls[0]["fqdn"])
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestDNS01RequiresEndpoint(t *testing.T) {
	_, err := challenge.NewDNS01(nil)
	assert.Error(t, err)

	instance := challenge.NewDNS01WithProvider(newRecordingProvider())
	_, err = instance.CheckConfiguration(&model.Domain{Hostname: "example.com"}, json.RawMessage(`{}`))
	assert.Error(t, err)

	normalized, err := instance.CheckConfiguration(&model.Domain{Hostname: "example.com"}, json.RawMessage(`{"endpoint":"https://dns.test","extra":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"endpoint":"https://dns.test"}`, string(normalized))
}
