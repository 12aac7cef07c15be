package challenge_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/internal/challenge"
	"github.com/certforge/certforge/internal/model"
)

type fakeTokenStore struct {
	tokens map[string]string
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]string)}
}

func (s *fakeTokenStore) SaveChallengeToken(ctx context.Context, token, keyAuth string) error {
	s.tokens[token] = keyAuth
	return nil
}

func (s *fakeTokenStore) DeleteChallengeToken(ctx context.Context, token string) error {
	delete(s.tokens, token)
	return nil
}

func TestServedHTTP01Lifecycle(t *testing.T) {
	store := newFakeTokenStore()
	ctor := challenge.NewServedHTTP01Constructor(store)
	instance, err := ctor(nil)
	require.NoError(t, err)
	assert.Equal(t, "http-01", instance.ACMETypeName())

	domain := &model.Domain{Hostname: "example.com", ChallengeType: "http"}
	ac := &model.AuthorizationChallenge{
		ChallengeToken:   "tok-1",
		ChallengeAuthKey: "tok-1.thumbprint",
	}

	require.NoError(t, instance.BeforeChallenge(context.Background(), domain, ac))
	assert.Equal(t, "tok-1.thumbprint", store.tokens["tok-1"])

	require.NoError(t, instance.AfterChallenge(context.Background(), domain, ac))
	assert.NotContains(t, store.tokens, "tok-1")
}

func TestServedHTTP01CheckConfiguration(t *testing.T) {
	ctor := challenge.NewServedHTTP01Constructor(newFakeTokenStore())
	instance, err := ctor(nil)
	require.NoError(t, err)

	_, err = instance.CheckConfiguration(&model.Domain{Hostname: "example.com", Wildcard: true}, nil)
	assert.Error(t, err)

	normalized, err := instance.CheckConfiguration(&model.Domain{Hostname: "example.com"}, json.RawMessage(`{"ignored":true}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(normalized))
}

func TestFileHTTP01Lifecycle(t *testing.T) {
	webroot := t.TempDir()
	instance, err := challenge.NewFileHTTP01(json.RawMessage(`{"webrootPath":"` + webroot + `"}`))
	require.NoError(t, err)

	domain := &model.Domain{Hostname: "example.com", ChallengeType: "http-file"}
	ac := &model.AuthorizationChallenge{
		ChallengeToken:   "tok-file",
		ChallengeAuthKey: "tok-file.thumbprint",
	}

	require.NoError(t, instance.BeforeChallenge(context.Background(), domain, ac))
	path := filepath.Join(webroot, ".well-known", "acme-challenge", "tok-file")
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-file.thumbprint", string(body))

	require.NoError(t, instance.AfterChallenge(context.Background(), domain, ac))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing an already-removed token is not an error.
	assert.NoError(t, instance.AfterChallenge(context.Background(), domain, ac))
}

func TestFileHTTP01RequiresWebroot(t *testing.T) {
	_, err := challenge.NewFileHTTP01(nil)
	assert.Error(t, err)

	_, err = challenge.NewFileHTTP01(json.RawMessage(`{"webrootPath":""}`))
	assert.Error(t, err)
}
