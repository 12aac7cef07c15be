package acme_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/internal/keys"
	"github.com/certforge/certforge/internal/model"
)

var (
	testPairOnce sync.Once
	testPair     *keys.Pair
	testPairErr  error
)

// sharedPair generates one RSA key for the whole package; key generation is
// by far the slowest part of these tests.
func sharedPair(t *testing.T) *keys.Pair {
	t.Helper()
	testPairOnce.Do(func() {
		testPair, testPairErr = keys.Generate(2048)
	})
	require.NoError(t, testPairErr)
	return testPair
}

func newTestAccount(t *testing.T, registered bool) *model.Account {
	t.Helper()
	pair := sharedPair(t)
	account := &model.Account{
		ID:            "acct-1",
		ServerID:      "srv-1",
		Name:          "test account",
		Email:         "admin@example.com",
		PrivateKeyPEM: string(pair.PrivatePEM()),
	}
	if registered {
		account.RegistrationURI = "https://acme.test/account/1"
	}
	return account
}

func newTestServer(protocol model.ProtocolVersion, baseURL string) *model.Server {
	return &model.Server{
		ID:           "srv-1",
		Name:         "test server",
		DirectoryURL: baseURL + "/directory",
		Protocol:     protocol,
		Directory: &model.Directory{
			NewNonce:   baseURL + "/new-nonce",
			NewAccount: baseURL + "/new-account",
			NewOrder:   baseURL + "/new-order",
			RevokeCert: baseURL + "/revoke-cert",
		},
	}
}
