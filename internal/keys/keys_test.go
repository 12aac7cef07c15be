package keys_test

import (
	"crypto/x509"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/internal/keys"
)

func TestGenerateAndSign(t *testing.T) {
	pair, err := keys.Generate(2048)
	require.NoError(t, err)
	assert.Equal(t, 2048, pair.Size())

	data := []byte("protected.payload")
	sig, err := pair.Sign(data)
	require.NoError(t, err)
	assert.NoError(t, pair.Verify(data, sig))
	assert.Error(t, pair.Verify([]byte("tampered"), sig))
}

func TestFromPEMRoundTrip(t *testing.T) {
	pair, err := keys.Generate(2048)
	require.NoError(t, err)

	t.Run("PKCS1", func(t *testing.T) {
		restored, err := keys.FromPEM(pair.PrivatePEM())
		require.NoError(t, err)
		assert.Equal(t, pair.Size(), restored.Size())
	})

	t.Run("PKCS8", func(t *testing.T) {
		pkcs8, err := pair.PrivatePKCS8PEM()
		require.NoError(t, err)
		restored, err := keys.FromPEM(pkcs8)
		require.NoError(t, err)
		assert.Equal(t, pair.Size(), restored.Size())
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := keys.FromPEM([]byte("not a key"))
		assert.ErrorIs(t, err, keys.ErrMalformedKey)
	})
}

func TestThumbprint(t *testing.T) {
	pair, err := keys.Generate(2048)
	require.NoError(t, err)

	tp, err := pair.Thumbprint()
	require.NoError(t, err)

	// base64url of a SHA-256 digest, no padding
	raw, err := base64.RawURLEncoding.DecodeString(tp)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	// stable for the same key
	tp2, err := pair.Thumbprint()
	require.NoError(t, err)
	assert.Equal(t, tp, tp2)
}

func TestCreateCSR(t *testing.T) {
	pair, err := keys.Generate(2048)
	require.NoError(t, err)

	der, err := pair.CreateCSR("example.com", []string{"example.com", "www.example.com"})
	require.NoError(t, err)

	csr, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)
	assert.Equal(t, "example.com", csr.Subject.CommonName)
	assert.ElementsMatch(t, []string{"example.com", "www.example.com"}, csr.DNSNames)
	assert.NoError(t, csr.CheckSignature())
}

func TestPEMDERRoundTrip(t *testing.T) {
	pair, err := keys.Generate(2048)
	require.NoError(t, err)
	der, err := pair.CreateCSR("example.com", []string{"example.com"})
	require.NoError(t, err)

	pemBytes := keys.DERToPEM(der, keys.CSRKind)
	assert.True(t, strings.HasPrefix(string(pemBytes), "-----BEGIN CERTIFICATE REQUEST-----"))

	back, err := keys.PEMToDER(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, der, back)

	_, err = keys.PEMToDER([]byte("no pem here"))
	assert.Error(t, err)
}
