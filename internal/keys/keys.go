// Package keys wraps the RSA account and certificate key material used by the
// ACME engine: generation, PEM import/export, JWK production and request
// signing.
package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

const (
	// DefaultKeyBits is the RSA modulus size for generated keys.
	DefaultKeyBits = 2048

	pemTypeRSAPrivateKey = "RSA PRIVATE KEY"
	pemTypePrivateKey    = "PRIVATE KEY"
	pemTypeCertificate   = "CERTIFICATE"
	pemTypeCSR           = "CERTIFICATE REQUEST"
)

// ErrMalformedKey indicates the supplied PEM did not contain a usable RSA
// private key.
var ErrMalformedKey = errors.New("keys: malformed private key")

// SigningError wraps a failure to produce a signature.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string { return fmt.Sprintf("keys: signing failed: %v", e.Err) }
func (e *SigningError) Unwrap() error { return e.Err }

// Pair is an RSA key pair.
type Pair struct {
	priv *rsa.PrivateKey
}

// Generate creates a fresh RSA key pair of the given modulus size.
// A non-positive bits value selects DefaultKeyBits.
func Generate(bits int) (*Pair, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to generate RSA key: %w", err)
	}
	return &Pair{priv: priv}, nil
}

// FromPEM parses a PKCS#1 or PKCS#8 encoded RSA private key.
func FromPEM(pemBytes []byte) (*Pair, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrMalformedKey
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &Pair{priv: key}, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return &Pair{priv: rsaKey}, nil
		}
	}
	return nil, ErrMalformedKey
}

// Sign produces a SHA-256/RSA-PKCS1v1.5 signature over data.
func (p *Pair) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, p.priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, &SigningError{Err: err}
	}
	return sig, nil
}

// Verify checks a SHA-256/RSA-PKCS1v1.5 signature over data.
func (p *Pair) Verify(data, sig []byte) error {
	digest := sha256.Sum256(data)
	return rsa.VerifyPKCS1v15(&p.priv.PublicKey, crypto.SHA256, digest[:], sig)
}

// Size returns the RSA modulus size in bits.
func (p *Pair) Size() int { return p.priv.N.BitLen() }

// Signer exposes the underlying private key for CSR generation.
func (p *Pair) Signer() crypto.Signer { return p.priv }

// JWK returns the public key as a JSON Web Key.
func (p *Pair) JWK() jose.JSONWebKey {
	return jose.JSONWebKey{Key: &p.priv.PublicKey, Algorithm: string(jose.RS256), Use: "sig"}
}

// Thumbprint returns the base64url encoded SHA-256 thumbprint of the public
// key's canonical JWK representation (RFC 7638). It is the account-key half of
// an ACME challenge key authorization.
func (p *Pair) Thumbprint() (string, error) {
	jwk := jose.JSONWebKey{Key: &p.priv.PublicKey}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("keys: failed to compute JWK thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

// PrivatePEM exports the private key as PKCS#1 PEM.
func (p *Pair) PrivatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  pemTypeRSAPrivateKey,
		Bytes: x509.MarshalPKCS1PrivateKey(p.priv),
	})
}

// PrivatePKCS8PEM exports the private key as PKCS#8 PEM.
func (p *Pair) PrivatePKCS8PEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(p.priv)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to marshal PKCS#8 key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der}), nil
}

// PublicPEM exports the public key as PKIX PEM.
func (p *Pair) PublicPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&p.priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// CreateCSR builds a DER encoded certificate signing request with commonName
// as subject and all names (commonName first) as DNS SANs.
func (p *Pair) CreateCSR(commonName string, names []string) ([]byte, error) {
	tpl := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: commonName},
		DNSNames: names,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, tpl, p.priv)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to create CSR: %w", err)
	}
	return der, nil
}

// DERToPEM wraps DER bytes with PEM armor of the given kind, e.g.
// "CERTIFICATE" or "CERTIFICATE REQUEST".
func DERToPEM(der []byte, kind string) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: kind, Bytes: der})
}

// PEMToDER extracts the DER payload of the first PEM block.
func PEMToDER(pemBytes []byte) ([]byte, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("keys: no PEM block found")
	}
	return block.Bytes, nil
}

// CSRKind and CertificateKind name the PEM armor kinds used by the engine.
const (
	CSRKind         = pemTypeCSR
	CertificateKind = pemTypeCertificate
)
