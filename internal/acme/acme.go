// Package acme implements the client side of the ACME protocol: nonce
// management, JWS request signing, the HTTPS communicator with its bad-nonce
// retry loop, directory resolution, account registration and the
// unserialization of server order/authorization responses into the domain
// model.
package acme

import (
	"go.uber.org/zap"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "acme"))
}

const (
	// ACME clients MUST send a User-Agent header field (RFC 8555 section 6.1).
	userAgent = "certforge/1.0 (+https://github.com/certforge/certforge)"
	// Signed request bodies use the JOSE content type (RFC 8555 section 6.2).
	joseContentType = "application/jose+json"
)
