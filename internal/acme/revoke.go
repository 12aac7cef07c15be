package acme

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/certforge/certforge/internal/keys"
	"github.com/certforge/certforge/internal/model"
)

// RevokeCertificate asks the server to revoke the given PEM encoded
// certificate body. reason is an RFC 5280 CRL reason code; pass 0 for
// unspecified.
func (c *Communicator) RevokeCertificate(ctx context.Context, account *model.Account, server *model.Server, certPEM []byte, reason int) error {
	if _, err := c.EnsureDirectory(ctx, server); err != nil {
		return err
	}

	der, err := keys.PEMToDER(certPEM)
	if err != nil {
		return fmt.Errorf("acme: cannot revoke malformed certificate: %w", err)
	}

	body := map[string]any{
		"certificate": base64.RawURLEncoding.EncodeToString(der),
	}
	switch server.Protocol {
	case model.ProtocolV2:
		if reason != 0 {
			body["reason"] = reason
		}
	case model.ProtocolV1:
		body["resource"] = "revoke-cert"
	default:
		return &VersionError{Version: string(server.Protocol)}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("acme: failed to encode revocation payload: %w", err)
	}

	_, err = c.Send(ctx, account, server, http.MethodPost, server.Directory.RevokeCert, payload, []int{http.StatusOK})
	return err
}
