package acme

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/model"
)

// RegisterAccount registers (or re-associates) the account's key with the
// server and stores the returned Location as the registration URI. With
// allowExisting, a 409 "already registered" conflict is accepted and the
// existing registration's Location is adopted.
func (c *Communicator) RegisterAccount(ctx context.Context, account *model.Account, server *model.Server, acceptedTosURL string, allowExisting bool) error {
	if _, err := c.EnsureDirectory(ctx, server); err != nil {
		return err
	}

	payload, err := registrationPayload(server.Protocol, account.Email, acceptedTosURL)
	if err != nil {
		return err
	}

	accepted := []int{http.StatusOK, http.StatusCreated}
	if allowExisting {
		accepted = append(accepted, http.StatusConflict)
	}

	resp, err := c.Send(ctx, account, server, http.MethodPost, server.Directory.NewAccount, payload, accepted)
	if err != nil {
		return err
	}
	if resp.Location == "" {
		return fmt.Errorf("acme: registration response carried no Location header")
	}

	now := time.Now().UTC()
	account.RegistrationURI = resp.Location
	account.RegisteredAt = &now
	logger.Info("registered account",
		zap.String("account", account.Name),
		zap.String("server", server.Name),
		zap.Int("status", resp.StatusCode))
	return nil
}

// registrationPayload builds the version-appropriate registration body; the
// terms-of-service agreement key differs between dialects.
func registrationPayload(version model.ProtocolVersion, email, acceptedTosURL string) ([]byte, error) {
	contact := []string{"mailto:" + email}
	var body any
	switch version {
	case model.ProtocolV2:
		body = map[string]any{
			"termsOfServiceAgreed": true,
			"contact":              contact,
		}
	case model.ProtocolV1:
		body = map[string]any{
			"resource":  "new-reg",
			"agreement": acceptedTosURL,
			"contact":   contact,
		}
	default:
		return nil, &VersionError{Version: string(version)}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("acme: failed to encode registration payload: %w", err)
	}
	return payload, nil
}
