package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/certforge/certforge/internal/model"
)

const acmeTypeHTTP01 = "http-01"

// TokenStore persists http-01 tokens so the well-known endpoint can serve
// them. Implemented by the storage layer.
type TokenStore interface {
	SaveChallengeToken(ctx context.Context, token, keyAuth string) error
	DeleteChallengeToken(ctx context.Context, token string) error
}

// ServedHTTP01 answers http-01 challenges through the application's own
// /.well-known/acme-challenge endpoint: BeforeChallenge stores the key
// authorization under the token, AfterChallenge removes it.
type ServedHTTP01 struct {
	store TokenStore
}

// NewServedHTTP01Constructor returns the constructor registered under the
// "http" handle, closed over the token store.
func NewServedHTTP01Constructor(store TokenStore) Constructor {
	return func(json.RawMessage) (Type, error) {
		if store == nil {
			return nil, errors.New("challenge: http-01 token store not configured")
		}
		return &ServedHTTP01{store: store}, nil
	}
}

func (t *ServedHTTP01) ACMETypeName() string { return acmeTypeHTTP01 }

// CheckConfiguration needs no per-domain options; it only rejects wildcard
// domains, which http-01 cannot validate.
func (t *ServedHTTP01) CheckConfiguration(d *model.Domain, raw json.RawMessage) (json.RawMessage, error) {
	if d.Wildcard {
		return nil, errors.New("challenge: http-01 cannot validate wildcard domains")
	}
	return json.RawMessage(`{}`), nil
}

func (t *ServedHTTP01) BeforeChallenge(ctx context.Context, d *model.Domain, ac *model.AuthorizationChallenge) error {
	return t.store.SaveChallengeToken(ctx, ac.ChallengeToken, ac.ChallengeAuthKey)
}

func (t *ServedHTTP01) AfterChallenge(ctx context.Context, d *model.Domain, ac *model.AuthorizationChallenge) error {
	return t.store.DeleteChallengeToken(ctx, ac.ChallengeToken)
}

// FileHTTP01 answers http-01 challenges by physically writing the key
// authorization under a configured webroot served by some other web server.
type FileHTTP01 struct {
	webroot string
}

type fileHTTP01Options struct {
	WebrootPath string `json:"webrootPath"`
}

// NewFileHTTP01 is the constructor registered under the "http-file" handle.
func NewFileHTTP01(options json.RawMessage) (Type, error) {
	var opts fileHTTP01Options
	if len(options) > 0 {
		if err := json.Unmarshal(options, &opts); err != nil {
			return nil, fmt.Errorf("challenge: bad http-file options: %w", err)
		}
	}
	if opts.WebrootPath == "" {
		return nil, errors.New("challenge: http-file requires a webrootPath option")
	}
	return &FileHTTP01{webroot: opts.WebrootPath}, nil
}

func (t *FileHTTP01) ACMETypeName() string { return acmeTypeHTTP01 }

func (t *FileHTTP01) CheckConfiguration(d *model.Domain, raw json.RawMessage) (json.RawMessage, error) {
	if d.Wildcard {
		return nil, errors.New("challenge: http-01 cannot validate wildcard domains")
	}
	var opts fileHTTP01Options
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("challenge: bad http-file configuration: %w", err)
	}
	if opts.WebrootPath == "" {
		return nil, errors.New("challenge: http-file requires a webrootPath option")
	}
	normalized, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	return normalized, nil
}

func (t *FileHTTP01) tokenPath(token string) string {
	return filepath.Join(t.webroot, ".well-known", "acme-challenge", token)
}

func (t *FileHTTP01) BeforeChallenge(ctx context.Context, d *model.Domain, ac *model.AuthorizationChallenge) error {
	path := t.tokenPath(ac.ChallengeToken)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("challenge: failed to create challenge directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(ac.ChallengeAuthKey), 0o644); err != nil {
		return fmt.Errorf("challenge: failed to write challenge file: %w", err)
	}
	return nil
}

func (t *FileHTTP01) AfterChallenge(ctx context.Context, d *model.Domain, ac *model.AuthorizationChallenge) error {
	err := os.Remove(t.tokenPath(ac.ChallengeToken))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("challenge: failed to remove challenge file: %w", err)
	}
	return nil
}
