package challenge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/certforge/certforge/internal/model"
)

const acmeTypeDNS01 = "dns-01"

// DNSProvider creates and removes the TXT records that answer dns-01
// challenges.
type DNSProvider interface {
	Present(ctx context.Context, fqdn, value string) error
	CleanUp(ctx context.Context, fqdn, value string) error
}

// DNS01 answers dns-01 challenges through a provider API.
type DNS01 struct {
	provider DNSProvider
}

type dns01Options struct {
	// Endpoint of a provider webhook accepting {action, fqdn, value} posts.
	Endpoint string `json:"endpoint"`
	Token    string `json:"token,omitempty"`
}

// NewDNS01 is the constructor registered under the "dns" handle. The default
// provider is a generic JSON webhook; hosts embedding the engine can register
// their own constructor with a native provider instead.
func NewDNS01(options json.RawMessage) (Type, error) {
	var opts dns01Options
	if len(options) > 0 {
		if err := json.Unmarshal(options, &opts); err != nil {
			return nil, fmt.Errorf("challenge: bad dns options: %w", err)
		}
	}
	if opts.Endpoint == "" {
		return nil, errors.New("challenge: dns requires a provider endpoint option")
	}
	return &DNS01{provider: &webhookProvider{endpoint: opts.Endpoint, token: opts.Token}}, nil
}

// NewDNS01WithProvider builds a dns-01 type around a custom provider.
func NewDNS01WithProvider(provider DNSProvider) *DNS01 {
	return &DNS01{provider: provider}
}

func (t *DNS01) ACMETypeName() string { return acmeTypeDNS01 }

func (t *DNS01) CheckConfiguration(d *model.Domain, raw json.RawMessage) (json.RawMessage, error) {
	var opts dns01Options
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("challenge: bad dns configuration: %w", err)
	}
	if opts.Endpoint == "" {
		return nil, errors.New("challenge: dns requires a provider endpoint option")
	}
	normalized, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	return normalized, nil
}

func (t *DNS01) BeforeChallenge(ctx context.Context, d *model.Domain, ac *model.AuthorizationChallenge) error {
	return t.provider.Present(ctx, dns01FQDN(d), dns01Value(ac.ChallengeAuthKey))
}

func (t *DNS01) AfterChallenge(ctx context.Context, d *model.Domain, ac *model.AuthorizationChallenge) error {
	return t.provider.CleanUp(ctx, dns01FQDN(d), dns01Value(ac.ChallengeAuthKey))
}

// dns01FQDN is the record name to provision: _acme-challenge.<domain>.
func dns01FQDN(d *model.Domain) string {
	return "_acme-challenge." + d.Hostname + "."
}

// dns01Value is base64url(SHA-256(key authorization)) per RFC 8555
// section 8.4.
func dns01Value(keyAuth string) string {
	digest := sha256.Sum256([]byte(keyAuth))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// webhookProvider posts record mutations to a configured HTTP endpoint.
type webhookProvider struct {
	endpoint string
	token    string
}

func (p *webhookProvider) Present(ctx context.Context, fqdn, value string) error {
	return p.post(ctx, "present", fqdn, value)
}

func (p *webhookProvider) CleanUp(ctx context.Context, fqdn, value string) error {
	return p.post(ctx, "cleanup", fqdn, value)
}

func (p *webhookProvider) post(ctx context.Context, action, fqdn, value string) error {
	body, err := json.Marshal(map[string]string{
		"action": action,
		"fqdn":   fqdn,
		"value":  value,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("challenge: failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("challenge: dns provider call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("challenge: dns provider responded with status %d", resp.StatusCode)
	}
	return nil
}
