package acme

import (
	"time"
)

// Wire resources as returned by ACME servers. Field sets cover both the
// RFC 8555 dialect and the legacy draft dialect; dialect-specific accessors
// pick the populated variant.

// IdentifierResource is a domain identifier inside orders and authorizations.
type IdentifierResource struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ChallengeResource is one proof-of-control mechanism offered by the server.
type ChallengeResource struct {
	Type   string   `json:"type"`
	URL    string   `json:"url,omitempty"` // RFC 8555
	URI    string   `json:"uri,omitempty"` // legacy draft
	Token  string   `json:"token"`
	Status string   `json:"status,omitempty"`
	Error  *Problem `json:"error,omitempty"`
}

// EffectiveURL returns the challenge URL regardless of dialect.
func (c *ChallengeResource) EffectiveURL() string {
	if c.URL != "" {
		return c.URL
	}
	return c.URI
}

// AuthorizationResource is the server-side record that an identifier must
// prove (or has proven) control via one of the offered challenges.
type AuthorizationResource struct {
	Identifier   IdentifierResource  `json:"identifier"`
	Status       string              `json:"status"`
	Expires      string              `json:"expires,omitempty"`
	Wildcard     bool                `json:"wildcard,omitempty"`
	Challenges   []ChallengeResource `json:"challenges"`
	Combinations [][]int             `json:"combinations,omitempty"` // legacy draft

	// URL is the authorization resource location; not part of the JSON body,
	// carried from the Location header or the order's authorizations list.
	URL string `json:"-"`
}

// ExpiresAt parses the authorization expiry, nil when absent or malformed.
func (a *AuthorizationResource) ExpiresAt() *time.Time {
	return parseACMETime(a.Expires)
}

// OrderResource is an RFC 8555 order object.
type OrderResource struct {
	Status         string               `json:"status"`
	Expires        string               `json:"expires,omitempty"`
	Identifiers    []IdentifierResource `json:"identifiers,omitempty"`
	Authorizations []string             `json:"authorizations,omitempty"`
	Finalize       string               `json:"finalize,omitempty"`
	Certificate    string               `json:"certificate,omitempty"`
	Error          *Problem             `json:"error,omitempty"`

	// URL is the order resource location, carried from the Location header.
	URL string `json:"-"`
}

// ExpiresAt parses the order expiry, nil when absent or malformed.
func (o *OrderResource) ExpiresAt() *time.Time {
	return parseACMETime(o.Expires)
}

// rawDirectory covers both dialects' directory field names.
type rawDirectory struct {
	// RFC 8555
	NewNonce   string `json:"newNonce"`
	NewAccount string `json:"newAccount"`
	NewOrder   string `json:"newOrder"`
	RevokeCert string `json:"revokeCert"`
	// legacy draft
	NewReg        string `json:"new-reg"`
	NewAuthz      string `json:"new-authz"`
	NewCert       string `json:"new-cert"`
	LegacyRevoke  string `json:"revoke-cert"`
	TermsOfSvcURL string `json:"terms-of-service,omitempty"`
}

func parseACMETime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
