package model

import (
	"fmt"
	"time"
)

// ProtocolVersion selects between the legacy ACME draft dialect and RFC 8555.
type ProtocolVersion string

const (
	ProtocolV1 ProtocolVersion = "v1"
	ProtocolV2 ProtocolVersion = "v2"
)

// ParseProtocolVersion validates an operator-supplied protocol version string.
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	switch ProtocolVersion(s) {
	case ProtocolV1, ProtocolV2:
		return ProtocolVersion(s), nil
	default:
		return "", fmt.Errorf("model: unknown ACME protocol version %q", s)
	}
}

// Directory holds the endpoint URLs resolved from a server's directory URL.
// It is cached on the Server entity after the first lookup.
type Directory struct {
	NewNonce   string `json:"newNonce"`
	NewAccount string `json:"newAccount"`
	NewOrder   string `json:"newOrder"`
	NewCert    string `json:"newCert,omitempty"` // legacy dialect only
	RevokeCert string `json:"revokeCert"`
}

// Server represents one ACME service endpoint, e.g. Let's Encrypt production.
type Server struct {
	ID                     string          `json:"id" db:"id"`
	Name                   string          `json:"name" db:"name"`
	DirectoryURL           string          `json:"directoryUrl" db:"directory_url"`
	Protocol               ProtocolVersion `json:"protocol" db:"protocol"`
	AuthorizationPorts     []int           `json:"authorizationPorts" db:"-"`
	AllowUnsafeConnections bool            `json:"allowUnsafeConnections" db:"allow_unsafe"` // test servers only
	Default                bool            `json:"default" db:"is_default"`
	TermsOfServiceURL      string          `json:"termsOfServiceUrl,omitempty" db:"tos_url"`
	WebsiteURL             string          `json:"websiteUrl,omitempty" db:"website_url"`
	Directory              *Directory      `json:"directory,omitempty" db:"-"`
	CreatedAt              time.Time       `json:"-" db:"created_at"`

	// Storage helpers - denormalized JSON for easier DB storage
	AuthorizationPortsJSON string `json:"-" db:"authorization_ports_json"`
	DirectoryJSON          string `json:"-" db:"directory_json,omitempty"`
}

// Account is a key pair plus registration state scoped to one Server.
// The private key is immutable after creation; rotation is not supported.
type Account struct {
	ID              string     `json:"id" db:"id"`
	ServerID        string     `json:"serverId" db:"server_id"`
	Name            string     `json:"name" db:"name"`
	Email           string     `json:"email" db:"email"`
	PrivateKeyPEM   string     `json:"-" db:"private_key_pem"`
	RegistrationURI string     `json:"registrationUri,omitempty" db:"registration_uri"`
	RegisteredAt    *time.Time `json:"registeredAt,omitempty" db:"registered_at"`
	Default         bool       `json:"default" db:"is_default"`
	CreatedAt       time.Time  `json:"-" db:"created_at"`
}

// Registered reports whether the account key has been associated with its server.
func (a *Account) Registered() bool { return a.RegistrationURI != "" }

// Domain is a hostname owned by one Account, with a chosen challenge type
// handle and that type's per-domain configuration blob.
// The hostname/wildcard pair is unique per account; once the domain is used by
// any Certificate the hostname becomes immutable.
type Domain struct {
	ID                  string    `json:"id" db:"id"`
	AccountID           string    `json:"accountId" db:"account_id"`
	Hostname            string    `json:"hostname" db:"hostname"`
	Wildcard            bool      `json:"wildcard" db:"wildcard"`
	ChallengeType       string    `json:"challengeType" db:"challenge_type"` // registry handle
	ChallengeConfigJSON string    `json:"-" db:"challenge_config_json"`
	CreatedAt           time.Time `json:"-" db:"created_at"`
}

// CertificateDomain is the Certificate<->Domain join carrying the primary
// flag. Exactly one domain per certificate is flagged primary.
type CertificateDomain struct {
	CertificateID string `db:"certificate_id"`
	DomainID      string `db:"domain_id"`
	Primary       bool   `db:"is_primary"`
}

// Certificate is a named bundle of Domains belonging to one Account.
// CSR and key material are generated lazily on the first renewal tick.
// OngoingOrderID points at the single Order currently being advanced; it is
// the source of truth for "work in progress".
type Certificate struct {
	ID             string     `json:"id" db:"id"`
	AccountID      string     `json:"accountId" db:"account_id"`
	Name           string     `json:"name" db:"name"`
	CSRPEM         string     `json:"-" db:"csr_pem"`
	PrivateKeyPEM  string     `json:"-" db:"private_key_pem"`
	CertificatePEM string     `json:"-" db:"certificate_pem"`
	IssuerPEM      string     `json:"-" db:"issuer_pem"`
	IssuedAt       *time.Time `json:"issuedAt,omitempty" db:"issued_at"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
	OngoingOrderID *string    `json:"ongoingOrderId,omitempty" db:"ongoing_order_id"`
	CreatedAt      time.Time  `json:"-" db:"created_at"`
}

// Issued reports whether the certificate currently holds an issued body.
func (c *Certificate) Issued() bool { return c.CertificatePEM != "" }

// Order flavors. The legacy dialect has no wrapping order object, so a set of
// authorizations is tracked as one "authorization-set" Order.
const (
	OrderTypeAuthorizationSet = "authorization-set"
	OrderTypeOrder            = "order"
)

// Order statuses, shared with the wire protocol.
const (
	OrderStatusPending    = "pending"
	OrderStatusReady      = "ready"
	OrderStatusProcessing = "processing"
	OrderStatusValid      = "valid"
	OrderStatusInvalid    = "invalid"
)

// Order is one attempt to authorize a set of domains (v1) or obtain an issued
// certificate (v2). Completed or abandoned orders are archived into history.
type Order struct {
	ID             string     `json:"id" db:"id"`
	CertificateID  string     `json:"certificateId" db:"certificate_id"`
	Type           string     `json:"type" db:"type"` // authorization-set | order
	Status         string     `json:"status" db:"status"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
	OrderURL       string     `json:"orderUrl,omitempty" db:"order_url"`
	FinalizeURL    string     `json:"finalizeUrl,omitempty" db:"finalize_url"`
	CertificateURL string     `json:"certificateUrl,omitempty" db:"certificate_url"`
	Archived       bool       `json:"archived" db:"archived"`
	CreatedAt      time.Time  `json:"-" db:"created_at"`
	LastModifiedAt time.Time  `json:"-" db:"last_modified_at"`
}

// Authorization and challenge statuses, shared with the wire protocol.
const (
	AuthorizationStatusPending = "pending"
	AuthorizationStatusValid   = "valid"
	AuthorizationStatusInvalid = "invalid"

	ChallengeStatusPending    = "pending"
	ChallengeStatusProcessing = "processing"
	ChallengeStatusValid      = "valid"
	ChallengeStatusInvalid    = "invalid"
)

// AuthorizationChallenge tracks per-domain authorization progress within an
// Order: the authorization resource plus the single challenge selected to
// match the domain's configured challenge type.
type AuthorizationChallenge struct {
	ID                     string     `json:"id" db:"id"`
	OrderID                string     `json:"orderId" db:"order_id"`
	DomainID               string     `json:"domainId" db:"domain_id"`
	AuthorizationURL       string     `json:"authorizationUrl" db:"authorization_url"`
	AuthorizationStatus    string     `json:"authorizationStatus" db:"authorization_status"`
	AuthorizationExpiresAt *time.Time `json:"authorizationExpiresAt,omitempty" db:"authorization_expires_at"`
	ChallengeURL           string     `json:"challengeUrl" db:"challenge_url"`
	ChallengeToken         string     `json:"challengeToken" db:"challenge_token"`
	ChallengeAuthKey       string     `json:"-" db:"challenge_auth_key"` // token + "." + key thumbprint
	ChallengeStatus        string     `json:"challengeStatus" db:"challenge_status"`
	LastError              string     `json:"lastError,omitempty" db:"last_error"`
	CreatedAt              time.Time  `json:"-" db:"created_at"`
}

// CertificateAction statuses.
const (
	ActionStatusPending = "pending"
	ActionStatusDone    = "done"
	ActionStatusFailed  = "failed"
)

// CertificateAction is an ordered post-issuance step attached to a
// Certificate, e.g. deploying the issued files to a RemoteServer.
type CertificateAction struct {
	ID             string     `json:"id" db:"id"`
	CertificateID  string     `json:"certificateId" db:"certificate_id"`
	Position       int        `json:"position" db:"position"`
	Driver         string     `json:"driver" db:"driver"` // deploy driver handle
	RemoteServerID *string    `json:"remoteServerId,omitempty" db:"remote_server_id"`
	ConfigJSON     string     `json:"-" db:"config_json"`
	Status         string     `json:"status" db:"status"`
	LastError      string     `json:"lastError,omitempty" db:"last_error"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty" db:"last_run_at"`
	CreatedAt      time.Time  `json:"-" db:"created_at"`
}

// RemoteServer is a named deployment target used by CertificateActions.
type RemoteServer struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	Hostname        string    `json:"hostname" db:"hostname"`
	Driver          string    `json:"driver" db:"driver"`
	Username        string    `json:"username" db:"username"`
	CredentialsJSON string    `json:"-" db:"credentials_json"`
	CreatedAt       time.Time `json:"-" db:"created_at"`
}

// RevokedCertificate is an immutable historical record of an issued
// certificate body, retained for audit and download even after the live
// Certificate row is gone. CertificateID is nil when the parent was deleted.
type RevokedCertificate struct {
	ID             string    `json:"id" db:"id"`
	CertificateID  *string   `json:"certificateId,omitempty" db:"certificate_id"`
	Name           string    `json:"name" db:"name"`
	CertificatePEM string    `json:"-" db:"certificate_pem"`
	IssuerPEM      string    `json:"-" db:"issuer_pem"`
	RevokedAt      time.Time `json:"revokedAt" db:"revoked_at"`
}
