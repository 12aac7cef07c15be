package acme

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoNonce indicates a dedicated new-nonce fetch yielded no Replay-Nonce
// header.
var ErrNoNonce = errors.New("acme: no replay nonce in response")

// Problem is an ACME problem document (RFC 7807 / RFC 8555 section 6.7).
type Problem struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
	Status int    `json:"status,omitempty"`
}

// IsBadNonce reports whether the problem type indicates a rejected nonce.
// Both the RFC 8555 urn and the legacy draft urn are recognized.
func (p *Problem) IsBadNonce() bool {
	return p != nil && strings.HasSuffix(p.Type, ":badNonce")
}

// ProtocolError is raised when the server responds with an unexpected status
// code. It prefers the server's own problem detail text when the response was
// a structured protocol error.
type ProtocolError struct {
	StatusCode int
	Problem    *Problem
}

func (e *ProtocolError) Error() string {
	if e.Problem != nil && e.Problem.Detail != "" {
		return fmt.Sprintf("acme: %s (status %d, type %s)", e.Problem.Detail, e.StatusCode, e.Problem.Type)
	}
	return fmt.Sprintf("acme: server responded with status %d", e.StatusCode)
}

// VersionError is raised for an unrecognized protocol version.
type VersionError struct {
	Version string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("acme: unrecognized protocol version %q", e.Version)
}

// DomainMatchError indicates an authorization response could not be matched
// to any domain of the certificate being advanced. This is a configuration
// level desync between the protocol state and the domain model, not a
// transient failure.
type DomainMatchError struct {
	Identifier string
	Wildcard   bool
}

func (e *DomainMatchError) Error() string {
	return fmt.Sprintf("acme: authorization for identifier %q (wildcard=%t) matches no domain of the certificate", e.Identifier, e.Wildcard)
}

// ChallengeMatchError indicates that zero or more than one challenge in an
// authorization matched the domain's configured challenge type.
type ChallengeMatchError struct {
	Wanted  string
	Offered []string
	Count   int
}

func (e *ChallengeMatchError) Error() string {
	if e.Count > 1 {
		return fmt.Sprintf("acme: multiple challenges of type %q found in authorization", e.Wanted)
	}
	return fmt.Sprintf("acme: no challenge of type %q found, server offered %s", e.Wanted, strings.Join(e.Offered, ", "))
}
