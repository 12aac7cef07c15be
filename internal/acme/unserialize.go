package acme

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/idna"

	"github.com/certforge/certforge/internal/model"
)

// ChallengeTypeResolver maps a domain's configured challenge type handle to
// its ACME challenge type name (e.g. "http-01", "dns-01"). Implemented by the
// challenge registry.
type ChallengeTypeResolver interface {
	ACMETypeName(d *model.Domain) (string, error)
}

// KeyAuthorization computes the challenge key authorization string:
// token + "." + base64url(SHA-256(canonical JWK)).
func KeyAuthorization(token, accountThumbprint string) string {
	return token + "." + accountThumbprint
}

// UnserializeAuthorizationRequests builds an authorization-set flavor Order
// directly from a list of authorization responses (legacy flow, no wrapping
// order object). Status aggregates the children: all valid -> ready, all in
// {pending, valid} -> pending, anything else -> invalid. Expiration is the
// earliest non-nil child expiration.
func UnserializeAuthorizationRequests(cert *model.Certificate, domains []*model.Domain, resolver ChallengeTypeResolver, accountThumbprint string, responses []AuthorizationResource) (*model.Order, []*model.AuthorizationChallenge, error) {
	now := time.Now().UTC()
	order := &model.Order{
		ID:             uuid.NewString(),
		CertificateID:  cert.ID,
		Type:           model.OrderTypeAuthorizationSet,
		CreatedAt:      now,
		LastModifiedAt: now,
	}

	challenges, err := unserializeAuthorizations(order, domains, resolver, accountThumbprint, responses)
	if err != nil {
		return nil, nil, err
	}

	order.Status = aggregateAuthorizationStatus(responses)
	order.ExpiresAt = earliestExpiration(responses)
	return order, challenges, nil
}

// UnserializeOrder builds an order flavor Order from the order JSON plus its
// referenced authorization responses.
func UnserializeOrder(cert *model.Certificate, domains []*model.Domain, resolver ChallengeTypeResolver, accountThumbprint string, orderRes *OrderResource, responses []AuthorizationResource) (*model.Order, []*model.AuthorizationChallenge, error) {
	now := time.Now().UTC()
	order := &model.Order{
		ID:             uuid.NewString(),
		CertificateID:  cert.ID,
		Type:           model.OrderTypeOrder,
		Status:         orderRes.Status,
		ExpiresAt:      orderRes.ExpiresAt(),
		OrderURL:       orderRes.URL,
		FinalizeURL:    orderRes.Finalize,
		CertificateURL: orderRes.Certificate,
		CreatedAt:      now,
		LastModifiedAt: now,
	}

	challenges, err := unserializeAuthorizations(order, domains, resolver, accountThumbprint, responses)
	if err != nil {
		return nil, nil, err
	}
	return order, challenges, nil
}

func unserializeAuthorizations(order *model.Order, domains []*model.Domain, resolver ChallengeTypeResolver, accountThumbprint string, responses []AuthorizationResource) ([]*model.AuthorizationChallenge, error) {
	challenges := make([]*model.AuthorizationChallenge, 0, len(responses))
	for i := range responses {
		ac, err := unserializeAuthorization(order, domains, resolver, accountThumbprint, &responses[i])
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, ac)
	}
	return challenges, nil
}

// unserializeAuthorization matches one authorization response to the
// requesting domain and to the single challenge matching the domain's
// configured challenge type.
func unserializeAuthorization(order *model.Order, domains []*model.Domain, resolver ChallengeTypeResolver, accountThumbprint string, res *AuthorizationResource) (*model.AuthorizationChallenge, error) {
	domain, err := matchDomain(domains, res.Identifier.Value, res.Wildcard)
	if err != nil {
		return nil, err
	}

	wanted, err := resolver.ACMETypeName(domain)
	if err != nil {
		return nil, err
	}

	selected, err := selectChallenge(res, wanted)
	if err != nil {
		return nil, err
	}

	ac := &model.AuthorizationChallenge{
		ID:                     uuid.NewString(),
		OrderID:                order.ID,
		DomainID:               domain.ID,
		AuthorizationURL:       res.URL,
		AuthorizationStatus:    res.Status,
		AuthorizationExpiresAt: res.ExpiresAt(),
		ChallengeURL:           selected.EffectiveURL(),
		ChallengeToken:         selected.Token,
		ChallengeAuthKey:       KeyAuthorization(selected.Token, accountThumbprint),
		ChallengeStatus:        selected.Status,
		CreatedAt:              time.Now().UTC(),
	}
	if selected.Status == "" {
		ac.ChallengeStatus = model.ChallengeStatusPending
	}
	if selected.Error != nil {
		ac.LastError = selected.Error.Detail
	}
	return ac, nil
}

// matchDomain resolves the authorization identifier against the certificate's
// domain set, comparing punycode forms. No match is a hard error: the
// protocol state and the domain model have diverged.
func matchDomain(domains []*model.Domain, identifier string, wildcard bool) (*model.Domain, error) {
	want := toASCII(identifier)
	for _, d := range domains {
		if d.Wildcard != wildcard {
			continue
		}
		if toASCII(d.Hostname) == want {
			return d, nil
		}
	}
	return nil, &DomainMatchError{Identifier: identifier, Wildcard: wildcard}
}

func toASCII(hostname string) string {
	ascii, err := idna.Lookup.ToASCII(hostname)
	if err != nil {
		return hostname
	}
	return ascii
}

// selectChallenge picks exactly one challenge whose type equals wanted,
// restricted to the index set named in combinations when present (legacy
// dialect). Zero or multiple matches is a hard error naming the wanted type
// and the types actually offered.
func selectChallenge(res *AuthorizationResource, wanted string) (*ChallengeResource, error) {
	eligible := eligibleIndices(res)

	var selected *ChallengeResource
	count := 0
	offered := make([]string, 0, len(res.Challenges))
	for _, idx := range eligible {
		ch := &res.Challenges[idx]
		offered = append(offered, ch.Type)
		if ch.Type == wanted {
			selected = ch
			count++
		}
	}
	if count != 1 {
		return nil, &ChallengeMatchError{Wanted: wanted, Offered: offered, Count: count}
	}
	return selected, nil
}

// eligibleIndices returns the challenge indices that may be selected: every
// index named in at least one combination when combinations are present, all
// indices otherwise.
func eligibleIndices(res *AuthorizationResource) []int {
	if len(res.Combinations) == 0 {
		all := make([]int, len(res.Challenges))
		for i := range all {
			all[i] = i
		}
		return all
	}
	seen := make(map[int]bool)
	var indices []int
	for _, combo := range res.Combinations {
		for _, idx := range combo {
			if idx < 0 || idx >= len(res.Challenges) || seen[idx] {
				continue
			}
			seen[idx] = true
			indices = append(indices, idx)
		}
	}
	return indices
}

// aggregateAuthorizationStatus derives an authorization-set order status from
// its children.
func aggregateAuthorizationStatus(responses []AuthorizationResource) string {
	allValid := true
	for i := range responses {
		switch responses[i].Status {
		case model.AuthorizationStatusValid:
		case model.AuthorizationStatusPending:
			allValid = false
		default:
			return model.OrderStatusInvalid
		}
	}
	if allValid {
		return model.OrderStatusReady
	}
	return model.OrderStatusPending
}

// earliestExpiration returns the earliest non-nil child expiration, nil when
// every child omits one.
func earliestExpiration(responses []AuthorizationResource) *time.Time {
	var earliest *time.Time
	for i := range responses {
		exp := responses[i].ExpiresAt()
		if exp == nil {
			continue
		}
		if earliest == nil || exp.Before(*earliest) {
			earliest = exp
		}
	}
	return earliest
}
