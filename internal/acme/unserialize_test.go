package acme_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/internal/acme"
	"github.com/certforge/certforge/internal/model"
)

// typeMapResolver resolves challenge type handles through a plain map, the way
// the challenge registry does in production.
type typeMapResolver map[string]string

func (r typeMapResolver) ACMETypeName(d *model.Domain) (string, error) {
	name, ok := r[d.ChallengeType]
	if !ok {
		return "", &acme.ChallengeMatchError{Wanted: d.ChallengeType}
	}
	return name, nil
}

var testResolver = typeMapResolver{
	"http": "http-01",
	"dns":  "dns-01",
}

func testDomain(id, hostname, challengeType string) *model.Domain {
	return &model.Domain{
		ID:            id,
		AccountID:     "acct-1",
		Hostname:      hostname,
		ChallengeType: challengeType,
	}
}

func testCertificate() *model.Certificate {
	return &model.Certificate{ID: "cert-1", AccountID: "acct-1", Name: "example"}
}

func httpChallenge(url, token, status string) acme.ChallengeResource {
	return acme.ChallengeResource{Type: "http-01", URL: url, Token: token, Status: status}
}

func authorization(hostname, status string, challenges ...acme.ChallengeResource) acme.AuthorizationResource {
	return acme.AuthorizationResource{
		Identifier: acme.IdentifierResource{Type: "dns", Value: hostname},
		Status:     status,
		Challenges: challenges,
		URL:        "https://acme.test/authz/" + hostname,
	}
}

func TestUnserializeAuthorizationRequestsAggregation(t *testing.T) {
	domains := []*model.Domain{
		testDomain("dom-1", "a.example.com", "http"),
		testDomain("dom-2", "b.example.com", "http"),
	}

	cases := []struct {
		name     string
		statuses [2]string
		want     string
	}{
		{"all valid", [2]string{"valid", "valid"}, model.OrderStatusReady},
		{"one pending", [2]string{"pending", "valid"}, model.OrderStatusPending},
		{"one invalid", [2]string{"invalid", "valid"}, model.OrderStatusInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			responses := []acme.AuthorizationResource{
				authorization("a.example.com", tc.statuses[0], httpChallenge("https://acme.test/chall/1", "tok-a", "")),
				authorization("b.example.com", tc.statuses[1], httpChallenge("https://acme.test/chall/2", "tok-b", "")),
			}

			order, challenges, err := acme.UnserializeAuthorizationRequests(testCertificate(), domains, testResolver, "thumb", responses)
			require.NoError(t, err)

			assert.Equal(t, tc.want, order.Status)
			assert.Equal(t, model.OrderTypeAuthorizationSet, order.Type)
			assert.Equal(t, "cert-1", order.CertificateID)
			assert.Len(t, challenges, 2)
		})
	}
}

func TestUnserializeAuthorizationRequestsExpiration(t *testing.T) {
	domains := []*model.Domain{
		testDomain("dom-1", "a.example.com", "http"),
		testDomain("dom-2", "b.example.com", "http"),
	}

	t.Run("earliest wins", func(t *testing.T) {
		early := authorization("a.example.com", "pending", httpChallenge("u", "t", ""))
		early.Expires = "2026-09-01T00:00:00Z"
		late := authorization("b.example.com", "pending", httpChallenge("u", "t", ""))
		late.Expires = "2026-10-01T00:00:00Z"

		order, _, err := acme.UnserializeAuthorizationRequests(testCertificate(), domains, testResolver, "thumb", []acme.AuthorizationResource{late, early})
		require.NoError(t, err)
		require.NotNil(t, order.ExpiresAt)
		assert.Equal(t, "2026-09-01T00:00:00Z", order.ExpiresAt.Format("2006-01-02T15:04:05Z"))
	})

	t.Run("all absent", func(t *testing.T) {
		responses := []acme.AuthorizationResource{
			authorization("a.example.com", "pending", httpChallenge("u", "t", "")),
			authorization("b.example.com", "pending", httpChallenge("u", "t", "")),
		}
		order, _, err := acme.UnserializeAuthorizationRequests(testCertificate(), domains, testResolver, "thumb", responses)
		require.NoError(t, err)
		assert.Nil(t, order.ExpiresAt)
	})
}

func TestUnserializeOrder(t *testing.T) {
	domains := []*model.Domain{testDomain("dom-1", "example.com", "dns")}
	orderRes := &acme.OrderResource{
		Status:      model.OrderStatusPending,
		Expires:     "2026-09-15T12:00:00Z",
		Finalize:    "https://acme.test/finalize/1",
		Certificate: "",
		URL:         "https://acme.test/order/1",
	}
	responses := []acme.AuthorizationResource{
		authorization("example.com", "pending",
			httpChallenge("https://acme.test/chall/h", "tok-h", ""),
			acme.ChallengeResource{Type: "dns-01", URL: "https://acme.test/chall/d", Token: "tok-d"},
		),
	}

	order, challenges, err := acme.UnserializeOrder(testCertificate(), domains, testResolver, "thumb", orderRes, responses)
	require.NoError(t, err)

	assert.Equal(t, model.OrderTypeOrder, order.Type)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Equal(t, "https://acme.test/order/1", order.OrderURL)
	assert.Equal(t, "https://acme.test/finalize/1", order.FinalizeURL)
	require.NotNil(t, order.ExpiresAt)

	// The domain wants dns-01, so the http-01 offer is passed over.
	require.Len(t, challenges, 1)
	ac := challenges[0]
	assert.Equal(t, order.ID, ac.OrderID)
	assert.Equal(t, "dom-1", ac.DomainID)
	assert.Equal(t, "https://acme.test/chall/d", ac.ChallengeURL)
	assert.Equal(t, "tok-d", ac.ChallengeToken)
	assert.Equal(t, "tok-d.thumb", ac.ChallengeAuthKey)
	assert.Equal(t, model.ChallengeStatusPending, ac.ChallengeStatus)
}

func TestUnserializeChallengeSelectionErrors(t *testing.T) {
	domains := []*model.Domain{testDomain("dom-1", "example.com", "dns")}

	t.Run("multiple matches", func(t *testing.T) {
		responses := []acme.AuthorizationResource{
			authorization("example.com", "pending",
				acme.ChallengeResource{Type: "dns-01", URL: "u1", Token: "t1"},
				acme.ChallengeResource{Type: "dns-01", URL: "u2", Token: "t2"},
			),
		}
		_, _, err := acme.UnserializeAuthorizationRequests(testCertificate(), domains, testResolver, "thumb", responses)
		require.Error(t, err)
		assert.EqualError(t, err, `acme: multiple challenges of type "dns-01" found in authorization`)
	})

	t.Run("no match", func(t *testing.T) {
		responses := []acme.AuthorizationResource{
			authorization("example.com", "pending",
				httpChallenge("u1", "t1", ""),
				acme.ChallengeResource{Type: "tls-alpn-01", URL: "u2", Token: "t2"},
			),
		}
		_, _, err := acme.UnserializeAuthorizationRequests(testCertificate(), domains, testResolver, "thumb", responses)
		require.Error(t, err)
		assert.EqualError(t, err, `acme: no challenge of type "dns-01" found, server offered http-01, tls-alpn-01`)
	})

	t.Run("combinations restrict eligibility", func(t *testing.T) {
		res := authorization("example.com", "pending",
			httpChallenge("u1", "t1", ""),
			acme.ChallengeResource{Type: "dns-01", URL: "u2", Token: "t2"},
		)
		res.Combinations = [][]int{{0}}

		_, _, err := acme.UnserializeAuthorizationRequests(testCertificate(), domains, testResolver, "thumb", []acme.AuthorizationResource{res})
		require.Error(t, err)
		var matchErr *acme.ChallengeMatchError
		require.ErrorAs(t, err, &matchErr)
		assert.Equal(t, 0, matchErr.Count)
		assert.Equal(t, []string{"http-01"}, matchErr.Offered)
	})
}

func TestUnserializeDomainMatching(t *testing.T) {
	t.Run("unmatched identifier", func(t *testing.T) {
		domains := []*model.Domain{testDomain("dom-1", "example.com", "http")}
		responses := []acme.AuthorizationResource{
			authorization("other.com", "pending", httpChallenge("u", "t", "")),
		}
		_, _, err := acme.UnserializeAuthorizationRequests(testCertificate(), domains, testResolver, "thumb", responses)
		var matchErr *acme.DomainMatchError
		require.ErrorAs(t, err, &matchErr)
		assert.Equal(t, "other.com", matchErr.Identifier)
	})

	t.Run("wildcard flag must agree", func(t *testing.T) {
		wildcard := testDomain("dom-1", "example.com", "dns")
		wildcard.Wildcard = true
		responses := []acme.AuthorizationResource{
			authorization("example.com", "pending", acme.ChallengeResource{Type: "dns-01", URL: "u", Token: "t"}),
		}
		_, _, err := acme.UnserializeAuthorizationRequests(testCertificate(), []*model.Domain{wildcard}, testResolver, "thumb", responses)
		var matchErr *acme.DomainMatchError
		require.ErrorAs(t, err, &matchErr)
	})

	t.Run("punycode forms compared", func(t *testing.T) {
		domains := []*model.Domain{testDomain("dom-1", "münchen.example", "http")}
		responses := []acme.AuthorizationResource{
			authorization("xn--mnchen-3ya.example", "pending", httpChallenge("u", "tok", "")),
		}
		_, challenges, err := acme.UnserializeAuthorizationRequests(testCertificate(), domains, testResolver, "thumb", responses)
		require.NoError(t, err)
		require.Len(t, challenges, 1)
		assert.Equal(t, "dom-1", challenges[0].DomainID)
	})
}

func TestUnserializePreservesChallengeState(t *testing.T) {
	domains := []*model.Domain{testDomain("dom-1", "example.com", "http")}
	failed := authorization("example.com", "invalid",
		acme.ChallengeResource{
			Type:   "http-01",
			URL:    "https://acme.test/chall/1",
			Token:  "tok",
			Status: model.ChallengeStatusInvalid,
			Error:  &acme.Problem{Type: "urn:ietf:params:acme:error:unauthorized", Detail: "validation failed"},
		},
	)

	order, challenges, err := acme.UnserializeAuthorizationRequests(testCertificate(), domains, testResolver, "thumb", []acme.AuthorizationResource{failed})
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatusInvalid, order.Status)
	require.Len(t, challenges, 1)
	assert.Equal(t, model.ChallengeStatusInvalid, challenges[0].ChallengeStatus)
	assert.Equal(t, "validation failed", challenges[0].LastError)
	assert.Equal(t, "https://acme.test/authz/example.com", challenges[0].AuthorizationURL)
}

func TestKeyAuthorization(t *testing.T) {
	assert.Equal(t, "token.thumbprint", acme.KeyAuthorization("token", "thumbprint"))
}
