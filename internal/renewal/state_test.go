package renewal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/certforge/certforge/internal/model"
)

func TestDecideState(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 30 * 24 * time.Hour

	issuedUntil := func(expires time.Time) *model.Certificate {
		return &model.Certificate{
			Name:           "example",
			CSRPEM:         "csr",
			CertificatePEM: "cert",
			ExpiresAt:      &expires,
		}
	}

	cases := []struct {
		name       string
		cert       *model.Certificate
		hasPending bool
		opts       Options
		want       State
	}{
		{
			name: "no csr",
			cert: &model.Certificate{Name: "example"},
			want: StateMustBeGenerated,
		},
		{
			name: "csr but never issued",
			cert: &model.Certificate{Name: "example", CSRPEM: "csr"},
			want: StateMustBeGenerated,
		},
		{
			name: "no csr beats force flags",
			cert: &model.Certificate{Name: "example"},
			opts: Options{ForceRenewal: true, ForceActions: true},
			want: StateMustBeGenerated,
		},
		{
			name: "expired",
			cert: issuedUntil(now.Add(-time.Hour)),
			want: StateExpired,
		},
		{
			name: "expiry boundary counts as expired",
			cert: issuedUntil(now),
			want: StateExpired,
		},
		{
			name: "expired beats forced renewal",
			cert: issuedUntil(now.Add(-time.Hour)),
			opts: Options{ForceRenewal: true},
			want: StateExpired,
		},
		{
			name: "inside renewal window",
			cert: issuedUntil(now.Add(window - time.Hour)),
			want: StateShouldBeRenewed,
		},
		{
			name: "forced renewal outside window",
			cert: issuedUntil(now.Add(60 * 24 * time.Hour)),
			opts: Options{ForceRenewal: true},
			want: StateShouldBeRenewed,
		},
		{
			name:       "pending actions",
			cert:       issuedUntil(now.Add(60 * 24 * time.Hour)),
			hasPending: true,
			want:       StateRunActions,
		},
		{
			name: "forced actions",
			cert: issuedUntil(now.Add(60 * 24 * time.Hour)),
			opts: Options{ForceActions: true},
			want: StateRunActions,
		},
		{
			name: "good",
			cert: issuedUntil(now.Add(60 * 24 * time.Hour)),
			want: StateGood,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := decideState(tc.cert, tc.hasPending, now, window, tc.opts)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "MUST_BE_GENERATED", StateMustBeGenerated.String())
	assert.Equal(t, "EXPIRED", StateExpired.String())
	assert.Equal(t, "SHOULD_BE_RENEWED", StateShouldBeRenewed.String())
	assert.Equal(t, "RUN_ACTIONS", StateRunActions.String())
	assert.Equal(t, "GOOD", StateGood.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}
