// Package renewal implements the tick-driven certificate renewal state
// machine. Each tick performs one bounded unit of work, persists progress and
// returns a suggested delay before the next tick.
package renewal

import (
	"time"

	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/model"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "renewal"))
}

// State is the computed per-certificate renewal state. It is derived from the
// certificate's stored fields on every tick, never persisted.
type State int

const (
	StateMustBeGenerated State = iota
	StateExpired
	StateShouldBeRenewed
	StateRunActions
	StateGood
)

func (s State) String() string {
	switch s {
	case StateMustBeGenerated:
		return "MUST_BE_GENERATED"
	case StateExpired:
		return "EXPIRED"
	case StateShouldBeRenewed:
		return "SHOULD_BE_RENEWED"
	case StateRunActions:
		return "RUN_ACTIONS"
	case StateGood:
		return "GOOD"
	default:
		return "UNKNOWN"
	}
}

// Options carries the operator flags for one tick.
type Options struct {
	ForceRenewal bool
	ForceActions bool
}

// decideState computes the renewal state. A certificate without CSR or issued
// body always needs generation; an expired body beats window arithmetic; a
// forced renewal needs an issued body to renew.
func decideState(cert *model.Certificate, hasPendingActions bool, now time.Time, window time.Duration, opts Options) State {
	if cert.CSRPEM == "" || !cert.Issued() {
		return StateMustBeGenerated
	}
	if cert.ExpiresAt != nil && !now.Before(*cert.ExpiresAt) {
		return StateExpired
	}
	if opts.ForceRenewal {
		return StateShouldBeRenewed
	}
	if cert.ExpiresAt != nil && !now.Before(cert.ExpiresAt.Add(-window)) {
		return StateShouldBeRenewed
	}
	if hasPendingActions || opts.ForceActions {
		return StateRunActions
	}
	return StateGood
}
