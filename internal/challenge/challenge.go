// Package challenge provides the pluggable authorization-challenge types and
// the registry that resolves a configured handle to an initialized instance.
package challenge

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/model"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "challenge"))
}

// Type is one authorization mechanism. Lifecycle hooks are invoked around a
// challenge attempt: BeforeChallenge provisions the proof (write a token,
// create a DNS record), AfterChallenge removes it again.
type Type interface {
	// ACMETypeName is the wire-level challenge type, e.g. "http-01".
	ACMETypeName() string
	// CheckConfiguration validates and normalizes a domain's raw per-domain
	// configuration blob.
	CheckConfiguration(d *model.Domain, raw json.RawMessage) (json.RawMessage, error)
	BeforeChallenge(ctx context.Context, d *model.Domain, ac *model.AuthorizationChallenge) error
	AfterChallenge(ctx context.Context, d *model.Domain, ac *model.AuthorizationChallenge) error
}

// Constructor builds a challenge type instance from merged configuration
// options (static registry options overlaid with the domain's saved
// per-instance options).
type Constructor func(options json.RawMessage) (Type, error)

// Registry resolves challenge type handles. Constructors are registered
// explicitly in a lookup table; there is no reflective instantiation.
type Registry struct {
	constructors  map[string]Constructor
	staticOptions map[string]json.RawMessage
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors:  make(map[string]Constructor),
		staticOptions: make(map[string]json.RawMessage),
	}
}

// Register adds a handle with its constructor and optional static options.
func (r *Registry) Register(handle string, staticOptions json.RawMessage, ctor Constructor) {
	r.constructors[handle] = ctor
	if staticOptions != nil {
		r.staticOptions[handle] = staticOptions
	}
}

// Known reports whether a handle has a registered constructor, without
// initializing it.
func (r *Registry) Known(handle string) bool {
	_, ok := r.constructors[handle]
	return ok
}

// Handles lists the registered handles.
func (r *Registry) Handles() []string {
	handles := make([]string, 0, len(r.constructors))
	for h := range r.constructors {
		handles = append(handles, h)
	}
	return handles
}

// Resolve initializes the challenge type configured on the domain. Unknown
// or misconfigured handles resolve to (nil, false) so callers can degrade
// gracefully instead of failing the whole operation.
func (r *Registry) Resolve(d *model.Domain) (Type, bool) {
	ctor, ok := r.constructors[d.ChallengeType]
	if !ok {
		logger.Warn("unknown challenge type handle",
			zap.String("handle", d.ChallengeType), zap.String("domain", d.Hostname))
		return nil, false
	}
	options, err := mergeOptions(r.staticOptions[d.ChallengeType], json.RawMessage(d.ChallengeConfigJSON))
	if err != nil {
		logger.Warn("bad challenge type configuration",
			zap.String("handle", d.ChallengeType), zap.String("domain", d.Hostname), zap.Error(err))
		return nil, false
	}
	instance, err := ctor(options)
	if err != nil {
		logger.Warn("challenge type failed to initialize",
			zap.String("handle", d.ChallengeType), zap.String("domain", d.Hostname), zap.Error(err))
		return nil, false
	}
	return instance, true
}

// ACMETypeName implements acme.ChallengeTypeResolver. A handle that cannot
// be resolved is a hard error here: the unserializer cannot proceed without
// knowing which wire challenge type to select.
func (r *Registry) ACMETypeName(d *model.Domain) (string, error) {
	instance, ok := r.Resolve(d)
	if !ok {
		return "", fmt.Errorf("challenge: no usable challenge type %q for domain %s", d.ChallengeType, d.Hostname)
	}
	return instance.ACMETypeName(), nil
}

// mergeOptions overlays per-instance options onto static options, the
// per-instance values winning on key collisions.
func mergeOptions(static, instance json.RawMessage) (json.RawMessage, error) {
	merged := make(map[string]json.RawMessage)
	for _, raw := range []json.RawMessage{static, instance} {
		if len(raw) == 0 {
			continue
		}
		var part map[string]json.RawMessage
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, fmt.Errorf("challenge: options are not a JSON object: %w", err)
		}
		for k, v := range part {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return out, nil
}
