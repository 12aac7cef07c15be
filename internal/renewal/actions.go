package renewal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/certforge/certforge/internal/deploy"
	"github.com/certforge/certforge/internal/model"
)

// actionConfig is the per-action configuration blob for deploy actions.
type actionConfig struct {
	// Path is the destination directory on the target.
	Path string `json:"path"`
	// Prefix names the written files; defaults to the certificate name.
	Prefix string `json:"prefix,omitempty"`
	// IncludeKey and IncludeChain select the optional files next to the
	// certificate body.
	IncludeKey   bool `json:"includeKey,omitempty"`
	IncludeChain bool `json:"includeChain,omitempty"`
}

// runActions executes the certificate's pending actions in position order.
// The first failure stops the remaining actions for this tick but is
// recorded rather than raised; the tick stays resumable.
func (e *Engine) runActions(ctx context.Context, cert *model.Certificate, actions []*model.CertificateAction, opts Options, res *Result) error {
	if !cert.Issued() {
		return fmt.Errorf("renewal: certificate %s has no issued body to deploy", cert.Name)
	}

	for _, action := range actions {
		if action.Status != model.ActionStatusPending && !opts.ForceActions {
			continue
		}
		if err := e.runAction(ctx, cert, action); err != nil {
			now := time.Now().UTC()
			action.Status = model.ActionStatusFailed
			action.LastError = err.Error()
			action.LastRunAt = &now
			if saveErr := e.store.SaveCertificateAction(ctx, action); saveErr != nil {
				return saveErr
			}
			res.logf("action %d (%s) failed: %v", action.Position, action.Driver, err)
			break
		}
		now := time.Now().UTC()
		action.Status = model.ActionStatusDone
		action.LastError = ""
		action.LastRunAt = &now
		if err := e.store.SaveCertificateAction(ctx, action); err != nil {
			return err
		}
		res.logf("action %d (%s) done", action.Position, action.Driver)
	}
	res.Delay = DelayDone
	return nil
}

func (e *Engine) runAction(ctx context.Context, cert *model.Certificate, action *model.CertificateAction) error {
	driver, ok := e.deployers.Resolve(action.Driver)
	if !ok {
		return fmt.Errorf("renewal: unknown deploy driver %q", action.Driver)
	}

	var cfg actionConfig
	if action.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(action.ConfigJSON), &cfg); err != nil {
			return fmt.Errorf("renewal: bad action configuration: %w", err)
		}
	}
	if cfg.Path == "" {
		return fmt.Errorf("renewal: action configuration has no destination path")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = cert.Name
	}

	files := deploy.Files{prefix + ".crt": []byte(cert.CertificatePEM)}
	if cfg.IncludeKey {
		files[prefix+".key"] = []byte(cert.PrivateKeyPEM)
	}
	if cfg.IncludeChain && cert.IssuerPEM != "" {
		files[prefix+".chain.crt"] = []byte(cert.IssuerPEM)
	}

	var target *model.RemoteServer
	if action.RemoteServerID != nil {
		var err error
		target, err = e.store.GetRemoteServer(ctx, *action.RemoteServerID)
		if err != nil {
			return err
		}
	}

	return driver.Deploy(ctx, target, cfg.Path, files)
}
