// Package deploy moves issued certificate material to its destinations. A
// driver is resolved by string handle from a lookup table, the same pattern
// the challenge registry uses.
package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/model"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "deploy"))
}

// FilesystemError is a typed wrapper around a failed file write on a
// deployment target. Deployment failures are recorded, not fatal to a tick.
type FilesystemError struct {
	Target string
	Path   string
	Err    error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("deploy: writing %s on %s failed: %v", e.Path, e.Target, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// Files maps destination-relative file names to contents, e.g.
// "certificate.pem" -> issued body.
type Files map[string][]byte

// Driver writes files to a destination path on a deployment target.
type Driver interface {
	Deploy(ctx context.Context, target *model.RemoteServer, destPath string, files Files) error
}

// Registry resolves deployment driver handles.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry returns a registry pre-populated with the built-in drivers.
func NewRegistry() *Registry {
	return &Registry{drivers: map[string]Driver{
		"local": &LocalDriver{},
		"ssh":   &SSHDriver{},
	}}
}

// Register adds or replaces a driver under the given handle.
func (r *Registry) Register(handle string, driver Driver) {
	r.drivers[handle] = driver
}

// Resolve returns the driver for handle, or (nil, false) when unknown.
func (r *Registry) Resolve(handle string) (Driver, bool) {
	d, ok := r.drivers[handle]
	return d, ok
}

// LocalDriver writes files to a directory on the local filesystem.
type LocalDriver struct{}

func (d *LocalDriver) Deploy(ctx context.Context, target *model.RemoteServer, destPath string, files Files) error {
	if err := os.MkdirAll(destPath, 0o755); err != nil {
		return &FilesystemError{Target: "local", Path: destPath, Err: err}
	}
	for name, content := range files {
		path := filepath.Join(destPath, name)
		if err := os.WriteFile(path, content, 0o600); err != nil {
			return &FilesystemError{Target: "local", Path: path, Err: err}
		}
		logger.Debug("deployed file", zap.String("driver", "local"), zap.String("path", path))
	}
	return nil
}
