package acme

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/model"
)

// EnsureDirectory resolves the server's directory endpoints from its
// directory URL unless they are already cached on the entity. It reports
// whether the entity changed so the caller can persist it.
func (c *Communicator) EnsureDirectory(ctx context.Context, server *model.Server) (bool, error) {
	if server.Directory != nil {
		return false, nil
	}

	resp, err := c.Send(ctx, nil, server, http.MethodGet, server.DirectoryURL, nil, []int{http.StatusOK})
	if err != nil {
		return false, err
	}

	var raw rawDirectory
	if err := resp.Unmarshal(&raw); err != nil {
		return false, err
	}

	dir, err := raw.forVersion(server.Protocol, server.DirectoryURL)
	if err != nil {
		return false, err
	}
	server.Directory = dir
	logger.Info("resolved ACME directory",
		zap.String("server", server.Name),
		zap.String("protocol", string(server.Protocol)))
	return true, nil
}

// forVersion maps the dialect-specific directory field names onto the cached
// endpoint set. The legacy draft has no dedicated nonce endpoint; the
// directory URL doubles as the nonce source since every legacy response
// carries a Replay-Nonce header.
func (d *rawDirectory) forVersion(version model.ProtocolVersion, directoryURL string) (*model.Directory, error) {
	switch version {
	case model.ProtocolV2:
		return &model.Directory{
			NewNonce:   d.NewNonce,
			NewAccount: d.NewAccount,
			NewOrder:   d.NewOrder,
			RevokeCert: d.RevokeCert,
		}, nil
	case model.ProtocolV1:
		return &model.Directory{
			NewNonce:   directoryURL,
			NewAccount: d.NewReg,
			NewOrder:   d.NewAuthz,
			NewCert:    d.NewCert,
			RevokeCert: d.LegacyRevoke,
		}, nil
	default:
		return nil, &VersionError{Version: string(version)}
	}
}
