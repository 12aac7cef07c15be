package renewal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certforge/certforge/internal/model"
	"github.com/certforge/certforge/internal/storage"
)

// Revoke asks the server to revoke the certificate's issued body, archives
// the body as an immutable RevokedCertificate record and clears the live
// certificate so the next tick can start a fresh issuance.
func (e *Engine) Revoke(ctx context.Context, certificateID string, reason int) (*model.RevokedCertificate, error) {
	cert, err := e.store.GetCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if !cert.Issued() {
		return nil, fmt.Errorf("renewal: certificate %s has no issued body to revoke", cert.Name)
	}
	account, err := e.store.GetAccount(ctx, cert.AccountID)
	if err != nil {
		return nil, err
	}
	server, err := e.store.GetServer(ctx, account.ServerID)
	if err != nil {
		return nil, err
	}

	if err := e.comm.RevokeCertificate(ctx, account, server, []byte(cert.CertificatePEM), reason); err != nil {
		return nil, err
	}

	revoked := &model.RevokedCertificate{
		ID:             uuid.NewString(),
		CertificateID:  &cert.ID,
		Name:           cert.Name,
		CertificatePEM: cert.CertificatePEM,
		IssuerPEM:      cert.IssuerPEM,
		RevokedAt:      time.Now().UTC(),
	}

	cert.CertificatePEM = ""
	cert.IssuerPEM = ""
	cert.IssuedAt = nil
	cert.ExpiresAt = nil

	err = e.store.WithinTransaction(ctx, func(ctx context.Context, tx storage.Storage) error {
		if err := tx.SaveRevokedCertificate(ctx, revoked); err != nil {
			return err
		}
		return tx.SaveCertificate(ctx, cert)
	})
	if err != nil {
		return nil, err
	}
	logger.Info("revoked certificate " + cert.Name)
	return revoked, nil
}
