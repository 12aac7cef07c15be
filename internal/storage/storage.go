// Package storage persists the certificate entity graph. The PostgreSQL
// implementation is the production store; the memory implementation backs
// tests and single-shot CLI use.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/model"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "storage"))
}

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDefaultExists is returned when saving an entity flagged default while a
// different entity of the same kind already holds the flag. The PostgreSQL
// schema enforces the same invariant with partial unique indexes.
var ErrDefaultExists = errors.New("storage: default flag already assigned")

// Querier defines common methods implemented by *sql.DB and *sql.Tx, so the
// query helpers can run against either a pool or a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Storage is the persistence contract used by the engine and the management
// surface.
type Storage interface {
	// Servers
	SaveServer(ctx context.Context, server *model.Server) error
	GetServer(ctx context.Context, id string) (*model.Server, error)
	ListServers(ctx context.Context) ([]*model.Server, error)
	GetDefaultServer(ctx context.Context) (*model.Server, error)

	// Accounts
	SaveAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListAccountsByServerID(ctx context.Context, serverID string) ([]*model.Account, error)

	// Domains
	SaveDomain(ctx context.Context, domain *model.Domain) error
	GetDomain(ctx context.Context, id string) (*model.Domain, error)
	ListDomainsByAccountID(ctx context.Context, accountID string) ([]*model.Domain, error)

	// Certificates and their domain join
	SaveCertificate(ctx context.Context, cert *model.Certificate) error
	GetCertificate(ctx context.Context, id string) (*model.Certificate, error)
	ListCertificates(ctx context.Context) ([]*model.Certificate, error)
	DeleteCertificate(ctx context.Context, id string) error
	SetCertificateDomains(ctx context.Context, certID string, domainIDs []string, primaryDomainID string) error
	GetDomainsByCertificateID(ctx context.Context, certID string) ([]*model.Domain, error)
	GetPrimaryDomain(ctx context.Context, certID string) (*model.Domain, error)

	// Orders
	SaveOrder(ctx context.Context, order *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrdersByCertificateID(ctx context.Context, certID string) ([]*model.Order, error)

	// Authorization challenges
	SaveAuthorizationChallenge(ctx context.Context, ac *model.AuthorizationChallenge) error
	GetAuthorizationChallengesByOrderID(ctx context.Context, orderID string) ([]*model.AuthorizationChallenge, error)

	// Certificate actions
	SaveCertificateAction(ctx context.Context, action *model.CertificateAction) error
	GetCertificateActionsByCertificateID(ctx context.Context, certID string) ([]*model.CertificateAction, error)

	// Remote servers
	SaveRemoteServer(ctx context.Context, rs *model.RemoteServer) error
	GetRemoteServer(ctx context.Context, id string) (*model.RemoteServer, error)
	ListRemoteServers(ctx context.Context) ([]*model.RemoteServer, error)

	// Revoked certificate archive
	SaveRevokedCertificate(ctx context.Context, rc *model.RevokedCertificate) error
	ListRevokedCertificates(ctx context.Context) ([]*model.RevokedCertificate, error)

	// http-01 token store served by the well-known endpoint
	SaveChallengeToken(ctx context.Context, token, keyAuth string) error
	GetChallengeToken(ctx context.Context, token string) (string, error)
	DeleteChallengeToken(ctx context.Context, token string) error

	// WithinTransaction runs fn against a transactional Storage view,
	// committing on nil error and rolling back otherwise.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error

	Close() error
}

// NewStorage is the factory function.
func NewStorage(storageType string, dbHost, dbUser, dbPassword, dbName string, dbPort int, dbSSLMode string) (Storage, error) {
	switch strings.ToLower(storageType) {
	case "postgres":
		return NewPostgreSQLStorage(dbHost, dbUser, dbPassword, dbName, dbPort, dbSSLMode)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		logger.Error("invalid storage type specified", zap.String("storage_type", storageType))
		return nil, fmt.Errorf("storage: invalid storage type: %s", storageType)
	}
}
