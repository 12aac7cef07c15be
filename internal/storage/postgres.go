package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/model"
)

// PostgreSQLStorage holds the connection pool.
type PostgreSQLStorage struct {
	db *sql.DB
}

// postgresTxStore holds a transaction and implements the Storage interface.
type postgresTxStore struct {
	tx *sql.Tx
}

var (
	_ Storage = (*PostgreSQLStorage)(nil)
	_ Storage = (*postgresTxStore)(nil)
)

// NewPostgreSQLStorage opens the pool, verifies connectivity and ensures the
// schema exists.
func NewPostgreSQLStorage(dbHost, dbUser, dbPassword, dbName string, dbPort int, dbSSLMode string) (*PostgreSQLStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		dbHost, dbUser, dbPassword, dbName, dbPort, dbSSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		logger.Error("failed to open PostgreSQL connection", zap.Error(err))
		return nil, fmt.Errorf("storage: failed to open PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		logger.Error("failed to ping PostgreSQL database", zap.Error(err), zap.String("host", dbHost))
		return nil, fmt.Errorf("storage: failed to connect to PostgreSQL database: %w", err)
	}

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer schemaCancel()
	if err := ensureSchema(schemaCtx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("PostgreSQL storage initialized", zap.String("host", dbHost), zap.String("dbname", dbName))
	return &PostgreSQLStorage{db: db}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS acme_servers ( id TEXT PRIMARY KEY, name TEXT NOT NULL, directory_url TEXT NOT NULL, protocol TEXT NOT NULL, authorization_ports_json JSONB NOT NULL DEFAULT '[]', allow_unsafe BOOLEAN NOT NULL DEFAULT false, is_default BOOLEAN NOT NULL DEFAULT false, tos_url TEXT, website_url TEXT, directory_json JSONB, created_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_acme_servers_default ON acme_servers (is_default) WHERE is_default;`,
		`CREATE TABLE IF NOT EXISTS accounts ( id TEXT PRIMARY KEY, server_id TEXT NOT NULL REFERENCES acme_servers(id) ON DELETE CASCADE, name TEXT NOT NULL, email TEXT NOT NULL, private_key_pem TEXT NOT NULL, registration_uri TEXT NOT NULL DEFAULT '', registered_at TIMESTAMP WITH TIME ZONE, is_default BOOLEAN NOT NULL DEFAULT false, created_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_server_id ON accounts (server_id);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_default ON accounts (is_default) WHERE is_default;`,
		`CREATE TABLE IF NOT EXISTS domains ( id TEXT PRIMARY KEY, account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE, hostname TEXT NOT NULL, wildcard BOOLEAN NOT NULL DEFAULT false, challenge_type TEXT NOT NULL, challenge_config_json JSONB NOT NULL DEFAULT '{}', created_at TIMESTAMP WITH TIME ZONE NOT NULL, UNIQUE (account_id, hostname, wildcard) );`,
		`CREATE TABLE IF NOT EXISTS certificates ( id TEXT PRIMARY KEY, account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE, name TEXT NOT NULL, csr_pem TEXT NOT NULL DEFAULT '', private_key_pem TEXT NOT NULL DEFAULT '', certificate_pem TEXT NOT NULL DEFAULT '', issuer_pem TEXT NOT NULL DEFAULT '', issued_at TIMESTAMP WITH TIME ZONE, expires_at TIMESTAMP WITH TIME ZONE, ongoing_order_id TEXT, created_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE INDEX IF NOT EXISTS idx_certificates_account_id ON certificates (account_id);`,
		`CREATE TABLE IF NOT EXISTS certificate_domains ( certificate_id TEXT NOT NULL REFERENCES certificates(id) ON DELETE CASCADE, domain_id TEXT NOT NULL REFERENCES domains(id) ON DELETE RESTRICT, is_primary BOOLEAN NOT NULL DEFAULT false, PRIMARY KEY (certificate_id, domain_id) );`,
		`CREATE TABLE IF NOT EXISTS orders ( id TEXT PRIMARY KEY, certificate_id TEXT NOT NULL REFERENCES certificates(id) ON DELETE CASCADE, type TEXT NOT NULL, status TEXT NOT NULL, expires_at TIMESTAMP WITH TIME ZONE, order_url TEXT NOT NULL DEFAULT '', finalize_url TEXT NOT NULL DEFAULT '', certificate_url TEXT NOT NULL DEFAULT '', archived BOOLEAN NOT NULL DEFAULT false, created_at TIMESTAMP WITH TIME ZONE NOT NULL, last_modified_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE INDEX IF NOT EXISTS idx_orders_certificate_id ON orders (certificate_id);`,
		`CREATE TABLE IF NOT EXISTS authorization_challenges ( id TEXT PRIMARY KEY, order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE, domain_id TEXT NOT NULL, authorization_url TEXT NOT NULL DEFAULT '', authorization_status TEXT NOT NULL DEFAULT 'pending', authorization_expires_at TIMESTAMP WITH TIME ZONE, challenge_url TEXT NOT NULL DEFAULT '', challenge_token TEXT NOT NULL DEFAULT '', challenge_auth_key TEXT NOT NULL DEFAULT '', challenge_status TEXT NOT NULL DEFAULT 'pending', last_error TEXT NOT NULL DEFAULT '', created_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE INDEX IF NOT EXISTS idx_authorization_challenges_order_id ON authorization_challenges (order_id);`,
		`CREATE TABLE IF NOT EXISTS certificate_actions ( id TEXT PRIMARY KEY, certificate_id TEXT NOT NULL REFERENCES certificates(id) ON DELETE CASCADE, position INTEGER NOT NULL, driver TEXT NOT NULL, remote_server_id TEXT, config_json JSONB NOT NULL DEFAULT '{}', status TEXT NOT NULL DEFAULT 'pending', last_error TEXT NOT NULL DEFAULT '', last_run_at TIMESTAMP WITH TIME ZONE, created_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE INDEX IF NOT EXISTS idx_certificate_actions_certificate_id ON certificate_actions (certificate_id);`,
		`CREATE TABLE IF NOT EXISTS remote_servers ( id TEXT PRIMARY KEY, name TEXT NOT NULL, hostname TEXT NOT NULL, driver TEXT NOT NULL, username TEXT NOT NULL DEFAULT '', credentials_json JSONB NOT NULL DEFAULT '{}', created_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE TABLE IF NOT EXISTS revoked_certificates ( id TEXT PRIMARY KEY, certificate_id TEXT, name TEXT NOT NULL, certificate_pem TEXT NOT NULL, issuer_pem TEXT NOT NULL DEFAULT '', revoked_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE TABLE IF NOT EXISTS challenge_tokens ( token TEXT PRIMARY KEY, key_auth TEXT NOT NULL, created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW() );`,
	}

	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if pqErr, ok := err.(*pq.Error); ok {
				logger.Error("failed to execute schema statement",
					zap.Error(err), zap.Int("statement_index", i),
					zap.String("code", string(pqErr.Code)), zap.String("message", pqErr.Message))
			} else {
				logger.Error("failed to execute schema statement", zap.Error(err), zap.Int("statement_index", i))
			}
			return fmt.Errorf("storage: failed to initialize database schema: %w", err)
		}
	}
	return nil
}

// Close shuts down the database connection pool.
func (s *PostgreSQLStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// WithinTransaction executes fn within a database transaction.
func (s *PostgreSQLStorage) WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: failed to begin transaction: %w", err)
	}
	if err := fn(ctx, &postgresTxStore{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("storage: transaction function failed (%w) and rollback failed (%v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: failed to commit transaction: %w", err)
	}
	return nil
}

// Close is a no-op for a transaction store.
func (s *postgresTxStore) Close() error { return nil }

// WithinTransaction cannot be called on an already active transaction store.
func (s *postgresTxStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error {
	return errors.New("storage: cannot start a transaction within an existing transaction")
}

// --- Servers ---

func (s *PostgreSQLStorage) SaveServer(ctx context.Context, server *model.Server) error {
	return saveServer(ctx, s.db, server)
}
func (s *PostgreSQLStorage) GetServer(ctx context.Context, id string) (*model.Server, error) {
	return getServer(ctx, s.db, id)
}
func (s *PostgreSQLStorage) ListServers(ctx context.Context) ([]*model.Server, error) {
	return listServers(ctx, s.db)
}
func (s *PostgreSQLStorage) GetDefaultServer(ctx context.Context) (*model.Server, error) {
	return getDefaultServer(ctx, s.db)
}

func (s *postgresTxStore) SaveServer(ctx context.Context, server *model.Server) error {
	return saveServer(ctx, s.tx, server)
}
func (s *postgresTxStore) GetServer(ctx context.Context, id string) (*model.Server, error) {
	return getServer(ctx, s.tx, id)
}
func (s *postgresTxStore) ListServers(ctx context.Context) ([]*model.Server, error) {
	return listServers(ctx, s.tx)
}
func (s *postgresTxStore) GetDefaultServer(ctx context.Context) (*model.Server, error) {
	return getDefaultServer(ctx, s.tx)
}

// --- Accounts ---

func (s *PostgreSQLStorage) SaveAccount(ctx context.Context, account *model.Account) error {
	return saveAccount(ctx, s.db, account)
}
func (s *PostgreSQLStorage) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return getAccount(ctx, s.db, id)
}
func (s *PostgreSQLStorage) ListAccountsByServerID(ctx context.Context, serverID string) ([]*model.Account, error) {
	return listAccountsByServerID(ctx, s.db, serverID)
}

func (s *postgresTxStore) SaveAccount(ctx context.Context, account *model.Account) error {
	return saveAccount(ctx, s.tx, account)
}
func (s *postgresTxStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return getAccount(ctx, s.tx, id)
}
func (s *postgresTxStore) ListAccountsByServerID(ctx context.Context, serverID string) ([]*model.Account, error) {
	return listAccountsByServerID(ctx, s.tx, serverID)
}

// --- Domains ---

func (s *PostgreSQLStorage) SaveDomain(ctx context.Context, domain *model.Domain) error {
	return saveDomain(ctx, s.db, domain)
}
func (s *PostgreSQLStorage) GetDomain(ctx context.Context, id string) (*model.Domain, error) {
	return getDomain(ctx, s.db, id)
}
func (s *PostgreSQLStorage) ListDomainsByAccountID(ctx context.Context, accountID string) ([]*model.Domain, error) {
	return listDomainsByAccountID(ctx, s.db, accountID)
}

func (s *postgresTxStore) SaveDomain(ctx context.Context, domain *model.Domain) error {
	return saveDomain(ctx, s.tx, domain)
}
func (s *postgresTxStore) GetDomain(ctx context.Context, id string) (*model.Domain, error) {
	return getDomain(ctx, s.tx, id)
}
func (s *postgresTxStore) ListDomainsByAccountID(ctx context.Context, accountID string) ([]*model.Domain, error) {
	return listDomainsByAccountID(ctx, s.tx, accountID)
}

// --- Certificates ---

func (s *PostgreSQLStorage) SaveCertificate(ctx context.Context, cert *model.Certificate) error {
	return saveCertificate(ctx, s.db, cert)
}
func (s *PostgreSQLStorage) GetCertificate(ctx context.Context, id string) (*model.Certificate, error) {
	return getCertificate(ctx, s.db, id)
}
func (s *PostgreSQLStorage) ListCertificates(ctx context.Context) ([]*model.Certificate, error) {
	return listCertificates(ctx, s.db)
}
func (s *PostgreSQLStorage) DeleteCertificate(ctx context.Context, id string) error {
	return deleteCertificate(ctx, s.db, id)
}
func (s *PostgreSQLStorage) SetCertificateDomains(ctx context.Context, certID string, domainIDs []string, primaryDomainID string) error {
	return setCertificateDomains(ctx, s.db, certID, domainIDs, primaryDomainID)
}
func (s *PostgreSQLStorage) GetDomainsByCertificateID(ctx context.Context, certID string) ([]*model.Domain, error) {
	return getDomainsByCertificateID(ctx, s.db, certID)
}
func (s *PostgreSQLStorage) GetPrimaryDomain(ctx context.Context, certID string) (*model.Domain, error) {
	return getPrimaryDomain(ctx, s.db, certID)
}

func (s *postgresTxStore) SaveCertificate(ctx context.Context, cert *model.Certificate) error {
	return saveCertificate(ctx, s.tx, cert)
}
func (s *postgresTxStore) GetCertificate(ctx context.Context, id string) (*model.Certificate, error) {
	return getCertificate(ctx, s.tx, id)
}
func (s *postgresTxStore) ListCertificates(ctx context.Context) ([]*model.Certificate, error) {
	return listCertificates(ctx, s.tx)
}
func (s *postgresTxStore) DeleteCertificate(ctx context.Context, id string) error {
	return deleteCertificate(ctx, s.tx, id)
}
func (s *postgresTxStore) SetCertificateDomains(ctx context.Context, certID string, domainIDs []string, primaryDomainID string) error {
	return setCertificateDomains(ctx, s.tx, certID, domainIDs, primaryDomainID)
}
func (s *postgresTxStore) GetDomainsByCertificateID(ctx context.Context, certID string) ([]*model.Domain, error) {
	return getDomainsByCertificateID(ctx, s.tx, certID)
}
func (s *postgresTxStore) GetPrimaryDomain(ctx context.Context, certID string) (*model.Domain, error) {
	return getPrimaryDomain(ctx, s.tx, certID)
}

// --- Orders ---

func (s *PostgreSQLStorage) SaveOrder(ctx context.Context, order *model.Order) error {
	return saveOrder(ctx, s.db, order)
}
func (s *PostgreSQLStorage) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return getOrder(ctx, s.db, id)
}
func (s *PostgreSQLStorage) GetOrdersByCertificateID(ctx context.Context, certID string) ([]*model.Order, error) {
	return getOrdersByCertificateID(ctx, s.db, certID)
}

func (s *postgresTxStore) SaveOrder(ctx context.Context, order *model.Order) error {
	return saveOrder(ctx, s.tx, order)
}
func (s *postgresTxStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return getOrder(ctx, s.tx, id)
}
func (s *postgresTxStore) GetOrdersByCertificateID(ctx context.Context, certID string) ([]*model.Order, error) {
	return getOrdersByCertificateID(ctx, s.tx, certID)
}

// --- Authorization challenges ---

func (s *PostgreSQLStorage) SaveAuthorizationChallenge(ctx context.Context, ac *model.AuthorizationChallenge) error {
	return saveAuthorizationChallenge(ctx, s.db, ac)
}
func (s *PostgreSQLStorage) GetAuthorizationChallengesByOrderID(ctx context.Context, orderID string) ([]*model.AuthorizationChallenge, error) {
	return getAuthorizationChallengesByOrderID(ctx, s.db, orderID)
}

func (s *postgresTxStore) SaveAuthorizationChallenge(ctx context.Context, ac *model.AuthorizationChallenge) error {
	return saveAuthorizationChallenge(ctx, s.tx, ac)
}
func (s *postgresTxStore) GetAuthorizationChallengesByOrderID(ctx context.Context, orderID string) ([]*model.AuthorizationChallenge, error) {
	return getAuthorizationChallengesByOrderID(ctx, s.tx, orderID)
}

// --- Certificate actions ---

func (s *PostgreSQLStorage) SaveCertificateAction(ctx context.Context, action *model.CertificateAction) error {
	return saveCertificateAction(ctx, s.db, action)
}
func (s *PostgreSQLStorage) GetCertificateActionsByCertificateID(ctx context.Context, certID string) ([]*model.CertificateAction, error) {
	return getCertificateActionsByCertificateID(ctx, s.db, certID)
}

func (s *postgresTxStore) SaveCertificateAction(ctx context.Context, action *model.CertificateAction) error {
	return saveCertificateAction(ctx, s.tx, action)
}
func (s *postgresTxStore) GetCertificateActionsByCertificateID(ctx context.Context, certID string) ([]*model.CertificateAction, error) {
	return getCertificateActionsByCertificateID(ctx, s.tx, certID)
}

// --- Remote servers ---

func (s *PostgreSQLStorage) SaveRemoteServer(ctx context.Context, rs *model.RemoteServer) error {
	return saveRemoteServer(ctx, s.db, rs)
}
func (s *PostgreSQLStorage) GetRemoteServer(ctx context.Context, id string) (*model.RemoteServer, error) {
	return getRemoteServer(ctx, s.db, id)
}
func (s *PostgreSQLStorage) ListRemoteServers(ctx context.Context) ([]*model.RemoteServer, error) {
	return listRemoteServers(ctx, s.db)
}

func (s *postgresTxStore) SaveRemoteServer(ctx context.Context, rs *model.RemoteServer) error {
	return saveRemoteServer(ctx, s.tx, rs)
}
func (s *postgresTxStore) GetRemoteServer(ctx context.Context, id string) (*model.RemoteServer, error) {
	return getRemoteServer(ctx, s.tx, id)
}
func (s *postgresTxStore) ListRemoteServers(ctx context.Context) ([]*model.RemoteServer, error) {
	return listRemoteServers(ctx, s.tx)
}

// --- Revoked certificates ---

func (s *PostgreSQLStorage) SaveRevokedCertificate(ctx context.Context, rc *model.RevokedCertificate) error {
	return saveRevokedCertificate(ctx, s.db, rc)
}
func (s *PostgreSQLStorage) ListRevokedCertificates(ctx context.Context) ([]*model.RevokedCertificate, error) {
	return listRevokedCertificates(ctx, s.db)
}

func (s *postgresTxStore) SaveRevokedCertificate(ctx context.Context, rc *model.RevokedCertificate) error {
	return saveRevokedCertificate(ctx, s.tx, rc)
}
func (s *postgresTxStore) ListRevokedCertificates(ctx context.Context) ([]*model.RevokedCertificate, error) {
	return listRevokedCertificates(ctx, s.tx)
}

// --- Challenge tokens ---

func (s *PostgreSQLStorage) SaveChallengeToken(ctx context.Context, token, keyAuth string) error {
	return saveChallengeToken(ctx, s.db, token, keyAuth)
}
func (s *PostgreSQLStorage) GetChallengeToken(ctx context.Context, token string) (string, error) {
	return getChallengeToken(ctx, s.db, token)
}
func (s *PostgreSQLStorage) DeleteChallengeToken(ctx context.Context, token string) error {
	return deleteChallengeToken(ctx, s.db, token)
}

func (s *postgresTxStore) SaveChallengeToken(ctx context.Context, token, keyAuth string) error {
	return saveChallengeToken(ctx, s.tx, token, keyAuth)
}
func (s *postgresTxStore) GetChallengeToken(ctx context.Context, token string) (string, error) {
	return getChallengeToken(ctx, s.tx, token)
}
func (s *postgresTxStore) DeleteChallengeToken(ctx context.Context, token string) error {
	return deleteChallengeToken(ctx, s.tx, token)
}

// =============================================
// Query helpers (run against pool or transaction)
// =============================================

func saveServer(ctx context.Context, q Querier, server *model.Server) error {
	ports, err := json.Marshal(server.AuthorizationPorts)
	if err != nil {
		return fmt.Errorf("storage: failed to encode authorization ports: %w", err)
	}
	var dirJSON any
	if server.Directory != nil {
		b, err := json.Marshal(server.Directory)
		if err != nil {
			return fmt.Errorf("storage: failed to encode directory: %w", err)
		}
		dirJSON = string(b)
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now().UTC()
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO acme_servers (id, name, directory_url, protocol, authorization_ports_json, allow_unsafe, is_default, tos_url, website_url, directory_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, directory_url = EXCLUDED.directory_url, protocol = EXCLUDED.protocol,
			authorization_ports_json = EXCLUDED.authorization_ports_json, allow_unsafe = EXCLUDED.allow_unsafe,
			is_default = EXCLUDED.is_default, tos_url = EXCLUDED.tos_url, website_url = EXCLUDED.website_url,
			directory_json = EXCLUDED.directory_json`,
		server.ID, server.Name, server.DirectoryURL, string(server.Protocol), string(ports),
		server.AllowUnsafeConnections, server.Default, server.TermsOfServiceURL, server.WebsiteURL,
		dirJSON, server.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save server: %w", err)
	}
	return nil
}

func scanServer(row interface{ Scan(...interface{}) error }) (*model.Server, error) {
	var srv model.Server
	var protocol string
	var portsJSON string
	var dirJSON sql.NullString
	var tos, website sql.NullString
	err := row.Scan(&srv.ID, &srv.Name, &srv.DirectoryURL, &protocol, &portsJSON,
		&srv.AllowUnsafeConnections, &srv.Default, &tos, &website, &dirJSON, &srv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to scan server: %w", err)
	}
	srv.Protocol = model.ProtocolVersion(protocol)
	srv.TermsOfServiceURL = tos.String
	srv.WebsiteURL = website.String
	srv.AuthorizationPortsJSON = portsJSON
	if err := json.Unmarshal([]byte(portsJSON), &srv.AuthorizationPorts); err != nil {
		return nil, fmt.Errorf("storage: bad authorization ports for server %s: %w", srv.ID, err)
	}
	if dirJSON.Valid && dirJSON.String != "" {
		srv.DirectoryJSON = dirJSON.String
		var dir model.Directory
		if err := json.Unmarshal([]byte(dirJSON.String), &dir); err != nil {
			return nil, fmt.Errorf("storage: bad cached directory for server %s: %w", srv.ID, err)
		}
		srv.Directory = &dir
	}
	return &srv, nil
}

const serverColumns = `id, name, directory_url, protocol, authorization_ports_json, allow_unsafe, is_default, tos_url, website_url, directory_json, created_at`

func getServer(ctx context.Context, q Querier, id string) (*model.Server, error) {
	return scanServer(q.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM acme_servers WHERE id = $1`, id))
}

func getDefaultServer(ctx context.Context, q Querier) (*model.Server, error) {
	return scanServer(q.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM acme_servers WHERE is_default LIMIT 1`))
}

func listServers(ctx context.Context, q Querier) ([]*model.Server, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+serverColumns+` FROM acme_servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list servers: %w", err)
	}
	defer rows.Close()
	var servers []*model.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

func saveAccount(ctx context.Context, q Querier, account *model.Account) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (id, server_id, name, email, private_key_pem, registration_uri, registered_at, is_default, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email,
			registration_uri = EXCLUDED.registration_uri, registered_at = EXCLUDED.registered_at,
			is_default = EXCLUDED.is_default`,
		account.ID, account.ServerID, account.Name, account.Email, account.PrivateKeyPEM,
		account.RegistrationURI, nullableTime(account.RegisteredAt), account.Default, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save account: %w", err)
	}
	return nil
}

const accountColumns = `id, server_id, name, email, private_key_pem, registration_uri, registered_at, is_default, created_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*model.Account, error) {
	var acc model.Account
	var registeredAt sql.NullTime
	err := row.Scan(&acc.ID, &acc.ServerID, &acc.Name, &acc.Email, &acc.PrivateKeyPEM,
		&acc.RegistrationURI, &registeredAt, &acc.Default, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to scan account: %w", err)
	}
	if registeredAt.Valid {
		acc.RegisteredAt = &registeredAt.Time
	}
	return &acc, nil
}

func getAccount(ctx context.Context, q Querier, id string) (*model.Account, error) {
	return scanAccount(q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func listAccountsByServerID(ctx context.Context, q Querier, serverID string) ([]*model.Account, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE server_id = $1 ORDER BY name`, serverID)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list accounts: %w", err)
	}
	defer rows.Close()
	var accounts []*model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func saveDomain(ctx context.Context, q Querier, domain *model.Domain) error {
	if domain.CreatedAt.IsZero() {
		domain.CreatedAt = time.Now().UTC()
	}
	cfg := domain.ChallengeConfigJSON
	if cfg == "" {
		cfg = "{}"
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO domains (id, account_id, hostname, wildcard, challenge_type, challenge_config_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname, wildcard = EXCLUDED.wildcard,
			challenge_type = EXCLUDED.challenge_type, challenge_config_json = EXCLUDED.challenge_config_json`,
		domain.ID, domain.AccountID, domain.Hostname, domain.Wildcard, domain.ChallengeType, cfg, domain.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save domain: %w", err)
	}
	return nil
}

const domainColumns = `id, account_id, hostname, wildcard, challenge_type, challenge_config_json, created_at`

func scanDomain(row interface{ Scan(...interface{}) error }) (*model.Domain, error) {
	var d model.Domain
	err := row.Scan(&d.ID, &d.AccountID, &d.Hostname, &d.Wildcard, &d.ChallengeType, &d.ChallengeConfigJSON, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to scan domain: %w", err)
	}
	return &d, nil
}

func getDomain(ctx context.Context, q Querier, id string) (*model.Domain, error) {
	return scanDomain(q.QueryRowContext(ctx, `SELECT `+domainColumns+` FROM domains WHERE id = $1`, id))
}

func listDomainsByAccountID(ctx context.Context, q Querier, accountID string) ([]*model.Domain, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+domainColumns+` FROM domains WHERE account_id = $1 ORDER BY hostname`, accountID)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list domains: %w", err)
	}
	defer rows.Close()
	var domains []*model.Domain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func saveCertificate(ctx context.Context, q Querier, cert *model.Certificate) error {
	if cert.CreatedAt.IsZero() {
		cert.CreatedAt = time.Now().UTC()
	}
	var ongoing any
	if cert.OngoingOrderID != nil {
		ongoing = *cert.OngoingOrderID
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO certificates (id, account_id, name, csr_pem, private_key_pem, certificate_pem, issuer_pem, issued_at, expires_at, ongoing_order_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, csr_pem = EXCLUDED.csr_pem, private_key_pem = EXCLUDED.private_key_pem,
			certificate_pem = EXCLUDED.certificate_pem, issuer_pem = EXCLUDED.issuer_pem,
			issued_at = EXCLUDED.issued_at, expires_at = EXCLUDED.expires_at,
			ongoing_order_id = EXCLUDED.ongoing_order_id`,
		cert.ID, cert.AccountID, cert.Name, cert.CSRPEM, cert.PrivateKeyPEM, cert.CertificatePEM,
		cert.IssuerPEM, nullableTime(cert.IssuedAt), nullableTime(cert.ExpiresAt), ongoing, cert.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save certificate: %w", err)
	}
	return nil
}

const certificateColumns = `id, account_id, name, csr_pem, private_key_pem, certificate_pem, issuer_pem, issued_at, expires_at, ongoing_order_id, created_at`

func scanCertificate(row interface{ Scan(...interface{}) error }) (*model.Certificate, error) {
	var c model.Certificate
	var issuedAt, expiresAt sql.NullTime
	var ongoing sql.NullString
	err := row.Scan(&c.ID, &c.AccountID, &c.Name, &c.CSRPEM, &c.PrivateKeyPEM, &c.CertificatePEM,
		&c.IssuerPEM, &issuedAt, &expiresAt, &ongoing, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to scan certificate: %w", err)
	}
	if issuedAt.Valid {
		c.IssuedAt = &issuedAt.Time
	}
	if expiresAt.Valid {
		c.ExpiresAt = &expiresAt.Time
	}
	if ongoing.Valid {
		c.OngoingOrderID = &ongoing.String
	}
	return &c, nil
}

func getCertificate(ctx context.Context, q Querier, id string) (*model.Certificate, error) {
	return scanCertificate(q.QueryRowContext(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, id))
}

func listCertificates(ctx context.Context, q Querier) ([]*model.Certificate, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+certificateColumns+` FROM certificates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list certificates: %w", err)
	}
	defer rows.Close()
	var certs []*model.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

func deleteCertificate(ctx context.Context, q Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM certificates WHERE id = $1`, id); err != nil {
		return fmt.Errorf("storage: failed to delete certificate: %w", err)
	}
	return nil
}

func setCertificateDomains(ctx context.Context, q Querier, certID string, domainIDs []string, primaryDomainID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM certificate_domains WHERE certificate_id = $1`, certID); err != nil {
		return fmt.Errorf("storage: failed to reset certificate domains: %w", err)
	}
	for _, domainID := range domainIDs {
		_, err := q.ExecContext(ctx,
			`INSERT INTO certificate_domains (certificate_id, domain_id, is_primary) VALUES ($1,$2,$3)`,
			certID, domainID, domainID == primaryDomainID)
		if err != nil {
			return fmt.Errorf("storage: failed to attach domain %s: %w", domainID, err)
		}
	}
	return nil
}

func getDomainsByCertificateID(ctx context.Context, q Querier, certID string) ([]*model.Domain, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT d.id, d.account_id, d.hostname, d.wildcard, d.challenge_type, d.challenge_config_json, d.created_at
		FROM domains d JOIN certificate_domains cd ON cd.domain_id = d.id
		WHERE cd.certificate_id = $1 ORDER BY cd.is_primary DESC, d.hostname`, certID)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to load certificate domains: %w", err)
	}
	defer rows.Close()
	var domains []*model.Domain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func getPrimaryDomain(ctx context.Context, q Querier, certID string) (*model.Domain, error) {
	return scanDomain(q.QueryRowContext(ctx, `
		SELECT d.id, d.account_id, d.hostname, d.wildcard, d.challenge_type, d.challenge_config_json, d.created_at
		FROM domains d JOIN certificate_domains cd ON cd.domain_id = d.id
		WHERE cd.certificate_id = $1 AND cd.is_primary`, certID))
}

func saveOrder(ctx context.Context, q Querier, order *model.Order) error {
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.LastModifiedAt = now
	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (id, certificate_id, type, status, expires_at, order_url, finalize_url, certificate_url, archived, created_at, last_modified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, expires_at = EXCLUDED.expires_at, order_url = EXCLUDED.order_url,
			finalize_url = EXCLUDED.finalize_url, certificate_url = EXCLUDED.certificate_url,
			archived = EXCLUDED.archived, last_modified_at = EXCLUDED.last_modified_at`,
		order.ID, order.CertificateID, order.Type, order.Status, nullableTime(order.ExpiresAt),
		order.OrderURL, order.FinalizeURL, order.CertificateURL, order.Archived,
		order.CreatedAt, order.LastModifiedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save order: %w", err)
	}
	return nil
}

const orderColumns = `id, certificate_id, type, status, expires_at, order_url, finalize_url, certificate_url, archived, created_at, last_modified_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*model.Order, error) {
	var o model.Order
	var expiresAt sql.NullTime
	err := row.Scan(&o.ID, &o.CertificateID, &o.Type, &o.Status, &expiresAt,
		&o.OrderURL, &o.FinalizeURL, &o.CertificateURL, &o.Archived, &o.CreatedAt, &o.LastModifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to scan order: %w", err)
	}
	if expiresAt.Valid {
		o.ExpiresAt = &expiresAt.Time
	}
	return &o, nil
}

func getOrder(ctx context.Context, q Querier, id string) (*model.Order, error) {
	return scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func getOrdersByCertificateID(ctx context.Context, q Querier, certID string) ([]*model.Order, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE certificate_id = $1 ORDER BY created_at`, certID)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list orders: %w", err)
	}
	defer rows.Close()
	var orders []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func saveAuthorizationChallenge(ctx context.Context, q Querier, ac *model.AuthorizationChallenge) error {
	if ac.CreatedAt.IsZero() {
		ac.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO authorization_challenges (id, order_id, domain_id, authorization_url, authorization_status, authorization_expires_at, challenge_url, challenge_token, challenge_auth_key, challenge_status, last_error, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			authorization_status = EXCLUDED.authorization_status,
			authorization_expires_at = EXCLUDED.authorization_expires_at,
			challenge_status = EXCLUDED.challenge_status, last_error = EXCLUDED.last_error`,
		ac.ID, ac.OrderID, ac.DomainID, ac.AuthorizationURL, ac.AuthorizationStatus,
		nullableTime(ac.AuthorizationExpiresAt), ac.ChallengeURL, ac.ChallengeToken,
		ac.ChallengeAuthKey, ac.ChallengeStatus, ac.LastError, ac.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save authorization challenge: %w", err)
	}
	return nil
}

func getAuthorizationChallengesByOrderID(ctx context.Context, q Querier, orderID string) ([]*model.AuthorizationChallenge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, domain_id, authorization_url, authorization_status, authorization_expires_at, challenge_url, challenge_token, challenge_auth_key, challenge_status, last_error, created_at
		FROM authorization_challenges WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list authorization challenges: %w", err)
	}
	defer rows.Close()
	var acs []*model.AuthorizationChallenge
	for rows.Next() {
		var ac model.AuthorizationChallenge
		var authExpires sql.NullTime
		err := rows.Scan(&ac.ID, &ac.OrderID, &ac.DomainID, &ac.AuthorizationURL, &ac.AuthorizationStatus,
			&authExpires, &ac.ChallengeURL, &ac.ChallengeToken, &ac.ChallengeAuthKey,
			&ac.ChallengeStatus, &ac.LastError, &ac.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("storage: failed to scan authorization challenge: %w", err)
		}
		if authExpires.Valid {
			ac.AuthorizationExpiresAt = &authExpires.Time
		}
		acs = append(acs, &ac)
	}
	return acs, rows.Err()
}

func saveCertificateAction(ctx context.Context, q Querier, action *model.CertificateAction) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	cfg := action.ConfigJSON
	if cfg == "" {
		cfg = "{}"
	}
	var remote any
	if action.RemoteServerID != nil {
		remote = *action.RemoteServerID
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO certificate_actions (id, certificate_id, position, driver, remote_server_id, config_json, status, last_error, last_run_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			position = EXCLUDED.position, driver = EXCLUDED.driver, remote_server_id = EXCLUDED.remote_server_id,
			config_json = EXCLUDED.config_json, status = EXCLUDED.status, last_error = EXCLUDED.last_error,
			last_run_at = EXCLUDED.last_run_at`,
		action.ID, action.CertificateID, action.Position, action.Driver, remote, cfg,
		action.Status, action.LastError, nullableTime(action.LastRunAt), action.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save certificate action: %w", err)
	}
	return nil
}

func getCertificateActionsByCertificateID(ctx context.Context, q Querier, certID string) ([]*model.CertificateAction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, certificate_id, position, driver, remote_server_id, config_json, status, last_error, last_run_at, created_at
		FROM certificate_actions WHERE certificate_id = $1 ORDER BY position`, certID)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list certificate actions: %w", err)
	}
	defer rows.Close()
	var actions []*model.CertificateAction
	for rows.Next() {
		var a model.CertificateAction
		var remote sql.NullString
		var lastRun sql.NullTime
		err := rows.Scan(&a.ID, &a.CertificateID, &a.Position, &a.Driver, &remote, &a.ConfigJSON,
			&a.Status, &a.LastError, &lastRun, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("storage: failed to scan certificate action: %w", err)
		}
		if remote.Valid {
			a.RemoteServerID = &remote.String
		}
		if lastRun.Valid {
			a.LastRunAt = &lastRun.Time
		}
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}

func saveRemoteServer(ctx context.Context, q Querier, rs *model.RemoteServer) error {
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now().UTC()
	}
	creds := rs.CredentialsJSON
	if creds == "" {
		creds = "{}"
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO remote_servers (id, name, hostname, driver, username, credentials_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, hostname = EXCLUDED.hostname, driver = EXCLUDED.driver,
			username = EXCLUDED.username, credentials_json = EXCLUDED.credentials_json`,
		rs.ID, rs.Name, rs.Hostname, rs.Driver, rs.Username, creds, rs.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save remote server: %w", err)
	}
	return nil
}

func getRemoteServer(ctx context.Context, q Querier, id string) (*model.RemoteServer, error) {
	var rs model.RemoteServer
	err := q.QueryRowContext(ctx, `
		SELECT id, name, hostname, driver, username, credentials_json, created_at
		FROM remote_servers WHERE id = $1`, id).
		Scan(&rs.ID, &rs.Name, &rs.Hostname, &rs.Driver, &rs.Username, &rs.CredentialsJSON, &rs.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get remote server: %w", err)
	}
	return &rs, nil
}

func listRemoteServers(ctx context.Context, q Querier) ([]*model.RemoteServer, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, hostname, driver, username, credentials_json, created_at
		FROM remote_servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list remote servers: %w", err)
	}
	defer rows.Close()
	var servers []*model.RemoteServer
	for rows.Next() {
		var rs model.RemoteServer
		if err := rows.Scan(&rs.ID, &rs.Name, &rs.Hostname, &rs.Driver, &rs.Username, &rs.CredentialsJSON, &rs.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: failed to scan remote server: %w", err)
		}
		servers = append(servers, &rs)
	}
	return servers, rows.Err()
}

func saveRevokedCertificate(ctx context.Context, q Querier, rc *model.RevokedCertificate) error {
	var parent any
	if rc.CertificateID != nil {
		parent = *rc.CertificateID
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO revoked_certificates (id, certificate_id, name, certificate_pem, issuer_pem, revoked_at)
		VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (id) DO NOTHING`,
		rc.ID, parent, rc.Name, rc.CertificatePEM, rc.IssuerPEM, rc.RevokedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save revoked certificate: %w", err)
	}
	return nil
}

func listRevokedCertificates(ctx context.Context, q Querier) ([]*model.RevokedCertificate, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, certificate_id, name, certificate_pem, issuer_pem, revoked_at
		FROM revoked_certificates ORDER BY revoked_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list revoked certificates: %w", err)
	}
	defer rows.Close()
	var revoked []*model.RevokedCertificate
	for rows.Next() {
		var rc model.RevokedCertificate
		var parent sql.NullString
		if err := rows.Scan(&rc.ID, &parent, &rc.Name, &rc.CertificatePEM, &rc.IssuerPEM, &rc.RevokedAt); err != nil {
			return nil, fmt.Errorf("storage: failed to scan revoked certificate: %w", err)
		}
		if parent.Valid {
			rc.CertificateID = &parent.String
		}
		revoked = append(revoked, &rc)
	}
	return revoked, rows.Err()
}

func saveChallengeToken(ctx context.Context, q Querier, token, keyAuth string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO challenge_tokens (token, key_auth) VALUES ($1,$2)
		ON CONFLICT (token) DO UPDATE SET key_auth = EXCLUDED.key_auth`, token, keyAuth)
	if err != nil {
		return fmt.Errorf("storage: failed to save challenge token: %w", err)
	}
	return nil
}

func getChallengeToken(ctx context.Context, q Querier, token string) (string, error) {
	var keyAuth string
	err := q.QueryRowContext(ctx, `SELECT key_auth FROM challenge_tokens WHERE token = $1`, token).Scan(&keyAuth)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("storage: failed to get challenge token: %w", err)
	}
	return keyAuth, nil
}

func deleteChallengeToken(ctx context.Context, q Querier, token string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM challenge_tokens WHERE token = $1`, token); err != nil {
		return fmt.Errorf("storage: failed to delete challenge token: %w", err)
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
