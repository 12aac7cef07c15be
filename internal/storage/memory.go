package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/certforge/certforge/internal/model"
)

// MemoryStorage is a mutex-guarded map store. It backs tests and throwaway
// deployments; nothing survives a restart.
type MemoryStorage struct {
	mu sync.Mutex

	servers         map[string]*model.Server
	accounts        map[string]*model.Account
	domains         map[string]*model.Domain
	certificates    map[string]*model.Certificate
	certDomains     map[string][]model.CertificateDomain // keyed by certificate ID
	orders          map[string]*model.Order
	authChallenges  map[string]*model.AuthorizationChallenge
	actions         map[string]*model.CertificateAction
	remoteServers   map[string]*model.RemoteServer
	revoked         map[string]*model.RevokedCertificate
	challengeTokens map[string]string
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		servers:         make(map[string]*model.Server),
		accounts:        make(map[string]*model.Account),
		domains:         make(map[string]*model.Domain),
		certificates:    make(map[string]*model.Certificate),
		certDomains:     make(map[string][]model.CertificateDomain),
		orders:          make(map[string]*model.Order),
		authChallenges:  make(map[string]*model.AuthorizationChallenge),
		actions:         make(map[string]*model.CertificateAction),
		remoteServers:   make(map[string]*model.RemoteServer),
		revoked:         make(map[string]*model.RevokedCertificate),
		challengeTokens: make(map[string]string),
	}
}

func (s *MemoryStorage) Close() error { return nil }

// WithinTransaction runs fn against the store itself. The map store has no
// rollback; callers get atomicity only from the mutex per operation.
func (s *MemoryStorage) WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error {
	return fn(ctx, s)
}

func (s *MemoryStorage) SaveServer(ctx context.Context, server *model.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if server.Default {
		for id, other := range s.servers {
			if id != server.ID && other.Default {
				return ErrDefaultExists
			}
		}
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now().UTC()
	}
	cp := *server
	s.servers[server.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetServer(ctx context.Context, id string) (*model.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *srv
	return &cp, nil
}

func (s *MemoryStorage) ListServers(ctx context.Context) ([]*model.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Server
	for _, srv := range s.servers {
		cp := *srv
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStorage) GetDefaultServer(ctx context.Context) (*model.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, srv := range s.servers {
		if srv.Default {
			cp := *srv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) SaveAccount(ctx context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account.Default {
		for id, other := range s.accounts {
			if id != account.ID && other.Default {
				return ErrDefaultExists
			}
		}
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	cp := *account
	s.accounts[account.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *MemoryStorage) ListAccountsByServerID(ctx context.Context, serverID string) ([]*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Account
	for _, acc := range s.accounts {
		if acc.ServerID == serverID {
			cp := *acc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStorage) SaveDomain(ctx context.Context, domain *model.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if domain.CreatedAt.IsZero() {
		domain.CreatedAt = time.Now().UTC()
	}
	cp := *domain
	s.domains[domain.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetDomain(ctx context.Context, id string) (*model.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStorage) ListDomainsByAccountID(ctx context.Context, accountID string) ([]*model.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Domain
	for _, d := range s.domains {
		if d.AccountID == accountID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

func (s *MemoryStorage) SaveCertificate(ctx context.Context, cert *model.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cert.CreatedAt.IsZero() {
		cert.CreatedAt = time.Now().UTC()
	}
	cp := *cert
	s.certificates[cert.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetCertificate(ctx context.Context, id string) (*model.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.certificates[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStorage) ListCertificates(ctx context.Context) ([]*model.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Certificate
	for _, c := range s.certificates {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStorage) DeleteCertificate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.certificates, id)
	delete(s.certDomains, id)
	for oid, o := range s.orders {
		if o.CertificateID == id {
			for aid, ac := range s.authChallenges {
				if ac.OrderID == oid {
					delete(s.authChallenges, aid)
				}
			}
			delete(s.orders, oid)
		}
	}
	for aid, a := range s.actions {
		if a.CertificateID == id {
			delete(s.actions, aid)
		}
	}
	return nil
}

func (s *MemoryStorage) SetCertificateDomains(ctx context.Context, certID string, domainIDs []string, primaryDomainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	joins := make([]model.CertificateDomain, 0, len(domainIDs))
	for _, domainID := range domainIDs {
		joins = append(joins, model.CertificateDomain{
			CertificateID: certID,
			DomainID:      domainID,
			Primary:       domainID == primaryDomainID,
		})
	}
	s.certDomains[certID] = joins
	return nil
}

func (s *MemoryStorage) GetDomainsByCertificateID(ctx context.Context, certID string) ([]*model.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	joins := s.certDomains[certID]
	out := make([]*model.Domain, 0, len(joins))
	for _, join := range joins {
		if d, ok := s.domains[join.DomainID]; ok {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi := s.isPrimary(certID, out[i].ID)
		pj := s.isPrimary(certID, out[j].ID)
		if pi != pj {
			return pi
		}
		return out[i].Hostname < out[j].Hostname
	})
	return out, nil
}

func (s *MemoryStorage) isPrimary(certID, domainID string) bool {
	for _, join := range s.certDomains[certID] {
		if join.DomainID == domainID {
			return join.Primary
		}
	}
	return false
}

func (s *MemoryStorage) GetPrimaryDomain(ctx context.Context, certID string) (*model.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, join := range s.certDomains[certID] {
		if join.Primary {
			if d, ok := s.domains[join.DomainID]; ok {
				cp := *d
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) SaveOrder(ctx context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.LastModifiedAt = now
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStorage) GetOrdersByCertificateID(ctx context.Context, certID string) ([]*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Order
	for _, o := range s.orders {
		if o.CertificateID == certID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStorage) SaveAuthorizationChallenge(ctx context.Context, ac *model.AuthorizationChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ac.CreatedAt.IsZero() {
		ac.CreatedAt = time.Now().UTC()
	}
	cp := *ac
	s.authChallenges[ac.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetAuthorizationChallengesByOrderID(ctx context.Context, orderID string) ([]*model.AuthorizationChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.AuthorizationChallenge
	for _, ac := range s.authChallenges {
		if ac.OrderID == orderID {
			cp := *ac
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStorage) SaveCertificateAction(ctx context.Context, action *model.CertificateAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	cp := *action
	s.actions[action.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetCertificateActionsByCertificateID(ctx context.Context, certID string) ([]*model.CertificateAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CertificateAction
	for _, a := range s.actions {
		if a.CertificateID == certID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *MemoryStorage) SaveRemoteServer(ctx context.Context, rs *model.RemoteServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now().UTC()
	}
	cp := *rs
	s.remoteServers[rs.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetRemoteServer(ctx context.Context, id string) (*model.RemoteServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.remoteServers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rs
	return &cp, nil
}

func (s *MemoryStorage) ListRemoteServers(ctx context.Context) ([]*model.RemoteServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RemoteServer
	for _, rs := range s.remoteServers {
		cp := *rs
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStorage) SaveRevokedCertificate(ctx context.Context, rc *model.RevokedCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rc
	s.revoked[rc.ID] = &cp
	return nil
}

func (s *MemoryStorage) ListRevokedCertificates(ctx context.Context) ([]*model.RevokedCertificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RevokedCertificate
	for _, rc := range s.revoked {
		cp := *rc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RevokedAt.After(out[j].RevokedAt) })
	return out, nil
}

func (s *MemoryStorage) SaveChallengeToken(ctx context.Context, token, keyAuth string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challengeTokens[token] = keyAuth
	return nil
}

func (s *MemoryStorage) GetChallengeToken(ctx context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keyAuth, ok := s.challengeTokens[token]
	if !ok {
		return "", ErrNotFound
	}
	return keyAuth, nil
}

func (s *MemoryStorage) DeleteChallengeToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challengeTokens, token)
	return nil
}
