package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/internal/model"
	"github.com/certforge/certforge/internal/storage"
)

func TestMemoryStorageServers(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	_, err := store.GetServer(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetDefaultServer(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SaveServer(ctx, &model.Server{ID: "srv-b", Name: "beta"}))
	require.NoError(t, store.SaveServer(ctx, &model.Server{ID: "srv-a", Name: "alpha", Default: true}))

	got, err := store.GetServer(ctx, "srv-a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	def, err := store.GetDefaultServer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "srv-a", def.ID)

	servers, err := store.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "alpha", servers[0].Name)
	assert.Equal(t, "beta", servers[1].Name)

	// Reads hand out copies, not the stored record.
	got.Name = "mutated"
	again, err := store.GetServer(ctx, "srv-a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", again.Name)
}

func TestMemoryStorageAccountsAndDomains(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.SaveAccount(ctx, &model.Account{ID: "acct-1", ServerID: "srv-1", Name: "ops"}))
	require.NoError(t, store.SaveAccount(ctx, &model.Account{ID: "acct-2", ServerID: "srv-2", Name: "other"}))

	accounts, err := store.ListAccountsByServerID(ctx, "srv-1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "acct-1", accounts[0].ID)

	require.NoError(t, store.SaveDomain(ctx, &model.Domain{ID: "dom-1", AccountID: "acct-1", Hostname: "b.example.com"}))
	require.NoError(t, store.SaveDomain(ctx, &model.Domain{ID: "dom-2", AccountID: "acct-1", Hostname: "a.example.com"}))

	domains, err := store.ListDomainsByAccountID(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, "a.example.com", domains[0].Hostname)

	_, err = store.GetDomain(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStorageCertificateDomains(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.SaveDomain(ctx, &model.Domain{ID: "dom-1", AccountID: "acct-1", Hostname: "z.example.com"}))
	require.NoError(t, store.SaveDomain(ctx, &model.Domain{ID: "dom-2", AccountID: "acct-1", Hostname: "a.example.com"}))
	require.NoError(t, store.SaveCertificate(ctx, &model.Certificate{ID: "cert-1", AccountID: "acct-1", Name: "bundle"}))

	require.NoError(t, store.SetCertificateDomains(ctx, "cert-1", []string{"dom-1", "dom-2"}, "dom-1"))

	domains, err := store.GetDomainsByCertificateID(ctx, "cert-1")
	require.NoError(t, err)
	require.Len(t, domains, 2)
	// Primary first, even though it sorts after alphabetically.
	assert.Equal(t, "dom-1", domains[0].ID)

	primary, err := store.GetPrimaryDomain(ctx, "cert-1")
	require.NoError(t, err)
	assert.Equal(t, "z.example.com", primary.Hostname)

	// Re-assigning replaces the join set.
	require.NoError(t, store.SetCertificateDomains(ctx, "cert-1", []string{"dom-2"}, "dom-2"))
	domains, err = store.GetDomainsByCertificateID(ctx, "cert-1")
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.Equal(t, "dom-2", domains[0].ID)
}

func TestMemoryStorageDeleteCertificateCascades(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.SaveCertificate(ctx, &model.Certificate{ID: "cert-1", Name: "bundle"}))
	require.NoError(t, store.SaveOrder(ctx, &model.Order{ID: "ord-1", CertificateID: "cert-1", Type: model.OrderTypeOrder, Status: model.OrderStatusPending}))
	require.NoError(t, store.SaveAuthorizationChallenge(ctx, &model.AuthorizationChallenge{ID: "ac-1", OrderID: "ord-1", DomainID: "dom-1"}))
	require.NoError(t, store.SaveCertificateAction(ctx, &model.CertificateAction{ID: "act-1", CertificateID: "cert-1", Position: 1, Driver: "local"}))

	require.NoError(t, store.DeleteCertificate(ctx, "cert-1"))

	_, err := store.GetCertificate(ctx, "cert-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetOrder(ctx, "ord-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	acs, err := store.GetAuthorizationChallengesByOrderID(ctx, "ord-1")
	require.NoError(t, err)
	assert.Empty(t, acs)

	actions, err := store.GetCertificateActionsByCertificateID(ctx, "cert-1")
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestMemoryStorageOrders(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	early := &model.Order{ID: "ord-1", CertificateID: "cert-1", Status: model.OrderStatusPending, CreatedAt: time.Now().Add(-time.Hour)}
	late := &model.Order{ID: "ord-2", CertificateID: "cert-1", Status: model.OrderStatusPending, CreatedAt: time.Now()}
	require.NoError(t, store.SaveOrder(ctx, late))
	require.NoError(t, store.SaveOrder(ctx, early))

	orders, err := store.GetOrdersByCertificateID(ctx, "cert-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "ord-1", orders[0].ID)
	assert.False(t, orders[0].LastModifiedAt.IsZero())

	// Saving bumps the modification stamp.
	stamp := orders[0].LastModifiedAt
	early.Status = model.OrderStatusReady
	require.NoError(t, store.SaveOrder(ctx, early))
	reloaded, err := store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusReady, reloaded.Status)
	assert.False(t, reloaded.LastModifiedAt.Before(stamp))
}

func TestMemoryStorageActionsSortByPosition(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.SaveCertificateAction(ctx, &model.CertificateAction{ID: "act-2", CertificateID: "cert-1", Position: 2, Driver: "ssh"}))
	require.NoError(t, store.SaveCertificateAction(ctx, &model.CertificateAction{ID: "act-1", CertificateID: "cert-1", Position: 1, Driver: "local"}))

	actions, err := store.GetCertificateActionsByCertificateID(ctx, "cert-1")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, 1, actions[0].Position)
	assert.Equal(t, 2, actions[1].Position)
}

func TestMemoryStorageRevokedArchive(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	older := &model.RevokedCertificate{ID: "rev-1", Name: "old", RevokedAt: time.Now().Add(-time.Hour)}
	newer := &model.RevokedCertificate{ID: "rev-2", Name: "new", RevokedAt: time.Now()}
	require.NoError(t, store.SaveRevokedCertificate(ctx, older))
	require.NoError(t, store.SaveRevokedCertificate(ctx, newer))

	archive, err := store.ListRevokedCertificates(ctx)
	require.NoError(t, err)
	require.Len(t, archive, 2)
	assert.Equal(t, "new", archive[0].Name)
}

func TestMemoryStorageChallengeTokens(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	_, err := store.GetChallengeToken(ctx, "tok")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SaveChallengeToken(ctx, "tok", "tok.thumbprint"))
	keyAuth, err := store.GetChallengeToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "tok.thumbprint", keyAuth)

	require.NoError(t, store.DeleteChallengeToken(ctx, "tok"))
	_, err = store.GetChallengeToken(ctx, "tok")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStorageWithinTransaction(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	err := store.WithinTransaction(ctx, func(ctx context.Context, tx storage.Storage) error {
		return tx.SaveCertificate(ctx, &model.Certificate{ID: "cert-1", Name: "bundle"})
	})
	require.NoError(t, err)

	cert, err := store.GetCertificate(ctx, "cert-1")
	require.NoError(t, err)
	assert.Equal(t, "bundle", cert.Name)
}

func TestNewStorageFactory(t *testing.T) {
	store, err := storage.NewStorage("memory", "", "", "", "", 0, "")
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.NoError(t, store.Close())

	_, err = storage.NewStorage("bogus", "", "", "", "", 0, "")
	assert.Error(t, err)
}

func TestMemoryStorageDefaultFlagUniqueness(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.SaveServer(ctx, &model.Server{ID: "srv-1", Name: "one", Default: true}))
	err := store.SaveServer(ctx, &model.Server{ID: "srv-2", Name: "two", Default: true})
	assert.ErrorIs(t, err, storage.ErrDefaultExists)

	// Re-saving the current holder is not a violation.
	require.NoError(t, store.SaveServer(ctx, &model.Server{ID: "srv-1", Name: "one", Default: true}))
	require.NoError(t, store.SaveServer(ctx, &model.Server{ID: "srv-2", Name: "two"}))

	require.NoError(t, store.SaveAccount(ctx, &model.Account{ID: "acct-1", ServerID: "srv-1", Email: "a@example.com", Default: true}))
	err = store.SaveAccount(ctx, &model.Account{ID: "acct-2", ServerID: "srv-2", Email: "b@example.com", Default: true})
	assert.ErrorIs(t, err, storage.ErrDefaultExists)
	require.NoError(t, store.SaveAccount(ctx, &model.Account{ID: "acct-2", ServerID: "srv-2", Email: "b@example.com"}))
}
