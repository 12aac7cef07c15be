package management

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/acme"
	"github.com/certforge/certforge/internal/model"
	"github.com/certforge/certforge/internal/renewal"
	"github.com/certforge/certforge/internal/storage"
)

// --- Certificate Management ---

type addCertificateRequest struct {
	AccountID       string   `json:"accountId"`
	Name            string   `json:"name"`
	DomainIDs       []string `json:"domainIds"`
	PrimaryDomainID string   `json:"primaryDomainId"`
}

// HandleAddCertificate handles POST requests to create a certificate bundle.
// Key material and CSR are generated lazily on the first renewal tick.
func HandleAddCertificate(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleAddCertificate"))
	ctx := c.Request().Context()

	var req addCertificateRequest
	if err := c.Bind(&req); err != nil {
		reqLogger.Warn("Failed to bind request body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
	}
	if req.AccountID == "" || strings.TrimSpace(req.Name) == "" || len(req.DomainIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Account id, name and at least one domain are required")
	}
	if req.PrimaryDomainID == "" {
		req.PrimaryDomainID = req.DomainIDs[0]
	}
	if !containsString(req.DomainIDs, req.PrimaryDomainID) {
		return echo.NewHTTPError(http.StatusBadRequest, "Primary domain must be part of the domain set")
	}

	cert := &model.Certificate{
		ID:        uuid.NewString(),
		AccountID: req.AccountID,
		Name:      req.Name,
	}
	err := store.WithinTransaction(ctx, func(txCtx context.Context, tx storage.Storage) error {
		if err := tx.SaveCertificate(txCtx, cert); err != nil {
			return err
		}
		return tx.SetCertificateDomains(txCtx, cert.ID, req.DomainIDs, req.PrimaryDomainID)
	})
	if err != nil {
		reqLogger.Error("Failed to save certificate", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save certificate")
	}
	reqLogger.Info("Added certificate", zap.String("certificate", cert.Name))
	return c.JSON(http.StatusCreated, cert)
}

// HandleListCertificates handles GET requests to list certificates.
func HandleListCertificates(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	certs, err := store.ListCertificates(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve certificates")
	}
	return c.JSON(http.StatusOK, certs)
}

type certificateDetail struct {
	*model.Certificate
	Domains []*model.Domain            `json:"domains"`
	Actions []*model.CertificateAction `json:"actions"`
}

// HandleGetCertificate handles GET requests for one certificate including
// its domains and actions.
func HandleGetCertificate(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	ctx := c.Request().Context()

	cert, err := store.GetCertificate(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Certificate not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve certificate")
	}
	domains, err := store.GetDomainsByCertificateID(ctx, cert.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve certificate domains")
	}
	actions, err := store.GetCertificateActionsByCertificateID(ctx, cert.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve certificate actions")
	}
	return c.JSON(http.StatusOK, certificateDetail{Certificate: cert, Domains: domains, Actions: actions})
}

// HandleDeleteCertificate handles DELETE requests. An issued body is archived
// as a revoked-certificate record before the live row goes away.
func HandleDeleteCertificate(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleDeleteCertificate"))
	ctx := c.Request().Context()

	cert, err := store.GetCertificate(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Certificate not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve certificate")
	}

	err = store.WithinTransaction(ctx, func(ctx context.Context, tx storage.Storage) error {
		if cert.Issued() {
			record := &model.RevokedCertificate{
				ID:             uuid.NewString(),
				CertificateID:  nil,
				Name:           cert.Name,
				CertificatePEM: cert.CertificatePEM,
				IssuerPEM:      cert.IssuerPEM,
				RevokedAt:      time.Now().UTC(),
			}
			if err := tx.SaveRevokedCertificate(ctx, record); err != nil {
				return err
			}
		}
		return tx.DeleteCertificate(ctx, cert.ID)
	})
	if err != nil {
		reqLogger.Error("Failed to delete certificate", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to delete certificate")
	}
	reqLogger.Info("Deleted certificate", zap.String("certificate", cert.Name))
	return c.NoContent(http.StatusNoContent)
}

// HandleDownloadCertificate handles GET requests for the issued PEM bundle.
func HandleDownloadCertificate(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	cert, err := store.GetCertificate(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Certificate not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve certificate")
	}
	if !cert.Issued() {
		return echo.NewHTTPError(http.StatusConflict, "Certificate has not been issued yet")
	}
	bundle := cert.CertificatePEM + cert.IssuerPEM
	return c.Blob(http.StatusOK, "application/x-pem-file", []byte(bundle))
}

// --- Renewal and Revocation ---

type renewRequest struct {
	ForceRenewal bool `json:"forceRenewal,omitempty"`
	ForceActions bool `json:"forceActions,omitempty"`
}

// HandleRenewCertificate handles POST requests that run one renewal tick and
// return its log, state and suggested delay.
func HandleRenewCertificate(c echo.Context) error {
	engine := c.Get("engine").(*renewal.Engine)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleRenewCertificate"))
	ctx := c.Request().Context()

	var req renewRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		}
	}

	result, err := engine.NextStep(ctx, c.Param("id"), renewal.Options{
		ForceRenewal: req.ForceRenewal,
		ForceActions: req.ForceActions,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Certificate not found")
		}
		var protoErr *acme.ProtocolError
		if errors.As(err, &protoErr) {
			reqLogger.Warn("Renewal tick failed with protocol error", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadGateway, protoErr.Error())
		}
		reqLogger.Error("Renewal tick failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"state":       result.State.String(),
		"log":         result.Log,
		"delay":       result.Delay,
		"certificate": result.Certificate,
		"payload":     result.Payload,
	})
}

type revokeRequest struct {
	Reason int `json:"reason,omitempty"`
}

// HandleRevokeCertificate handles POST requests to revoke the issued body.
func HandleRevokeCertificate(c echo.Context) error {
	engine := c.Get("engine").(*renewal.Engine)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleRevokeCertificate"))
	ctx := c.Request().Context()

	var req revokeRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		}
	}

	record, err := engine.Revoke(ctx, c.Param("id"), req.Reason)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Certificate not found")
		}
		reqLogger.Error("Revocation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, record)
}

// HandleRegisterAccount handles POST requests that register the account key
// with its server.
func HandleRegisterAccount(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	comm := c.Get("comm").(*acme.Communicator)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleRegisterAccount"))
	ctx := c.Request().Context()

	account, err := store.GetAccount(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Account not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve account")
	}
	server, err := store.GetServer(ctx, account.ServerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve server")
	}

	if err := comm.RegisterAccount(ctx, account, server, server.TermsOfServiceURL, true); err != nil {
		reqLogger.Error("Registration failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if server.Directory != nil {
		if err := store.SaveServer(ctx, server); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save server")
		}
	}
	if err := store.SaveAccount(ctx, account); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save account")
	}
	return c.JSON(http.StatusOK, account)
}

// --- Certificate Actions ---

type addActionRequest struct {
	Position       int             `json:"position"`
	Driver         string          `json:"driver"`
	RemoteServerID *string         `json:"remoteServerId,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
}

// HandleAddAction handles POST requests to attach a post-issuance action.
func HandleAddAction(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleAddAction"))
	ctx := c.Request().Context()

	var req addActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
	}
	if req.Driver == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Driver is required")
	}
	if _, err := store.GetCertificate(ctx, c.Param("id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Certificate not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve certificate")
	}

	action := &model.CertificateAction{
		ID:             uuid.NewString(),
		CertificateID:  c.Param("id"),
		Position:       req.Position,
		Driver:         req.Driver,
		RemoteServerID: req.RemoteServerID,
		ConfigJSON:     string(req.Config),
		Status:         model.ActionStatusPending,
	}
	if err := store.SaveCertificateAction(ctx, action); err != nil {
		reqLogger.Error("Failed to save certificate action", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save certificate action")
	}
	return c.JSON(http.StatusCreated, action)
}

// HandleListActions handles GET requests for a certificate's actions.
func HandleListActions(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	actions, err := store.GetCertificateActionsByCertificateID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve certificate actions")
	}
	return c.JSON(http.StatusOK, actions)
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
