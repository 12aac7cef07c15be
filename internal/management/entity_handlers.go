// Package management implements the operator-facing CRUD and renewal
// endpoints. Handlers pull their dependencies from the echo context.
package management

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/challenge"
	"github.com/certforge/certforge/internal/keys"
	"github.com/certforge/certforge/internal/model"
	"github.com/certforge/certforge/internal/storage"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "management"))
}

// --- Server Management ---

type addServerRequest struct {
	Name               string `json:"name"`
	DirectoryURL       string `json:"directoryUrl"`
	Protocol           string `json:"protocol"`
	AuthorizationPorts []int  `json:"authorizationPorts,omitempty"`
	AllowUnsafe        bool   `json:"allowUnsafeConnections,omitempty"`
	Default            bool   `json:"default,omitempty"`
	TermsOfServiceURL  string `json:"termsOfServiceUrl,omitempty"`
	WebsiteURL         string `json:"websiteUrl,omitempty"`
}

// HandleAddServer handles POST requests to register an ACME server.
func HandleAddServer(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleAddServer"))
	ctx := c.Request().Context()

	var req addServerRequest
	if err := c.Bind(&req); err != nil {
		reqLogger.Warn("Failed to bind request body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.DirectoryURL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Name and directory URL are required")
	}
	protocol, err := model.ParseProtocolVersion(req.Protocol)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ports := req.AuthorizationPorts
	if len(ports) == 0 {
		ports = []int{80}
	}

	server := &model.Server{
		ID:                     uuid.NewString(),
		Name:                   req.Name,
		DirectoryURL:           req.DirectoryURL,
		Protocol:               protocol,
		AuthorizationPorts:     ports,
		AllowUnsafeConnections: req.AllowUnsafe,
		Default:                req.Default,
		TermsOfServiceURL:      req.TermsOfServiceURL,
		WebsiteURL:             req.WebsiteURL,
	}
	if err := store.SaveServer(ctx, server); err != nil {
		reqLogger.Error("Failed to save server", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save server")
	}
	reqLogger.Info("Added ACME server", zap.String("server", server.Name))
	return c.JSON(http.StatusCreated, server)
}

// HandleListServers handles GET requests to list ACME servers.
func HandleListServers(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	servers, err := store.ListServers(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve servers")
	}
	return c.JSON(http.StatusOK, servers)
}

// HandleGetServer handles GET requests for one ACME server.
func HandleGetServer(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	server, err := store.GetServer(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Server not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve server")
	}
	return c.JSON(http.StatusOK, server)
}

// --- Account Management ---

type addAccountRequest struct {
	ServerID      string `json:"serverId"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	PrivateKeyPEM string `json:"privateKeyPem,omitempty"`
	Default       bool   `json:"default,omitempty"`
}

// HandleAddAccount handles POST requests to create an account. A fresh key
// pair is generated unless one is supplied.
func HandleAddAccount(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleAddAccount"))
	ctx := c.Request().Context()

	var req addAccountRequest
	if err := c.Bind(&req); err != nil {
		reqLogger.Warn("Failed to bind request body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
	}
	if req.ServerID == "" || strings.TrimSpace(req.Email) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Server id and email are required")
	}
	if _, err := store.GetServer(ctx, req.ServerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "Unknown server id")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to look up server")
	}

	keyPEM := req.PrivateKeyPEM
	if keyPEM == "" {
		pair, err := keys.Generate(keys.DefaultKeyBits)
		if err != nil {
			reqLogger.Error("Failed to generate account key", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate account key")
		}
		keyPEM = string(pair.PrivatePEM())
	} else if _, err := keys.FromPEM([]byte(keyPEM)); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Supplied private key is not a usable RSA key")
	}

	account := &model.Account{
		ID:            uuid.NewString(),
		ServerID:      req.ServerID,
		Name:          req.Name,
		Email:         req.Email,
		PrivateKeyPEM: keyPEM,
		Default:       req.Default,
	}
	if err := store.SaveAccount(ctx, account); err != nil {
		reqLogger.Error("Failed to save account", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save account")
	}
	reqLogger.Info("Added account", zap.String("account", account.Name))
	return c.JSON(http.StatusCreated, account)
}

// HandleListAccounts handles GET requests to list accounts of a server.
func HandleListAccounts(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	serverID := c.QueryParam("serverId")
	if serverID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "serverId query parameter is required")
	}
	accounts, err := store.ListAccountsByServerID(c.Request().Context(), serverID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve accounts")
	}
	return c.JSON(http.StatusOK, accounts)
}

// --- Domain Management ---

type addDomainRequest struct {
	AccountID       string          `json:"accountId"`
	Hostname        string          `json:"hostname"`
	Wildcard        bool            `json:"wildcard,omitempty"`
	ChallengeType   string          `json:"challengeType"`
	ChallengeConfig json.RawMessage `json:"challengeConfig,omitempty"`
}

// HandleAddDomain handles POST requests to add a domain. The configured
// challenge type validates and normalizes the per-domain configuration blob.
func HandleAddDomain(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	challenges := c.Get("challenges").(*challenge.Registry)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleAddDomain"))
	ctx := c.Request().Context()

	var req addDomainRequest
	if err := c.Bind(&req); err != nil {
		reqLogger.Warn("Failed to bind request body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
	}
	hostname := strings.ToLower(strings.TrimSpace(req.Hostname))
	if req.AccountID == "" || hostname == "" || req.ChallengeType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Account id, hostname and challenge type are required")
	}

	if !challenges.Known(req.ChallengeType) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Unknown challenge type %q", req.ChallengeType))
	}

	// The raw config must be on the domain before Resolve so the constructor
	// sees the merged options.
	domain := &model.Domain{
		ID:                  uuid.NewString(),
		AccountID:           req.AccountID,
		Hostname:            hostname,
		Wildcard:            req.Wildcard,
		ChallengeType:       req.ChallengeType,
		ChallengeConfigJSON: string(req.ChallengeConfig),
	}

	instance, ok := challenges.Resolve(domain)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Challenge type %q rejected the configuration", req.ChallengeType))
	}
	normalized, err := instance.CheckConfiguration(domain, req.ChallengeConfig)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid challenge configuration: %v", err))
	}
	domain.ChallengeConfigJSON = string(normalized)

	if err := store.SaveDomain(ctx, domain); err != nil {
		reqLogger.Error("Failed to save domain", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save domain")
	}
	reqLogger.Info("Added domain", zap.String("hostname", domain.Hostname))
	return c.JSON(http.StatusCreated, domain)
}

// HandleListDomains handles GET requests to list domains of an account.
func HandleListDomains(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	accountID := c.QueryParam("accountId")
	if accountID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "accountId query parameter is required")
	}
	domains, err := store.ListDomainsByAccountID(c.Request().Context(), accountID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve domains")
	}
	return c.JSON(http.StatusOK, domains)
}

// --- Remote Server Management ---

type addRemoteServerRequest struct {
	Name        string          `json:"name"`
	Hostname    string          `json:"hostname"`
	Driver      string          `json:"driver"`
	Username    string          `json:"username,omitempty"`
	Credentials json.RawMessage `json:"credentials,omitempty"`
}

// HandleAddRemoteServer handles POST requests to add a deployment target.
func HandleAddRemoteServer(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleAddRemoteServer"))
	ctx := c.Request().Context()

	var req addRemoteServerRequest
	if err := c.Bind(&req); err != nil {
		reqLogger.Warn("Failed to bind request body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
	}
	if strings.TrimSpace(req.Name) == "" || req.Driver == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Name and driver are required")
	}

	remote := &model.RemoteServer{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Hostname:        req.Hostname,
		Driver:          req.Driver,
		Username:        req.Username,
		CredentialsJSON: string(req.Credentials),
	}
	if err := store.SaveRemoteServer(ctx, remote); err != nil {
		reqLogger.Error("Failed to save remote server", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save remote server")
	}
	return c.JSON(http.StatusCreated, remote)
}

// HandleListRemoteServers handles GET requests to list deployment targets.
func HandleListRemoteServers(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	servers, err := store.ListRemoteServers(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve remote servers")
	}
	return c.JSON(http.StatusOK, servers)
}

// HandleListRevokedCertificates handles GET requests for the revocation
// history.
func HandleListRevokedCertificates(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	revoked, err := store.ListRevokedCertificates(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve revoked certificates")
	}
	return c.JSON(http.StatusOK, revoked)
}
