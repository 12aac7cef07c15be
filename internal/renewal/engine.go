package renewal

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/acme"
	"github.com/certforge/certforge/internal/challenge"
	"github.com/certforge/certforge/internal/deploy"
	"github.com/certforge/certforge/internal/keys"
	"github.com/certforge/certforge/internal/model"
	"github.com/certforge/certforge/internal/storage"
)

// DelayDone signals that no further tick is needed for now. A zero delay
// means "call again immediately"; positive values are seconds to wait.
const DelayDone = -1

const defaultPollDelaySeconds = 5

// Result is the outcome of one tick.
type Result struct {
	State State
	Log   []string
	// Delay is the suggested number of seconds before the next tick.
	Delay int
	// Certificate is set when issuance completed during this tick.
	Certificate *model.Certificate
	// Payload is a snapshot of the ongoing order and its authorization
	// progress while work is mid-flight.
	Payload json.RawMessage
}

func (r *Result) logf(format string, args ...any) {
	entry := fmt.Sprintf(format, args...)
	r.Log = append(r.Log, entry)
	logger.Info(entry)
}

// Engine advances certificates through issuance and renewal. It holds no
// per-certificate state; everything it needs is loaded from storage on each
// tick, so ticks are independently resumable.
type Engine struct {
	store      storage.Storage
	comm       *acme.Communicator
	challenges *challenge.Registry
	deployers  *deploy.Registry

	window    time.Duration
	pollDelay int
}

// NewEngine builds an Engine. window is how long before expiry a certificate
// becomes due for renewal; pollDelaySeconds is the fallback delay while
// waiting on server-side processing.
func NewEngine(store storage.Storage, comm *acme.Communicator, challenges *challenge.Registry, deployers *deploy.Registry, window time.Duration, pollDelaySeconds int) *Engine {
	if pollDelaySeconds <= 0 {
		pollDelaySeconds = defaultPollDelaySeconds
	}
	return &Engine{
		store:      store,
		comm:       comm,
		challenges: challenges,
		deployers:  deployers,
		window:     window,
		pollDelay:  pollDelaySeconds,
	}
}

// NextStep performs one bounded unit of work for the certificate and returns
// what happened plus a suggested delay before the next call. Callers must
// serialize ticks per certificate id.
func (e *Engine) NextStep(ctx context.Context, certificateID string, opts Options) (*Result, error) {
	cert, err := e.store.GetCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	account, err := e.store.GetAccount(ctx, cert.AccountID)
	if err != nil {
		return nil, err
	}
	server, err := e.store.GetServer(ctx, account.ServerID)
	if err != nil {
		return nil, err
	}

	res := &Result{Delay: DelayDone}

	changed, err := e.comm.EnsureDirectory(ctx, server)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := e.store.SaveServer(ctx, server); err != nil {
			return nil, err
		}
	}

	if !account.Registered() {
		if err := e.comm.RegisterAccount(ctx, account, server, server.TermsOfServiceURL, true); err != nil {
			return nil, err
		}
		if err := e.store.SaveAccount(ctx, account); err != nil {
			return nil, err
		}
		res.logf("registered account %s at %s", account.Name, server.Name)
	}

	actions, err := e.store.GetCertificateActionsByCertificateID(ctx, cert.ID)
	if err != nil {
		return nil, err
	}
	hasPending := false
	for _, a := range actions {
		if a.Status == model.ActionStatusPending {
			hasPending = true
			break
		}
	}

	res.State = decideState(cert, hasPending, time.Now().UTC(), e.window, opts)

	// An ongoing order is the single source of truth for work in progress;
	// it is advanced before any state-based decision can start new work.
	if cert.OngoingOrderID != nil {
		order, err := e.store.GetOrder(ctx, *cert.OngoingOrderID)
		if err != nil {
			if err == storage.ErrNotFound {
				cert.OngoingOrderID = nil
				if err := e.store.SaveCertificate(ctx, cert); err != nil {
					return nil, err
				}
				res.logf("dropped dangling order pointer on %s", cert.Name)
				res.Delay = 0
				return res, nil
			}
			return nil, err
		}
		if err := e.advanceOrder(ctx, cert, account, server, order, res); err != nil {
			return nil, err
		}
		return res, nil
	}

	switch res.State {
	case StateGood:
		if cert.ExpiresAt != nil {
			res.logf("certificate %s is good until %s", cert.Name, cert.ExpiresAt.Format(time.RFC3339))
		} else {
			res.logf("certificate %s is good", cert.Name)
		}
		return res, nil
	case StateRunActions:
		if err := e.runActions(ctx, cert, actions, opts, res); err != nil {
			return nil, err
		}
		return res, nil
	case StateMustBeGenerated, StateExpired, StateShouldBeRenewed:
		if err := e.ensureMaterial(ctx, cert, res); err != nil {
			return nil, err
		}
		if err := e.createOrder(ctx, cert, account, server, res); err != nil {
			return nil, err
		}
		res.Delay = 0
		return res, nil
	default:
		return nil, fmt.Errorf("renewal: unhandled state %s", res.State)
	}
}

// ensureMaterial lazily generates the certificate key and CSR.
func (e *Engine) ensureMaterial(ctx context.Context, cert *model.Certificate, res *Result) error {
	dirty := false
	if cert.PrivateKeyPEM == "" {
		pair, err := keys.Generate(keys.DefaultKeyBits)
		if err != nil {
			return err
		}
		cert.PrivateKeyPEM = string(pair.PrivatePEM())
		dirty = true
		res.logf("generated private key for %s", cert.Name)
	}
	if cert.CSRPEM == "" {
		domains, err := e.store.GetDomainsByCertificateID(ctx, cert.ID)
		if err != nil {
			return err
		}
		if len(domains) == 0 {
			return fmt.Errorf("renewal: certificate %s has no domains", cert.Name)
		}
		pair, err := keys.FromPEM([]byte(cert.PrivateKeyPEM))
		if err != nil {
			return err
		}
		names := make([]string, 0, len(domains))
		for _, d := range domains {
			names = append(names, dnsName(d))
		}
		der, err := pair.CreateCSR(names[0], names)
		if err != nil {
			return err
		}
		cert.CSRPEM = string(keys.DERToPEM(der, keys.CSRKind))
		dirty = true
		res.logf("generated CSR for %s covering %d names", cert.Name, len(names))
	}
	if dirty {
		return e.store.SaveCertificate(ctx, cert)
	}
	return nil
}

// createOrder starts a fresh order: an RFC 8555 new-order call, or one
// new-authz call per domain on the legacy dialect.
func (e *Engine) createOrder(ctx context.Context, cert *model.Certificate, account *model.Account, server *model.Server, res *Result) error {
	domains, err := e.store.GetDomainsByCertificateID(ctx, cert.ID)
	if err != nil {
		return err
	}
	thumbprint, err := accountThumbprint(account)
	if err != nil {
		return err
	}

	var order *model.Order
	var challenges []*model.AuthorizationChallenge

	switch server.Protocol {
	case model.ProtocolV2:
		order, challenges, err = e.createOrderV2(ctx, cert, account, server, domains, thumbprint)
	case model.ProtocolV1:
		order, challenges, err = e.createOrderV1(ctx, cert, account, server, domains, thumbprint)
	default:
		err = &acme.VersionError{Version: string(server.Protocol)}
	}
	if err != nil {
		return err
	}

	err = e.store.WithinTransaction(ctx, func(ctx context.Context, tx storage.Storage) error {
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		for _, ac := range challenges {
			if err := tx.SaveAuthorizationChallenge(ctx, ac); err != nil {
				return err
			}
		}
		cert.OngoingOrderID = &order.ID
		return tx.SaveCertificate(ctx, cert)
	})
	if err != nil {
		return err
	}
	res.logf("created %s order %s for %s with %d authorizations", order.Type, order.ID, cert.Name, len(challenges))
	snapshotOrder(res, order, challenges)
	return nil
}

func (e *Engine) createOrderV2(ctx context.Context, cert *model.Certificate, account *model.Account, server *model.Server, domains []*model.Domain, thumbprint string) (*model.Order, []*model.AuthorizationChallenge, error) {
	identifiers := make([]acme.IdentifierResource, 0, len(domains))
	for _, d := range domains {
		identifiers = append(identifiers, acme.IdentifierResource{Type: "dns", Value: dnsName(d)})
	}
	payload, err := json.Marshal(map[string]any{"identifiers": identifiers})
	if err != nil {
		return nil, nil, fmt.Errorf("renewal: failed to encode order payload: %w", err)
	}

	resp, err := e.comm.Send(ctx, account, server, http.MethodPost, server.Directory.NewOrder, payload, []int{http.StatusCreated})
	if err != nil {
		return nil, nil, err
	}
	var orderRes acme.OrderResource
	if err := resp.Unmarshal(&orderRes); err != nil {
		return nil, nil, err
	}
	orderRes.URL = resp.Location

	authzs := make([]acme.AuthorizationResource, 0, len(orderRes.Authorizations))
	for _, authzURL := range orderRes.Authorizations {
		authz, err := e.fetchAuthorization(ctx, account, server, authzURL)
		if err != nil {
			return nil, nil, err
		}
		authzs = append(authzs, *authz)
	}
	return acme.UnserializeOrder(cert, domains, e.challenges, thumbprint, &orderRes, authzs)
}

func (e *Engine) createOrderV1(ctx context.Context, cert *model.Certificate, account *model.Account, server *model.Server, domains []*model.Domain, thumbprint string) (*model.Order, []*model.AuthorizationChallenge, error) {
	authzs := make([]acme.AuthorizationResource, 0, len(domains))
	for _, d := range domains {
		payload, err := json.Marshal(map[string]any{
			"resource":   "new-authz",
			"identifier": acme.IdentifierResource{Type: "dns", Value: dnsName(d)},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("renewal: failed to encode authorization payload: %w", err)
		}
		resp, err := e.comm.Send(ctx, account, server, http.MethodPost, server.Directory.NewOrder, payload, []int{http.StatusCreated})
		if err != nil {
			return nil, nil, err
		}
		var authz acme.AuthorizationResource
		if err := resp.Unmarshal(&authz); err != nil {
			return nil, nil, err
		}
		authz.URL = resp.Location
		authzs = append(authzs, authz)
	}
	return acme.UnserializeAuthorizationRequests(cert, domains, e.challenges, thumbprint, authzs)
}

// fetchAuthorization reads one authorization resource, POST-as-GET on the
// RFC dialect, plain GET on the legacy one.
func (e *Engine) fetchAuthorization(ctx context.Context, account *model.Account, server *model.Server, url string) (*acme.AuthorizationResource, error) {
	method := http.MethodPost
	if server.Protocol == model.ProtocolV1 {
		method = http.MethodGet
	}
	resp, err := e.comm.Send(ctx, account, server, method, url, nil, []int{http.StatusOK})
	if err != nil {
		return nil, err
	}
	var authz acme.AuthorizationResource
	if err := resp.Unmarshal(&authz); err != nil {
		return nil, err
	}
	authz.URL = url
	return &authz, nil
}

// advanceOrder moves the ongoing order one step forward based on its status.
func (e *Engine) advanceOrder(ctx context.Context, cert *model.Certificate, account *model.Account, server *model.Server, order *model.Order, res *Result) error {
	challenges, err := e.store.GetAuthorizationChallengesByOrderID(ctx, order.ID)
	if err != nil {
		return err
	}

	switch order.Status {
	case model.OrderStatusInvalid:
		return e.abandonOrder(ctx, cert, order, challenges, res)
	case model.OrderStatusPending:
		return e.advanceAuthorizations(ctx, cert, account, server, order, challenges, res)
	case model.OrderStatusReady:
		return e.finalizeOrder(ctx, cert, account, server, order, challenges, res)
	case model.OrderStatusProcessing:
		return e.pollOrder(ctx, account, server, order, challenges, res)
	case model.OrderStatusValid:
		return e.downloadCertificate(ctx, cert, account, server, order, challenges, res)
	default:
		return fmt.Errorf("renewal: order %s has unknown status %q", order.ID, order.Status)
	}
}

// abandonOrder archives a failed order and clears the ongoing pointer so the
// next tick starts fresh.
func (e *Engine) abandonOrder(ctx context.Context, cert *model.Certificate, order *model.Order, challenges []*model.AuthorizationChallenge, res *Result) error {
	e.cleanupChallenges(ctx, cert, challenges, res)
	order.Archived = true
	err := e.store.WithinTransaction(ctx, func(ctx context.Context, tx storage.Storage) error {
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		cert.OngoingOrderID = nil
		return tx.SaveCertificate(ctx, cert)
	})
	if err != nil {
		return err
	}
	res.logf("archived invalid order %s; a fresh order will be created next tick", order.ID)
	res.Delay = 0
	return nil
}

// advanceAuthorizations refreshes every non-valid authorization, triggers
// challenges that were never started and aggregates the order status.
func (e *Engine) advanceAuthorizations(ctx context.Context, cert *model.Certificate, account *model.Account, server *model.Server, order *model.Order, challenges []*model.AuthorizationChallenge, res *Result) error {
	domains, err := e.domainsByID(ctx, cert.ID)
	if err != nil {
		return err
	}

	delay := e.pollDelay
	anyInvalid := false
	allValid := true

	for _, ac := range challenges {
		if ac.AuthorizationStatus == model.AuthorizationStatusValid {
			continue
		}

		authz, err := e.fetchAuthorization(ctx, account, server, ac.AuthorizationURL)
		if err != nil {
			return err
		}
		applyAuthorization(ac, authz)

		domain := domains[ac.DomainID]
		if domain == nil {
			return fmt.Errorf("renewal: authorization %s references unknown domain %s", ac.ID, ac.DomainID)
		}

		switch ac.AuthorizationStatus {
		case model.AuthorizationStatusValid:
			res.logf("authorization for %s is valid", domain.Hostname)
		case model.AuthorizationStatusInvalid:
			anyInvalid = true
			res.logf("authorization for %s failed: %s", domain.Hostname, ac.LastError)
		default:
			allValid = false
			if ac.ChallengeStatus == model.ChallengeStatusInvalid {
				anyInvalid = true
				res.logf("challenge for %s failed: %s", domain.Hostname, ac.LastError)
			} else if ac.ChallengeStatus == model.ChallengeStatusPending {
				d, err := e.triggerChallenge(ctx, account, server, domain, ac, res)
				if err != nil {
					return err
				}
				if d > delay {
					delay = d
				}
			} else {
				res.logf("challenge for %s is %s", domain.Hostname, ac.ChallengeStatus)
			}
		}

		if err := e.store.SaveAuthorizationChallenge(ctx, ac); err != nil {
			return err
		}
		if ac.AuthorizationStatus != model.AuthorizationStatusValid {
			allValid = false
		}
	}

	switch {
	case anyInvalid:
		order.Status = model.OrderStatusInvalid
		res.Delay = 0
	case allValid:
		order.Status = model.OrderStatusReady
		res.logf("all authorizations valid for order %s", order.ID)
		res.Delay = 0
	default:
		res.Delay = delay
	}
	if err := e.store.SaveOrder(ctx, order); err != nil {
		return err
	}
	snapshotOrder(res, order, challenges)
	return nil
}

// triggerChallenge provisions the proof via the challenge type's hook and
// tells the server to validate. Already-valid challenges are never
// re-triggered; this is only reached for pending ones.
func (e *Engine) triggerChallenge(ctx context.Context, account *model.Account, server *model.Server, domain *model.Domain, ac *model.AuthorizationChallenge, res *Result) (int, error) {
	instance, ok := e.challenges.Resolve(domain)
	if !ok {
		return 0, fmt.Errorf("renewal: no usable challenge type %q for domain %s", domain.ChallengeType, domain.Hostname)
	}
	if err := instance.BeforeChallenge(ctx, domain, ac); err != nil {
		return 0, err
	}

	var payload []byte
	var err error
	switch server.Protocol {
	case model.ProtocolV2:
		payload = []byte("{}")
	case model.ProtocolV1:
		payload, err = json.Marshal(map[string]any{
			"resource":         "challenge",
			"type":             instance.ACMETypeName(),
			"keyAuthorization": ac.ChallengeAuthKey,
		})
		if err != nil {
			return 0, fmt.Errorf("renewal: failed to encode challenge payload: %w", err)
		}
	default:
		return 0, &acme.VersionError{Version: string(server.Protocol)}
	}

	resp, err := e.comm.Send(ctx, account, server, http.MethodPost, ac.ChallengeURL, payload, []int{http.StatusOK, http.StatusAccepted})
	if err != nil {
		return 0, err
	}
	var ch acme.ChallengeResource
	if err := resp.Unmarshal(&ch); err != nil {
		return 0, err
	}
	ac.ChallengeStatus = ch.Status
	if ac.ChallengeStatus == "" || ac.ChallengeStatus == model.ChallengeStatusPending {
		ac.ChallengeStatus = model.ChallengeStatusProcessing
	}
	res.logf("triggered %s challenge for %s", instance.ACMETypeName(), domain.Hostname)
	return resp.RetryAfterSeconds(e.pollDelay), nil
}

// finalizeOrder submits the CSR. The RFC dialect posts to the order's
// finalize URL; the legacy dialect posts to the directory's new-cert
// endpoint.
func (e *Engine) finalizeOrder(ctx context.Context, cert *model.Certificate, account *model.Account, server *model.Server, order *model.Order, challenges []*model.AuthorizationChallenge, res *Result) error {
	der, err := keys.PEMToDER([]byte(cert.CSRPEM))
	if err != nil {
		return err
	}
	csr64 := base64.RawURLEncoding.EncodeToString(der)

	switch server.Protocol {
	case model.ProtocolV2:
		payload, err := json.Marshal(map[string]any{"csr": csr64})
		if err != nil {
			return fmt.Errorf("renewal: failed to encode finalize payload: %w", err)
		}
		resp, err := e.comm.Send(ctx, account, server, http.MethodPost, order.FinalizeURL, payload, []int{http.StatusOK})
		if err != nil {
			return err
		}
		var orderRes acme.OrderResource
		if err := resp.Unmarshal(&orderRes); err != nil {
			return err
		}
		order.Status = orderRes.Status
		if order.Status == "" {
			order.Status = model.OrderStatusProcessing
		}
		order.CertificateURL = orderRes.Certificate
		res.Delay = resp.RetryAfterSeconds(e.pollDelay)
	case model.ProtocolV1:
		payload, err := json.Marshal(map[string]any{"resource": "new-cert", "csr": csr64})
		if err != nil {
			return fmt.Errorf("renewal: failed to encode new-cert payload: %w", err)
		}
		resp, err := e.comm.Send(ctx, account, server, http.MethodPost, server.Directory.NewCert, payload, []int{http.StatusCreated})
		if err != nil {
			return err
		}
		if resp.Location == "" {
			return fmt.Errorf("renewal: new-cert response carried no Location header")
		}
		order.CertificateURL = resp.Location
		order.Status = model.OrderStatusValid
		res.Delay = 0
	default:
		return &acme.VersionError{Version: string(server.Protocol)}
	}

	if err := e.store.SaveOrder(ctx, order); err != nil {
		return err
	}
	res.logf("finalized order %s, status %s", order.ID, order.Status)
	if order.Status == model.OrderStatusValid {
		res.Delay = 0
	}
	snapshotOrder(res, order, challenges)
	return nil
}

// pollOrder re-reads an order the server is still processing.
func (e *Engine) pollOrder(ctx context.Context, account *model.Account, server *model.Server, order *model.Order, challenges []*model.AuthorizationChallenge, res *Result) error {
	if order.OrderURL == "" {
		// Legacy orders have no order object to poll; the certificate URL is
		// already known after finalize.
		order.Status = model.OrderStatusValid
		res.Delay = 0
		return e.store.SaveOrder(ctx, order)
	}
	resp, err := e.comm.Send(ctx, account, server, http.MethodPost, order.OrderURL, nil, []int{http.StatusOK})
	if err != nil {
		return err
	}
	var orderRes acme.OrderResource
	if err := resp.Unmarshal(&orderRes); err != nil {
		return err
	}
	order.Status = orderRes.Status
	if orderRes.Certificate != "" {
		order.CertificateURL = orderRes.Certificate
	}
	if err := e.store.SaveOrder(ctx, order); err != nil {
		return err
	}
	res.logf("order %s is %s", order.ID, order.Status)
	if order.Status == model.OrderStatusValid || order.Status == model.OrderStatusInvalid {
		res.Delay = 0
	} else {
		res.Delay = resp.RetryAfterSeconds(e.pollDelay)
	}
	snapshotOrder(res, order, challenges)
	return nil
}

// downloadCertificate fetches the issued certificate and issuer chain, runs
// challenge cleanup hooks, archives the order and clears the ongoing pointer.
func (e *Engine) downloadCertificate(ctx context.Context, cert *model.Certificate, account *model.Account, server *model.Server, order *model.Order, challenges []*model.AuthorizationChallenge, res *Result) error {
	if order.CertificateURL == "" {
		return fmt.Errorf("renewal: order %s is valid but has no certificate URL", order.ID)
	}

	var leafPEM, issuerPEM string
	switch server.Protocol {
	case model.ProtocolV2:
		resp, err := e.comm.Send(ctx, account, server, http.MethodPost, order.CertificateURL, nil, []int{http.StatusOK})
		if err != nil {
			return err
		}
		leafPEM, issuerPEM, err = splitPEMChain(resp.Body)
		if err != nil {
			return err
		}
	case model.ProtocolV1:
		resp, err := e.comm.Send(ctx, account, server, http.MethodGet, order.CertificateURL, nil, []int{http.StatusOK})
		if err != nil {
			return err
		}
		leafPEM = string(keys.DERToPEM(resp.Body, keys.CertificateKind))
		if upURL, ok := resp.Links["up"]; ok {
			issuerResp, err := e.comm.Send(ctx, account, server, http.MethodGet, upURL, nil, []int{http.StatusOK})
			if err != nil {
				return err
			}
			issuerPEM = string(keys.DERToPEM(issuerResp.Body, keys.CertificateKind))
		}
	default:
		return &acme.VersionError{Version: string(server.Protocol)}
	}

	leafDER, err := keys.PEMToDER([]byte(leafPEM))
	if err != nil {
		return err
	}
	parsed, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return fmt.Errorf("renewal: failed to parse issued certificate: %w", err)
	}

	e.cleanupChallenges(ctx, cert, challenges, res)

	notBefore := parsed.NotBefore.UTC()
	notAfter := parsed.NotAfter.UTC()
	cert.CertificatePEM = leafPEM
	cert.IssuerPEM = issuerPEM
	cert.IssuedAt = &notBefore
	cert.ExpiresAt = &notAfter
	cert.OngoingOrderID = nil
	order.Archived = true
	order.Status = model.OrderStatusValid

	err = e.store.WithinTransaction(ctx, func(ctx context.Context, tx storage.Storage) error {
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		return tx.SaveCertificate(ctx, cert)
	})
	if err != nil {
		return err
	}

	res.logf("issued certificate %s, valid until %s", cert.Name, notAfter.Format(time.RFC3339))
	res.Certificate = cert
	res.Delay = 0
	return nil
}

// cleanupChallenges invokes AfterChallenge on every challenge of the order.
// Cleanup failures are logged, never fatal.
func (e *Engine) cleanupChallenges(ctx context.Context, cert *model.Certificate, challenges []*model.AuthorizationChallenge, res *Result) {
	domains, err := e.domainsByID(ctx, cert.ID)
	if err != nil {
		logger.Warn("skipping challenge cleanup", zap.Error(err))
		return
	}
	for _, ac := range challenges {
		domain := domains[ac.DomainID]
		if domain == nil {
			continue
		}
		instance, ok := e.challenges.Resolve(domain)
		if !ok {
			continue
		}
		if err := instance.AfterChallenge(ctx, domain, ac); err != nil {
			res.logf("cleanup for %s failed: %v", domain.Hostname, err)
		}
	}
}

func (e *Engine) domainsByID(ctx context.Context, certID string) (map[string]*model.Domain, error) {
	domains, err := e.store.GetDomainsByCertificateID(ctx, certID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Domain, len(domains))
	for _, d := range domains {
		byID[d.ID] = d
	}
	return byID, nil
}

// applyAuthorization copies fresh server-side status onto the stored record.
// The matching challenge is found by URL.
func applyAuthorization(ac *model.AuthorizationChallenge, authz *acme.AuthorizationResource) {
	ac.AuthorizationStatus = authz.Status
	ac.AuthorizationExpiresAt = authz.ExpiresAt()
	for i := range authz.Challenges {
		ch := &authz.Challenges[i]
		if ch.EffectiveURL() != ac.ChallengeURL {
			continue
		}
		if ch.Status != "" {
			ac.ChallengeStatus = ch.Status
		}
		if ch.Error != nil {
			ac.LastError = ch.Error.Detail
		}
		break
	}
}

func snapshotOrder(res *Result, order *model.Order, challenges []*model.AuthorizationChallenge) {
	snapshot, err := json.Marshal(struct {
		Order          *model.Order                    `json:"order"`
		Authorizations []*model.AuthorizationChallenge `json:"authorizations"`
	}{order, challenges})
	if err != nil {
		return
	}
	res.Payload = snapshot
}

func accountThumbprint(account *model.Account) (string, error) {
	pair, err := keys.FromPEM([]byte(account.PrivateKeyPEM))
	if err != nil {
		return "", err
	}
	return pair.Thumbprint()
}

func dnsName(d *model.Domain) string {
	if d.Wildcard {
		return "*." + d.Hostname
	}
	return d.Hostname
}

// splitPEMChain separates the leaf certificate from the rest of a PEM chain.
func splitPEMChain(body []byte) (leaf, issuer string, err error) {
	rest := body
	first := true
	var issuerBlocks []byte
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		encoded := pem.EncodeToMemory(block)
		if first {
			leaf = string(encoded)
			first = false
		} else {
			issuerBlocks = append(issuerBlocks, encoded...)
		}
	}
	if leaf == "" {
		return "", "", fmt.Errorf("renewal: certificate response contained no PEM blocks")
	}
	return leaf, string(issuerBlocks), nil
}
