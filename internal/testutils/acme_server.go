// Package testutils provides shared test fixtures: a scripted fake ACME
// server and certificate generation helpers.
package testutils

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// FakeACME is a minimal RFC 8555 server driven entirely by in-memory state.
// It validates nothing cryptographically; it exists to exercise the client
// side of the protocol flow.
type FakeACME struct {
	Server *httptest.Server

	mu           sync.Mutex
	nonceCounter int
	orderCounter int

	// Registered is set once a new-account call succeeded.
	Registered bool
	// OrdersCreated counts new-order calls.
	OrdersCreated int
	// BadNonceResponses makes the next N signed requests fail with a
	// badNonce problem before succeeding.
	BadNonceResponses int
	// FailValidation makes triggered challenges come back invalid.
	FailValidation bool

	orders map[string]*fakeOrder

	certPEM   string
	issuerPEM string
}

type fakeOrder struct {
	id        string
	hostname  string
	triggered bool
	finalized bool
}

// NewFakeACME starts the fake server. hostname is the identifier every order
// is expected to carry; the served certificate is issued for it.
func NewFakeACME(hostname string) (*FakeACME, error) {
	certPEM, issuerPEM, err := GenerateTestCertificate(hostname, 90*24*time.Hour)
	if err != nil {
		return nil, err
	}
	f := &FakeACME{
		orders:    make(map[string]*fakeOrder),
		certPEM:   certPEM,
		issuerPEM: issuerPEM,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/directory", f.handleDirectory)
	mux.HandleFunc("/new-nonce", f.handleNewNonce)
	mux.HandleFunc("/new-account", f.handleNewAccount)
	mux.HandleFunc("/new-order", f.handleNewOrder)
	mux.HandleFunc("/order/", f.handleOrder)
	mux.HandleFunc("/authz/", f.handleAuthorization)
	mux.HandleFunc("/chall/", f.handleChallenge)
	mux.HandleFunc("/finalize/", f.handleFinalize)
	mux.HandleFunc("/cert/", f.handleCertificate)
	mux.HandleFunc("/revoke-cert", f.handleRevoke)
	f.Server = httptest.NewServer(mux)
	return f, nil
}

// Close shuts the server down.
func (f *FakeACME) Close() { f.Server.Close() }

// DirectoryURL is the directory endpoint clients should be pointed at.
func (f *FakeACME) DirectoryURL() string { return f.Server.URL + "/directory" }

func (f *FakeACME) nextNonce() string {
	f.nonceCounter++
	return fmt.Sprintf("nonce-%d", f.nonceCounter)
}

func (f *FakeACME) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Replay-Nonce", f.nextNonce())
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func (f *FakeACME) writeProblem(w http.ResponseWriter, status int, problemType, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("Replay-Nonce", f.nextNonce())
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"type": problemType, "detail": detail, "status": status})
}

// consumeBadNonce reports whether this signed request should be rejected
// with a badNonce problem.
func (f *FakeACME) consumeBadNonce(w http.ResponseWriter) bool {
	if f.BadNonceResponses <= 0 {
		return false
	}
	f.BadNonceResponses--
	f.writeProblem(w, http.StatusBadRequest, "urn:ietf:params:acme:error:badNonce", "bad nonce, try again")
	return true
}

func (f *FakeACME) handleDirectory(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeJSON(w, http.StatusOK, map[string]string{
		"newNonce":   f.Server.URL + "/new-nonce",
		"newAccount": f.Server.URL + "/new-account",
		"newOrder":   f.Server.URL + "/new-order",
		"revokeCert": f.Server.URL + "/revoke-cert",
	})
}

func (f *FakeACME) handleNewNonce(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Replay-Nonce", f.nextNonce())
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeACME) handleNewAccount(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeBadNonce(w) {
		return
	}
	f.Registered = true
	w.Header().Set("Location", f.Server.URL+"/account/1")
	f.writeJSON(w, http.StatusCreated, map[string]string{"status": "valid"})
}

func (f *FakeACME) handleNewOrder(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeBadNonce(w) {
		return
	}
	var req struct {
		Identifiers []struct {
			Value string `json:"value"`
		} `json:"identifiers"`
	}
	if err := json.Unmarshal(decodePayload(r), &req); err != nil || len(req.Identifiers) == 0 {
		f.writeProblem(w, http.StatusBadRequest, "urn:ietf:params:acme:error:malformed", "bad order payload")
		return
	}

	f.orderCounter++
	f.OrdersCreated++
	order := &fakeOrder{
		id:       fmt.Sprintf("%d", f.orderCounter),
		hostname: req.Identifiers[0].Value,
	}
	f.orders[order.id] = order

	w.Header().Set("Location", f.Server.URL+"/order/"+order.id)
	f.writeJSON(w, http.StatusCreated, f.orderJSON(order))
}

func (f *FakeACME) handleOrder(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[pathTail(r.URL.Path)]
	if !ok {
		f.writeProblem(w, http.StatusNotFound, "urn:ietf:params:acme:error:malformed", "no such order")
		return
	}
	f.writeJSON(w, http.StatusOK, f.orderJSON(order))
}

func (f *FakeACME) handleAuthorization(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[pathTail(r.URL.Path)]
	if !ok {
		f.writeProblem(w, http.StatusNotFound, "urn:ietf:params:acme:error:malformed", "no such authorization")
		return
	}
	f.writeJSON(w, http.StatusOK, f.authorizationJSON(order))
}

func (f *FakeACME) handleChallenge(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeBadNonce(w) {
		return
	}
	order, ok := f.orders[pathTail(r.URL.Path)]
	if !ok {
		f.writeProblem(w, http.StatusNotFound, "urn:ietf:params:acme:error:malformed", "no such challenge")
		return
	}
	order.triggered = true
	f.writeJSON(w, http.StatusOK, map[string]any{
		"type":   "http-01",
		"url":    f.Server.URL + "/chall/" + order.id,
		"token":  "token-" + order.id,
		"status": "processing",
	})
}

func (f *FakeACME) handleFinalize(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeBadNonce(w) {
		return
	}
	order, ok := f.orders[pathTail(r.URL.Path)]
	if !ok {
		f.writeProblem(w, http.StatusNotFound, "urn:ietf:params:acme:error:malformed", "no such order")
		return
	}
	var req struct {
		CSR string `json:"csr"`
	}
	if err := json.Unmarshal(decodePayload(r), &req); err != nil || req.CSR == "" {
		f.writeProblem(w, http.StatusBadRequest, "urn:ietf:params:acme:error:badCSR", "missing csr")
		return
	}
	if !order.triggered || f.FailValidation {
		f.writeProblem(w, http.StatusForbidden, "urn:ietf:params:acme:error:orderNotReady", "order is not ready")
		return
	}
	order.finalized = true
	f.writeJSON(w, http.StatusOK, f.orderJSON(order))
}

func (f *FakeACME) handleCertificate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[pathTail(r.URL.Path)]
	if !ok || !order.finalized {
		f.writeProblem(w, http.StatusNotFound, "urn:ietf:params:acme:error:malformed", "certificate not ready")
		return
	}
	w.Header().Set("Content-Type", "application/pem-certificate-chain")
	w.Header().Set("Replay-Nonce", f.nextNonce())
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, f.certPEM, f.issuerPEM)
}

func (f *FakeACME) handleRevoke(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeBadNonce(w) {
		return
	}
	f.writeJSON(w, http.StatusOK, map[string]string{})
}

func (f *FakeACME) orderJSON(order *fakeOrder) map[string]any {
	status := "pending"
	certURL := ""
	switch {
	case order.finalized:
		status = "valid"
		certURL = f.Server.URL + "/cert/" + order.id
	case order.triggered && !f.FailValidation:
		status = "ready"
	case order.triggered && f.FailValidation:
		status = "invalid"
	}
	out := map[string]any{
		"status":         status,
		"expires":        time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"identifiers":    []map[string]string{{"type": "dns", "value": order.hostname}},
		"authorizations": []string{f.Server.URL + "/authz/" + order.id},
		"finalize":       f.Server.URL + "/finalize/" + order.id,
	}
	if certURL != "" {
		out["certificate"] = certURL
	}
	return out
}

func (f *FakeACME) authorizationJSON(order *fakeOrder) map[string]any {
	authzStatus := "pending"
	challStatus := "pending"
	var challErr map[string]any
	if order.triggered {
		if f.FailValidation {
			authzStatus = "invalid"
			challStatus = "invalid"
			challErr = map[string]any{
				"type":   "urn:ietf:params:acme:error:unauthorized",
				"detail": "validation failed",
			}
		} else {
			authzStatus = "valid"
			challStatus = "valid"
		}
	}
	chall := map[string]any{
		"type":   "http-01",
		"url":    f.Server.URL + "/chall/" + order.id,
		"token":  "token-" + order.id,
		"status": challStatus,
	}
	if challErr != nil {
		chall["error"] = challErr
	}
	return map[string]any{
		"identifier": map[string]string{"type": "dns", "value": order.hostname},
		"status":     authzStatus,
		"expires":    time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"challenges": []map[string]any{chall},
	}
}

// decodePayload extracts the JWS payload from a signed request body. No
// signature checking happens here.
func decodePayload(r *http.Request) []byte {
	var envelope struct {
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(envelope.Payload)
	if err != nil {
		return nil
	}
	return raw
}

func pathTail(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// GenerateTestCertificate builds a self-signed leaf plus a distinct issuer
// block, both PEM encoded, valid for the given duration.
func GenerateTestCertificate(hostname string, validity time.Duration) (certPEM, issuerPEM string, err error) {
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", err
	}
	caTpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "certforge test issuer"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity + 24*time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTpl, caTpl, &caKey.PublicKey, caKey)
	if err != nil {
		return "", "", err
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", err
	}
	leafTpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: hostname},
		DNSNames:     []string{hostname},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		return "", "", err
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTpl, caCert, &leafKey.PublicKey, caKey)
	if err != nil {
		return "", "", err
	}

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafDER}))
	issuerPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}))
	return certPEM, issuerPEM, nil
}
