package acme

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/model"
)

const replayNonceHeader = "Replay-Nonce"

// Clients MUST ignore invalid Replay-Nonce values (RFC 8555 section 6.5.1).
var validNonce = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NonceManager supplies one-time-use anti-replay tokens per server.
// It keeps a single-slot pool keyed by the server's new-nonce endpoint URL:
// the most recently observed Replay-Nonce wins, and a consumed value is never
// handed out twice.
type NonceManager struct {
	mu   sync.Mutex
	pool map[string]string

	// fetch issues the dedicated HEAD request when the pool is empty.
	fetch func(ctx context.Context, server *model.Server, url string) (*http.Response, error)
}

// NewNonceManager builds a NonceManager whose dedicated fetches go through
// the given doer (a per-server aware HTTP round trip, see Communicator).
func NewNonceManager(fetch func(ctx context.Context, server *model.Server, url string) (*http.Response, error)) *NonceManager {
	return &NonceManager{
		pool:  make(map[string]string),
		fetch: fetch,
	}
}

// Next returns a nonce for the given server, consuming a pooled value when
// one exists and issuing a dedicated HEAD request to the new-nonce endpoint
// otherwise. The server's directory must already be resolved.
func (m *NonceManager) Next(ctx context.Context, server *model.Server) (string, error) {
	endpoint := server.Directory.NewNonce

	m.mu.Lock()
	if nonce, ok := m.pool[endpoint]; ok {
		delete(m.pool, endpoint)
		m.mu.Unlock()
		return nonce, nil
	}
	m.mu.Unlock()

	resp, err := m.fetch(ctx, server, endpoint)
	if err != nil {
		return "", fmt.Errorf("acme: new-nonce request failed: %w", err)
	}
	defer resp.Body.Close()

	nonce := resp.Header.Get(replayNonceHeader)
	if nonce == "" || !validNonce.MatchString(nonce) {
		return "", ErrNoNonce
	}
	return nonce, nil
}

// Observe harvests a Replay-Nonce from any response's header and stores it
// for the next call, discarding any previously stored value for the server.
// Invalid header values are ignored.
func (m *NonceManager) Observe(server *model.Server, resp *http.Response) {
	if server.Directory == nil {
		return
	}
	nonce := resp.Header.Get(replayNonceHeader)
	if nonce == "" {
		return
	}
	if !validNonce.MatchString(nonce) {
		logger.Debug("ignoring invalid replay nonce", zap.String("server", server.Name))
		return
	}
	m.mu.Lock()
	m.pool[server.Directory.NewNonce] = nonce
	m.mu.Unlock()
}
