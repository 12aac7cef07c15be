package acme

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/model"
)

const (
	// maxBadNonceAttempts bounds the build-and-send retry loop when the
	// server rejects a nonce (RFC 8555 section 6.5).
	maxBadNonceAttempts = 5

	contentTypeJSON    = "application/json"
	contentTypeProblem = "application/problem+json"

	maxResponseBody = 1 << 20
)

// Response is a classified server response.
type Response struct {
	StatusCode int
	Body       []byte

	// JSON is true for structured responses (application/json); Problem is
	// set for structured protocol errors (application/problem+json). Any
	// other content type leaves only the opaque Body.
	JSON    bool
	Problem *Problem

	Location   string
	Links      map[string]string // rel -> URL, first wins per relation
	RetryAfter *time.Time
}

// Unmarshal decodes a structured response body into v.
func (r *Response) Unmarshal(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("acme: failed to decode server response: %w", err)
	}
	return nil
}

// RetryAfterSeconds converts the Retry-After header to whole seconds from
// now, clamped to at least zero. It returns fallback when no header was sent.
func (r *Response) RetryAfterSeconds(fallback int) int {
	if r.RetryAfter == nil {
		return fallback
	}
	secs := int(time.Until(*r.RetryAfter).Round(time.Second).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}

// Communicator sends signed envelopes over HTTPS, harvests replay nonces,
// retries on bad-nonce rejections and classifies responses.
type Communicator struct {
	timeout time.Duration
	builder *RequestBuilder
	nonces  *NonceManager

	// clients per allow-unsafe flag; test servers may need TLS verification
	// disabled.
	safeClient   *http.Client
	unsafeClient *http.Client
}

// NewCommunicator builds a Communicator whose outbound calls use the given
// per-request timeout.
func NewCommunicator(timeout time.Duration) *Communicator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Communicator{
		timeout:    timeout,
		safeClient: &http.Client{Timeout: timeout},
		unsafeClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
	c.nonces = NewNonceManager(c.headNonce)
	c.builder = NewRequestBuilder(c.nonces)
	return c
}

// Nonces exposes the nonce manager, mainly for tests.
func (c *Communicator) Nonces() *NonceManager { return c.nonces }

func (c *Communicator) clientFor(server *model.Server) *http.Client {
	if server.AllowUnsafeConnections {
		return c.unsafeClient
	}
	return c.safeClient
}

// headNonce is the dedicated new-nonce fetch used by the NonceManager.
func (c *Communicator) headNonce(ctx context.Context, server *model.Server, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return c.clientFor(server).Do(req)
}

// Send performs one protocol call. GET and HEAD requests go out unsigned;
// everything else is wrapped in a signed envelope built for account. A nil
// payload on a signed request produces a POST-as-GET.
//
// Every response is first mined for a replay nonce regardless of outcome. A
// structured "bad nonce" protocol error restarts the whole build-and-send
// cycle, up to 5 attempts total. When acceptedCodes is non-empty and the
// final status is not among them, a ProtocolError is returned carrying the
// server's problem detail when available.
func (c *Communicator) Send(ctx context.Context, account *model.Account, server *model.Server, method, url string, payload []byte, acceptedCodes []int) (*Response, error) {
	var resp *Response
	for attempt := 1; ; attempt++ {
		var err error
		resp, err = c.sendOnce(ctx, account, server, method, url, payload)
		if err != nil {
			return nil, err
		}
		if !resp.Problem.IsBadNonce() {
			break
		}
		if attempt >= maxBadNonceAttempts {
			logger.Warn("giving up after repeated bad-nonce rejections",
				zap.String("url", url), zap.Int("attempts", attempt))
			return nil, &ProtocolError{StatusCode: resp.StatusCode, Problem: resp.Problem}
		}
		logger.Debug("retrying after bad-nonce rejection",
			zap.String("url", url), zap.Int("attempt", attempt))
	}

	if len(acceptedCodes) > 0 && !containsCode(acceptedCodes, resp.StatusCode) {
		return nil, &ProtocolError{StatusCode: resp.StatusCode, Problem: resp.Problem}
	}
	return resp, nil
}

func (c *Communicator) sendOnce(ctx context.Context, account *model.Account, server *model.Server, method, url string, payload []byte) (*Response, error) {
	var body io.Reader
	signed := method != http.MethodGet && method != http.MethodHead
	if signed {
		envelope, err := c.builder.Build(ctx, account, server, url, payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(envelope)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("acme: failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if signed {
		req.Header.Set("Content-Type", joseContentType)
	}

	httpResp, err := c.clientFor(server).Do(req)
	if err != nil {
		return nil, fmt.Errorf("acme: request to %s failed: %w", url, err)
	}
	defer httpResp.Body.Close()

	// Mine the replay nonce before anything else, whatever the outcome.
	c.nonces.Observe(server, httpResp)

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("acme: failed to read response body: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Body:       raw,
		Location:   httpResp.Header.Get("Location"),
		Links:      parseLinks(httpResp.Header.Values("Link")),
		RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After")),
	}

	mediaType, _, _ := mime.ParseMediaType(httpResp.Header.Get("Content-Type"))
	switch mediaType {
	case contentTypeJSON:
		resp.JSON = true
	case contentTypeProblem:
		problem := &Problem{}
		if err := json.Unmarshal(raw, problem); err == nil {
			resp.Problem = problem
		}
	}
	return resp, nil
}

func containsCode(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// parseLinks extracts rel -> URL pairs from Link headers, first wins per
// relation.
func parseLinks(headers []string) map[string]string {
	links := make(map[string]string)
	for _, header := range headers {
		for _, part := range strings.Split(header, ",") {
			part = strings.TrimSpace(part)
			if !strings.HasPrefix(part, "<") {
				continue
			}
			end := strings.Index(part, ">")
			if end < 0 {
				continue
			}
			url := part[1:end]
			rel := ""
			for _, param := range strings.Split(part[end+1:], ";") {
				param = strings.TrimSpace(param)
				if strings.HasPrefix(param, "rel=") {
					rel = strings.Trim(strings.TrimPrefix(param, "rel="), `"`)
					break
				}
			}
			if rel == "" {
				continue
			}
			if _, ok := links[rel]; !ok {
				links[rel] = url
			}
		}
	}
	return links
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) *time.Time {
	if value == "" {
		return nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		t := time.Now().Add(time.Duration(secs) * time.Second)
		return &t
	}
	if t, err := http.ParseTime(value); err == nil {
		return &t
	}
	return nil
}
