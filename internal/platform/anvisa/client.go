package anvisa

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// SubmitResult is the outcome of a single submission to the SNGPC endpoint.
type SubmitResult struct {
	ProtocolNumber string
	StatusCode     int
	ResponseBody   string
}

// Client submits signed report payloads to the SNGPC web service.
type Client interface {
	Submit(ctx context.Context, payload []byte) (*SubmitResult, error)
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client used for submissions.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.httpClient = c }
}

// WithTimeout sets the submission timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(h *HTTPClient) { h.httpClient.Timeout = d }
}

// HTTPClient posts signed XML payloads to the configured endpoint.
type HTTPClient struct {
	endpoint   string
	signer     Signer
	httpClient *http.Client
}

// NewHTTPClient creates a client for the given SNGPC endpoint.
func NewHTTPClient(endpoint string, signer Signer, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		signer:   signer,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit signs the payload and POSTs it to the SNGPC endpoint. A non-2xx
// response is returned as an error so the transmission pipeline records the
// attempt as failed.
func (c *HTTPClient) Submit(ctx context.Context, payload []byte) (*SubmitResult, error) {
	sig, err := c.signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	if sig != "" {
		req.Header.Set("X-SNGPC-Signature", "sha256="+sig)
	}
	req.Header.Set("X-SNGPC-Timestamp", time.Now().UTC().Format(time.RFC3339))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit report: %w", err)
	}
	defer resp.Body.Close()

	// Read at most 4KB of response body.
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	result := &SubmitResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(bodyBytes),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, fmt.Errorf("sngpc endpoint returned status %d", resp.StatusCode)
	}

	result.ProtocolNumber = resp.Header.Get("X-SNGPC-Protocol")
	if result.ProtocolNumber == "" {
		result.ProtocolNumber = string(bodyBytes)
	}

	return result, nil
}

// StaticClient is a deterministic in-memory client for tests and development
// deployments. It fails the first FailFirst submissions, then succeeds with
// sequential protocol numbers.
type StaticClient struct {
	FailFirst int

	mu    sync.Mutex
	calls int
}

// Submit implements Client.
func (s *StaticClient) Submit(_ context.Context, _ []byte) (*SubmitResult, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	if n <= s.FailFirst {
		return nil, fmt.Errorf("simulated transmission failure (attempt %d)", n)
	}

	return &SubmitResult{
		ProtocolNumber: fmt.Sprintf("SNGPC-%06d", n),
		StatusCode:     http.StatusOK,
	}, nil
}

// Calls returns how many submissions the client has received.
func (s *StaticClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
