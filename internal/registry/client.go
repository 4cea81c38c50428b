// Package registry is the boundary to the external construct registry. The
// core never assumes a transport; this package provides the HTTP one.
package registry

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every key fetch. A timed-out fetch is a network
// error like any other and is recoverable at the key cache layer.
const DefaultTimeout = 5 * time.Second

// maxKeyBytes caps a fetched key body. Public keys are small; anything
// larger is a misbehaving registry.
const maxKeyBytes = 64 * 1024

// NetworkError wraps a transport-level failure talking to the registry.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("registry request %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Client fetches public keys from the registry over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a registry client for the given base URL. A zero
// timeout falls back to DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: timeout,
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger.With().Str("component", "registry_client").Logger(),
	}
}

// Fetch retrieves the PEM bytes for a key id. Any failure is returned as a
// *NetworkError; the caller decides whether a stale cache entry rescues it.
func (c *Client) Fetch(ctx context.Context, keyID string) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/keys/%s.pem", c.baseURL, keyID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/x-pem-file")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyBytes))
	if err != nil {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug().Str("key_id", keyID).Int("bytes", len(body)).Msg("fetched public key")
	return body, nil
}
