// Package indexnow submits URL batches to the IndexNow protocol endpoint and
// generates and verifies the per-site ownership key.
package indexnow

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jmylchreest/autoindex-api/internal/constants"
	"github.com/jmylchreest/autoindex-api/internal/provider"
)

// ProviderName identifies this provider in errors and metrics.
const ProviderName = "indexnow"

// DefaultEndpoint is the shared IndexNow endpoint that fans out to participating engines.
const DefaultEndpoint = "https://api.indexnow.org/indexnow"

// Config configures the client.
type Config struct {
	Endpoint   string
	BatchSize  int
	HTTPClient *http.Client
}

// Client submits URLs via IndexNow.
type Client struct {
	endpoint   string
	batchSize  int
	httpClient *http.Client
}

// NewClient creates an IndexNow client.
func NewClient(cfg Config) *Client {
	c := &Client{
		endpoint:   cfg.Endpoint,
		batchSize:  cfg.BatchSize,
		httpClient: cfg.HTTPClient,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.batchSize <= 0 {
		c.batchSize = constants.IndexNowBatchSize
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: constants.ProviderTimeout}
	}
	return c
}

type submitRequest struct {
	Host        string   `json:"host"`
	Key         string   `json:"key"`
	KeyLocation string   `json:"keyLocation"`
	URLList     []string `json:"urlList"`
}

// BatchResult summarises a multi-chunk submission.
type BatchResult struct {
	// Submitted counts URLs in chunks the endpoint accepted.
	Submitted int
	// Requests counts HTTP requests made.
	Requests int
	// Err is the error that stopped submission, nil if every chunk was accepted.
	Err error
}

// Stopped reports whether submission ended before every chunk was sent.
func (r BatchResult) Stopped() bool {
	return r.Err != nil
}

// KeyLocation is where the key file must be served for the given host.
func KeyLocation(host, key string) string {
	return "https://" + host + "/" + key + ".txt"
}

// Submit posts urls in chunks of the configured batch size. A chunk answered
// with anything other than 200 or 202 stops the run; later chunks are not sent.
func (c *Client) Submit(ctx context.Context, host, key string, urls []string) BatchResult {
	var result BatchResult
	for start := 0; start < len(urls); start += c.batchSize {
		end := min(start+c.batchSize, len(urls))
		chunk := urls[start:end]

		result.Requests++
		if err := c.submitChunk(ctx, host, key, chunk); err != nil {
			result.Err = err
			return result
		}
		result.Submitted += len(chunk)
	}
	return result
}

func (c *Client) submitChunk(ctx context.Context, host, key string, chunk []string) error {
	body, err := json.Marshal(submitRequest{
		Host:        host,
		Key:         key,
		KeyLocation: KeyLocation(host, key),
		URLList:     chunk,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal indexnow request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", constants.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.NetworkError(ProviderName, err)
	}
	defer func() { _ = resp.Body.Close() }()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		return nil
	default:
		return provider.StatusError(ProviderName, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

// GenerateKey returns a random 32-character hex key. IndexNow accepts 8-128
// characters from [a-zA-Z0-9-].
func GenerateKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate indexnow key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// VerifyKey fetches the key file from the site and checks it contains the key.
func (c *Client) VerifyKey(ctx context.Context, host, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, KeyLocation(host, key), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", constants.UserAgent)
	return c.verify(req, key)
}

func (c *Client) verify(req *http.Request, key string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.NetworkError(ProviderName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return provider.StatusError(ProviderName, resp.StatusCode, "key file not reachable")
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return provider.NetworkError(ProviderName, err)
	}
	if strings.TrimSpace(string(body)) != key {
		return fmt.Errorf("%s: key file content does not match", ProviderName)
	}
	return nil
}
