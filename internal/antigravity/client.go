package antigravity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client issues requests to the backend generate and models endpoints.
type Client struct {
	generateURL string
	modelsURL   string
	host        string
	userAgent   string

	httpClient *http.Client
	// streamClient has no timeout; streaming responses stay open for the
	// whole generation and the context carries any deadline.
	streamClient *http.Client
}

// ClientConfig configures the backend endpoints and identification headers.
type ClientConfig struct {
	GenerateURL string
	ModelsURL   string
	Host        string
	UserAgent   string
	Timeout     time.Duration
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) *Client {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	return &Client{
		generateURL: cfg.GenerateURL,
		modelsURL:   cfg.ModelsURL,
		host:        cfg.Host,
		userAgent:   cfg.UserAgent,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		streamClient: &http.Client{Transport: transport},
	}
}

// Generate posts the request envelope and returns the raw HTTP response.
// The caller owns the body and is responsible for status classification;
// only transport-level failures are returned as errors.
func (c *Client) Generate(ctx context.Context, accessToken string, req *GenerateRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.generateURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(httpReq, accessToken)

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	return resp, nil
}

// Models fetches the raw upstream model table.
func (c *Client) Models(ctx context.Context, accessToken string) (*ModelsResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelsURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(httpReq, accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("models request failed (%d): %s", resp.StatusCode, raw)
	}

	var result ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}
	return &result, nil
}

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	if c.host != "" {
		req.Host = c.host
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	// Accept-Encoding is left to the transport so gzip bodies are
	// decompressed transparently before stream decoding.
}
