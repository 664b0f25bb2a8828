// Package extractapi implements the hosted-extraction-service retrieval
// strategy, the last resort in the fallback chain.
package extractapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spectrail/specwatch/internal/product"
)

// Config controls the extraction API client.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client submits a URL to a hosted extraction service and receives the
// rendered page content back. Slowest and most expensive strategy, so it
// runs only when both direct methods have failed.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("extraction endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Method identifies this strategy in fetch results.
func (c *Client) Method() product.FetchMethod {
	return product.MethodExtract
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		HTML     string `json:"html"`
		Metadata struct {
			SourceURL  string `json:"sourceURL"`
			StatusCode int    `json:"statusCode"`
		} `json:"metadata"`
	} `json:"data"`
}

// Retrieve asks the hosted service to render and return the page.
func (c *Client) Retrieve(ctx context.Context, url string) (product.RawContent, error) {
	payload, err := json.Marshal(scrapeRequest{URL: url, Formats: []string{"html"}})
	if err != nil {
		return product.RawContent{}, fmt.Errorf("marshal scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return product.RawContent{}, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return product.RawContent{}, fmt.Errorf("call extraction service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return product.RawContent{}, fmt.Errorf("read extraction response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return product.RawContent{}, fmt.Errorf("extraction service returned %d", resp.StatusCode)
	}

	var parsed scrapeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return product.RawContent{}, fmt.Errorf("decode extraction response: %w", err)
	}
	if !parsed.Success {
		msg := parsed.Error
		if msg == "" {
			msg = "unspecified failure"
		}
		return product.RawContent{}, fmt.Errorf("extraction service failed: %s", msg)
	}
	if parsed.Data.HTML == "" {
		return product.RawContent{}, fmt.Errorf("extraction service returned empty content")
	}

	finalURL := parsed.Data.Metadata.SourceURL
	if finalURL == "" {
		finalURL = url
	}
	status := parsed.Data.Metadata.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return product.RawContent{
		Body:       []byte(parsed.Data.HTML),
		FinalURL:   finalURL,
		StatusCode: status,
	}, nil
}
