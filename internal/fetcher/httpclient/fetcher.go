// Package httpclient implements the lightweight HTTP retrieval strategy
// using gocolly.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/spectrail/specwatch/internal/product"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Retriever fetches pages with a plain Colly collector. It is the first,
// cheapest strategy in the fallback chain.
type Retriever struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Retriever.
func New(cfg Config) *Retriever {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Retriever{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Method identifies this strategy in fetch results.
func (r *Retriever) Method() product.FetchMethod {
	return product.MethodHTTP
}

// Retrieve executes a single HTTP GET using Colly.
func (r *Retriever) Retrieve(ctx context.Context, url string) (product.RawContent, error) {
	var (
		result   product.RawContent
		fetchErr error
	)

	collector := r.baseCollector.Clone()
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}
	collector.SetRequestTimeout(r.cfg.Timeout)
	collector.WithTransport(r.transport)

	collector.OnResponse(func(resp *colly.Response) {
		result = product.RawContent{
			Body:       append([]byte(nil), resp.Body...),
			FinalURL:   resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return product.RawContent{}, fmt.Errorf("http fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return product.RawContent{}, fmt.Errorf("http visit failed: %w", err)
		}
		if fetchErr != nil {
			return product.RawContent{}, fmt.Errorf("http response failed: %w", fetchErr)
		}
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
