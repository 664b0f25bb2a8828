// Package fetcher orchestrates the acquisition pipeline: cache lookup,
// global rate limiting, bounded concurrency and ordered fallback across
// retrieval strategies.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/spectrail/specwatch/internal/hash/sha256"
	"github.com/spectrail/specwatch/internal/metrics"
	"github.com/spectrail/specwatch/internal/policy/ratelimit"
	"github.com/spectrail/specwatch/internal/product"
)

// Config controls fetch behavior. Zero values fall back to the documented
// defaults (10 req/60s, 5 in-flight, 1h TTL).
type Config struct {
	RateLimit          int
	RateWindow         time.Duration
	MaxConcurrent      int
	Timeout            time.Duration
	ChunkPause         time.Duration
	SnapshotTTL        time.Duration
	BlockedHosts       []string
	ArchivePrefix      string
	ArchiveContentType string
	// MinContentBytes marks smaller responses as unusable so the chain
	// escalates past bot walls and empty shells. Zero disables the size
	// check.
	MinContentBytes int
	// BlockKeywords mark a response as unusable when present in its body.
	BlockKeywords []string
}

func (c *Config) applyDefaults() {
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ChunkPause < 0 {
		c.ChunkPause = 0
	}
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = time.Hour
	}
	if c.ArchiveContentType == "" {
		c.ArchiveContentType = "text/html; charset=utf-8"
	}
	if c.BlockKeywords == nil {
		c.BlockKeywords = defaultBlockKeywords()
	}
}

// Fetcher resolves URLs into raw content and snapshots. The rate limiter
// and the concurrency gate are the only mutable state shared across
// concurrent calls; the cache is an external concurrency-safe resource.
type Fetcher struct {
	cfg        Config
	cache      product.Cache
	retrievers []product.Retriever
	extractor  product.Extractor
	archive    product.BlobStore
	limiter    *ratelimit.Limiter
	gate       chan struct{}
	blocklist  *product.HostBlocklist
	check      *contentCheck
	clock      product.Clock
	logger     *zap.Logger

	pause func(context.Context, time.Duration)
}

// New constructs a Fetcher. The archive store may be nil; retrievers are
// tried in the given order.
func New(
	cache product.Cache,
	retrievers []product.Retriever,
	extractor product.Extractor,
	archive product.BlobStore,
	clock product.Clock,
	cfg Config,
	logger *zap.Logger,
) *Fetcher {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:        cfg,
		cache:      cache,
		retrievers: retrievers,
		extractor:  extractor,
		archive:    archive,
		limiter:    ratelimit.New(ratelimit.Config{Limit: cfg.RateLimit, Window: cfg.RateWindow}),
		gate:       make(chan struct{}, cfg.MaxConcurrent),
		blocklist:  product.NewHostBlocklist(cfg.BlockedHosts),
		check:      newContentCheck(cfg.MinContentBytes, cfg.BlockKeywords),
		clock:      clock,
		logger:     logger,
		pause:      pauseCtx,
	}
}

// Fetch resolves a single URL. Unless forceRefresh is set, a cache hit
// reconstructs the result without any network call.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, forceRefresh bool) product.Result {
	normalized, err := f.admit(rawURL)
	if err != nil {
		return product.Failure(rawURL, product.ErrKindMalformedInput, err)
	}

	if !forceRefresh {
		if snap := f.cachedSnapshot(ctx, normalized); snap != nil {
			return product.Result{
				URL:       rawURL,
				Success:   true,
				Method:    product.MethodCache,
				FromCache: true,
				Snapshot:  snap,
			}
		}
	}

	return f.fetchLive(ctx, rawURL, normalized)
}

// BatchFetch resolves many URLs. The output always has the same length and
// order as the input; per-item failures never abort the batch. Uncached
// URLs are fetched in chunks of maxConcurrent with a short pause between
// chunks.
func (f *Fetcher) BatchFetch(ctx context.Context, urls []string, maxConcurrent int, forceRefresh bool) []product.Result {
	if maxConcurrent <= 0 {
		maxConcurrent = f.cfg.MaxConcurrent
	}
	results := make([]product.Result, len(urls))

	// Admission control first: malformed URLs become per-item failures
	// before any I/O happens.
	normalized := make([]string, len(urls))
	pending := make([]int, 0, len(urls))
	for i, u := range urls {
		norm, err := f.admit(u)
		if err != nil {
			results[i] = product.Failure(u, product.ErrKindMalformedInput, err)
			continue
		}
		normalized[i] = norm
		pending = append(pending, i)
	}

	// Partition into cached and uncached with one pipelined round trip.
	uncached := pending
	if !forceRefresh && len(pending) > 0 {
		keys := make([]string, 0, len(pending))
		for _, i := range pending {
			keys = append(keys, normalized[i])
		}
		hits, err := f.cache.GetMany(ctx, keys)
		if err != nil {
			f.logger.Warn("cache batch lookup degraded to miss", zap.Error(err))
		}
		uncached = uncached[:0]
		for _, i := range pending {
			if snap := hits[normalized[i]]; snap != nil {
				results[i] = product.Result{
					URL:       urls[i],
					Success:   true,
					Method:    product.MethodCache,
					FromCache: true,
					Snapshot:  snap,
				}
				continue
			}
			uncached = append(uncached, i)
		}
	}

	f.logger.Info("batch fetch",
		zap.Int("total", len(urls)),
		zap.Int("cached", len(pending)-len(uncached)),
		zap.Int("to_fetch", len(uncached)))

	// Fetch the remainder in chunks so a stuck chunk only blocks itself.
	for start := 0; start < len(uncached); start += maxConcurrent {
		end := start + maxConcurrent
		if end > len(uncached) {
			end = len(uncached)
		}
		chunk := uncached[start:end]

		done := make(chan struct{})
		for _, i := range chunk {
			go func(i int) {
				defer func() { done <- struct{}{} }()
				results[i] = f.fetchLive(ctx, urls[i], normalized[i])
			}(i)
		}
		for range chunk {
			<-done
		}

		if end < len(uncached) && f.cfg.ChunkPause > 0 {
			f.pause(ctx, f.cfg.ChunkPause)
		}
	}

	return results
}

// admit validates and normalizes a URL before it touches cache or network.
func (f *Fetcher) admit(rawURL string) (string, error) {
	if err := product.ValidateURL(rawURL); err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if f.blocklist.Blocked(rawURL) {
		return "", fmt.Errorf("host of %q is disallowed", rawURL)
	}
	normalized, err := product.NormalizeURL(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	return normalized, nil
}

func (f *Fetcher) cachedSnapshot(ctx context.Context, normalized string) *product.Snapshot {
	snap, err := f.cache.Get(ctx, normalized)
	if err != nil {
		f.logger.Warn("cache read degraded to miss", zap.String("url", normalized), zap.Error(err))
		return nil
	}
	return snap
}

// fetchLive performs the rate-limited, gated network fetch with fallback
// across retrieval strategies.
func (f *Fetcher) fetchLive(ctx context.Context, rawURL, normalized string) product.Result {
	if err := f.limiter.Wait(ctx); err != nil {
		return product.Failure(rawURL, product.ErrKindNetwork, err)
	}

	select {
	case f.gate <- struct{}{}:
	case <-ctx.Done():
		return product.Failure(rawURL, product.ErrKindNetwork, fmt.Errorf("concurrency slot wait canceled: %w", ctx.Err()))
	}
	metrics.FetchStarted()
	defer func() {
		<-f.gate
		metrics.FetchFinished()
	}()

	start := f.now()
	raw, method, attempts, err := f.retrieveWithFallback(ctx, rawURL)
	duration := f.now().Sub(start)
	if err != nil {
		f.logger.Warn("all retrieval methods failed",
			zap.String("url", rawURL),
			zap.Int("attempts", len(attempts)),
			zap.Error(err))
		res := product.Failure(rawURL, product.ErrKindNetwork, err)
		res.Duration = duration
		return res
	}

	result := product.Result{
		URL:      rawURL,
		Success:  true,
		Content:  raw.Body,
		Method:   method,
		Duration: duration,
	}

	snap, extractErr := f.extractor.Extract(ctx, raw, rawURL)
	if extractErr != nil {
		// Extraction is a collaborator concern; its failure never turns a
		// successful fetch into a pipeline failure.
		f.logger.Warn("extraction failed", zap.String("url", rawURL), zap.Error(extractErr))
		return result
	}
	now := f.now()
	snap.LastChecked = &now
	result.Snapshot = &snap

	if err := f.cache.Set(ctx, normalized, snap, f.cfg.SnapshotTTL); err != nil {
		f.logger.Warn("cache write skipped", zap.String("url", normalized), zap.Error(err))
	}
	f.archiveContent(ctx, normalized, raw)

	return result
}

// retrieveWithFallback tries each strategy in order, bounding every attempt
// by the configured wall-clock timeout. All attempt errors are aggregated
// so exhaustion reports every method that was tried.
func (f *Fetcher) retrieveWithFallback(ctx context.Context, url string) (product.RawContent, product.FetchMethod, []product.FetchAttempt, error) {
	var (
		attempts []product.FetchAttempt
		combined error
	)
	for i, retriever := range f.retrievers {
		attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
		attemptStart := f.now()
		raw, err := retriever.Retrieve(attemptCtx, url)
		cancel()
		elapsed := f.now().Sub(attemptStart)

		// A blocked or near-empty page from a non-final strategy escalates
		// the chain; the last strategy's output is accepted as is.
		if err == nil && i < len(f.retrievers)-1 {
			err = f.check.unusable(raw.Body)
		}

		attempts = append(attempts, product.FetchAttempt{
			Method:   retriever.Method(),
			Duration: elapsed,
			Success:  err == nil,
			Err:      err,
		})
		metrics.ObserveFetch(string(retriever.Method()), err == nil, elapsed)

		if err == nil {
			return raw, retriever.Method(), attempts, nil
		}
		f.logger.Debug("retrieval method failed",
			zap.String("url", url),
			zap.String("method", string(retriever.Method())),
			zap.Error(err))
		combined = multierr.Append(combined, fmt.Errorf("%s: %w", retriever.Method(), err))

		if ctx.Err() != nil {
			break
		}
	}
	if combined == nil {
		combined = fmt.Errorf("no retrieval methods configured")
	}
	return product.RawContent{}, "", attempts, fmt.Errorf("all retrieval methods failed: %w", combined)
}

func (f *Fetcher) archiveContent(ctx context.Context, normalized string, raw product.RawContent) {
	if f.archive == nil || len(raw.Body) == 0 {
		return
	}
	path := fmt.Sprintf("%s/%s/%d.html", f.cfg.ArchivePrefix, sha256.Sum([]byte(normalized)), f.now().UnixNano())
	uri, err := f.archive.PutObject(ctx, path, f.cfg.ArchiveContentType, raw.Body)
	if err != nil {
		f.logger.Warn("archive write skipped", zap.String("url", normalized), zap.Error(err))
		return
	}
	f.logger.Debug("archived raw content", zap.String("url", normalized), zap.String("uri", uri))
}

func (f *Fetcher) now() time.Time {
	if f.clock != nil {
		return f.clock.Now()
	}
	return time.Now().UTC()
}

func pauseCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
