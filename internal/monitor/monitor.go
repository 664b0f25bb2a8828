// Package monitor drives periodic re-checks of tracked product pages. It
// forces a refresh past the cache, diffs the new snapshot against the last
// known one, classifies discontinuation and hands anything noteworthy to
// the review queue.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spectrail/specwatch/internal/detect"
	"github.com/spectrail/specwatch/internal/metrics"
	"github.com/spectrail/specwatch/internal/product"
)

type fetchService interface {
	Fetch(ctx context.Context, url string, forceRefresh bool) product.Result
}

// Config controls the monitoring loop.
type Config struct {
	// URLs are the tracked product pages.
	URLs []string
	// Interval between full passes. Zero disables the loop; CheckURL still
	// works for single-shot checks.
	Interval time.Duration
	// Topic is the review queue destination.
	Topic string
	// MaxAlternatives caps the ranked alternatives attached to a review
	// item for a discontinued product.
	MaxAlternatives int
}

// Monitor owns one monitoring loop. Store and publisher may be nil; the
// loop then only refreshes the cache.
type Monitor struct {
	cfg       Config
	fetch     fetchService
	cache     product.Cache
	store     product.SnapshotStore
	detector  *detect.Detector
	publisher product.Publisher
	ids       product.IDGenerator
	clock     product.Clock
	logger    *zap.Logger
}

// CheckResult is the outcome of one single-URL check.
type CheckResult struct {
	URL          string                `json:"url"`
	Snapshot     *product.Snapshot     `json:"snapshot,omitempty"`
	Changes      []product.Change      `json:"changes,omitempty"`
	Summary      product.ChangeSummary `json:"summary"`
	Discontinued bool                  `json:"discontinued"`
	Alternatives []product.Snapshot    `json:"alternatives,omitempty"`
	ReviewID     string                `json:"review_id,omitempty"`
}

// New creates a Monitor.
func New(
	cfg Config,
	fetch fetchService,
	cache product.Cache,
	store product.SnapshotStore,
	detector *detect.Detector,
	publisher product.Publisher,
	ids product.IDGenerator,
	clock product.Clock,
	logger *zap.Logger,
) *Monitor {
	if cfg.MaxAlternatives <= 0 {
		cfg.MaxAlternatives = 5
	}
	if cfg.Topic == "" {
		cfg.Topic = "product-review"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:       cfg,
		fetch:     fetch,
		cache:     cache,
		store:     store,
		detector:  detector,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

// Run executes full passes until the context is canceled. The first pass
// starts immediately.
func (m *Monitor) Run(ctx context.Context) error {
	if m.cfg.Interval <= 0 {
		return fmt.Errorf("monitor interval is not configured")
	}
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.pass(ctx)
		}
	}
}

func (m *Monitor) pass(ctx context.Context) {
	m.logger.Info("monitor pass", zap.Int("urls", len(m.cfg.URLs)))
	for _, url := range m.cfg.URLs {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.CheckURL(ctx, url); err != nil {
			m.logger.Warn("check failed", zap.String("url", url), zap.Error(err))
		}
	}
}

// CheckURL re-fetches one URL, compares it with the last known snapshot and
// publishes a review item when it changed or looks discontinued.
func (m *Monitor) CheckURL(ctx context.Context, url string) (CheckResult, error) {
	result := CheckResult{URL: url}

	previous := m.lastKnown(ctx, url)

	res := m.fetch.Fetch(ctx, url, true)
	if !res.Success {
		return result, fmt.Errorf("refresh %s: %s", url, res.Error)
	}
	if res.Snapshot == nil {
		m.logger.Info("refresh produced no snapshot", zap.String("url", url))
		return result, nil
	}
	current := *res.Snapshot
	result.Snapshot = res.Snapshot

	if previous != nil {
		result.Changes = m.detector.DetectChanges(*previous, current)
	}
	result.Summary = m.detector.Summarize(result.Changes)
	result.Discontinued = m.detector.IsDiscontinued(current)

	if result.Discontinued {
		result.Alternatives = m.alternatives(ctx, current)
	}

	if m.store != nil {
		if err := m.store.Upsert(ctx, current); err != nil {
			m.logger.Warn("snapshot store write skipped", zap.String("url", url), zap.Error(err))
		}
	}

	if len(result.Changes) == 0 && !result.Discontinued {
		return result, nil
	}
	reviewID, err := m.publish(ctx, result)
	if err != nil {
		return result, err
	}
	result.ReviewID = reviewID
	return result, nil
}

// lastKnown prefers the cache and falls back to the durable store.
func (m *Monitor) lastKnown(ctx context.Context, url string) *product.Snapshot {
	key := url
	if normalized, err := product.NormalizeURL(url); err == nil {
		key = normalized
	}
	if snap, err := m.cache.Get(ctx, key); err == nil && snap != nil {
		return snap
	}
	if m.store == nil {
		return nil
	}
	snap, err := m.store.Get(ctx, url)
	if err != nil {
		m.logger.Warn("snapshot store read skipped", zap.String("url", url), zap.Error(err))
		return nil
	}
	return snap
}

// alternatives ranks candidates from the similarity index.
func (m *Monitor) alternatives(ctx context.Context, snap product.Snapshot) []product.Snapshot {
	records, err := m.cache.GetSimilar(ctx, snap, m.cfg.MaxAlternatives)
	if err != nil {
		m.logger.Warn("similarity lookup skipped", zap.String("url", snap.URL), zap.Error(err))
		return nil
	}
	candidates := make([]product.Snapshot, 0, len(records))
	for _, rec := range records {
		candidates = append(candidates, rec.Snapshot())
	}
	ranked := m.detector.FindAlternatives(snap, candidates)
	if len(ranked) > m.cfg.MaxAlternatives {
		ranked = ranked[:m.cfg.MaxAlternatives]
	}
	out := make([]product.Snapshot, 0, len(ranked))
	for _, alt := range ranked {
		out = append(out, alt.Snapshot)
	}
	return out
}

func (m *Monitor) publish(ctx context.Context, result CheckResult) (string, error) {
	if m.publisher == nil {
		return "", nil
	}
	id, err := m.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate review id: %w", err)
	}
	item := product.ReviewItem{
		ID:           id,
		URL:          result.URL,
		Changes:      result.Changes,
		Summary:      result.Summary,
		Discontinued: result.Discontinued,
		Alternatives: result.Alternatives,
		DetectedAt:   m.now(),
	}
	if _, err := m.publisher.Publish(ctx, m.cfg.Topic, item); err != nil {
		return "", fmt.Errorf("publish review item: %w", err)
	}
	metrics.ReviewItemPublished()
	m.logger.Info("review item published",
		zap.String("url", result.URL),
		zap.String("review_id", id),
		zap.Int("changes", result.Summary.Count),
		zap.Bool("discontinued", result.Discontinued))
	return id, nil
}

func (m *Monitor) now() time.Time {
	if m.clock != nil {
		return m.clock.Now()
	}
	return time.Now().UTC()
}
