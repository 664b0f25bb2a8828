// Package cache implements the TTL-bounded snapshot cache and the per-type
// similarity index on Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spectrail/specwatch/internal/hash/sha256"
	"github.com/spectrail/specwatch/internal/metrics"
	"github.com/spectrail/specwatch/internal/product"
)

// ErrUnavailable wraps backend failures so callers can degrade to a miss
// without parsing messages.
var ErrUnavailable = errors.New("cache unavailable")

const descriptionTruncateLen = 200

// Config controls the Redis cache.
type Config struct {
	KeyPrefix string
	// DefaultTTL bounds snapshot entries when the caller passes ttl <= 0.
	DefaultTTL time.Duration
	// SimilarityHorizon is the fixed expiry of the similarity index,
	// independent of the snapshot TTL.
	SimilarityHorizon time.Duration
}

// ProductCache stores serialized snapshots under hashed URL keys, plus a
// metadata record and a confidence-ranked similarity entry per write. The
// triple write is not transactional: the most recently completed write for
// a key wins, and each sub-record is independently reconstructible.
type ProductCache struct {
	client redis.UniversalClient
	cfg    Config
	logger *zap.Logger
}

// New creates a ProductCache on an existing Redis client.
func New(client redis.UniversalClient, cfg Config, logger *zap.Logger) *ProductCache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "specwatch"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.SimilarityHorizon <= 0 {
		cfg.SimilarityHorizon = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductCache{client: client, cfg: cfg, logger: logger}
}

func (c *ProductCache) snapshotKey(url string) string {
	return fmt.Sprintf("%s:product:%s", c.cfg.KeyPrefix, sha256.Sum([]byte(url)))
}

func (c *ProductCache) metaKey(url string) string {
	return fmt.Sprintf("%s:meta:%s", c.cfg.KeyPrefix, sha256.Sum([]byte(url)))
}

func (c *ProductCache) similarityKey(productType string) string {
	return fmt.Sprintf("%s:similarity:%s", c.cfg.KeyPrefix, strings.ToLower(strings.TrimSpace(productType)))
}

// Get returns the cached snapshot for a URL, or (nil, nil) on a miss.
// Backend failures come back wrapped in ErrUnavailable; callers treat them
// as a miss.
func (c *ProductCache) Get(ctx context.Context, url string) (*product.Snapshot, error) {
	data, err := c.client.Get(ctx, c.snapshotKey(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveCacheOp("get", "miss")
		return nil, nil
	}
	if err != nil {
		metrics.ObserveCacheOp("get", "error")
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, url, err)
	}
	var snap product.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt entry is as good as absent; it will be overwritten
		// on the next refresh.
		c.logger.Warn("discarding corrupt cache entry", zap.String("url", url), zap.Error(err))
		metrics.ObserveCacheOp("get", "miss")
		return nil, nil
	}
	metrics.ObserveCacheOp("get", "hit")
	return &snap, nil
}

// Set stores the snapshot, its metadata record and a similarity entry in
// one pipelined round trip.
func (c *ProductCache) Set(ctx context.Context, url string, snap product.Snapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	meta, err := json.Marshal(metaRecord{
		Type:            snap.Type,
		ConfidenceScore: snap.ConfidenceScore,
		Verified:        snap.Verified,
		CachedAt:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.snapshotKey(url), payload, ttl)
		pipe.Set(ctx, c.metaKey(url), meta, ttl)
		c.queueSimilarityUpsert(ctx, pipe, snap)
		return nil
	})
	if err != nil {
		metrics.ObserveCacheOp("set", "error")
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, url, err)
	}
	metrics.ObserveCacheOp("set", "ok")
	return nil
}

// GetMany fetches many URLs in one pipelined round trip. Missing or
// unreadable entries map to nil. A backend failure degrades the whole
// batch to misses.
func (c *ProductCache) GetMany(ctx context.Context, urls []string) (map[string]*product.Snapshot, error) {
	out := make(map[string]*product.Snapshot, len(urls))
	for _, u := range urls {
		out[u] = nil
	}
	if len(urls) == 0 {
		return out, nil
	}

	cmds := make([]*redis.StringCmd, len(urls))
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, u := range urls {
			cmds[i] = pipe.Get(ctx, c.snapshotKey(u))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.ObserveCacheOp("get_many", "error")
		return out, fmt.Errorf("%w: get_many: %v", ErrUnavailable, err)
	}

	hits := 0
	for i, u := range urls {
		data, cmdErr := cmds[i].Bytes()
		if cmdErr != nil {
			continue
		}
		var snap product.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			c.logger.Warn("discarding corrupt cache entry", zap.String("url", u), zap.Error(err))
			continue
		}
		out[u] = &snap
		hits++
	}
	c.logger.Debug("batch cache lookup", zap.Int("requested", len(urls)), zap.Int("hits", hits))
	metrics.ObserveCacheOp("get_many", "ok")
	return out, nil
}

// SetMany writes many snapshots in one pipelined round trip, semantically
// equivalent to repeated Set calls.
func (c *ProductCache) SetMany(ctx context.Context, snaps map[string]product.Snapshot, ttl time.Duration) error {
	if len(snaps) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for url, snap := range snaps {
			payload, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("marshal snapshot %s: %w", url, err)
			}
			meta, err := json.Marshal(metaRecord{
				Type:            snap.Type,
				ConfidenceScore: snap.ConfidenceScore,
				Verified:        snap.Verified,
				CachedAt:        time.Now().UTC(),
			})
			if err != nil {
				return fmt.Errorf("marshal metadata %s: %w", url, err)
			}
			pipe.Set(ctx, c.snapshotKey(url), payload, ttl)
			pipe.Set(ctx, c.metaKey(url), meta, ttl)
			c.queueSimilarityUpsert(ctx, pipe, snap)
		}
		return nil
	})
	if err != nil {
		metrics.ObserveCacheOp("set_many", "error")
		return fmt.Errorf("%w: set_many: %v", ErrUnavailable, err)
	}
	metrics.ObserveCacheOp("set_many", "ok")
	return nil
}

// Invalidate removes the snapshot and metadata records. The similarity
// entry is left to expire on its own horizon.
func (c *ProductCache) Invalidate(ctx context.Context, url string) error {
	if err := c.client.Del(ctx, c.snapshotKey(url), c.metaKey(url)).Err(); err != nil {
		metrics.ObserveCacheOp("invalidate", "error")
		return fmt.Errorf("%w: invalidate %s: %v", ErrUnavailable, url, err)
	}
	metrics.ObserveCacheOp("invalidate", "ok")
	return nil
}

// GetSimilar returns up to limit same-type records, excluding the snapshot
// itself, in descending confidence order.
func (c *ProductCache) GetSimilar(ctx context.Context, snap product.Snapshot, limit int) ([]product.SimilarityRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	// Fetch one extra so the self entry can be dropped without shorting
	// the caller.
	members, err := c.client.ZRevRange(ctx, c.similarityKey(snap.Type), 0, int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: get_similar: %v", ErrUnavailable, err)
	}

	records := make([]product.SimilarityRecord, 0, limit)
	for _, member := range members {
		var rec product.SimilarityRecord
		if err := json.Unmarshal([]byte(member), &rec); err != nil {
			c.logger.Warn("skipping unparsable similarity record", zap.Error(err))
			continue
		}
		if rec.URL == snap.URL {
			continue
		}
		records = append(records, rec)
		if len(records) == limit {
			break
		}
	}
	return records, nil
}

func (c *ProductCache) queueSimilarityUpsert(ctx context.Context, pipe redis.Pipeliner, snap product.Snapshot) {
	desc := snap.Description
	if len(desc) > descriptionTruncateLen {
		desc = desc[:descriptionTruncateLen]
	}
	member, err := json.Marshal(product.SimilarityRecord{
		URL:             snap.URL,
		Type:            snap.Type,
		Description:     desc,
		ModelNo:         snap.ModelNo,
		ConfidenceScore: snap.ConfidenceScore,
	})
	if err != nil {
		c.logger.Warn("skipping similarity upsert", zap.String("url", snap.URL), zap.Error(err))
		return
	}
	key := c.similarityKey(snap.Type)
	pipe.ZAdd(ctx, key, redis.Z{Score: snap.ConfidenceScore, Member: string(member)})
	pipe.Expire(ctx, key, c.cfg.SimilarityHorizon)
}

type metaRecord struct {
	Type            string    `json:"type"`
	ConfidenceScore float64   `json:"confidence_score"`
	Verified        bool      `json:"verified"`
	CachedAt        time.Time `json:"cached_at"`
}
