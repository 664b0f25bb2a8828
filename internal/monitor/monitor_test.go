package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spectrail/specwatch/internal/detect"
	"github.com/spectrail/specwatch/internal/product"
	"github.com/spectrail/specwatch/internal/publisher/memory"
)

type fakeFetch struct {
	result product.Result
	calls  int
}

func (f *fakeFetch) Fetch(_ context.Context, _ string, forceRefresh bool) product.Result {
	f.calls++
	if !forceRefresh {
		panic("monitor must force refresh")
	}
	return f.result
}

type fakeCache struct {
	product.Cache
	entries map[string]product.Snapshot
	similar []product.SimilarityRecord
}

func (c *fakeCache) Get(_ context.Context, url string) (*product.Snapshot, error) {
	if snap, ok := c.entries[url]; ok {
		return &snap, nil
	}
	return nil, nil
}

func (c *fakeCache) GetSimilar(context.Context, product.Snapshot, int) ([]product.SimilarityRecord, error) {
	return c.similar, nil
}

type fakeStore struct {
	upserts []product.Snapshot
	stored  map[string]product.Snapshot
}

func (s *fakeStore) Upsert(_ context.Context, snap product.Snapshot) error {
	s.upserts = append(s.upserts, snap)
	return nil
}

func (s *fakeStore) Get(_ context.Context, url string) (*product.Snapshot, error) {
	if snap, ok := s.stored[url]; ok {
		return &snap, nil
	}
	return nil, nil
}

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("review-%d", g.n), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func snapshotFixture() product.Snapshot {
	return product.Snapshot{
		URL:             "https://shop.example.com/faucets/kf-100",
		ImageReference:  "https://cdn.example.com/kf-100.jpg",
		Type:            "Faucet",
		Description:     "Chrome kitchen faucet with pull-down sprayer",
		ModelNo:         "KF-100",
		Quantity:        2,
		ConfidenceScore: 0.9,
	}
}

func newTestMonitor(fetch *fakeFetch, cache *fakeCache, store *fakeStore, pub product.Publisher) *Monitor {
	detector := detect.New(detect.DefaultConfig(), fixedClock{now: time.Unix(1700000000, 0).UTC()}, nil)
	return New(Config{Topic: "review", MaxAlternatives: 3}, fetch, cache, store, detector, pub, &seqIDs{}, fixedClock{now: time.Unix(1700000000, 0).UTC()}, nil)
}

func TestCheckURLFirstSightPublishesNothing(t *testing.T) {
	t.Parallel()

	snap := snapshotFixture()
	fetch := &fakeFetch{result: product.Result{URL: snap.URL, Success: true, Snapshot: &snap}}
	store := &fakeStore{}
	pub := memory.New()
	m := newTestMonitor(fetch, &fakeCache{}, store, pub)

	result, err := m.CheckURL(context.Background(), snap.URL)
	require.NoError(t, err)
	require.Empty(t, result.Changes)
	require.False(t, result.Discontinued)
	require.Empty(t, result.ReviewID)
	require.Empty(t, pub.Messages())
	require.Len(t, store.upserts, 1, "snapshot persisted even without changes")
}

func TestCheckURLPublishesOnChange(t *testing.T) {
	t.Parallel()

	previous := snapshotFixture()
	current := snapshotFixture()
	current.ModelNo = "KF-200"

	fetch := &fakeFetch{result: product.Result{URL: current.URL, Success: true, Snapshot: &current}}
	cache := &fakeCache{entries: map[string]product.Snapshot{previous.URL: previous}}
	pub := memory.New()
	m := newTestMonitor(fetch, cache, &fakeStore{}, pub)

	result, err := m.CheckURL(context.Background(), current.URL)
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	require.Equal(t, "review-1", result.ReviewID)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "review", msgs[0].Topic)
	item, ok := msgs[0].Payload.(product.ReviewItem)
	require.True(t, ok)
	require.Equal(t, "review-1", item.ID)
	require.Equal(t, 1, item.Summary.Count)
	require.Len(t, item.Summary.Critical, 1, "model number change is critical")
}

func TestCheckURLFallsBackToStoreForPrevious(t *testing.T) {
	t.Parallel()

	previous := snapshotFixture()
	current := snapshotFixture()
	current.Type = "Sink"

	fetch := &fakeFetch{result: product.Result{URL: current.URL, Success: true, Snapshot: &current}}
	store := &fakeStore{stored: map[string]product.Snapshot{previous.URL: previous}}
	pub := memory.New()
	m := newTestMonitor(fetch, &fakeCache{}, store, pub)

	result, err := m.CheckURL(context.Background(), current.URL)
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	require.Len(t, pub.Messages(), 1)
}

func TestCheckURLDiscontinuedAttachesAlternatives(t *testing.T) {
	t.Parallel()

	current := snapshotFixture()
	current.Description = "This product has been discontinued"

	similar := []product.SimilarityRecord{
		{URL: current.URL, Type: "Faucet", Description: current.Description, ConfidenceScore: 0.9},
		{URL: "https://shop.example.com/faucets/kf-100-v2", Type: "Faucet", Description: "Chrome kitchen faucet with pull-down sprayer", ModelNo: "KF-100", ConfidenceScore: 0.8},
	}
	fetch := &fakeFetch{result: product.Result{URL: current.URL, Success: true, Snapshot: &current}}
	pub := memory.New()
	m := newTestMonitor(fetch, &fakeCache{similar: similar}, &fakeStore{}, pub)

	result, err := m.CheckURL(context.Background(), current.URL)
	require.NoError(t, err)
	require.True(t, result.Discontinued)
	require.Len(t, result.Alternatives, 1, "the product itself is excluded")
	require.Equal(t, "https://shop.example.com/faucets/kf-100-v2", result.Alternatives[0].URL)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	item := msgs[0].Payload.(product.ReviewItem)
	require.True(t, item.Discontinued)
	require.Len(t, item.Alternatives, 1)
}

func TestCheckURLFetchFailure(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetch{result: product.Failure("https://shop.example.com/p", product.ErrKindNetwork, fmt.Errorf("dns failure"))}
	m := newTestMonitor(fetch, &fakeCache{}, &fakeStore{}, memory.New())

	_, err := m.CheckURL(context.Background(), "https://shop.example.com/p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "dns failure")
}

func TestCheckURLNoSnapshotIsNotAnError(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetch{result: product.Result{URL: "https://shop.example.com/p", Success: true}}
	pub := memory.New()
	m := newTestMonitor(fetch, &fakeCache{}, &fakeStore{}, pub)

	result, err := m.CheckURL(context.Background(), "https://shop.example.com/p")
	require.NoError(t, err)
	require.Nil(t, result.Snapshot)
	require.Empty(t, pub.Messages())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	snap := snapshotFixture()
	fetch := &fakeFetch{result: product.Result{URL: snap.URL, Success: true, Snapshot: &snap}}
	m := New(Config{Interval: time.Millisecond, URLs: []string{snap.URL}}, fetch, &fakeCache{}, nil, detect.New(detect.DefaultConfig(), nil, nil), nil, &seqIDs{}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, fetch.calls, 1)
}
