// Package detect compares product snapshots, classifies discontinuation
// and ranks alternatives. Everything here is a pure function of its
// inputs; malformed input yields an empty result, never a panic, so
// downstream monitoring cannot block the pipeline.
package detect

import (
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spectrail/specwatch/internal/product"
)

// Monitored snapshot fields, compared in this order.
const (
	FieldDescription = "description"
	FieldType        = "type"
	FieldModelNo     = "model_no"
	FieldImage       = "image_reference"
	FieldQuantity    = "quantity"
)

// Config holds the detection heuristics. The thresholds come from field
// observation rather than derivation; keep them configurable and do not
// assume they are well tuned.
type Config struct {
	// DescriptionSimilarity is the Jaccard overlap below which a
	// description counts as changed.
	DescriptionSimilarity float64
	// NumericDelta is the relative change above which a numeric field
	// counts as changed.
	NumericDelta float64
	// MinAlternativeScore filters weak candidates out of ranking.
	MinAlternativeScore float64
	// DiscontinuedConfidence marks snapshots below this score as likely
	// dead pages.
	DiscontinuedConfidence float64
	// DiscontinuationKeywords flag a product as discontinued when found
	// in its description.
	DiscontinuationKeywords []string
	// CriticalKeywords escalate a description change when newly
	// introduced.
	CriticalKeywords []string
}

// DefaultConfig returns the stock heuristics.
func DefaultConfig() Config {
	return Config{
		DescriptionSimilarity:  0.8,
		NumericDelta:           0.05,
		MinAlternativeScore:    0.3,
		DiscontinuedConfidence: 0.2,
		DiscontinuationKeywords: []string{
			"discontinued",
			"no longer available",
			"out of stock",
			"unavailable",
			"obsolete",
			"retired",
			"superseded",
			"end of life",
		},
		CriticalKeywords: []string{
			"discontinued",
			"unavailable",
			"price",
			"cost",
			"$",
		},
	}
}

// Alternative pairs a candidate snapshot with its computed score.
type Alternative struct {
	Snapshot product.Snapshot
	Score    float64
}

// Detector applies the configured heuristics.
type Detector struct {
	cfg    Config
	clock  product.Clock
	logger *zap.Logger
}

// New creates a Detector. Zero-valued thresholds fall back to defaults so
// a partially filled Config stays usable.
func New(cfg Config, clock product.Clock, logger *zap.Logger) *Detector {
	defaults := DefaultConfig()
	if cfg.DescriptionSimilarity <= 0 {
		cfg.DescriptionSimilarity = defaults.DescriptionSimilarity
	}
	if cfg.NumericDelta <= 0 {
		cfg.NumericDelta = defaults.NumericDelta
	}
	if cfg.MinAlternativeScore <= 0 {
		cfg.MinAlternativeScore = defaults.MinAlternativeScore
	}
	if cfg.DiscontinuedConfidence <= 0 {
		cfg.DiscontinuedConfidence = defaults.DiscontinuedConfidence
	}
	if len(cfg.DiscontinuationKeywords) == 0 {
		cfg.DiscontinuationKeywords = defaults.DiscontinuationKeywords
	}
	if len(cfg.CriticalKeywords) == 0 {
		cfg.CriticalKeywords = defaults.CriticalKeywords
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{cfg: cfg, clock: clock, logger: logger}
}

// DetectChanges compares two snapshots of the same product identity and
// reports significant field transitions. Comparing snapshots of different
// products is not meaningful; callers own that precondition.
func (d *Detector) DetectChanges(oldSnap, newSnap product.Snapshot) []product.Change {
	if oldSnap.URL == "" && newSnap.URL == "" {
		d.logger.Warn("change detection skipped: empty snapshots")
		return nil
	}

	now := d.now()
	var changes []product.Change

	if c, ok := d.compareText(FieldDescription, oldSnap.Description, newSnap.Description, true); ok {
		c.DetectedAt = now
		changes = append(changes, c)
	}
	if c, ok := d.compareText(FieldType, oldSnap.Type, newSnap.Type, false); ok {
		c.DetectedAt = now
		changes = append(changes, c)
	}
	if c, ok := d.compareText(FieldModelNo, oldSnap.ModelNo, newSnap.ModelNo, false); ok {
		c.DetectedAt = now
		changes = append(changes, c)
	}
	if c, ok := d.compareText(FieldImage, oldSnap.ImageReference, newSnap.ImageReference, false); ok {
		c.DetectedAt = now
		changes = append(changes, c)
	}
	if c, ok := d.compareQuantity(oldSnap.Quantity, newSnap.Quantity); ok {
		c.DetectedAt = now
		changes = append(changes, c)
	}

	return changes
}

// compareText reports a change when normalized values differ. When fuzzy
// is set, near-identical strings (Jaccard overlap at or above the
// threshold) are treated as unchanged.
func (d *Detector) compareText(field, oldVal, newVal string, fuzzy bool) (product.Change, bool) {
	oldNorm := normalizeText(oldVal)
	newNorm := normalizeText(newVal)

	switch {
	case oldNorm == "" && newNorm == "":
		return product.Change{}, false
	case oldNorm == "":
		return product.Change{Field: field, OldValue: oldVal, NewValue: newVal, ChangeType: product.ChangeAdded}, true
	case newNorm == "":
		return product.Change{Field: field, OldValue: oldVal, NewValue: newVal, ChangeType: product.ChangeRemoved}, true
	case oldNorm == newNorm:
		return product.Change{}, false
	}

	if fuzzy && jaccard(oldNorm, newNorm) >= d.cfg.DescriptionSimilarity {
		return product.Change{}, false
	}
	return product.Change{Field: field, OldValue: oldVal, NewValue: newVal, ChangeType: product.ChangeModified}, true
}

// compareQuantity reports a change when the relative delta exceeds the
// threshold. Transitions from or to zero are always reported because
// relative delta is undefined at zero.
func (d *Detector) compareQuantity(oldVal, newVal int) (product.Change, bool) {
	if oldVal == newVal {
		return product.Change{}, false
	}
	switch {
	case oldVal == 0:
		return product.Change{Field: FieldQuantity, OldValue: oldVal, NewValue: newVal, ChangeType: product.ChangeAdded}, true
	case newVal == 0:
		return product.Change{Field: FieldQuantity, OldValue: oldVal, NewValue: newVal, ChangeType: product.ChangeRemoved}, true
	}
	delta := math.Abs(float64(newVal)-float64(oldVal)) / math.Abs(float64(oldVal))
	if delta <= d.cfg.NumericDelta {
		return product.Change{}, false
	}
	return product.Change{Field: FieldQuantity, OldValue: oldVal, NewValue: newVal, ChangeType: product.ChangeModified}, true
}

// IsDiscontinued classifies whether a product looks no longer available.
// Deterministic: the same snapshot always yields the same answer.
func (d *Detector) IsDiscontinued(snap product.Snapshot) bool {
	desc := strings.ToLower(snap.Description)
	for _, keyword := range d.cfg.DiscontinuationKeywords {
		if strings.Contains(desc, strings.ToLower(keyword)) {
			return true
		}
	}
	if snap.ConfidenceScore < d.cfg.DiscontinuedConfidence {
		return true
	}
	image := strings.ToLower(snap.ImageReference)
	if image == "" || strings.Contains(image, "placeholder") {
		return true
	}
	return false
}

// FindAlternatives ranks same-type candidates by similarity to the given
// snapshot. The query itself and candidates at or below the minimum score
// are excluded; the caller truncates to the count it wants.
func (d *Detector) FindAlternatives(snap product.Snapshot, candidates []product.Snapshot) []Alternative {
	queryType := normalizeText(snap.Type)
	if queryType == "" {
		d.logger.Warn("alternative ranking skipped: snapshot has no type", zap.String("url", snap.URL))
		return nil
	}
	queryDesc := normalizeText(snap.Description)
	queryModel := normalizeText(snap.ModelNo)

	var ranked []Alternative
	for _, candidate := range candidates {
		if candidate.URL == snap.URL {
			continue
		}
		if normalizeText(candidate.Type) != queryType {
			continue
		}
		// Type match always contributes its full weight after filtering.
		score := 0.3
		score += 0.4 * jaccard(queryDesc, normalizeText(candidate.Description))
		if queryModel != "" && candidate.ModelNo != "" {
			score += 0.2 * jaccard(queryModel, normalizeText(candidate.ModelNo))
		}
		if score > d.cfg.MinAlternativeScore {
			ranked = append(ranked, Alternative{Snapshot: candidate, Score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Summarize aggregates a change list. A change is critical when it hits
// the type or model number, or when the new description introduces a
// critical keyword the old one lacked.
func (d *Detector) Summarize(changes []product.Change) product.ChangeSummary {
	summary := product.ChangeSummary{
		Count:   len(changes),
		PerType: make(map[product.ChangeType]int),
	}
	for _, change := range changes {
		summary.Fields = append(summary.Fields, change.Field)
		summary.PerType[change.ChangeType]++
		if d.isCritical(change) {
			summary.Critical = append(summary.Critical, change)
		}
	}
	return summary
}

func (d *Detector) isCritical(change product.Change) bool {
	if change.Field == FieldType || change.Field == FieldModelNo {
		return true
	}
	if change.Field != FieldDescription {
		return false
	}
	oldDesc := strings.ToLower(asString(change.OldValue))
	newDesc := strings.ToLower(asString(change.NewValue))
	for _, keyword := range d.cfg.CriticalKeywords {
		kw := strings.ToLower(keyword)
		if strings.Contains(newDesc, kw) && !strings.Contains(oldDesc, kw) {
			return true
		}
	}
	return false
}

func (d *Detector) now() time.Time {
	if d.clock != nil {
		return d.clock.Now()
	}
	return time.Now().UTC()
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
