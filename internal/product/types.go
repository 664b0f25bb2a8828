// Package product defines core types shared across subsystems.
package product

import "time"

// Snapshot is the immutable structured record of a product page at one fetch.
// A refresh always produces a new Snapshot value, never an in-place edit.
type Snapshot struct {
	URL             string     `json:"url"`
	ImageReference  string     `json:"image_reference,omitempty"`
	Type            string     `json:"type"`
	Description     string     `json:"description"`
	ModelNo         string     `json:"model_no,omitempty"`
	Quantity        int        `json:"quantity"`
	ConfidenceScore float64    `json:"confidence_score"`
	Verified        bool       `json:"verified"`
	LastChecked     *time.Time `json:"last_checked,omitempty"`
}

// ChangeType classifies a single detected field transition.
type ChangeType string

// Change type values produced by the detector.
const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// Change records one field-level difference between two snapshots of the
// same product. Append-only; never stored in the cache.
type Change struct {
	Field      string     `json:"field"`
	OldValue   any        `json:"old_value"`
	NewValue   any        `json:"new_value"`
	ChangeType ChangeType `json:"change_type"`
	DetectedAt time.Time  `json:"detected_at"`
}

// ChangeSummary aggregates a change list for downstream review.
type ChangeSummary struct {
	Count    int                `json:"count"`
	Fields   []string           `json:"fields"`
	PerType  map[ChangeType]int `json:"per_type_counts"`
	Critical []Change           `json:"critical_changes"`
}

// SimilarityRecord is the compact descriptor stored in the per-type
// similarity index. It expires on its own fixed horizon, independent of
// the snapshot TTL.
type SimilarityRecord struct {
	URL             string  `json:"url"`
	Type            string  `json:"type"`
	Description     string  `json:"description"`
	ModelNo         string  `json:"model_no"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Snapshot converts the compact descriptor back into a minimal Snapshot,
// suitable for alternative ranking.
func (r SimilarityRecord) Snapshot() Snapshot {
	return Snapshot{
		URL:             r.URL,
		Type:            r.Type,
		Description:     r.Description,
		ModelNo:         r.ModelNo,
		ConfidenceScore: r.ConfidenceScore,
		Quantity:        1,
	}
}

// FetchMethod identifies one of the ordered retrieval strategies.
type FetchMethod string

// Retrieval strategies in fallback order, plus the pseudo-method reported
// when a cached snapshot satisfies the request.
const (
	MethodHTTP     FetchMethod = "http"
	MethodHeadless FetchMethod = "headless"
	MethodExtract  FetchMethod = "extract_api"
	MethodCache    FetchMethod = "cache"
)

// ErrorKind buckets per-item failures so callers can distinguish "no data"
// from "operation failed" without parsing message text.
type ErrorKind string

// Error kinds surfaced on fetch and comparison results.
const (
	ErrKindNone             ErrorKind = ""
	ErrKindNetwork          ErrorKind = "network"
	ErrKindCacheUnavailable ErrorKind = "cache_unavailable"
	ErrKindMalformedInput   ErrorKind = "malformed_input"
	ErrKindComparison       ErrorKind = "comparison"
)

// RawContent is what a retrieval strategy hands back before extraction.
type RawContent struct {
	Body       []byte
	FinalURL   string
	StatusCode int
}

// Result is the outcome of one fetch. Batch operations return exactly one
// Result per input URL, success or failure.
type Result struct {
	URL       string        `json:"url"`
	Success   bool          `json:"success"`
	Content   []byte        `json:"-"`
	Error     string        `json:"error,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Method    FetchMethod   `json:"method_used,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
	FromCache bool          `json:"from_cache"`
	Snapshot  *Snapshot     `json:"snapshot,omitempty"`
}

// Failure builds a failed Result for a URL.
func Failure(url string, kind ErrorKind, err error) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Result{URL: url, Success: false, Error: msg, ErrorKind: kind}
}

// FetchAttempt captures one strategy attempt for diagnostics. Transient;
// never persisted.
type FetchAttempt struct {
	Method   FetchMethod
	Duration time.Duration
	Success  bool
	Err      error
}

// ReviewItem is handed to the verification queue when monitoring finds
// something a human should look at.
type ReviewItem struct {
	ID           string        `json:"id"`
	URL          string        `json:"url"`
	Changes      []Change      `json:"changes"`
	Summary      ChangeSummary `json:"summary"`
	Discontinued bool          `json:"discontinued"`
	Alternatives []Snapshot    `json:"alternatives,omitempty"`
	DetectedAt   time.Time     `json:"detected_at"`
}
