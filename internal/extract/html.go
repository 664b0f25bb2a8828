// Package extract derives a baseline product snapshot from raw HTML.
// It is heuristic by nature: open-graph and schema.org markup when
// present, document structure otherwise. The confidence score records
// how many independent signals agreed.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/spectrail/specwatch/internal/product"
)

var modelNoRE = regexp.MustCompile(`(?i)\b(?:model|sku|item|part)\s*(?:no\.?|number|#)?\s*[:#]?\s*([A-Za-z][A-Za-z0-9][A-Za-z0-9._/-]{1,30})`)

// HTMLExtractor parses retrieved pages with goquery.
type HTMLExtractor struct {
	logger *zap.Logger
}

// New creates an HTMLExtractor.
func New(logger *zap.Logger) *HTMLExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTMLExtractor{logger: logger}
}

// Extract builds a Snapshot from raw content. It returns an error when the
// document cannot be parsed or carries no recognizable product signal;
// callers treat that as a missing snapshot, not a fetch failure.
func (e *HTMLExtractor) Extract(ctx context.Context, raw product.RawContent, sourceURL string) (product.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return product.Snapshot{}, err
	}
	if len(raw.Body) == 0 {
		return product.Snapshot{}, fmt.Errorf("empty document")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if err != nil {
		return product.Snapshot{}, fmt.Errorf("parse document: %w", err)
	}

	snap := product.Snapshot{URL: sourceURL}
	confidence := 0.0

	if desc := e.description(doc); desc != "" {
		snap.Description = desc
		confidence += 0.3
	}
	if img := e.image(doc, raw.FinalURL, sourceURL); img != "" {
		snap.ImageReference = img
		confidence += 0.2
	}
	if typ := e.productType(doc); typ != "" {
		snap.Type = typ
		confidence += 0.2
	}
	if model := e.modelNo(doc); model != "" {
		snap.ModelNo = model
		confidence += 0.2
	}
	snap.Quantity, snap.Verified = e.availability(doc)
	if snap.Verified {
		confidence += 0.1
	}

	if snap.Description == "" && snap.ImageReference == "" && snap.ModelNo == "" {
		return product.Snapshot{}, fmt.Errorf("no product content found in document")
	}
	if confidence > 1 {
		confidence = 1
	}
	snap.ConfidenceScore = confidence

	e.logger.Debug("extracted snapshot",
		zap.String("url", sourceURL),
		zap.Float64("confidence", confidence))
	return snap, nil
}

func (e *HTMLExtractor) description(doc *goquery.Document) string {
	for _, sel := range []string{
		`meta[property="og:description"]`,
		`meta[name="description"]`,
	} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if v := strings.TrimSpace(doc.Find(`[itemprop="description"]`).First().Text()); v != "" {
		return collapseSpace(v)
	}
	if v := strings.TrimSpace(doc.Find("h1").First().Text()); v != "" {
		return collapseSpace(v)
	}
	return collapseSpace(strings.TrimSpace(doc.Find("title").First().Text()))
}

func (e *HTMLExtractor) image(doc *goquery.Document, finalURL, sourceURL string) string {
	candidate := ""
	if v, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		candidate = strings.TrimSpace(v)
	}
	if candidate == "" {
		if v, ok := doc.Find(`link[rel="image_src"]`).First().Attr("href"); ok {
			candidate = strings.TrimSpace(v)
		}
	}
	if candidate == "" {
		if v, ok := doc.Find(`[itemprop="image"]`).First().Attr("src"); ok {
			candidate = strings.TrimSpace(v)
		}
	}
	if candidate == "" {
		if v, ok := doc.Find("img[src]").First().Attr("src"); ok {
			candidate = strings.TrimSpace(v)
		}
	}
	if candidate == "" {
		return ""
	}
	base := finalURL
	if base == "" {
		base = sourceURL
	}
	return resolveRef(base, candidate)
}

func (e *HTMLExtractor) productType(doc *goquery.Document) string {
	for _, sel := range []string{
		`meta[property="product:category"]`,
		`meta[itemprop="category"]`,
	} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if v := strings.TrimSpace(doc.Find(`[itemprop="category"]`).First().Text()); v != "" {
		return collapseSpace(v)
	}
	// Last breadcrumb segment before the product itself is usually the
	// category.
	crumbs := doc.Find(`nav[aria-label="breadcrumb"] li, .breadcrumb li, .breadcrumbs li`)
	if crumbs.Length() >= 2 {
		if v := strings.TrimSpace(crumbs.Eq(crumbs.Length() - 2).Text()); v != "" {
			return collapseSpace(v)
		}
	}
	return ""
}

func (e *HTMLExtractor) modelNo(doc *goquery.Document) string {
	for _, sel := range []string{`[itemprop="model"]`, `[itemprop="sku"]`, `[itemprop="mpn"]`} {
		node := doc.Find(sel).First()
		if v, ok := node.Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if v := strings.TrimSpace(node.Text()); v != "" {
			return collapseSpace(v)
		}
	}
	if m := modelNoRE.FindStringSubmatch(doc.Text()); m != nil {
		return m[1]
	}
	return ""
}

// availability reports a coarse quantity signal and whether the page
// stated it explicitly.
func (e *HTMLExtractor) availability(doc *goquery.Document) (int, bool) {
	value := ""
	for _, sel := range []string{
		`meta[property="og:availability"]`,
		`meta[property="product:availability"]`,
		`link[itemprop="availability"]`,
	} {
		node := doc.Find(sel).First()
		if v, ok := node.Attr("content"); ok {
			value = v
			break
		}
		if v, ok := node.Attr("href"); ok {
			value = v
			break
		}
	}
	switch {
	case value == "":
		return 1, false
	case strings.Contains(strings.ToLower(value), "outofstock"),
		strings.Contains(strings.ToLower(value), "out of stock"),
		strings.Contains(strings.ToLower(value), "discontinued"):
		return 0, true
	default:
		return 1, true
	}
}

func resolveRef(base, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if refURL.IsAbs() {
		return refURL.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
