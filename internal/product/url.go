package product

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
)

// ValidateURL rejects malformed URLs before any cache or network I/O.
// Only absolute http/https URLs with a host are accepted.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// NormalizeURL standardizes a URL so equivalent spellings share one cache
// key: lowercased scheme/host, default ports and fragments removed, query
// parameters sorted, trailing slash trimmed.
func NormalizeURL(rawURL string) (string, error) {
	normalized, err := purell.NormalizeURLString(strings.TrimSpace(rawURL),
		purell.FlagsSafe|purell.FlagRemoveFragment|purell.FlagSortQuery|purell.FlagRemoveTrailingSlash)
	if err != nil {
		return "", fmt.Errorf("normalize url: %w", err)
	}
	return normalized, nil
}

// HostBlocklist stores exact hosts and suffix wildcards derived from
// configuration. A nil blocklist blocks nothing.
type HostBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewHostBlocklist builds a matcher from patterns like "example.com" or
// "*.internal". Returns nil when no usable patterns are present.
func NewHostBlocklist(patterns []string) *HostBlocklist {
	matcher := &HostBlocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (b *HostBlocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// Blocked reports whether the URL's host matches the blocklist.
func (b *HostBlocklist) Blocked(rawURL string) bool {
	if b == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimSpace(strings.ToLower(u.Hostname()))
	if host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
