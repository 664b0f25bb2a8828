package fetcher

import (
	"bytes"
	"fmt"
	"strings"
)

// contentCheck flags retrieved pages that came back technically successful
// but unusable: bot walls, challenge pages, near-empty shells. An unusable
// page from a non-final strategy escalates the fallback chain.
type contentCheck struct {
	minBytes int
	keywords [][]byte
}

func defaultBlockKeywords() []string {
	return []string{
		"captcha",
		"access denied",
		"verify you are human",
		"are you a robot",
		"enable javascript to continue",
	}
}

func newContentCheck(minBytes int, keywords []string) *contentCheck {
	lowered := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowered = append(lowered, bytes.ToLower([]byte(kw)))
	}
	return &contentCheck{minBytes: minBytes, keywords: lowered}
}

// unusable returns a reason when the body should not be trusted, nil when
// it looks like a real page.
func (c *contentCheck) unusable(body []byte) error {
	if c.minBytes > 0 && len(body) < c.minBytes {
		return fmt.Errorf("content below %d bytes", c.minBytes)
	}
	if len(body) == 0 || len(c.keywords) == 0 {
		return nil
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range c.keywords {
		if bytes.Contains(lowerBody, kw) {
			return fmt.Errorf("content matches block marker %q", string(kw))
		}
	}
	return nil
}
