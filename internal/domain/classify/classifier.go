// Package classify provides pattern-based sensitivity tagging for intent
// payloads. Detection is pure and deterministic: no I/O, stable tag order,
// and idempotent when applied repeatedly to the same intent.
package classify

import (
	"fmt"
	"regexp"

	"github.com/guardian-hq/guardian/internal/domain/intent"
)

// Sensitivity tags. Closed set: classifiers only ever emit these.
const (
	TagSecret = "SECRET"
	TagPII    = "PII"
	TagPHI    = "PHI"
	TagPCI    = "PCI"
)

var (
	// Token or key assignment: api_key=..., secret: "...", token = '...'.
	reSecret = regexp.MustCompile(`(?i)(api[_-]?key|secret|token)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}`)
	// US Social Security Number.
	reSSN = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	// RFC-5322-ish email address.
	reEmail = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

// Classify inspects the intent's action args and returns sensitivity tags in
// detection order, without duplicates. Tags already present on the intent are
// not filtered here; merging is the caller's concern (Intent.AddClassifications).
func Classify(in *intent.Intent) []string {
	text := flattenArgs(in)

	var tags []string
	if reSecret.MatchString(text) {
		tags = append(tags, TagSecret)
	}
	if reSSN.MatchString(text) {
		tags = appendUnique(tags, TagPII)
	}
	if reEmail.MatchString(text) {
		tags = appendUnique(tags, TagPII)
	}
	return tags
}

// flattenArgs serializes action args for pattern matching. fmt renders maps
// with sorted keys and without quoting, so "token: VALUE" style assignments
// stay visible to the detectors.
func flattenArgs(in *intent.Intent) string {
	if len(in.Action.Args) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", in.Action.Args)
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}
