package helpers

import (
	"regexp"
	"strings"
)

// MaxTagValueLength is the longest value S3 accepts for an object tag.
const MaxTagValueLength = 256

var (
	filenameDisallowed = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	repeatedHyphens    = regexp.MustCompile(`-+`)
	tagValueDisallowed = regexp.MustCompile(`[^a-zA-Z0-9+=._:/@ -]`)
)

// SanitizeFilenameComponent makes s safe to use as one part of an
// underscore-separated object name. The result is trimmed, "@" becomes "AT",
// every character other than ASCII letters, digits, hyphen and period is
// replaced by a hyphen, and runs of hyphens collapse to one.
//
// The result never contains an underscore, so components stay separable.
func SanitizeFilenameComponent(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "@", "AT")
	s = filenameDisallowed.ReplaceAllString(s, "-")
	return repeatedHyphens.ReplaceAllString(s, "-")
}

// SanitizeTagValue makes s acceptable as an S3 object tag value. The result is
// trimmed, stripped of every character outside ASCII letters, digits, space
// and "+-=._:/@", and truncated to MaxTagValueLength characters.
func SanitizeTagValue(s string) string {
	s = strings.TrimSpace(s)
	s = tagValueDisallowed.ReplaceAllString(s, "")
	// Only single-byte characters survive the filter
	if len(s) > MaxTagValueLength {
		s = s[:MaxTagValueLength]
	}
	return s
}
