package catalog

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeTerm trims s and folds it to Unicode NFC so that visually equal
// titles produce identical queries.
func NormalizeTerm(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// AlbumFromTags returns the value of the first "album:" tag, if any.
func AlbumFromTags(tags []string) string {
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		idx := strings.Index(strings.ToLower(tag), "album:")
		if idx < 0 {
			continue
		}
		if v := NormalizeTerm(tag[idx+len("album:"):]); v != "" {
			return v
		}
	}
	return ""
}
