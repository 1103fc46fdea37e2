package certs

import (
	"regexp"
	"slices"

	"github.com/samber/lo"
)

var certPattern = regexp.MustCompile(`\b\d{7,9}\b`)

// Extract returns the distinct 7 to 9 digit numbers in text that stand
// alone (no adjacent word characters), sorted ascending. A positive limit
// keeps only the first limit of them.
func Extract(text string, limit int) []string {
	found := lo.Uniq(certPattern.FindAllString(text, -1))
	slices.Sort(found)

	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found
}
