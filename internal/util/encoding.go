package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeUsername folds compatibility forms and case so that visually
// identical usernames compare equal.
func NormalizeUsername(s string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(s)))
}
