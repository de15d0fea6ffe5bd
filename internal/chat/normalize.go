package chat

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeBody trims surrounding whitespace and applies Unicode NFC
// normalization, so composed and decomposed input render and compare the same.
func NormalizeBody(body string) string {
	return norm.NFC.String(strings.TrimSpace(body))
}
