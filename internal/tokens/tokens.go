// Package tokens approximates token counts when a provider reports none.
//
// Han ideographs count one token per two characters, rounded up. Everything
// else counts one token per whitespace-separated word.
package tokens

import (
	"strings"
	"unicode"
)

// Estimate returns the approximate token count of text.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	han := 0
	rest := strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Han, r) {
			han++
			return ' '
		}
		return r
	}, text)
	return (han+1)/2 + len(strings.Fields(rest))
}
