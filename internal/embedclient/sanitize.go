package embedclient

import (
	"regexp"
	"strings"
)

var base64DataURIPattern = regexp.MustCompile(`data:[a-zA-Z0-9/+.\-]+;base64,[A-Za-z0-9+/=]+`)

// sanitize strips control bytes (keeping newline and tab), replaces
// embedded base64 data URIs with a short placeholder, and truncates to
// MaxInputChars, per spec.md §4.2.
func sanitize(text string) string {
	text = base64DataURIPattern.ReplaceAllString(text, "[image]")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || r >= 0x20 {
			b.WriteRune(r)
		}
	}
	out := b.String()

	if len(out) > MaxInputChars {
		out = out[:MaxInputChars]
	}
	return out
}
