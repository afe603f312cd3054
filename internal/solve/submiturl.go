package solve

import (
	"fmt"
	"regexp"
	"strings"
)

// submitURLPattern matches the explicit submission instruction quiz pages
// carry, e.g. "Post your answer to https://host/submit".
var submitURLPattern = regexp.MustCompile(`(?i)Post your answer to\s+(https?://[^\s"']+)`)

// originPattern extracts scheme://host for the fallback.
var originPattern = regexp.MustCompile(`^(https?://[^/]+)`)

// SubmitURL derives where an answer goes: the page's explicit instruction
// when present, otherwise /submit on the quiz page's own origin.
func SubmitURL(pageText, pageURL string) (string, error) {
	if m := submitURLPattern.FindStringSubmatch(pageText); m != nil {
		return strings.TrimRight(strings.TrimSpace(m[1]), "."), nil
	}

	m := originPattern.FindStringSubmatch(pageURL)
	if m == nil {
		return "", fmt.Errorf("cannot infer submit URL for %s", pageURL)
	}
	return m[1] + "/submit", nil
}
