package extract

import (
	"regexp"
	"strings"

	"quizzer/internal/render"
)

// fileURLPattern finds bare data-file URLs embedded in question text.
var fileURLPattern = regexp.MustCompile(`(?i)(https?://[^\s"'<>]+\.(?:csv|json|txt|pdf|xlsx|xls))`)

// apiURLPattern finds API endpoints called out by a question.
var apiURLPattern = regexp.MustCompile(`(?i)(?:API|endpoint|url)[:\s]+(https?://[^\s"'<>]+)`)

// fileHints mark anchors that probably point at quiz data. Matched against
// both the target URL and the anchor's visible text, since pages often name
// the file only in the label.
var fileHints = []string{
	".csv", ".json", ".txt", ".pdf", ".xlsx", ".xls", "download", "file", "data",
}

// CandidateURLs collects likely attachment URLs from discovered links and
// from URLs embedded in the question text, deduplicated in order of first
// mention and capped at max.
func CandidateURLs(text string, links []render.Link, max int) []string {
	var candidates []string
	for _, link := range links {
		target := strings.ToLower(link.URL)
		label := strings.ToLower(link.Text)
		for _, hint := range fileHints {
			if strings.Contains(target, hint) || strings.Contains(label, hint) {
				candidates = append(candidates, link.URL)
				break
			}
		}
	}
	for _, m := range fileURLPattern.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}

	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
		if len(out) == max {
			break
		}
	}
	return out
}

// APIEndpoint returns the first API URL the question text mentions, or "".
func APIEndpoint(text string) string {
	m := apiURLPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimRight(m[1], ".,")
}
