package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"quizzer/internal/render"
)

// previewRows is how many data rows a tabular preview shows.
const previewRows = 5

// previewKeys is how many object keys a record preview names.
const previewKeys = 10

// classify picks an attachment kind: declared content type first, filename
// extension second, content sniffing third, plain text last.
func classify(contentType, name string, data []byte) Kind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "csv"):
		return KindTabular
	case strings.Contains(ct, "json"):
		return KindRecord
	case strings.Contains(ct, "pdf"):
		return KindDoc
	case strings.Contains(ct, "spreadsheetml"), strings.Contains(ct, "ms-excel"):
		return KindSheet
	case strings.Contains(ct, "html"):
		return KindMarkup
	}

	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return KindTabular
	case strings.HasSuffix(lower, ".json"):
		return KindRecord
	case strings.HasSuffix(lower, ".pdf"):
		return KindDoc
	case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xls"):
		return KindSheet
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
		return KindMarkup
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".md"):
		return KindText
	}

	return sniff(data)
}

// sniff inspects content when no hint identifies it.
func sniff(data []byte) Kind {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.HasPrefix(trimmed, []byte("%PDF-")):
		return KindDoc
	case len(trimmed) > 0 && json.Valid(trimmed):
		return KindRecord
	case bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<!doctype")),
		bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<html")):
		return KindMarkup
	case looksTabular(trimmed):
		return KindTabular
	}
	return KindText
}

// looksTabular reports whether the first two lines have a matching,
// nonzero comma count.
func looksTabular(data []byte) bool {
	lines := bytes.SplitN(data, []byte("\n"), 3)
	if len(lines) < 2 {
		return false
	}
	first := bytes.Count(lines[0], []byte(","))
	return first > 0 && bytes.Count(lines[1], []byte(",")) == first
}

// csvPreview renders the header plus the first rows and a remainder count.
func csvPreview(data []byte) (preview, summary string, err error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", "", nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return "", "", fmt.Errorf("csv parse: %w", err)
	}
	if len(records) == 0 {
		return "", "", nil
	}

	header := records[0]
	rows := records[1:]

	var sb strings.Builder
	fmt.Fprintf(&sb, "Headers: %s\n", strings.Join(header, ", "))
	for i, row := range rows {
		if i >= previewRows {
			fmt.Fprintf(&sb, "... (%d more rows)\n", len(rows)-previewRows)
			break
		}
		pairs := make([]string, 0, len(row))
		for j, val := range row {
			col := fmt.Sprintf("col%d", j+1)
			if j < len(header) {
				col = header[j]
			}
			pairs = append(pairs, col+"="+val)
		}
		fmt.Fprintf(&sb, "Row %d: %s\n", i+1, strings.Join(pairs, ", "))
	}

	summary = fmt.Sprintf("%d columns (%s), %d rows",
		len(header), strings.Join(header, ", "), len(rows))
	return strings.TrimRight(sb.String(), "\n"), summary, nil
}

// jsonPreview summarizes a JSON document without reproducing it.
func jsonPreview(data []byte) (preview, summary string, err error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", "", nil
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return "", "", fmt.Errorf("json parse: %w", err)
	}

	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		shown := keys
		if len(shown) > previewKeys {
			shown = shown[:previewKeys]
		}
		preview = fmt.Sprintf("JSON object with keys: %s", strings.Join(shown, ", "))
		if len(keys) > previewKeys {
			preview += fmt.Sprintf(" ... (%d more keys)", len(keys)-previewKeys)
		}
		summary = fmt.Sprintf("object, %d keys", len(keys))
	case []any:
		preview = fmt.Sprintf("JSON array with %d items", len(v))
		if len(v) > 0 {
			first, err := json.MarshalIndent(v[0], "", "  ")
			if err == nil {
				if len(first) > 500 {
					first = first[:500]
				}
				preview += "\nFirst item: " + string(first)
			}
		}
		summary = fmt.Sprintf("array, %d items", len(v))
	default:
		preview = fmt.Sprintf("JSON value: %.500v", v)
		summary = "scalar"
	}
	return preview, summary, nil
}

// sheetPreview renders the first worksheet like csvPreview: header plus the
// first rows and a remainder count. Legacy .xls and corrupt workbooks fail
// here and degrade to a raw-text preview upstream.
func sheetPreview(data []byte) (preview, summary string, err error) {
	if len(data) == 0 {
		return "", "", nil
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("xlsx parse: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", "", nil
	}
	name := sheets[0]
	rows, err := f.GetRows(name)
	if err != nil {
		return "", "", fmt.Errorf("xlsx rows: %w", err)
	}
	if len(rows) == 0 {
		return "", fmt.Sprintf("sheet %q, empty", name), nil
	}

	header := rows[0]
	body := rows[1:]

	var sb strings.Builder
	fmt.Fprintf(&sb, "Sheet: %s\n", name)
	fmt.Fprintf(&sb, "Headers: %s\n", strings.Join(header, ", "))
	for i, row := range body {
		if i >= previewRows {
			fmt.Fprintf(&sb, "... (%d more rows)\n", len(body)-previewRows)
			break
		}
		pairs := make([]string, 0, len(row))
		for j, val := range row {
			col := fmt.Sprintf("col%d", j+1)
			if j < len(header) {
				col = header[j]
			}
			pairs = append(pairs, col+"="+val)
		}
		fmt.Fprintf(&sb, "Row %d: %s\n", i+1, strings.Join(pairs, ", "))
	}

	summary = fmt.Sprintf("%d sheets, %q: %d columns (%s), %d rows",
		len(sheets), name, len(header), strings.Join(header, ", "), len(body))
	return strings.TrimRight(sb.String(), "\n"), summary, nil
}

// pdfPreview reports document size and salvages any printable text runs.
// There is no full PDF decoder here; the stub plus salvage matches what the
// prompt actually needs from most quiz documents.
func pdfPreview(data []byte) (preview, summary string) {
	if len(data) == 0 {
		return "", ""
	}
	summary = fmt.Sprintf("PDF, %d bytes", len(data))
	preview = fmt.Sprintf("[PDF document, %d bytes]", len(data))
	if salvaged := printableRuns(data, 2000); salvaged != "" {
		preview += "\nExtracted text: " + salvaged
	}
	return preview, summary
}

// printableRuns collects ASCII runs of at least minRunLen, capped at max.
func printableRuns(data []byte, max int) string {
	const minRunLen = 6
	var sb strings.Builder
	var run []byte
	flush := func() {
		if len(run) >= minRunLen {
			if sb.Len() > 0 {
				sb.WriteString(" ")
			}
			sb.Write(run)
		}
		run = run[:0]
	}
	for _, b := range data {
		if b >= 0x20 && b < 0x7f {
			run = append(run, b)
			continue
		}
		flush()
		if sb.Len() >= max {
			break
		}
	}
	flush()
	out := sb.String()
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// htmlPreview extracts visible text from markup.
func htmlPreview(data []byte, limit int) string {
	return truncate(render.VisibleText(string(data)), limit)
}

// textPreview returns the leading bytes decoded leniently.
func textPreview(data []byte, limit int) string {
	return truncate(strings.ToValidUTF8(string(data), "�"), limit)
}

// truncate cuts s at limit bytes, backing off to a rune boundary so the
// cap never leaves a split rune at the end.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
