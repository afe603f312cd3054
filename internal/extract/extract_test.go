package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"quizzer/internal/render"
)

const previewCap = 6000

func newTestExtractor(maxBytes int) *Extractor {
	return NewExtractor(http.DefaultClient, "quizzer-test/1.0", maxBytes, previewCap, zap.NewNop())
}

func tenRowCSV() string {
	var sb strings.Builder
	sb.WriteString("city,population\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, "city%d,%d\n", i, 1000*i)
	}
	return sb.String()
}

func TestCSVPreview(t *testing.T) {
	e := newTestExtractor(1 << 20)
	att := e.FromBytes([]byte(tenRowCSV()), "text/csv", "data.csv")

	if att.Kind != KindTabular {
		t.Fatalf("kind = %s, want tabular", att.Kind)
	}
	if !strings.Contains(att.Summary, "10 rows") {
		t.Errorf("summary missing row count: %q", att.Summary)
	}
	if !strings.Contains(att.Preview, "Headers: city, population") {
		t.Errorf("preview missing headers: %q", att.Preview)
	}
	if !strings.Contains(att.Preview, "... (5 more rows)") {
		t.Errorf("preview missing remainder marker: %q", att.Preview)
	}
}

func TestJSONPreviewObject(t *testing.T) {
	e := newTestExtractor(1 << 20)
	att := e.FromBytes([]byte(`{"b": 1, "a": 2, "c": [1,2,3]}`), "application/json", "x.json")

	if att.Kind != KindRecord {
		t.Fatalf("kind = %s, want structured-record", att.Kind)
	}
	if !strings.Contains(att.Preview, "a, b, c") {
		t.Errorf("keys not listed deterministically: %q", att.Preview)
	}
	if att.Summary != "object, 3 keys" {
		t.Errorf("summary = %q", att.Summary)
	}
}

func TestMalformedJSONDegrades(t *testing.T) {
	e := newTestExtractor(1 << 20)
	att := e.FromBytes([]byte(`{"unterminated": `), "application/json", "bad.json")

	if att.Warning == "" {
		t.Error("expected a decode warning")
	}
	if !strings.Contains(att.Preview, "unterminated") {
		t.Errorf("degraded preview should carry raw text: %q", att.Preview)
	}
}

func TestPreviewCapIndependentOfSourceSize(t *testing.T) {
	e := newTestExtractor(100 << 20)
	big := strings.Repeat("x", 50<<20) // 50 MB source
	att := e.FromBytes([]byte(big), "text/plain", "big.txt")

	if len(att.Preview) > previewCap {
		t.Errorf("preview %d bytes exceeds cap %d", len(att.Preview), previewCap)
	}
	if att.Size != len(big) {
		t.Errorf("size = %d, want %d", att.Size, len(big))
	}
}

func tenRowWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	if err := f.SetSheetRow("Sheet1", "A1", &[]any{"city", "population"}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for i := 0; i < 10; i++ {
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow("Sheet1", cell, &[]any{fmt.Sprintf("city%d", i), 1000 * i}); err != nil {
			t.Fatalf("write row %d: %v", i, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("serialize workbook: %v", err)
	}
	return buf.Bytes()
}

func TestSheetPreview(t *testing.T) {
	e := newTestExtractor(1_000_000)
	att := e.FromBytes(tenRowWorkbook(t),
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "data.xlsx")

	if att.Kind != KindSheet {
		t.Fatalf("kind = %s, want %s", att.Kind, KindSheet)
	}
	if att.Warning != "" {
		t.Fatalf("unexpected warning: %s", att.Warning)
	}
	if !strings.Contains(att.Preview, "Headers: city, population") {
		t.Errorf("header line missing:\n%s", att.Preview)
	}
	if !strings.Contains(att.Preview, "Row 1: city=city0") {
		t.Errorf("first row missing:\n%s", att.Preview)
	}
	if !strings.Contains(att.Preview, "(5 more rows)") {
		t.Errorf("remainder count missing:\n%s", att.Preview)
	}
	if !strings.Contains(att.Summary, "10 rows") {
		t.Errorf("summary = %q, want 10 rows", att.Summary)
	}
}

func TestSheetPreviewMalformedDegrades(t *testing.T) {
	e := newTestExtractor(1_000_000)
	att := e.FromBytes([]byte("definitely not a workbook"), "", "data.xlsx")

	if att.Kind != KindSheet {
		t.Fatalf("kind = %s, want %s", att.Kind, KindSheet)
	}
	if att.Warning == "" {
		t.Error("expected a decode warning")
	}
	if att.Preview == "" {
		t.Error("expected a degraded raw-text preview")
	}
}

func TestPreviewCapKeepsRuneBoundary(t *testing.T) {
	e := NewExtractor(nil, "quizzer-test/1.0", 1_000_000, 7, zap.NewNop())
	// Three-byte runes; a cap of 7 falls mid-rune.
	att := e.FromBytes([]byte("日本語テキスト"), "text/plain", "note.txt")

	if len(att.Preview) > 7 {
		t.Errorf("preview length = %d, want <= 7", len(att.Preview))
	}
	if !utf8.ValidString(att.Preview) {
		t.Errorf("preview is not valid UTF-8: %q", att.Preview)
	}
	if att.Preview != "日本" {
		t.Errorf("preview = %q, want %q", att.Preview, "日本")
	}
}

func TestEmptySourceYieldsEmptyPreview(t *testing.T) {
	e := newTestExtractor(1 << 20)
	for _, ct := range []string{"text/csv", "application/json", "text/plain", "application/pdf"} {
		att := e.FromBytes(nil, ct, "empty")
		if att.Preview != "" {
			t.Errorf("%s: expected empty preview, got %q", ct, att.Preview)
		}
		if att.Warning != "" {
			t.Errorf("%s: empty source should not warn: %q", ct, att.Warning)
		}
	}
}

func TestSniffWithoutHints(t *testing.T) {
	e := newTestExtractor(1 << 20)
	cases := []struct {
		data []byte
		want Kind
	}{
		{[]byte("%PDF-1.7 stream"), KindDoc},
		{[]byte(`{"k": true}`), KindRecord},
		{[]byte("<!DOCTYPE html><html><body>hi</body></html>"), KindMarkup},
		{[]byte("a,b\n1,2\n3,4\n"), KindTabular},
		{[]byte("just some words"), KindText},
	}
	for _, tc := range cases {
		if got := e.FromBytes(tc.data, "", "blob").Kind; got != tc.want {
			t.Errorf("sniff(%q) = %s, want %s", tc.data[:min(len(tc.data), 20)], got, tc.want)
		}
	}
}

func TestExtractRejectsOversizedDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("z", 2048)))
	}))
	defer srv.Close()

	e := newTestExtractor(1024)
	_, err := e.Extract(context.Background(), srv.URL+"/big.txt")
	if !errors.Is(err, ErrSizeExceeded) {
		t.Errorf("expected ErrSizeExceeded, got %v", err)
	}
}

func TestExtractDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(tenRowCSV()))
	}))
	defer srv.Close()

	e := newTestExtractor(1 << 20)
	att, err := e.Extract(context.Background(), srv.URL+"/data.csv")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if att.Kind != KindTabular || !strings.Contains(att.Summary, "10 rows") {
		t.Errorf("unexpected attachment: kind=%s summary=%q", att.Kind, att.Summary)
	}
}

func TestCandidateURLs(t *testing.T) {
	text := "See https://q.example.com/extra.csv for more. API: https://api.example.com/v1/cities"
	links := []render.Link{
		{URL: "https://q.example.com/files/data.csv", Text: "data.csv"},
		{URL: "https://q.example.com/about", Text: "About us"},
		{URL: "https://q.example.com/files/data.csv", Text: "data.csv"}, // duplicate
		{URL: "https://q.example.com/download/42", Text: "grab it"},
	}

	got := CandidateURLs(text, links, 10)
	want := []string{
		"https://q.example.com/files/data.csv",
		"https://q.example.com/download/42",
		"https://q.example.com/extra.csv",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("candidate mismatch (-want +got):\n%s", diff)
	}
}

func TestCandidateURLsMatchAnchorText(t *testing.T) {
	// The target gives nothing away; only the label names the file.
	links := []render.Link{
		{URL: "https://q.example.com/f/42", Text: "Download the data"},
		{URL: "https://q.example.com/about", Text: "About us"},
	}

	got := CandidateURLs("", links, 10)
	want := []string{"https://q.example.com/f/42"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("candidate mismatch (-want +got):\n%s", diff)
	}
}

func TestCandidateURLsCap(t *testing.T) {
	links := make([]render.Link, 20)
	for i := range links {
		links[i] = render.Link{URL: fmt.Sprintf("https://q.example.com/file%d.csv", i)}
	}
	if got := CandidateURLs("", links, 10); len(got) != 10 {
		t.Errorf("expected cap of 10, got %d", len(got))
	}
}

func TestAPIEndpoint(t *testing.T) {
	if got := APIEndpoint("Fetch the data from this API: https://api.example.com/v2/stats."); got != "https://api.example.com/v2/stats" {
		t.Errorf("APIEndpoint = %q", got)
	}
	if got := APIEndpoint("No endpoints here."); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}
