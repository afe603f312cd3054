// Package extract classifies quiz attachments and produces bounded previews
// and structured summaries for prompt assembly.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Kind is an attachment's classified media kind.
type Kind string

const (
	KindTabular Kind = "tabular"           // CSV and friends
	KindRecord  Kind = "structured-record" // JSON
	KindDoc     Kind = "document"          // PDF
	KindSheet   Kind = "spreadsheet"       // xlsx workbooks
	KindMarkup  Kind = "markup"            // HTML
	KindText    Kind = "plain-text"        // everything else
)

// ErrSizeExceeded marks a download larger than the configured cap. The
// source is rejected, not truncated.
var ErrSizeExceeded = errors.New("attachment exceeds size cap")

// Attachment is a classified piece of auxiliary quiz data.
type Attachment struct {
	URL     string
	Kind    Kind
	Size    int
	Preview string // bounded human-readable excerpt
	Summary string // compact structure description (columns, counts)
	Warning string // non-fatal decode problem, if any
}

// PromptBlock formats the attachment for inclusion in a model prompt.
func (a Attachment) PromptBlock() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "FILE: %s\n", a.URL)
	fmt.Fprintf(&sb, "Type: %s\n", a.Kind)
	fmt.Fprintf(&sb, "Size: %d bytes\n", a.Size)
	if a.Summary != "" {
		fmt.Fprintf(&sb, "Structure: %s\n", a.Summary)
	}
	if a.Warning != "" {
		fmt.Fprintf(&sb, "Warning: %s\n", a.Warning)
	}
	sb.WriteString("\nCONTENT PREVIEW:\n")
	if a.Preview == "" {
		sb.WriteString("[no preview available]")
	} else {
		sb.WriteString(a.Preview)
	}
	return sb.String()
}

// Extractor downloads and classifies attachments. Stateless across calls;
// safe for concurrent sessions.
type Extractor struct {
	client     *http.Client
	userAgent  string
	maxBytes   int
	previewCap int
	logger     *zap.Logger
}

// NewExtractor builds an Extractor. maxBytes bounds downloads, previewCap
// bounds every preview independent of source size.
func NewExtractor(client *http.Client, userAgent string, maxBytes, previewCap int, logger *zap.Logger) *Extractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Extractor{
		client:     client,
		userAgent:  userAgent,
		maxBytes:   maxBytes,
		previewCap: previewCap,
		logger:     logger,
	}
}

// Extract downloads a URL and classifies its payload. Oversized sources
// fail with ErrSizeExceeded; decode failures degrade to a raw-text preview
// with a recorded warning rather than an error.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (Attachment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Attachment{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return Attachment{}, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Attachment{}, fmt.Errorf("download %s: HTTP %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(e.maxBytes)+1))
	if err != nil {
		return Attachment{}, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if len(data) > e.maxBytes {
		return Attachment{}, fmt.Errorf("%s (%d byte cap): %w", rawURL, e.maxBytes, ErrSizeExceeded)
	}

	att := e.FromBytes(data, resp.Header.Get("Content-Type"), rawURL)
	if att.Warning != "" {
		e.logger.Warn("attachment decode degraded",
			zap.String("url", rawURL), zap.String("warning", att.Warning))
	}
	return att, nil
}

// FromBytes classifies inline bytes. It never fails: malformed payloads
// degrade to a plain-text preview with a warning.
func (e *Extractor) FromBytes(data []byte, contentType, name string) Attachment {
	att := Attachment{
		URL:  name,
		Kind: classify(contentType, name, data),
		Size: len(data),
	}

	var err error
	switch att.Kind {
	case KindTabular:
		att.Preview, att.Summary, err = csvPreview(data)
	case KindRecord:
		att.Preview, att.Summary, err = jsonPreview(data)
	case KindDoc:
		att.Preview, att.Summary = pdfPreview(data)
	case KindSheet:
		att.Preview, att.Summary, err = sheetPreview(data)
	case KindMarkup:
		att.Preview = htmlPreview(data, e.previewCap)
	default:
		att.Preview = textPreview(data, e.previewCap)
	}
	if err != nil {
		att.Warning = err.Error()
		att.Preview = textPreview(data, e.previewCap)
	}

	att.Preview = truncate(att.Preview, e.previewCap)
	return att
}

// FetchAPI retrieves an API endpoint mentioned by a question and returns a
// bounded response body for prompt inclusion.
func (e *Extractor) FetchAPI(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch api %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch api %s: HTTP %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(e.maxBytes)))
	if err != nil {
		return "", fmt.Errorf("read api %s: %w", rawURL, err)
	}

	text := string(body)
	if len(text) > apiBodyCap {
		text = text[:apiBodyCap]
	}
	return text, nil
}

// apiBodyCap bounds API response bodies in prompts.
const apiBodyCap = 5000
