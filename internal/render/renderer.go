package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"quizzer/internal/config"
)

// maxStaticBody caps how much of a statically fetched page is read.
const maxStaticBody = 5 << 20

// minTextYield is the visible-text length below which a static result is
// considered script-driven and handed to the browser.
const minTextYield = 40

// Renderer fetches and renders pages. Safe for concurrent use; each dynamic
// render launches its own browser so sessions share no mutable state.
type Renderer struct {
	cfg        config.RenderConfig
	userAgent  string
	static     *http.Client
	navTimeout time.Duration
	logger     *zap.Logger
}

// NewRenderer builds a Renderer from render config.
func NewRenderer(cfg *config.Config, logger *zap.Logger) *Renderer {
	return &Renderer{
		cfg:       cfg.Render,
		userAgent: cfg.Quiz.UserAgent,
		static: &http.Client{
			Timeout: cfg.GetStaticTimeout(),
		},
		navTimeout: cfg.GetNavigationTimeout(),
		logger:     logger,
	}
}

// Render fetches a page. Static fetch first; the browser is used only when
// the static result looks incomplete or script-driven.
func (r *Renderer) Render(ctx context.Context, pageURL string) (*Page, error) {
	page, err := r.renderStatic(ctx, pageURL)
	if err != nil {
		r.logger.Debug("static fetch failed, escalating to browser",
			zap.String("url", pageURL), zap.Error(err))
		return r.renderDynamic(ctx, pageURL)
	}
	if needsBrowser(page.HTML, page.Text) {
		r.logger.Debug("static result looks script-driven, escalating to browser",
			zap.String("url", pageURL))
		return r.renderDynamic(ctx, pageURL)
	}
	return page, nil
}

func (r *Renderer) renderStatic(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.static.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStaticBody))
	if err != nil {
		return nil, err
	}

	rawHTML := string(body)
	return &Page{
		URL:   pageURL,
		HTML:  rawHTML,
		Text:  VisibleText(rawHTML),
		Links: Links(rawHTML, pageURL),
	}, nil
}

func (r *Renderer) renderDynamic(ctx context.Context, pageURL string) (*Page, error) {
	l := launcher.New().Headless(r.cfg.Headless)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	defer func() { _ = browser.Close() }()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             r.cfg.ViewportWidth,
		Height:            r.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		r.logger.Warn("set viewport", zap.Error(err))
	}

	if err := page.Timeout(r.navTimeout).Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	if err := page.Timeout(r.navTimeout).WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load %s: %w", pageURL, err)
	}

	rawHTML, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("page html: %w", err)
	}

	text := ""
	res, err := page.Evaluate(&rod.EvalOptions{
		JS:           `() => document.body ? document.body.innerText : ""`,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err == nil && res != nil && !res.Value.Nil() {
		text = res.Value.Str()
	}
	if strings.TrimSpace(text) == "" {
		text = VisibleText(rawHTML)
	}

	return &Page{
		URL:     pageURL,
		HTML:    rawHTML,
		Text:    normalizeSpace(text),
		Links:   Links(rawHTML, pageURL),
		Dynamic: true,
	}, nil
}

// needsBrowser decides whether a static fetch result requires script
// execution: external scripts, DOM-writing inline scripts, or a page whose
// static text yield is negligible.
func needsBrowser(rawHTML, text string) bool {
	if len(text) < minTextYield {
		return true
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return false
	}

	dynamic := false
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if dynamic {
			return
		}
		if n.Type == html.ElementNode && n.Data == "script" {
			for _, attr := range n.Attr {
				if attr.Key == "src" && attr.Val != "" {
					dynamic = true
					return
				}
			}
			if n.FirstChild != nil && strings.Contains(strings.ToLower(n.FirstChild.Data), "document") {
				dynamic = true
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	return dynamic
}
