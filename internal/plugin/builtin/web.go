package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/kernelplanner/config"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
)

// WebInfo describes the Web plugin.
var WebInfo = plugin.Info{
	Name:        "Web",
	Description: "Reads web pages and extracts their main article text",
	Version:     "1.0.0",
}

// Page is the extracted content of a fetched document.
type Page struct {
	URL    string
	Title  string
	Byline string
	Text   string
}

// Fetcher retrieves a page and extracts readable text from it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// NewFetcher returns a headless browser fetcher when RenderJS is set, an HTTP one otherwise.
func NewFetcher(cfg config.WebPluginConfig) Fetcher {
	cfg = cfg.Normalize()
	if cfg.RenderJS {
		return &BrowserFetcher{Timeout: cfg.Timeout, UserAgent: cfg.UserAgent}
	}
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: cfg.Timeout},
		UserAgent: cfg.UserAgent,
	}
}

const maxBodyBytes = 5 << 20

// HTTPFetcher downloads raw HTML without executing scripts.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Page{}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, err
	}
	return extract(rawURL, string(body))
}

// BrowserFetcher renders pages in headless Chrome before extraction.
type BrowserFetcher struct {
	Timeout   time.Duration
	UserAgent string
}

func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(f.UserAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	if err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return Page{}, fmt.Errorf("render %s: %w", rawURL, err)
	}
	return extract(rawURL, html)
}

func extract(rawURL, html string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Page{}, err
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return Page{}, fmt.Errorf("extract %s: %w", rawURL, err)
	}
	return Page{
		URL:    rawURL,
		Title:  strings.TrimSpace(article.Title),
		Byline: strings.TrimSpace(article.Byline),
		Text:   strings.TrimSpace(article.TextContent),
	}, nil
}

// Web exposes page reading to plans. Hosts are filtered through Policy.
type Web struct {
	Fetcher  Fetcher
	Policy   config.WebPolicyConfig
	MaxChars int
}

var errNotPermitted = errors.New("url not permitted by web policy")

// Descriptors lists the Web functions.
func (w *Web) Descriptors() []plugin.Descriptor {
	const p = "Web"
	return []plugin.Descriptor{
		{
			Plugin: p, Name: "read_article", Description: "Fetch a web page and return its title and main text",
			Params: plugin.Schema{
				{Name: "url", Type: plugin.TypeString, Required: true, Description: "Absolute http(s) URL"},
				{Name: "max_chars", Type: plugin.TypeInteger, Description: "Maximum characters of text to return"},
			},
			Handler: func(ctx context.Context, args plugin.Args) (string, error) {
				page, err := w.read(ctx, args.String("url"))
				if err != nil {
					return "", err
				}
				limit := w.MaxChars
				if args.Has("max_chars") && args.Int("max_chars") > 0 {
					limit = args.Int("max_chars")
				}
				text := truncate(strings.Join(strings.Fields(stripPolicy.Sanitize(page.Text)), " "), limit, true)
				if page.Title == "" {
					return text, nil
				}
				return fmt.Sprintf("Title: %s\n\n%s", page.Title, text), nil
			},
		},
		{
			Plugin: p, Name: "page_title", Description: "Fetch a web page and return its title",
			Params: plugin.Schema{{Name: "url", Type: plugin.TypeString, Required: true}},
			Handler: func(ctx context.Context, args plugin.Args) (string, error) {
				page, err := w.read(ctx, args.String("url"))
				if err != nil {
					return "", err
				}
				if page.Title == "" {
					return "No title found", nil
				}
				return page.Title, nil
			},
		},
	}
}

func (w *Web) read(ctx context.Context, raw string) (Page, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Page{}, fmt.Errorf("invalid url %q", raw)
	}
	if !w.Policy.Permits(raw) {
		return Page{}, fmt.Errorf("%w: %s", errNotPermitted, u.Hostname())
	}
	if w.Fetcher == nil {
		return Page{}, errors.New("web fetcher not configured")
	}
	return w.Fetcher.Fetch(ctx, raw)
}
