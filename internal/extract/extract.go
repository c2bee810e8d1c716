// Package extract turns raw sources (local files, web pages) into plain text
// suitable for chunking. HTML goes through readability extraction with a
// selector-based fallback so boilerplate (nav, ads, scripts) never reaches
// the index.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// ErrExtractionFailed indicates a source could not be converted to usable
// text. The cause (unreadable file, fetch failure, binary content) is wrapped.
var ErrExtractionFailed = errors.New("extraction failed")

const (
	// DefaultMaxFetchBytes caps downloaded page bodies.
	DefaultMaxFetchBytes = 10 * 1024 * 1024

	// DefaultFetchTimeout bounds a single page fetch.
	DefaultFetchTimeout = 30 * time.Second

	userAgent = "grounded/1.0 (+https://github.com/averos/grounded)"
)

// Result is the extracted text of a single source.
type Result struct {
	Title string
	Text  string
}

// Extractor converts files and URLs into plain text.
type Extractor struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithHTTPClient replaces the default fetch client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Extractor) { e.client = c }
}

// WithMaxFetchBytes caps the downloaded body size.
func WithMaxFetchBytes(n int64) Option {
	return func(e *Extractor) { e.maxBytes = n }
}

// New creates an Extractor. logger may be nil.
func New(logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{
		client:   &http.Client{Timeout: DefaultFetchTimeout},
		maxBytes: DefaultMaxFetchBytes,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromFile extracts text from a local file. HTML files go through the same
// extraction pipeline as fetched pages; everything else is treated as plain
// text and validated as UTF-8.
func (e *Extractor) FromFile(_ context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading %s: %w", ErrExtractionFailed, path, err)
	}

	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		res, err := e.fromHTML(strings.NewReader(string(data)), nil)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %s: %w", ErrExtractionFailed, path, err)
		}
		if res.Title == "" {
			res.Title = name
		}
		return res, nil
	default:
		if !utf8.Valid(data) {
			return Result{}, fmt.Errorf("%w: %s is not valid UTF-8 text", ErrExtractionFailed, path)
		}
		text := strings.TrimSpace(string(data))
		return Result{Title: name, Text: text}, nil
	}
}

// FromURL fetches a page and extracts its main content.
func (e *Extractor) FromURL(ctx context.Context, rawURL string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("%w: parsing url: %w", ErrExtractionFailed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Result{}, fmt.Errorf("%w: unsupported scheme %q", ErrExtractionFailed, u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: building request: %w", ErrExtractionFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: fetching %s: %w", ErrExtractionFailed, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: fetching %s: status %d", ErrExtractionFailed, rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading %s: %w", ErrExtractionFailed, rawURL, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/plain") {
		return Result{Title: u.String(), Text: strings.TrimSpace(string(body))}, nil
	}

	res, err := e.fromHTML(strings.NewReader(string(body)), u)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrExtractionFailed, rawURL, err)
	}
	if res.Title == "" {
		res.Title = u.String()
	}
	e.logger.Debug("extracted page", "url", rawURL, "title", res.Title, "chars", len(res.Text))
	return res, nil
}

// fromHTML runs readability extraction and falls back to a selector sweep
// when readability yields nothing useful.
func (e *Extractor) fromHTML(r io.Reader, pageURL *url.URL) (Result, error) {
	var buf strings.Builder
	if _, err := io.Copy(&buf, r); err != nil {
		return Result{}, err
	}
	html := buf.String()

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err == nil {
		text := strings.TrimSpace(article.TextContent)
		if text != "" {
			return Result{Title: article.Title, Text: text}, nil
		}
	}

	return fallbackExtract(html)
}

// contentSelectors are tried in order before falling back to <body>.
var contentSelectors = []string{
	"main", "article", "[role='main']", ".content", "#content",
	".post", ".entry-content", ".article-body",
}

func fallbackExtract(html string) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, err
	}

	doc.Find("script, style, nav, header, footer, noscript").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())

	for _, sel := range contentSelectors {
		text := collapseText(doc.Find(sel).Text())
		if len(text) > 100 {
			return Result{Title: title, Text: text}, nil
		}
	}

	text := collapseText(doc.Find("body").Text())
	if text == "" {
		return Result{}, errors.New("no textual content found")
	}
	return Result{Title: title, Text: text}, nil
}

// collapseText normalizes runs of whitespace left behind by removed markup.
func collapseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
