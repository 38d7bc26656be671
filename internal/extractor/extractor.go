// Package extractor fetches chapter pages and parses them into a title, clean
// body text, and the next-chapter link. Fetching goes through a colly
// collector cloned per request; parsing is a fixed structural rule set, not a
// readability heuristic, because the source site's markup is stable.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/chaptermill/chaptermill/internal/novel"
)

// Config controls fetching and parsing.
type Config struct {
	// UserAgent is sent on every request.
	UserAgent string
	// Timeout bounds a single fetch (default 10s).
	Timeout time.Duration
	// Charset is the source site's fixed encoding (e.g. "gbk"). Responses are
	// transcoded from it to UTF-8; leave empty or "utf-8" for UTF-8 sources.
	Charset string
	// ContentSelector locates the chapter body container.
	ContentSelector string
	// HeadingSelector locates the chapter title.
	HeadingSelector string
	// NavSelector locates pagination containers; the second anchor inside the
	// first container holding at least two is the next-chapter link.
	NavSelector string
	// DenyLines lists substrings whose lines are dropped from body text.
	DenyLines []string
}

// Extractor implements novel.Extractor.
type Extractor struct {
	cfg           Config
	charset       string
	deny          *lineDenylist
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds an Extractor, validating the configured charset against the
// WHATWG encoding index.
func New(cfg Config, logger *zap.Logger) (*Extractor, error) {
	if strings.TrimSpace(cfg.ContentSelector) == "" {
		return nil, fmt.Errorf("content selector is required")
	}

	charset := strings.TrimSpace(strings.ToLower(cfg.Charset))
	if charset == "utf-8" || charset == "utf8" {
		charset = ""
	}
	if charset != "" {
		if _, err := htmlindex.Get(charset); err != nil {
			return nil, fmt.Errorf("unknown charset %q: %w", cfg.Charset, err)
		}
	}

	// Revisits are allowed because resuming a run refetches the URL the last
	// run stopped on; cycle detection is the caller's job.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())

	return &Extractor{
		cfg:           cfg,
		charset:       charset,
		deny:          newLineDenylist(cfg.DenyLines),
		baseCollector: c,
		logger:        logger,
	}, nil
}

// Extract fetches pageURL and returns the parsed chapter. It performs no
// writes; a missing content container is ContentNotFoundError, transport and
// HTTP status failures are FetchError.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (novel.Extraction, error) {
	page, err := e.fetch(ctx, pageURL)
	if err != nil {
		return novel.Extraction{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.body))
	if err != nil {
		return novel.Extraction{}, &novel.FetchError{URL: pageURL, Err: fmt.Errorf("parse html: %w", err)}
	}

	title := strings.TrimSpace(doc.Find(e.headingSelector()).First().Text())

	content := doc.Find(e.cfg.ContentSelector).First()
	if content.Length() == 0 {
		return novel.Extraction{}, &novel.ContentNotFoundError{URL: pageURL, Selector: e.cfg.ContentSelector}
	}
	text := e.cleanContent(content)
	if text == "" {
		return novel.Extraction{}, &novel.ContentNotFoundError{URL: pageURL, Selector: e.cfg.ContentSelector}
	}

	nextURL := e.findNextURL(doc, page.finalURL)

	e.logger.Debug("chapter extracted",
		zap.String("url", page.finalURL),
		zap.Int("status", page.statusCode),
		zap.Duration("duration", page.duration),
		zap.String("title", title),
		zap.Int("bytes", len(page.body)),
		zap.Bool("has_next", nextURL != ""),
	)

	return novel.Extraction{
		Title:   title,
		Text:    text,
		NextURL: nextURL,
	}, nil
}

func (e *Extractor) headingSelector() string {
	if e.cfg.HeadingSelector == "" {
		return "h1"
	}
	return e.cfg.HeadingSelector
}

// cleanContent flattens the container into line-broken text (line breaks at
// <br> and after block elements), drops denylisted lines, and normalizes to
// blank-line-separated paragraphs.
func (e *Extractor) cleanContent(content *goquery.Selection) string {
	var b strings.Builder
	content.Contents().Each(func(_ int, node *goquery.Selection) {
		switch goquery.NodeName(node) {
		case "br":
			b.WriteString("\n")
		case "script", "style":
			// skip
		case "p", "div":
			b.WriteString(node.Text())
			b.WriteString("\n")
		default:
			b.WriteString(node.Text())
		}
	})

	lines := strings.Split(b.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if e.deny.Matches(line) {
			continue
		}
		kept = append(kept, line)
	}
	return novel.CleanText(strings.Join(kept, "\n"))
}

// findNextURL applies the structural pagination rule: within the first nav
// container holding at least two anchors, the second anchor is "next" (the
// first is conventionally "previous" or the table of contents). Absence is
// the normal end-of-book signal, so it returns "".
func (e *Extractor) findNextURL(doc *goquery.Document, pageURL string) string {
	if e.cfg.NavSelector == "" {
		return ""
	}

	var href string
	doc.Find(e.cfg.NavSelector).EachWithBreak(func(_ int, nav *goquery.Selection) bool {
		anchors := nav.Find("a")
		if anchors.Length() < 2 {
			return true
		}
		href, _ = anchors.Eq(1).Attr("href")
		return false
	})

	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		e.logger.Warn("unparseable page url", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		e.logger.Warn("unparseable next link", zap.String("href", href), zap.Error(err))
		return ""
	}
	return base.ResolveReference(ref).String()
}
