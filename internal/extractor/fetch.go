package extractor

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/chaptermill/chaptermill/internal/metrics"
	"github.com/chaptermill/chaptermill/internal/novel"
)

type fetchResult struct {
	body []byte
	// finalURL is the URL after redirects; relative links resolve against it.
	finalURL   string
	statusCode int
	duration   time.Duration
}

// fetch executes a single HTTP GET using a clone of the base collector.
func (e *Extractor) fetch(ctx context.Context, pageURL string) (fetchResult, error) {
	var (
		result   fetchResult
		fetchErr error
		status   int
	)
	start := time.Now()

	collector := e.baseCollector.Clone()
	if e.cfg.UserAgent != "" {
		collector.UserAgent = e.cfg.UserAgent
	}
	// The source site predates robots.txt conventions; fetches go straight to
	// the chapter URL.
	collector.IgnoreRobotsTxt = true
	timeout := e.cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnRequest(func(r *colly.Request) {
		if e.charset != "" {
			// Colly transcodes the response to UTF-8 from this encoding.
			r.ResponseCharacterEncoding = e.charset
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		result = fetchResult{
			body:       append([]byte(nil), r.Body...),
			finalURL:   r.Request.URL.String(),
			statusCode: r.StatusCode,
			duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			status = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return fetchResult{}, &novel.FetchError{URL: pageURL, Err: ctx.Err()}
	case err := <-done:
		if err != nil {
			metrics.ObserveSourceFetch(pageURL, status, 0)
			return fetchResult{}, &novel.FetchError{URL: pageURL, StatusCode: status, Err: err}
		}
		if fetchErr != nil {
			metrics.ObserveSourceFetch(pageURL, status, 0)
			return fetchResult{}, &novel.FetchError{URL: pageURL, StatusCode: status, Err: fetchErr}
		}
		metrics.ObserveSourceFetch(pageURL, result.statusCode, len(result.body))
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
