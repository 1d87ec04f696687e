package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/chromelink/internal/infrastructure/resilience"
)

// MaxPageBytes caps a fetched document
const MaxPageBytes = 10 * 1024 * 1024

// ErrNotHTML is returned for documents that are not markup
var ErrNotHTML = errors.New("response is not an HTML document")

// Config tunes the page fetcher
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
	// RateLimit is requests per second; zero means unlimited
	RateLimit float64
	UserAgent string
	// BreakerFailures consecutive failures open the circuit for BreakerCooldown
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultConfig returns defaults suitable for loading real pages
func DefaultConfig() Config {
	return Config{
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		MinWait:         200 * time.Millisecond,
		MaxWait:         2 * time.Second,
		UserAgent:       "ChromeLink-Simulator/1.0",
		BreakerFailures: 10,
		BreakerCooldown: 30 * time.Second,
	}
}

// Client wraps resty with rate limiting and a circuit breaker
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	mu      sync.RWMutex
}

// Page is a fetched, UTF-8 decoded document
type Page struct {
	URL         string
	Status      int
	ContentType string
	Charset     string
	Body        string
}

// NewClient creates a page fetcher
func NewClient(cfg Config) *Client {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.MinWait
	retryClient.RetryWaitMax = cfg.MaxWait
	retryClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.MinWait).
		SetRetryMaxWaitTime(cfg.MaxWait).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Encoding", "gzip, zstd")
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		breaker: resilience.New("page-fetch", resilience.Settings{
			Failures: cfg.BreakerFailures,
			Cooldown: cfg.BreakerCooldown,
		}),
	}
}

// SetHeader adds a default header
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resty.SetHeader(key, value)
}

// BreakerState exposes the circuit state
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// Get fetches url and decodes it to UTF-8
func (c *Client) Get(ctx context.Context, url string) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var resp *resty.Response
	err := c.breaker.Do(func() error {
		c.mu.RLock()
		req := c.resty.R().SetContext(ctx).SetDoNotParseResponse(true)
		c.mu.RUnlock()

		var err error
		resp, err = req.Get(url)
		if err != nil {
			return err
		}
		if resp.StatusCode() >= 500 {
			resp.RawBody().Close()
			return fmt.Errorf("HTTP %d from %s", resp.StatusCode(), url)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	raw := resp.RawBody()
	defer raw.Close()
	body, err := decompress(raw, resp.Header().Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, MaxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s (url: %s)", resp.StatusCode(), resp.Status(), url)
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	if !IsMarkup(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrNotHTML, contentType)
	}

	text, cs, err := Decode(data, contentType)
	if err != nil {
		return nil, err
	}
	return &Page{
		URL:         url,
		Status:      resp.StatusCode(),
		ContentType: contentType,
		Charset:     cs,
		Body:        text,
	}, nil
}

// decompress unwraps a Content-Encoding the fetcher advertised
func decompress(r io.Reader, encoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(r), nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		return zr, nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd body: %w", err)
		}
		return zr.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("unsupported content encoding %q", encoding)
}

// IsMarkup reports whether a content type can be parsed as a document
func IsMarkup(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mt {
	case "text/html", "application/xhtml+xml", "text/xml", "application/xml", "text/plain":
		return true
	}
	return false
}

// Decode converts a document to UTF-8. The declared charset wins; otherwise
// the content is sniffed.
func Decode(data []byte, contentType string) (string, string, error) {
	cs := declaredCharset(contentType)
	if cs == "" {
		cs = DetectCharset(data)
	}
	r, err := charset.NewReader(bytes.NewReader(data), "text/html; charset="+cs)
	if err != nil {
		return string(data), "utf-8", nil
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", "", fmt.Errorf("decode %s body: %w", cs, err)
	}
	return string(out), cs, nil
}

// DetectCharset guesses the charset of raw bytes, defaulting to utf-8
func DetectCharset(data []byte) string {
	result, err := chardet.NewHtmlDetector().DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

func declaredCharset(contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}
