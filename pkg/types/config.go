package types

import (
	"fmt"
	"time"
)

// HTTPConfig holds shared HTTP settings used by the HTTP client and the
// static renderer.
type HTTPConfig struct {
	// Timeout is the per-request ceiling.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with every request.
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	// MaxRetries is the number of transport-level retries on 429/5xx.
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// RetryWait is the first backoff; it doubles up to RetryMaxWait.
	RetryWait    time.Duration `json:"retry_wait" yaml:"retry_wait" mapstructure:"retry_wait"`
	RetryMaxWait time.Duration `json:"retry_max_wait" yaml:"retry_max_wait" mapstructure:"retry_max_wait"`

	// RequestsPerSecond bounds requests per host across all sessions.
	// Zero disables the limiter.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst" mapstructure:"burst"`

	// CloudflareBypass wraps the transport with a browser-like TLS fingerprint.
	CloudflareBypass bool `json:"cloudflare_bypass" yaml:"cloudflare_bypass" mapstructure:"cloudflare_bypass"`
}

// BackoffFunc returns the wait before the given retry (attempt starts at 1
// for the wait after the first failure).
type BackoffFunc func(attempt int) time.Duration

// RetryPolicy bounds the attempts the Detail Fetcher makes for one item.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	Delay       time.Duration `json:"delay" yaml:"delay" mapstructure:"delay"`

	// Backoff overrides the fixed Delay when set.
	Backoff BackoffFunc `json:"-" yaml:"-" mapstructure:"-"`
}

// Wait returns the pause before retry number attempt.
func (p RetryPolicy) Wait(attempt int) time.Duration {
	if p.Backoff != nil {
		return p.Backoff(attempt)
	}
	return p.Delay
}

// Attempts returns MaxAttempts, never less than one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// WalkConfig bounds one pagination walk.
type WalkConfig struct {
	// MaxItems caps the accumulated frontier of a collection.
	MaxItems int `json:"max_items" yaml:"max_items" mapstructure:"max_items"`

	// MaxCollections caps the discovery walk over the top-level listing.
	MaxCollections int `json:"max_collections" yaml:"max_collections" mapstructure:"max_collections"`

	// ReadyTimeout is the ceiling for a listing page to show its marker.
	ReadyTimeout time.Duration `json:"ready_timeout" yaml:"ready_timeout" mapstructure:"ready_timeout"`

	// PageSize lets the walker turn an advertised entry count into a page
	// count. Zero disables the oracle.
	PageSize int `json:"page_size" yaml:"page_size" mapstructure:"page_size"`
}

// FetchConfig configures the Detail Fetcher.
type FetchConfig struct {
	Retry RetryPolicy `json:"retry" yaml:"retry" mapstructure:"retry"`

	// ReadyTimeout is the ceiling for a detail page to show its marker.
	ReadyTimeout time.Duration `json:"ready_timeout" yaml:"ready_timeout" mapstructure:"ready_timeout"`

	// MarkerWait is the pause before re-reading a JSON block that has not
	// rendered yet.
	MarkerWait time.Duration `json:"marker_wait" yaml:"marker_wait" mapstructure:"marker_wait"`
}

// CrawlConfig holds all settings for one crawl run.
type CrawlConfig struct {
	HTTP  HTTPConfig  `json:"http" yaml:"http" mapstructure:"http"`
	Walk  WalkConfig  `json:"walk" yaml:"walk" mapstructure:"walk"`
	Fetch FetchConfig `json:"fetch" yaml:"fetch" mapstructure:"fetch"`

	// Source names the site: "archive" or "database".
	Source string `json:"source" yaml:"source" mapstructure:"source"`

	// BaseURL overrides the source's default site root.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	Format OutputFormat `json:"format" yaml:"format" mapstructure:"format"`

	// Concurrency is the number of collections crawled in parallel.
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`

	// ItemConcurrency is the number of items of one collection fetched in
	// parallel. One keeps the conservative sequential behavior.
	ItemConcurrency int `json:"item_concurrency" yaml:"item_concurrency" mapstructure:"item_concurrency"`

	// MinDelay and MaxDelay bound the randomized pause between item fetches.
	MinDelay time.Duration `json:"min_delay" yaml:"min_delay" mapstructure:"min_delay"`
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// DefaultCrawlConfig returns the settings used when nothing is configured.
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		HTTP: HTTPConfig{
			Timeout:           15 * time.Second,
			UserAgent:         defaultUserAgent,
			MaxRetries:        3,
			RetryWait:         1 * time.Second,
			RetryMaxWait:      8 * time.Second,
			RequestsPerSecond: 2,
			Burst:             2,
		},
		Walk: WalkConfig{
			MaxItems:       200,
			MaxCollections: 10000,
			ReadyTimeout:   5 * time.Second,
		},
		Fetch: FetchConfig{
			Retry:        RetryPolicy{MaxAttempts: 3, Delay: 3 * time.Second},
			ReadyTimeout: 45 * time.Second,
			MarkerWait:   2 * time.Second,
		},
		Source:          "database",
		Format:          FormatDetailed,
		Concurrency:     3,
		ItemConcurrency: 1,
		MinDelay:        500 * time.Millisecond,
		MaxDelay:        1500 * time.Millisecond,
	}
}

// Validate checks the settings once before a run starts.
func (c CrawlConfig) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.ItemConcurrency < 1 {
		return fmt.Errorf("item concurrency must be at least 1, got %d", c.ItemConcurrency)
	}
	if c.Walk.MaxItems < 1 {
		return fmt.Errorf("walk.max_items must be at least 1, got %d", c.Walk.MaxItems)
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("max_delay %v is below min_delay %v", c.MaxDelay, c.MinDelay)
	}
	if _, err := ParseOutputFormat(string(c.Format)); err != nil {
		return err
	}
	return nil
}

// LogConfig configures the operator log stream.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is "pretty" for a console writer or "json".
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// File, when set, also appends JSON lines to this path.
	File string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`
}
