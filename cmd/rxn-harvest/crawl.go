// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pdiddy/rxn-harvest/internal/crawl"
	"github.com/pdiddy/rxn-harvest/internal/results"
	"github.com/pdiddy/rxn-harvest/internal/secrets"
	"github.com/pdiddy/rxn-harvest/internal/store"
	"github.com/pdiddy/rxn-harvest/pkg/types"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl reaction collections and write a JSON document",
	Long: `Crawl enumerates the collections of a source, walks each collection's
paginated listing and fetches every reaction record it links to. Collections
are crawled in parallel, each in its own session; a failing item or
collection never stops the others.

Run modes select what is crawled:
  all       every discovered collection (optionally --collections a:b)
  specific  the collections named by --ids
  uniform   the same --items range of each discovered collection
  custom    one item range per collection, --range id=a:b (repeatable)
  single    one item, --target collection:item (1-based)

A --plan YAML file can describe the mode instead of flags.`,
	RunE: runCrawl,
}

// crawlBindings maps viper keys onto crawl flags.
var crawlBindings = map[string]string{
	"source":                   "source",
	"base_url":                 "base-url",
	"format":                   "format",
	"concurrency":              "workers",
	"item_concurrency":         "item-workers",
	"min_delay":                "min-delay",
	"max_delay":                "max-delay",
	"walk.max_items":           "max-items",
	"walk.page_size":           "page-size",
	"walk.ready_timeout":       "listing-timeout",
	"fetch.retry.max_attempts": "retries",
	"fetch.retry.delay":        "retry-delay",
	"fetch.ready_timeout":      "record-timeout",
	"http.timeout":             "timeout",
	"http.requests_per_second": "rps",
	"http.cloudflare_bypass":   "cloudflare",
	"http.user_agent":          "user-agent",
}

func init() {
	def := types.DefaultCrawlConfig()
	f := crawlCmd.Flags()

	f.String("source", def.Source, "site to crawl: archive or database")
	f.String("base-url", "", "override the source's site root")
	f.String("format", string(def.Format), "record format: detailed or simplified")
	f.Int("workers", def.Concurrency, "collections crawled in parallel")
	f.Int("item-workers", def.ItemConcurrency, "items of one collection fetched in parallel")
	f.Duration("min-delay", def.MinDelay, "minimum pause between item fetches")
	f.Duration("max-delay", def.MaxDelay, "maximum pause between item fetches")
	f.Int("max-items", def.Walk.MaxItems, "maximum items collected from one listing")
	f.Int("page-size", def.Walk.PageSize, "listing entries per page, used to bound pagination (0 disables)")
	f.Duration("listing-timeout", def.Walk.ReadyTimeout, "wait for a listing page to become ready")
	f.Int("retries", def.Fetch.Retry.MaxAttempts, "attempts per record")
	f.Duration("retry-delay", def.Fetch.Retry.Delay, "pause between record attempts")
	f.Duration("record-timeout", def.Fetch.ReadyTimeout, "wait for a record page to become ready")
	f.Duration("timeout", def.HTTP.Timeout, "HTTP request timeout")
	f.Float64("rps", def.HTTP.RequestsPerSecond, "requests per second per host (0 disables)")
	f.Bool("cloudflare", def.HTTP.CloudflareBypass, "use a browser-like TLS fingerprint")
	f.String("user-agent", def.HTTP.UserAgent, "User-Agent header")

	addModeFlags(f)

	f.StringP("output", "o", "reactions.json", "output document path")
	f.String("db", "", "also store the document in this SQLite database")
	f.Bool("resume", false, "continue the output document: keep its collections and skip completed ones")
	f.String("secrets-dir", ".secrets", "directory of cookie files replayed by every session")

	for key, flag := range crawlBindings {
		viper.BindPFlag(key, f.Lookup(flag))
	}

	rootCmd.AddCommand(crawlCmd)
}

// crawlConfig merges config file, environment and flags over the defaults.
func crawlConfig() (types.CrawlConfig, error) {
	cfg := types.DefaultCrawlConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("reading crawl settings: %w", err)
	}
	return cfg, cfg.Validate()
}

// addModeFlags defines the flags read by runModeFromFlags.
func addModeFlags(f *pflag.FlagSet) {
	f.String("mode", "all", "run mode: all, specific, uniform, custom or single")
	f.String("collections", "", "collection range for all and uniform modes, e.g. 1:10")
	f.String("items", "", "item range for uniform mode, e.g. 1:5")
	f.StringSlice("ids", nil, "collection ids for specific mode")
	f.StringArray("range", nil, "custom mode range as id=a:b (repeatable)")
	f.String("target", "", "single mode target as collection:item")
	f.String("plan", "", "YAML run plan (overrides the mode flags)")
}

// runModeFromFlags builds the run mode from --plan or the mode flags.
func runModeFromFlags(f *pflag.FlagSet) (types.RunMode, error) {
	if plan, _ := f.GetString("plan"); plan != "" {
		return types.ReadPlanFile(plan)
	}

	p := types.PlanFile{}
	p.Mode, _ = f.GetString("mode")
	p.Collections, _ = f.GetString("collections")
	p.Items, _ = f.GetString("items")
	p.IDs, _ = f.GetStringSlice("ids")
	p.Target, _ = f.GetString("target")

	ranges, _ := f.GetStringArray("range")
	for _, r := range ranges {
		id, items, found := strings.Cut(r, "=")
		if !found || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("invalid --range %q (want id=a:b)", r)
		}
		p.Ranges = append(p.Ranges, types.PlanRange{ID: id, Items: items})
	}
	return p.RunMode()
}

// loadPrior reads the document a resumed run continues. A missing file
// means there is nothing to resume.
func loadPrior(path, source string) (*types.OutputDocument, error) {
	doc, err := results.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Source != source {
		return nil, fmt.Errorf("cannot resume %s: it was crawled from %s, not %s", path, doc.Source, source)
	}
	return doc, nil
}

func runCrawl(cmd *cobra.Command, args []string) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, closer, err := newLogger()
	if err != nil {
		return err
	}
	defer closer.Close()

	cfg, err := crawlConfig()
	if err != nil {
		return err
	}
	mode, err := runModeFromFlags(cmd.Flags())
	if err != nil {
		return err
	}
	source, err := crawl.NewSource(cfg.Source, cfg.BaseURL)
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	dbPath, _ := cmd.Flags().GetString("db")
	resume, _ := cmd.Flags().GetBool("resume")
	secretsDir, _ := cmd.Flags().GetString("secrets-dir")

	runID := uuid.NewString()
	logger = logger.With().Str("run_id", runID).Str("source", source.Name()).Logger()

	sessions := crawl.NewHTTPSessions(cfg.HTTP, logger)
	cookies, err := secrets.Load(secretsDir, os.Stderr)
	if err != nil {
		return err
	}
	if len(cookies) > 0 {
		sessions.Cookies = secrets.Cookies(cookies)
		sessions.CookieURL = source.DiscoveryURL()
		logger.Info().Int("cookies", len(cookies)).Str("dir", secretsDir).Msg("seeding session cookies")
	}

	var prior *types.OutputDocument
	if resume {
		if prior, err = loadPrior(output, source.Name()); err != nil {
			return err
		}
	}

	o := &crawl.Orchestrator{
		Source:   source,
		Sessions: sessions,
		Config:   cfg,
		Logger:   logger,
		Progress: os.Stdout,
		Prior:    prior,
	}
	agg := results.New()
	var run crawl.RunResult

	persist := func() error {
		doc := agg.Document(results.Meta{
			RunID:       runID,
			Source:      source.Name(),
			Format:      cfg.Format,
			GeneratedAt: time.Now().UTC(),
			Order:       run.Order,
		})
		return saveDocument(doc, output, dbPath, logger)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("crawl aborted")
			if agg.Len() > 0 {
				if perr := persist(); perr != nil {
					logger.Error().Err(perr).Msg("writing partial document")
				}
			}
			err = fmt.Errorf("crawl aborted: %v", r)
		}
	}()

	logger.Info().Str("mode", mode.Name()).Int("workers", cfg.Concurrency).Msg("starting crawl")
	run, err = o.Run(ctx, mode, agg)
	if agg.Len() == 0 && err != nil {
		return err
	}
	if perr := persist(); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	if run.Errored > 0 {
		return fmt.Errorf("%d collection(s) errored", run.Errored)
	}
	return nil
}

// saveDocument writes doc to output and, when dbPath is set, into the store.
// The store load runs on its own context so an interrupted crawl still
// lands in the database.
func saveDocument(doc types.OutputDocument, output, dbPath string, logger zerolog.Logger) error {
	if err := results.WriteFile(output, doc); err != nil {
		return err
	}
	fmt.Printf("Wrote %d collections to %s\n", len(doc.Collections), output)

	if dbPath == "" {
		return nil
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	sum, err := st.SaveDocument(context.Background(), doc, os.Stdout)
	if err != nil {
		return err
	}
	logger.Info().Int("collections", sum.Stored).Int("records", sum.Records).Str("db", dbPath).Msg("stored document")
	return nil
}
