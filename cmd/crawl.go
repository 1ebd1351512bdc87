package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agencyscope/agencydir/internal/api"
	"github.com/agencyscope/agencydir/internal/crawler"
	"github.com/agencyscope/agencydir/internal/export"
	"github.com/agencyscope/agencydir/internal/logging"
	"github.com/agencyscope/agencydir/internal/progress"
	"github.com/agencyscope/agencydir/internal/progress/sinks"
)

var (
	crawlCategories  []string
	crawlMaxAgencies int
	crawlDBPath      string
	crawlOutputDir   string
	crawlSkipDetails bool
	crawlRefetch     bool
	crawlHeadless    bool
	crawlServeStatus bool
	crawlNoExport    bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run a scraping session",
	Long: "Enumerates directory categories, pages through each category's " +
		"agency listings, then visits detail pages for every agency still " +
		"missing its long description. Interrupted runs resume from the store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyCrawlFlags(cmd)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		defer st.Close() //nolint:errcheck

		registry := prometheus.NewRegistry()
		promSink, err := sinks.NewPrometheusSink(registry)
		if err != nil {
			return fmt.Errorf("init metrics sink: %w", err)
		}
		hub := progress.NewHub(progress.Config{},
			sinks.NewLogSink(logging.ForSubsystem(logger, "progress")),
			promSink,
			sinks.NewSessionSink(st, logging.ForSubsystem(logger, "session-sink")),
		)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := hub.Close(closeCtx); err != nil {
				logger.Warn("progress hub close", zap.Error(err))
			}
		}()

		engineCfg := cfg.CrawlerConfig()
		if err := engineCfg.Validate(); err != nil {
			return err
		}

		renderer, err := crawler.NewChromedpRenderer(engineCfg, logging.ForSubsystem(logger, "renderer"))
		if err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
		defer renderer.Close(context.Background()) //nolint:errcheck

		var probe crawler.Fetcher
		var detector crawler.Detector
		if cfg.Browser.ProbeFirst {
			collyFetcher, err := crawler.NewCollyFetcher(engineCfg, logging.ForSubsystem(logger, "probe"))
			if err != nil {
				return fmt.Errorf("init probe fetcher: %w", err)
			}
			probe = collyFetcher
			detector = crawler.NewHeuristicDetector(
				engineCfg.DetectorMinHTMLBytes,
				engineCfg.DetectorSelectors,
				engineCfg.DetectorKeywords,
			)
		}

		logos, err := crawler.NewLogoFetcher(engineCfg, logging.ForSubsystem(logger, "logos"))
		if err != nil {
			return fmt.Errorf("init logo fetcher: %w", err)
		}

		if crawlServeStatus || cfg.Server.Enabled {
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           api.NewServer(st, registry, logging.ForSubsystem(logger, "api")).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				logger.Info("status server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("status server", zap.Error(err))
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		if err := reclaimStaleSession(ctx, st); err != nil {
			return err
		}

		engine := crawler.NewEngine(engineCfg, st, renderer, probe, detector, logos, hub, logger)
		runErr := engine.Run(ctx)
		if runErr != nil {
			if errors.Is(runErr, context.Canceled) {
				logger.Warn("crawl interrupted; rerun to resume where it stopped")
			}
			return runErr
		}

		if !crawlNoExport {
			exporter := export.NewExporter(st, cfg.Output.Dir, logging.ForSubsystem(logger, "export"))
			written, err := exporter.ExportAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("export after crawl: %w", err)
			}
			for _, path := range written {
				fmt.Println(path)
			}
		}

		printSessionSummary(cmd.Context(), st)
		return nil
	},
}

func init() {
	crawlCmd.Flags().StringSliceVar(&crawlCategories, "categories", nil, "crawl only these category names")
	crawlCmd.Flags().IntVar(&crawlMaxAgencies, "max-agencies", 0, "cap agencies per category (0 = unlimited)")
	crawlCmd.Flags().StringVar(&crawlDBPath, "db", "", "sqlite database path")
	crawlCmd.Flags().StringVar(&crawlOutputDir, "output-dir", "", "directory for CSV exports and logos")
	crawlCmd.Flags().BoolVar(&crawlSkipDetails, "skip-details", false, "skip the detail-page pass")
	crawlCmd.Flags().BoolVar(&crawlRefetch, "refetch", false, "revisit categories already marked scraped")
	crawlCmd.Flags().BoolVar(&crawlHeadless, "headless", true, "run the browser headless")
	crawlCmd.Flags().BoolVar(&crawlServeStatus, "serve-status", false, "serve the status API during the crawl")
	crawlCmd.Flags().BoolVar(&crawlNoExport, "no-export", false, "skip the CSV export after a completed crawl")
}

// reclaimStaleSession closes a session a dead process left in running state,
// so the new run can open its own. Work already persisted stays in place and
// the new session resumes from it. Only local drivers are reclaimed; on a
// shared Postgres store another host may genuinely be mid-crawl.
func reclaimStaleSession(ctx context.Context, st crawler.Store) error {
	if cfg.Store.Driver == "postgres" {
		return nil
	}
	sess, err := st.LatestSession(ctx)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("check latest session: %w", err)
	}
	if sess.Status != crawler.StatusRunning {
		return nil
	}
	logger.Warn("previous session never closed, marking it failed",
		zap.String("session_id", sess.ID),
		zap.Time("started_at", sess.StartedAt))
	if err := st.CloseSession(ctx, sess.ID, crawler.StatusFailed); err != nil {
		return fmt.Errorf("close stale session: %w", err)
	}
	return nil
}

func applyCrawlFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("categories") {
		cfg.Crawl.Categories = crawlCategories
	}
	if cmd.Flags().Changed("max-agencies") {
		cfg.Crawl.MaxAgencies = crawlMaxAgencies
	}
	applyDBFlag(cmd, crawlDBPath)
	if cmd.Flags().Changed("output-dir") {
		cfg.Output.Dir = crawlOutputDir
	}
	if cmd.Flags().Changed("skip-details") {
		cfg.Crawl.SkipDetails = crawlSkipDetails
	}
	if cmd.Flags().Changed("refetch") {
		cfg.Crawl.RefetchScraped = crawlRefetch
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = crawlHeadless
	}
}
