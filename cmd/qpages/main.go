package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"quran-pages/internal/api"
	"quran-pages/internal/assets"
	"quran-pages/internal/audio"
	"quran-pages/internal/config"
	"quran-pages/internal/engine"
	"quran-pages/internal/filesystem"
	"quran-pages/internal/logger"
	"quran-pages/internal/network"
	"quran-pages/internal/scheduler"
	"quran-pages/internal/security"
	"quran-pages/internal/storage"
)

func main() {
	if err := run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runtime bundles everything a command needs after wiring
type runtime struct {
	logger  *slog.Logger
	store   *storage.Storage
	cfg     *config.ConfigManager
	checker *assets.Checker
	gate    *network.Gate
	engine  *engine.Engine
	audio   *audio.Updater
	dataDir string
}

func (rt *runtime) close() {
	rt.engine.Shutdown()
	rt.store.Close()
}

func run(ctx context.Context, args []string) error {
	var (
		dataDir   string
		logLevel  string
		baseURL   string
		pageType  string
		portrait  string
		landscape string
		bundled   string
	)

	globalFlags := []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Directory holding page images, the database and logs",
			Destination: &dataDir,
			Sources:     cli.EnvVars("QPAGES_DATA_DIR"),
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
			Sources:     cli.EnvVars("QPAGES_LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:        "base-url",
			Usage:       "Asset host base URL (overrides the stored setting)",
			Destination: &baseURL,
			Sources:     cli.EnvVars("QPAGES_BASE_URL"),
		},
		&cli.StringFlag{
			Name:        "page-type",
			Usage:       "Mushaf page type (overrides the stored setting)",
			Destination: &pageType,
			Sources:     cli.EnvVars("QPAGES_PAGE_TYPE"),
		},
		&cli.StringFlag{
			Name:        "portrait-width",
			Usage:       "Portrait width bucket (overrides the stored setting)",
			Destination: &portrait,
			Sources:     cli.EnvVars("QPAGES_PORTRAIT_WIDTH"),
		},
		&cli.StringFlag{
			Name:        "landscape-width",
			Usage:       "Landscape width bucket (overrides the stored setting)",
			Destination: &landscape,
			Sources:     cli.EnvVars("QPAGES_LANDSCAPE_WIDTH"),
		},
		&cli.StringFlag{
			Name:        "bundled-db",
			Usage:       "Path to a bundled pages database copied on first run",
			Destination: &bundled,
			Sources:     cli.EnvVars("QPAGES_BUNDLED_DB"),
		},
	}

	setup := func() (*runtime, error) {
		return newRuntime(runtimeOpts{
			dataDir:   dataDir,
			logLevel:  logLevel,
			baseURL:   baseURL,
			pageType:  pageType,
			portrait:  portrait,
			landscape: landscape,
			bundled:   bundled,
		})
	}

	app := &cli.Command{
		Name:  "qpages",
		Usage: "Quran page image downloader and asset manager",
		Flags: globalFlags,
		Commands: []*cli.Command{
			cmdServe(setup),
			cmdCheck(setup),
			cmdDownload(setup),
			cmdAudio(setup),
			cmdStatus(setup),
		},
	}

	return app.Run(ctx, args)
}

// runtimeOpts carries the global flag overrides into wiring
type runtimeOpts struct {
	dataDir   string
	logLevel  string
	baseURL   string
	pageType  string
	portrait  string
	landscape string
	bundled   string
}

func newRuntime(opts runtimeOpts) (*runtime, error) {
	dataDir := opts.dataDir
	if dataDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve data directory: %w", err)
		}
		dataDir = filepath.Join(configDir, "qpages")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	log, err := logger.New(dataDir, os.Stderr, parseLevel(opts.logLevel))
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStorage(dataDir)
	if err != nil {
		return nil, err
	}

	cfg := config.NewConfigManager(store)
	overrides := []struct {
		value string
		set   func(string) error
	}{
		{opts.baseURL, cfg.SetBaseURL},
		{opts.pageType, cfg.SetPageType},
		{opts.portrait, cfg.SetPortraitWidth},
		{opts.landscape, cfg.SetLandscapeWidth},
	}
	for _, o := range overrides {
		if o.value == "" {
			continue
		}
		if err := o.set(o.value); err != nil {
			store.Close()
			return nil, err
		}
	}

	// Supplying a bundled database marks this install as the bundled
	// variant; the copy itself is idempotent.
	if opts.bundled != "" {
		if err := cfg.SetBundledDatabase(true); err != nil {
			log.Warn("Failed to record bundled variant", "error", err)
		}
		if dest, err := filesystem.CopyBundledDatabase(opts.bundled, dataDir); err != nil {
			log.Warn("Bundled database copy failed", "error", err)
		} else {
			log.Info("Bundled database installed", "path", dest)
		}
	}

	checker := assets.NewChecker(log, cfg, dataDir)
	gate := network.NewGate(log, cfg.GetMinSpeedMbps())
	eng := engine.NewEngine(log, store, cfg, checker, gate, dataDir)

	return &runtime{
		logger:  log,
		store:   store,
		cfg:     cfg,
		checker: checker,
		gate:    gate,
		engine:  eng,
		audio:   audio.NewUpdater(log, store, cfg),
		dataDir: dataDir,
	}, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func cmdServe(setup func() (*runtime, error)) *cli.Command {
	var port int64

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the background downloader with the control API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "port",
				Usage:       "Control API port (loopback only)",
				Value:       7853,
				Destination: &port,
				Sources:     cli.EnvVars("QPAGES_PORT"),
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.close()

			rt.engine.RecoverInterruptedBatches()

			audit := security.NewAuditLogger(rt.logger, rt.dataDir)
			defer audit.Close()

			server := api.NewControlServer(rt.logger, rt.engine, rt.audio, rt.cfg, audit)
			if err := server.Start(int(port)); err != nil {
				return err
			}

			sched := scheduler.New(rt.logger, rt.engine, rt.audio, rt.gate, rt.cfg)
			if err := sched.Start(); err != nil {
				return err
			}
			go sched.RunStartupCheck(ctx)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			select {
			case <-ctx.Done():
				rt.logger.Info("Context cancelled, shutting down")
			case sig := <-sigChan:
				rt.logger.Info("Signal received, shutting down", "signal", sig.String())
			}

			sched.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}
}

func cmdCheck(setup func() (*runtime, error)) *cli.Command {
	var sync bool

	return &cli.Command{
		Name:  "check",
		Usage: "Check page completeness, optionally enqueueing downloads",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "sync",
				Usage:       "Enqueue downloads for whatever is missing",
				Destination: &sync,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.close()

			if !sync {
				status := rt.checker.CheckSync()
				return printJSON(status)
			}

			status, ids, err := rt.engine.CheckAndSync()
			if err != nil {
				return err
			}
			if err := printJSON(status); err != nil {
				return err
			}
			for _, id := range ids {
				if err := waitForBatch(ctx, rt.store, id); err != nil {
					return err
				}
			}
			fmt.Printf("%d batch(es) processed\n", len(ids))
			return nil
		},
	}
}

func cmdDownload(setup func() (*runtime, error)) *cli.Command {
	var (
		pageType string
		width    string
		kind     string
		pages    string
	)

	return &cli.Command{
		Name:  "download",
		Usage: "Download a specific set of pages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "type",
				Usage:       "Page type",
				Value:       "madani",
				Destination: &pageType,
			},
			&cli.StringFlag{
				Name:        "width",
				Usage:       "Width bucket, e.g. 1024",
				Value:       "1024",
				Destination: &width,
			},
			&cli.StringFlag{
				Name:        "kind",
				Usage:       "Batch kind: missing or patch",
				Value:       storage.KindMissing,
				Destination: &kind,
			},
			&cli.StringFlag{
				Name:        "pages",
				Usage:       "Comma separated page numbers or ranges, e.g. 1,5,10-20",
				Destination: &pages,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			pageList, err := parsePages(pages)
			if err != nil {
				return err
			}

			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.close()

			id, err := rt.engine.EnqueueBatch(pageType, width, kind, pageList)
			if err != nil {
				return err
			}
			fmt.Println("batch:", id)
			return waitForBatch(ctx, rt.store, id)
		},
	}
}

func cmdAudio(setup func() (*runtime, error)) *cli.Command {
	return &cli.Command{
		Name:  "audio",
		Usage: "Manage the audio reciter manifest",
		Commands: []*cli.Command{
			{
				Name:  "refresh",
				Usage: "Fetch the latest reciter manifest from the asset host",
				Action: func(ctx context.Context, c *cli.Command) error {
					rt, err := setup()
					if err != nil {
						return err
					}
					defer rt.close()

					if err := rt.audio.Refresh(ctx); err != nil {
						return err
					}
					fmt.Println("refreshed at", rt.audio.LastRefreshed().Format(time.RFC3339))
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "Print the cached reciter manifest",
				Action: func(ctx context.Context, c *cli.Command) error {
					rt, err := setup()
					if err != nil {
						return err
					}
					defer rt.close()

					manifest, err := rt.audio.Cached()
					if err != nil {
						return err
					}
					return printJSON(manifest)
				},
			},
		},
	}
}

func cmdStatus(setup func() (*runtime, error)) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show download history and usage statistics",
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.close()

			batches, err := rt.engine.GetHistory()
			if err != nil {
				return err
			}
			data, err := rt.engine.GetStats().GetAnalytics()
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"page_type": rt.cfg.GetPageType(),
				"batches":   batches,
				"analytics": data,
			})
		},
	}
}

// parsePages expands "1,5,10-12" into [1 5 10 11 12]
func parsePages(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("no pages given, use --pages")
	}

	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid page range %q", part)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || end < start {
				return nil, fmt.Errorf("invalid page range %q", part)
			}
			for p := start; p <= end; p++ {
				out = append(out, p)
			}
			continue
		}
		page, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid page number %q", part)
		}
		out = append(out, page)
	}
	return out, nil
}

func waitForBatch(ctx context.Context, store *storage.Storage, id string) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		batch, err := store.GetBatch(id)
		if err != nil {
			return err
		}
		switch batch.Status {
		case storage.StatusPending, storage.StatusDownloading:
			continue
		case storage.StatusCompleted:
			fmt.Println(batchSummary(batch))
			return nil
		case storage.StatusBulkRequired:
			fmt.Println("too many pages for individual download, full bulk archive required")
			return nil
		default:
			return fmt.Errorf("batch finished with status %s (%d failed)", batch.Status, batch.Failed)
		}
	}
}

// batchSummary describes a finished batch for terminal output. Missing
// holds the page count the batch covered, Downloaded the byte volume.
func batchSummary(batch storage.DownloadBatch) string {
	return fmt.Sprintf("completed: %d page(s), %d bytes", batch.Missing-batch.Failed, batch.Downloaded)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
