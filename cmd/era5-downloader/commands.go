package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/era5-downloader/internal/api/http"
	"github.com/i474232898/era5-downloader/internal/cds"
	"github.com/i474232898/era5-downloader/internal/common"
	"github.com/i474232898/era5-downloader/internal/config"
	"github.com/i474232898/era5-downloader/internal/era5"
	"github.com/i474232898/era5-downloader/internal/logger"
	"github.com/i474232898/era5-downloader/internal/scheduler"
	"github.com/i474232898/era5-downloader/internal/store"
)

// loadConfig reads the environment and applies the flags that were set.
func loadConfig(cmd *cli.Command) (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("data-dir") {
		cfg.DataDir = cmd.String("data-dir")
	}
	if cmd.IsSet("redownload") {
		cfg.Redownload = cmd.Bool("redownload")
	}
	if cmd.IsSet("debug") {
		cfg.Debug = cmd.Bool("debug")
	}
	if cmd.IsSet("start") {
		cfg.StartDate = strings.TrimSpace(cmd.String("start"))
	}
	if cmd.IsSet("end") {
		cfg.EndDate = strings.TrimSpace(cmd.String("end"))
	}
	if cmd.IsSet("date") {
		cfg.FixedDate = strings.TrimSpace(cmd.String("date"))
	}
	if cmd.IsSet("request-config") {
		cfg.RequestConfigPath = cmd.String("request-config")
	}
	return cfg, nil
}

// rangeOptions converts the configured dates. Unparsable dates are range
// configuration errors.
func rangeOptions(cfg *config.AppConfig) (era5.RangeOptions, error) {
	var opts era5.RangeOptions
	for _, f := range []struct {
		name  string
		value string
		dst   **time.Time
	}{
		{"start", cfg.StartDate, &opts.Start},
		{"end", cfg.EndDate, &opts.End},
		{"date", cfg.FixedDate, &opts.Fixed},
	} {
		if f.value == "" {
			continue
		}
		d, err := common.ParseDate(f.value)
		if err != nil {
			return era5.RangeOptions{}, fmt.Errorf("%w: --%s %q is not a YYYY-MM-DD date", era5.ErrConfiguration, f.name, f.value)
		}
		*f.dst = &d
	}

	// fail fast, before any I/O
	if _, err := era5.ResolveRange(opts, time.Now()); err != nil {
		return era5.RangeOptions{}, err
	}
	return opts, nil
}

// newDownloader wires the CDS client (unless in debug mode) and the optional
// request configuration file.
func newDownloader(cfg *config.AppConfig, log *zap.Logger, extra ...era5.Option) (*era5.Downloader, error) {
	opts := []era5.Option{
		era5.WithRedownload(cfg.Redownload),
		era5.WithDebug(cfg.Debug),
		era5.WithDataset(cfg.Dataset),
	}

	if cfg.RequestConfigPath != "" {
		dc, err := era5.LoadDownloadConfig(cfg.RequestConfigPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, era5.WithDownloadConfig(dc))
	}

	var retriever era5.Retriever
	if !cfg.Debug {
		client, err := cds.NewClient(&http.Client{Timeout: cfg.HTTPTimeout}, cfg.CDSConfig(), log.Named("cds"))
		if err != nil {
			return nil, fmt.Errorf("%w (set CDSAPI_KEY or create ~/.cdsapirc)", err)
		}
		retriever = client
	}

	return era5.New(cfg.DataDir, retriever, log.Named("era5"), append(opts, extra...)...)
}

func setup(cmd *cli.Command) (*config.AppConfig, *logger.Logger, era5.RangeOptions, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, era5.RangeOptions{}, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, era5.RangeOptions{}, err
	}
	opts, err := rangeOptions(cfg)
	if err != nil {
		return nil, nil, era5.RangeOptions{}, err
	}
	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, era5.RangeOptions{}, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, opts, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, opts, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	var extra []era5.Option
	if cmd.Bool("progress") {
		var bar *progressbar.ProgressBar
		extra = append(extra, era5.WithProgress(func(done, total int) {
			if bar == nil {
				bar = progressbar.Default(int64(total), "days")
			}
			_ = bar.Set(done)
		}))
	}

	d, err := newDownloader(cfg, log.Logger, extra...)
	if err != nil {
		return err
	}

	report, err := d.Run(ctx, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if failed := report.Failed(); len(failed) > 0 {
		log.Warn("Some days produced no file; they will be retried on the next run", zap.Strings("dates", failed))
	}
	return nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, opts, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	d, err := newDownloader(cfg, log.Logger)
	if err != nil {
		return err
	}

	// In-memory store with configured retention.
	runs := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	sched := scheduler.New(cfg.ScheduleAt, true, func(jobCtx context.Context) {
		report, err := d.Run(jobCtx, opts)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Download run failed", zap.Error(err))
			return
		}
		runs.SaveRun(report)
	}, log.Named("scheduler"))
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "era5-downloader",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})
	app.Use(fiberrecover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "era5-downloader",
			"nextRun": sched.NextRun(),
		})
	})
	httpapi.RegisterRoutes(app, runs, d.DataDir())

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("fiber server stopped", zap.Error(err))
		}
	}()
	log.Info("Serving", zap.String("port", cfg.Port), zap.String("scheduleAt", cfg.ScheduleAt+" UTC"))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}
	return nil
}
