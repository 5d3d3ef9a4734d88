package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	// Interrupts stop a run between two days; a started day always completes.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newCommand().Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "era5-downloader:", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "era5-downloader",
		Usage: "Download daily ERA5 pressure-level reanalysis files from the Copernicus Climate Data Store",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Download every missing day of a date range once and exit",
				Flags:  append(commonFlags(), &cli.BoolFlag{Name: "progress", Usage: "Show a progress bar over the date range"}),
				Action: runAction,
			},
			{
				Name:   "serve",
				Usage:  "Catch up once a day at SCHEDULE_AT (UTC) and expose run status over HTTP",
				Flags:  commonFlags(),
				Action: serveAction,
			},
		},
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Usage:   "Output directory, one `DIR/YYYY-MM-DD.nc` file per day (env ERA5_DATA_DIR)",
		},
		&cli.BoolFlag{
			Name:  "redownload",
			Usage: "Fetch days again even if their file exists (env ERA5_REDOWNLOAD)",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Dry run: no network calls, no files written (env ERA5_DEBUG)",
		},
		&cli.StringFlag{
			Name:    "start",
			Aliases: []string{"s"},
			Usage:   "First day in `YYYY-MM-DD` format; alone, the range ends 5 days before today (env ERA5_START_DATE)",
		},
		&cli.StringFlag{
			Name:    "end",
			Aliases: []string{"e"},
			Usage:   "Last day in `YYYY-MM-DD` format; alone, the range starts on 1940-01-01 (env ERA5_END_DATE)",
		},
		&cli.StringFlag{
			Name:  "date",
			Usage: "Single day in `YYYY-MM-DD` format; cannot be combined with --end (env ERA5_FIXED_DATE)",
		},
		&cli.StringFlag{
			Name:  "request-config",
			Usage: "YAML `FILE` with variable, pressure_level, time and area keys (env ERA5_REQUEST_CONFIG)",
		},
	}
}
