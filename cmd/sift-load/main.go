package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/ferd/sift/pkg/config"
	"github.com/ferd/sift/pkg/excel"
	"github.com/ferd/sift/pkg/store"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
)

type Options struct {
	File  string
	Sheet string
	Limit int
}

func main() {
	_ = godotenv.Load()

	cfg, opts := parseFlags()

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() (*config.Config, Options) {
	var opts Options
	var configPath, dbURL, table string

	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&opts.File, "file", "", "Path to the spreadsheet file (required)")
	flag.StringVar(&opts.Sheet, "sheet", "", "Sheet name or zero-based index (default: first sheet)")
	flag.IntVar(&opts.Limit, "limit", 0, "Optional limit on rows (0=all)")
	flag.StringVar(&dbURL, "db-url", "", "PostgreSQL connection string")
	flag.StringVar(&table, "table", "", "Destination table name")
	flag.Parse()

	if opts.File == "" {
		fmt.Fprintln(os.Stderr, "Usage: sift-load --file <spreadsheet.xlsx> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	if dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if table != "" {
		cfg.Database.TableName = table
	}

	return cfg, opts
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(ctx context.Context, cfg *config.Config, opts Options) error {
	fmt.Printf("Reading spreadsheet: %s (sheet=%q)\n", opts.File, opts.Sheet)

	incidents, skipped, err := excel.Read(opts.File, excel.ReaderConfig{
		Sheet: opts.Sheet,
		Limit: opts.Limit,
	})
	if err != nil {
		return err
	}

	for _, s := range skipped {
		color.Yellow("skipping row %d: %s", s.Row, s.Reason)
	}

	if len(incidents) == 0 {
		fmt.Println("No rows to load. Exiting.")
		return nil
	}
	fmt.Printf("Prepared %d rows\n", len(incidents))

	s, err := store.NewWithConfig(ctx, store.StoreConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Database.TableName,
		OnRowError: func(id string, err error) {
			color.Red("\nrow id=%s: %v", id, err)
		},
	})
	if err != nil {
		return err
	}
	defer s.Close()

	bar := getProgressBar(len(incidents), " Upserting rows...")

	okTotal := 0
	errTotal := 0
	batchSize := cfg.Database.BatchSize

	for i := 0; i < len(incidents); i += batchSize {
		end := i + batchSize
		if end > len(incidents) {
			end = len(incidents)
		}
		batch := incidents[i:end]

		ok, failed, err := s.Upsert(ctx, batch)
		okTotal += ok
		errTotal += failed
		if err != nil {
			bar.Finish()
			return fmt.Errorf("upsert aborted: %v", err)
		}
		bar.Add(len(batch))
	}
	bar.Finish()

	color.Green("\n✓ Upsert complete. OK=%d | ERR=%d | SKIPPED=%d\n", okTotal, errTotal, len(skipped))
	return nil
}
