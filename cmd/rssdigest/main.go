package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"

	"rssdigest/internal/app"
	"rssdigest/internal/config"
	"rssdigest/internal/logging"
)

func main() {
	defaults := config.DefaultOptions()

	configPath := flag.String("config", "", "path to YAML config (default: RSS_DIGEST_CONFIG env)")
	days := flag.Int("days", defaults.LookbackDays, "number of days to look back for articles")
	testMode := flag.Bool("test", false, "test mode: cap the article set at 5")
	dryRun := flag.Bool("dry-run", false, "generate the digest but do not send email")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	noSave := flag.Bool("no-save", false, "skip writing the HTML backup file")
	outDir := flag.String("out", "", "directory for HTML backup files (default: configured email.outputDir)")
	fetchOnly := flag.Bool("fetch-only", false, "only fetch and record articles (requires database)")
	processOnly := flag.Bool("process-only", false, "only mark recorded articles processed (requires database)")
	sendOnly := flag.Bool("send-only", false, "only generate and send from recorded articles (requires database)")
	flag.Parse()

	// .env is optional; real environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New("info").Error("startup failed", "error", err)
		os.Exit(1)
	}

	opts := config.Options{
		LookbackDays: *days,
		TestMode:     *testMode,
		DryRun:       *dryRun,
		SaveHTML:     !*noSave,
		Verbose:      *verbose,
		FetchOnly:    *fetchOnly,
		ProcessOnly:  *processOnly,
		SendOnly:     *sendOnly,
		OutputDir:    *outDir,
	}

	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	logger := logging.New(level)

	application, err := app.New(cfg, opts, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}
