package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calsched/internal/catalog"
	"calsched/internal/config"
	"calsched/internal/ics"
	appLog "calsched/internal/log"
	"calsched/internal/scheduler"
	"calsched/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath string
	listen     string
	out        string
	logLevel   string
	once       bool
}

func main() {
	flags := parseFlags()
	appLog.SetLevel(appLog.ParseLevel(flags.logLevel))
	defer appLog.Sync()

	appLog.Info("calsched starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override config file values if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.out != "" {
		conf.Output = flags.out
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"backfill_days", conf.BackfillDays,
		"ics_count", len(conf.ICS),
		"event_count", len(conf.Events),
		"output", conf.Output,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat := catalog.New()
	pipeline := scheduler.NewPipeline(conf, cat, ics.NewFetcher(conf.CacheDir, nil))

	if flags.once {
		if err := pipeline.Run(ctx); err != nil {
			appLog.Error("run failed", err)
			os.Exit(1)
		}
		return
	}

	// A failed first refresh is not fatal; the schedule retries.
	if err := pipeline.Run(ctx); err != nil {
		appLog.Error("initial refresh failed", err)
	}

	sched, err := scheduler.New(conf, pipeline)
	if err != nil {
		appLog.Error("failed to create scheduler", err)
		os.Exit(1)
	}
	sched.Start()

	srv := web.NewServer(conf, cat)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("HTTP server failed", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop(stopCtx)
	appLog.Info("calsched exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calsched/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.out, "out", "", "Path of the exported .ics file (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug, info or error")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh+export cycle and exit")

	flag.Parse()

	return cfg
}
