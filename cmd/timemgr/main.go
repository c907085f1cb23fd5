package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"timemgr/internal/bot"
	"timemgr/internal/calendar"
	"timemgr/internal/config"
	"timemgr/internal/icsfeed"
	"timemgr/internal/intent/rule"
	appLog "timemgr/internal/log"
	"timemgr/internal/schedule"
	"timemgr/internal/selector"
	"timemgr/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	debug      bool
}

func main() {
	appLog.Info("timemgr starting", "version", "0.1.0-dev")

	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"working_hours_start", conf.WorkingHours.Start,
		"working_hours_end", conf.WorkingHours.End,
		"lookahead_days", conf.LookaheadDays,
		"refresh", conf.RefreshCron,
		"ics_count", len(conf.ICS),
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf); err != nil {
		appLog.Error("timemgr failed", err)
		os.Exit(1)
	}
	appLog.Info("timemgr exiting")
}

func run(ctx context.Context, conf *config.Config) error {
	// Event store.
	store, err := calendar.Open(ctx, conf.Postgres.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	// Subscribed ICS busy feeds.
	sources := make([]icsfeed.Source, 0, len(conf.ICS))
	for _, src := range conf.ICS {
		id := src.ID
		if id == "" {
			if src.Name != "" {
				id = src.Name
			} else {
				id = src.URL
			}
		}
		sources = append(sources, icsfeed.Source{ID: id, URL: src.URL})
	}
	feeds := icsfeed.NewCache(sources, conf.SearchWindowDays, nil)
	if len(sources) > 0 {
		if err := feeds.Refresh(ctx); err != nil {
			// Feed failures must not block startup; stale or empty busy
			// data only degrades slot search.
			appLog.Warn("initial feed refresh failed", "error", err.Error())
		}
	}

	sched := schedule.NewScheduler(store, feeds, nil)
	if err := sched.SetWorkingHours(conf.ModelWorkingHours()); err != nil {
		return err
	}

	sessions := bot.NewSessionStore()
	oracle := selector.NewLexicalOracle(conf.SimilarityThreshold)
	disp := bot.NewDispatcher(sessions, store, rule.New(nil), oracle, sched, nil)

	// Background jobs: feed refresh and idle-session sweep.
	jobs := cron.New()
	if len(sources) > 0 {
		if _, err := jobs.AddFunc(conf.RefreshCron, func() {
			refreshCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			if err := feeds.Refresh(refreshCtx); err != nil {
				appLog.Warn("feed refresh failed", "error", err.Error())
			}
		}); err != nil {
			return err
		}
	}
	if _, err := jobs.AddFunc("*/10 * * * *", func() {
		removed := sessions.Sweep(time.Now(), conf.SessionTTL())
		if removed > 0 {
			appLog.Debug("idle sessions swept", "removed", removed)
		}
	}); err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	// HTTP server with graceful shutdown.
	srv := web.NewServer(conf, disp, store, sched, nil)
	httpSrv := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
		return err
	}
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/timemgr/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
