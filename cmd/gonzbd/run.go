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

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"

	"github.com/datallboy/gonzbd/internal/api"
	"github.com/datallboy/gonzbd/internal/app"
	"github.com/datallboy/gonzbd/internal/engine"
	"github.com/datallboy/gonzbd/internal/fetch"
	"github.com/datallboy/gonzbd/internal/infra/config"
	"github.com/datallboy/gonzbd/internal/infra/logger"
	"github.com/datallboy/gonzbd/internal/inspect"
	"github.com/datallboy/gonzbd/internal/nzb"
	"github.com/datallboy/gonzbd/internal/store"
)

func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the gonzbd daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(*configPath)
		},
	}
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}

	st, err := store.NewPersistentStore(cfg.Store.SQLitePath)
	if err != nil {
		return fmt.Errorf("store error: %w", err)
	}
	defer st.Close()

	appCtx := app.NewContext(cfg, log)
	appCtx.Store = st
	appCtx.Notifier = &app.LogNotifier{Log: log}

	resolver := &nzb.Resolver{
		WorkingDir:    cfg.Dirs.Working,
		Inspector:     inspect.YencInspector{},
		StrictSubject: cfg.Scan.StrictSubjectMatch,
	}
	finisher := &engine.Completion{
		Resolver: resolver,
		Dirs:     cfg.Dirs,
		Store:    st,
		Log:      log.Component("finish"),
	}

	qm := engine.NewQueueManager(appCtx)
	appCtx.Queue = qm

	var pool *fetch.Pool
	if cfg.Server.Host != "" {
		// One news-server session per worker, so fetches run in parallel.
		clients := fetch.NewClientPool(cfg.Server, cfg.Scan.Workers)
		defer clients.Close()
		pool = fetch.NewPool(cfg.Scan.Workers, appCtx.Downloads, resolver, clients, finisher, log)
		appCtx.Workers = pool
	} else {
		log.Warn("no news server configured, fetch workers disabled")
	}

	parser := &nzb.Parser{
		Queue:    appCtx.Downloads,
		Resolver: resolver,
		Finisher: finisher,
		Log:      log.Component("parse"),
	}
	reload := &engine.PostponedLoader{
		Dirs:    cfg.Dirs,
		Queue:   appCtx.Downloads,
		Workers: appCtx.Workers,
		Store:   st,
		Log:     log.Component("postponed"),
	}

	sched := engine.NewScheduler()
	scanner := engine.NewScanner(appCtx, sched, qm, parser, reload)
	scanner.Start()

	e := echo.New()
	api.RegisterRoutes(e, appCtx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("listening on %s", srv.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("http server: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown: %v", err)
	}

	sched.Close()
	if pool != nil {
		pool.Stop()
	}
	return nil
}
