package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"

	"github.com/msgvault/msgvault/internal/api"
	"github.com/msgvault/msgvault/internal/app"
	"github.com/msgvault/msgvault/internal/infra/config"
	"github.com/msgvault/msgvault/internal/infra/logger"
	"github.com/msgvault/msgvault/internal/queue"
	"github.com/msgvault/msgvault/internal/remote"
	"github.com/msgvault/msgvault/internal/scheduler"
	"github.com/msgvault/msgvault/internal/tokenpool"
	"github.com/msgvault/msgvault/internal/transfer"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "msgvault",
		Short: "Chunked file transfers over a rate-limited messaging API",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the transfer service and control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}

	// Cancelled when the user hits Ctrl+C or the process is terminated.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := tokenpool.New(log)

	store, err := scheduler.NewStore(cfg.Scheduler.SQLitePath)
	if err != nil {
		return fmt.Errorf("scheduler store error: %w", err)
	}
	defer store.Close()

	manager, err := queue.NewManager(ctx, log, store,
		cfg.Queues.UploadConcurrency, cfg.Queues.DownloadConcurrency)
	if err != nil {
		return fmt.Errorf("queue manager error: %w", err)
	}
	defer manager.Dispose()

	// Local chunk store stand-in for the remote messaging API.
	chunkStore, err := remote.NewFileStore(cfg.Transfer.OutDir + "/.chunks")
	if err != nil {
		return fmt.Errorf("chunk store error: %w", err)
	}

	svc := transfer.NewService(log, pool, manager, chunkStore,
		cfg.Tokens, cfg.Transfer.ChunkSize, cfg.Transfer.OutDir)

	runner := scheduler.NewRunner(store, svc.ExecuteJob,
		time.Duration(cfg.Scheduler.PollMillis)*time.Millisecond, log)
	go runner.Run(ctx)

	// Drain the event streams into the log so slow listeners elsewhere
	// never see stale buffers.
	go func() {
		for ev := range manager.Progress() {
			log.Debug("progress %s %q %.0f%%", ev.Category, ev.DisplayName, ev.Progress*100)
		}
	}()
	go func() {
		for t := range manager.Completions() {
			log.Info("task %s (%s) finished with status %s", t.ID, t.Name, t.Status)
		}
	}()

	appCtx := app.NewContext(cfg, log)
	appCtx.Manager = manager
	appCtx.Pool = pool

	e := echo.New()
	api.RegisterRoutes(e, appCtx)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: e}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("msgvault listening on :%s with %d tokens", cfg.Port, len(cfg.Tokens))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
