package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"campaign-tracker/config"
	"campaign-tracker/metrics"
	"campaign-tracker/notification"
	"campaign-tracker/service"
	"campaign-tracker/tracker"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the open-tracking HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig(opts, "serve")
			if err != nil {
				return err
			}
			defer closeLog()
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	locker, closeLocker, err := openLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	notifiers, closeNotifiers := openNotifiers(ctx, cfg, st)
	defer closeNotifiers()

	filter := tracker.NewSignatureFilter(cfg.Tracking.BotSignatures, cfg.Tracking.ProxySignatures)
	tr := tracker.NewTracker(st, locker, filter, tracker.Options{
		MinOpenDelay:    cfg.Tracking.MinOpenDelay,
		CountProxyOpens: cfg.Tracking.CountProxyOpens,
		LockTTL:         cfg.Tracking.LockTTL,
		StoreTimeout:    cfg.Store.Timeout,
		NotifyTimeout:   cfg.Notify.Timeout,
		Location:        cfg.Location(),
	}, notifiers...)

	server := NewServer(cfg, tr)
	errCh := server.Start()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server exited properly")
	return nil
}

type dispatchOptions struct {
	manual  bool
	batches []string
}

func newDispatchCmd(opts *rootOptions) *cobra.Command {
	dopts := &dispatchOptions{}

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send every due row once and record the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig(opts, "dispatch")
			if err != nil {
				return err
			}
			defer closeLog()

			if cmd.Flags().Changed("manual") {
				cfg.Dispatch.Manual = dopts.manual
			}
			return runDispatch(cmd.Context(), cfg, dopts.batches)
		},
	}
	cmd.Flags().BoolVar(&dopts.manual, "manual", false, "send overdue rows regardless of the late window")
	cmd.Flags().StringArrayVar(&dopts.batches, "batch", nil, "dispatch only this batch (repeatable)")
	return cmd
}

func runDispatch(ctx context.Context, cfg *config.Config, only []string) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	batches, err := service.ResolveBatches(ctx, cfg, st, only)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		log.Printf("No batches configured, nothing to do")
		return nil
	}

	locker, closeLocker, err := openLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	if !claimsAreShared(st, cfg) {
		log.Printf("WARNING: %s store has no conditional writes and redis is disabled; run one dispatch at a time", cfg.Store.Backend)
	}

	baseURL := cfg.GetBaseURL("")
	if cfg.App.BaseURL == "" {
		log.Printf("WARNING: BASE_URL not set, tracking pixels point at %s", baseURL)
	}
	if cfg.Dispatch.Manual {
		log.Printf("Manual mode: overdue rows will be sent")
	}

	sender := notification.NewSender(cfg.Dispatch.ArchiveMailbox, cfg.Dispatch.ArchiveTimeout)
	dispatcher := service.NewDispatcher(st, locker, sender, service.Options{
		BaseURL:         baseURL,
		Location:        cfg.Location(),
		LateWindow:      cfg.Dispatch.LateWindow,
		Manual:          cfg.Dispatch.Manual,
		SendTimeout:     cfg.Dispatch.SendTimeout,
		ArchiveTimeout:  cfg.Dispatch.ArchiveTimeout,
		StoreTimeout:    cfg.Store.Timeout,
		WriteBatchSize:  cfg.Dispatch.WriteBatchSize,
		ParallelBatches: cfg.Dispatch.ParallelBatches,
		LockTTL:         cfg.Dispatch.LockTTL,
		ScheduleLayouts: cfg.Dispatch.ScheduleLayouts,
	})

	summaries, runErr := dispatcher.Run(ctx, batches)
	for _, s := range summaries {
		log.Printf("📊 %s", s)
	}

	if cfg.Metrics.PushGateway != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := metrics.Push(pushCtx, cfg.Metrics.PushGateway, "campaign_dispatch"); err != nil {
			log.Printf("WARNING: metrics push failed: %v", err)
		}
		cancel()
	}

	return runErr
}
