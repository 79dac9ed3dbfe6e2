package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"campaign-tracker/config"
	"campaign-tracker/lock"
	"campaign-tracker/notification"
	"campaign-tracker/service"
	"campaign-tracker/store"
	"campaign-tracker/tracker"
)

// errStoreUnavailable marks a store that could not be opened at startup.
var errStoreUnavailable = errors.New("store unavailable")

// openStore connects the configured backend and checks it is reachable.
func openStore(ctx context.Context, cfg *config.Config) (store.RowStore, error) {
	switch cfg.Store.Backend {
	case "xlsx":
		grid, err := store.OpenXLSX(cfg.Store.XLSXPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errStoreUnavailable, err)
		}
		log.Printf("📗 Using workbook %s", cfg.Store.XLSXPath)
		return store.NewGridStore(grid), nil

	case "postgres":
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
		defer cancel()

		pg, err := store.OpenPostgres(pingCtx, cfg.Store.PostgresDSN, cfg.Store.MaxOpenConns)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errStoreUnavailable, err)
		}
		if err := pg.EnsureSchema(pingCtx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("%w: %v", errStoreUnavailable, err)
		}
		log.Printf("🐘 Using postgres store")
		return pg, nil

	default:
		creds, err := cfg.Store.Credentials()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		// the grid keeps ctx for token refreshes; only the ping is bounded
		grid, err := store.NewSheetsGrid(ctx, creds, cfg.Store.SpreadsheetID)
		if err != nil {
			return nil, err
		}

		pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
		defer cancel()
		if err := grid.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("%w: %v", errStoreUnavailable, err)
		}
		log.Printf("📊 Using spreadsheet %s", cfg.Store.SpreadsheetID)
		return store.NewGridStore(grid), nil
	}
}

// openLocker returns a Redis-backed locker when configured, otherwise an
// in-process one. The returned func closes the connection.
func openLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func() error, error) {
	if !cfg.Redis.Enabled {
		return lock.NewMemoryLocker(), func() error { return nil }, nil
	}

	client, err := lock.ConnectRedis(ctx, cfg.Redis.URL, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("🔒 Using redis leases")
	return lock.NewRedisLocker(client, cfg.Redis.Prefix), client.Close, nil
}

// claimsAreShared reports whether row claims hold across separate dispatch
// processes. Without a conditional store the claim is a re-read under the batch
// lease, and an in-process lease only covers this process.
func claimsAreShared(st store.RowStore, cfg *config.Config) bool {
	if _, ok := st.(store.ConditionalWriter); ok {
		return true
	}
	return cfg.Redis.Enabled
}

// openNotifiers builds the open-event consumers. They are optional: a notifier
// that cannot be set up is logged and left out.
func openNotifiers(ctx context.Context, cfg *config.Config, st store.RowStore) ([]tracker.OpenNotifier, func()) {
	var notifiers []tracker.OpenNotifier
	var closers []func() error

	if cfg.Events.AMQPURL != "" {
		pub, err := notification.NewEventPublisher(cfg.Events.AMQPURL, cfg.Events.Queue)
		if err != nil {
			log.Printf("WARNING: open events disabled: %v", err)
		} else {
			log.Printf("📨 Publishing open events to queue %s", cfg.Events.Queue)
			notifiers = append(notifiers, pub)
			closers = append(closers, pub.Close)
		}
	}

	if len(cfg.Notify.To) > 0 {
		var only []string
		if cfg.Notify.Sheet != "" {
			only = []string{cfg.Notify.Sheet}
		}
		batches, err := service.ResolveBatches(ctx, cfg, st, only)
		switch {
		case err != nil:
			log.Printf("WARNING: open notifications disabled: %v", err)
		case len(batches) == 0:
			log.Printf("WARNING: open notifications disabled: no sender batch configured")
		default:
			sender := notification.NewSender(cfg.Dispatch.ArchiveMailbox, cfg.Dispatch.ArchiveTimeout)
			notifiers = append(notifiers, notification.NewOpenMailNotifier(sender, batches[0], cfg.Notify.To))
			log.Printf("📬 Open notifications go to %v via %s", cfg.Notify.To, batches[0].Sheet)
		}
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Printf("WARNING: closing notifier: %v", err)
			}
		}
	}
	return notifiers, closeAll
}
