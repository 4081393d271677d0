// Package main contains the entrypoint for the ticker digest service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"

	"github.com/mzforge/tickerdigest/internal/config"
	"github.com/mzforge/tickerdigest/internal/database"
	"github.com/mzforge/tickerdigest/internal/digest"
	"github.com/mzforge/tickerdigest/internal/listener"
	"github.com/mzforge/tickerdigest/internal/logger"
	"github.com/mzforge/tickerdigest/internal/resilience"
	"github.com/mzforge/tickerdigest/internal/scheduler"
	"github.com/mzforge/tickerdigest/internal/telegram"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires configuration, logging, storage, and the selected command, and
// returns the process exit code.
func run(ctx context.Context) int {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("MODE")))
	if len(os.Args) > 1 {
		mode = strings.ToLower(strings.TrimSpace(os.Args[1]))
	}
	if mode != "ingest" && mode != "digest" && mode != "schedule" {
		fmt.Fprintln(os.Stderr, "Usage: tickerdigest [ingest|digest|schedule]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.LogLevel, cfg.LogJSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.LogLevel, "json", cfg.LogJSON)

	db, err := database.NewDB(cfg.DBPath)
	if err != nil {
		log.Error("Failed to open database", "path", cfg.DBPath, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = store.Ping(pingCtx)
	cancel()
	if err != nil {
		log.Error("Database health check failed", "path", cfg.DBPath, "error", err)
		return 1
	}

	switch mode {
	case "ingest":
		return runIngest(ctx, cfg, store, log)
	case "digest":
		return runDigest(ctx, cfg, store, log)
	default:
		return runSchedule(ctx, cfg, store, log)
	}
}

// runIngest runs the listener until the context is cancelled.
func runIngest(ctx context.Context, cfg *config.Config, store database.Store, log *slog.Logger) int {
	l := listener.New(store, log)

	b, err := telegram.NewBot(cfg.BotToken, log,
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(l.BotHandler()),
	)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	log.Info("Ingestion running. Send SIGINT/SIGTERM to stop.")
	if err := l.Run(ctx, b); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Listener stopped due to error", "error", err)
		return 1
	}
	return 0
}

// runDigest builds and delivers one digest for the trailing window ending
// now, then exits. The scheduler marker is not touched.
func runDigest(ctx context.Context, cfg *config.Config, store database.Store, log *slog.Logger) int {
	b, err := telegram.NewBot(cfg.BotToken, log)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}
	sender := telegram.NewSender(b, log)
	builder := digest.NewBuilder(store, log)

	d, err := builder.Build(ctx, time.Now().UTC(), cfg.Window())
	if err != nil {
		log.Error("Failed to build digest", "error", err)
		return 1
	}
	text, err := builder.Render(ctx, d)
	if err != nil {
		log.Error("Failed to render digest", "error", err)
		return 1
	}

	err = resilience.WithRetry(ctx, func(ctx context.Context) error {
		return sender.Send(ctx, cfg.TargetChat, text)
	}, resilience.DefaultRetryConfig())
	if err != nil {
		log.Error("Digest delivery failed", "target", cfg.TargetChat, "error", err)
		return 1
	}

	log.Info("Digest sent.", "target", cfg.TargetChat, "symbols", len(d.Entries))
	return 0
}

// runSchedule runs the recurring digest scheduler until the context is
// cancelled.
func runSchedule(ctx context.Context, cfg *config.Config, store database.Store, log *slog.Logger) int {
	b, err := telegram.NewBot(cfg.BotToken, log)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}
	sender := telegram.NewSender(b, log)
	builder := digest.NewBuilder(store, log)

	sched, err := scheduler.New(store, builder, sender, scheduler.Config{
		Hour:   cfg.DigestHour,
		Minute: cfg.DigestMinute,
		Window: cfg.Window(),
		Target: cfg.TargetChat,
	}, log)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	if err := sched.Start(ctx); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		return 1
	}
	log.Info("Scheduler running.",
		"digest_time", fmt.Sprintf("%02d:%02d", cfg.DigestHour, cfg.DigestMinute))

	<-ctx.Done()
	log.Info("Shutdown signal received, stopping scheduler...")
	if err := sched.Stop(); err != nil {
		log.Error("Error stopping scheduler", "error", err)
		return 1
	}
	return 0
}
