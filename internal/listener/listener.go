// Package listener consumes the incoming message stream, extracts ticker
// mentions, and writes them to the store. The transport is treated as an
// at-least-once stream: repeated delivery of the same message is harmless.
package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/sync/errgroup"

	"github.com/mzforge/tickerdigest/internal/database"
	"github.com/mzforge/tickerdigest/internal/extract"
)

// Incoming is one message observed on the transport.
type Incoming struct {
	ChatID    int64
	MessageID int64
	SenderID  int64
	Text      string
	SentAt    time.Time
}

// Listener runs the extraction and ingestion path for incoming messages.
type Listener struct {
	store  database.Store
	logger *slog.Logger
	fatal  chan error
}

// New creates a listener writing to the given store.
func New(store database.Store, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Listener{
		store:  store,
		logger: logger.With("component", "listener"),
		fatal:  make(chan error, 1),
	}
}

// reportFatal records the first unrecoverable error so Run can shut the
// listener down. Later errors are dropped; one is enough to stop.
func (l *Listener) reportFatal(err error) {
	select {
	case l.fatal <- err:
	default:
	}
}

// Handle extracts mentions from one incoming message and ingests it.
// A message that was already stored is treated as success. A storage failure
// is returned to the caller; the transport is expected to redeliver.
func (l *Listener) Handle(ctx context.Context, in Incoming) error {
	if in.Text == "" {
		l.logger.DebugContext(ctx, "Skipping message without text",
			"chat_id", in.ChatID, "message_id", in.MessageID)
		return nil
	}

	found := extract.Extract(in.Text)
	mentions := make([]database.Mention, len(found))
	for i, m := range found {
		mentions[i] = database.Mention{Symbol: m.Symbol, Position: m.Offset}
	}

	msg := &database.Message{
		ChatID:    in.ChatID,
		MessageID: in.MessageID,
		SenderID:  in.SenderID,
		Content:   in.Text,
		SentAt:    in.SentAt.UTC(),
	}

	err := l.store.IngestMessage(ctx, msg, mentions)
	if errors.Is(err, database.ErrAlreadyExists) {
		l.logger.InfoContext(ctx, "Duplicate message ignored",
			"chat_id", in.ChatID, "message_id", in.MessageID)
		return nil
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "Failed to ingest message",
			"chat_id", in.ChatID, "message_id", in.MessageID, "error", err)
		return fmt.Errorf("failed to ingest message: %w", err)
	}

	l.logger.DebugContext(ctx, "Message ingested",
		"chat_id", in.ChatID, "message_id", in.MessageID, "mentions", len(mentions))
	return nil
}

// BotHandler adapts Telegram updates to the listener. Both group messages and
// channel posts are ingested.
func (l *Listener) BotHandler() tgbot.HandlerFunc {
	return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		msg := update.Message
		if msg == nil {
			msg = update.ChannelPost
		}
		if msg == nil {
			return
		}

		text := msg.Text
		if text == "" {
			text = msg.Caption
		}

		in := Incoming{
			ChatID:    msg.Chat.ID,
			MessageID: int64(msg.ID),
			Text:      text,
			SentAt:    time.Unix(int64(msg.Date), 0).UTC(),
		}
		if msg.From != nil {
			in.SenderID = msg.From.ID
		}

		// The long-poll offset advances once the handler returns, so a
		// storage failure here cannot be retried in place. Stop the
		// listener instead; the un-acked update is redelivered after a
		// restart against a healthy store.
		if err := l.Handle(ctx, in); err != nil {
			l.reportFatal(err)
		}
	}
}

// Run starts the Telegram long-poll loop and blocks until the context is
// cancelled or the transport stops unexpectedly.
func (l *Listener) Run(ctx context.Context, b *tgbot.Bot) error {
	l.logger.Info("Starting ingestion listener...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.Start(gCtx)
		l.logger.Info("Transport polling stopped.")

		if gCtx.Err() == nil {
			return fmt.Errorf("transport stopped unexpectedly")
		}
		return nil
	})

	// Returning the error cancels gCtx, which stops the polling loop above.
	g.Go(func() error {
		select {
		case err := <-l.fatal:
			l.logger.ErrorContext(gCtx, "Storage is unusable, stopping listener", "error", err)
			return fmt.Errorf("storage unusable: %w", err)
		case <-gCtx.Done():
			return nil
		}
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	l.logger.Info("Ingestion listener stopped gracefully.")
	return nil
}
