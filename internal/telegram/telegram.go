// Package telegram wraps the go-telegram/bot library: bot construction for
// the ingestion listener and a delivery sender for digests.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"

	"github.com/mzforge/tickerdigest/internal/resilience"
)

// NewBot creates a new Telegram bot instance using the go-telegram/bot library.
func NewBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_bot")

	b, err := bot.New(token, opts...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info("Telegram bot instance created")
	return b, nil
}

// Sender delivers rendered digest text to a Telegram chat.
type Sender struct {
	bot    *bot.Bot
	logger *slog.Logger
}

// NewSender creates a digest delivery sender on top of an existing bot.
func NewSender(b *bot.Bot, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		bot:    b,
		logger: logger.With("component", "sender"),
	}
}

// Send delivers text to target. Target is either a numeric chat id or an
// @channel username. Failures the Telegram API reports as unrecoverable
// (forbidden, bad request, unknown chat) are wrapped with
// resilience.ErrPermanent so the retry loop gives up immediately; everything
// else is treated as transient.
func (s *Sender) Send(ctx context.Context, target, text string) error {
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatIDFor(target),
		Text:   text,
	})
	if err != nil {
		if isPermanent(err) {
			s.logger.ErrorContext(ctx, "Delivery rejected permanently", "target", target, "error", err)
			return fmt.Errorf("%w: send to %s: %v", resilience.ErrPermanent, target, err)
		}
		s.logger.WarnContext(ctx, "Delivery failed", "target", target, "error", err)
		return fmt.Errorf("failed to send to %s: %w", target, err)
	}

	s.logger.InfoContext(ctx, "Digest delivered", "target", target, "length", len(text))
	return nil
}

// chatIDFor parses a numeric chat id, falling back to the raw string for
// @channel style targets.
func chatIDFor(target string) any {
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		return id
	}
	return target
}

func isPermanent(err error) bool {
	return errors.Is(err, bot.ErrorForbidden) ||
		errors.Is(err, bot.ErrorBadRequest) ||
		errors.Is(err, bot.ErrorNotFound) ||
		errors.Is(err, bot.ErrorUnauthorized)
}
