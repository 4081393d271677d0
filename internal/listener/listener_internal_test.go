package listener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/mzforge/tickerdigest/internal/database"
)

// faultStore returns a fixed error from every ingest.
type faultStore struct {
	err error
}

func (f *faultStore) Ping(context.Context) error { return nil }

func (f *faultStore) IngestMessage(context.Context, *database.Message, []database.Mention) error {
	return f.err
}

func (f *faultStore) MentionCountsInWindow(context.Context, time.Time, time.Time) ([]database.SymbolCount, error) {
	return nil, nil
}

func (f *faultStore) SampleMessages(context.Context, string, time.Time, time.Time, int) ([]string, error) {
	return nil, nil
}

func (f *faultStore) LastDigestMarker(context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (f *faultStore) SetLastDigestMarker(context.Context, time.Time) error { return nil }

func textUpdate(chatID int64, messageID int, text string) *models.Update {
	return &models.Update{
		Message: &models.Message{
			ID:   messageID,
			Chat: models.Chat{ID: chatID},
			Date: int(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Unix()),
			Text: text,
		},
	}
}

func TestBotHandlerStopsListenerOnStorageFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk I/O error")
	l := New(&faultStore{err: cause}, nil)
	handler := l.BotHandler()

	handler(context.Background(), nil, textUpdate(1, 10, "$BTC going up"))

	select {
	case err := <-l.fatal:
		if !errors.Is(err, cause) {
			t.Errorf("fatal error = %v, want wrapped %v", err, cause)
		}
	default:
		t.Fatal("storage failure did not stop the listener")
	}
}

func TestBotHandlerIgnoresDuplicateDelivery(t *testing.T) {
	t.Parallel()

	l := New(&faultStore{err: database.ErrAlreadyExists}, nil)
	handler := l.BotHandler()

	handler(context.Background(), nil, textUpdate(1, 10, "$BTC"))

	select {
	case err := <-l.fatal:
		t.Fatalf("duplicate delivery flagged as fatal: %v", err)
	default:
	}
}
