package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrAlreadyExists is returned by IngestMessage when a message with the same
// (chat_id, message_id) identity has already been stored. Re-delivery from
// the transport is expected and callers should treat this as success.
var ErrAlreadyExists = errors.New("message already ingested")

// Store defines the data access operations for the ingestion and digest
// pipeline. Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// IngestMessage atomically inserts a message and its mentions in one
	// transaction. Returns ErrAlreadyExists if the message identity is
	// already present; in that case nothing is written.
	IngestMessage(ctx context.Context, message *Message, mentions []Mention) error

	// MentionCountsInWindow returns per-symbol occurrence counts for all
	// mentions whose owning message's origination timestamp falls in
	// [start, end).
	MentionCountsInWindow(ctx context.Context, start, end time.Time) ([]SymbolCount, error)

	// SampleMessages returns up to limit distinct message texts mentioning
	// symbol within [start, end), oldest first.
	SampleMessages(ctx context.Context, symbol string, start, end time.Time, limit int) ([]string, error)

	// LastDigestMarker returns the persisted end instant of the last
	// successfully delivered digest. The second return is false when no
	// digest has ever been delivered.
	LastDigestMarker(ctx context.Context) (time.Time, bool, error)

	// SetLastDigestMarker persists the end instant of a delivered digest.
	SetLastDigestMarker(ctx context.Context, t time.Time) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IngestMessage inserts a message and its mentions atomically. The insert is
// idempotent on (chat_id, message_id): a duplicate identity makes the whole
// call a no-op reporting ErrAlreadyExists.
func (s *sqlxStore) IngestMessage(ctx context.Context, message *Message, mentions []Mention) error {
	if message == nil {
		return fmt.Errorf("cannot ingest nil message")
	}
	if message.ChatID == 0 {
		return fmt.Errorf("message must have a non-zero chat_id")
	}
	if message.MessageID == 0 {
		return fmt.Errorf("message must have a non-zero message_id")
	}
	if message.SentAt.IsZero() {
		return fmt.Errorf("message must have a non-zero origination timestamp")
	}

	if message.IngestedAt.IsZero() {
		message.IngestedAt = time.Now().UTC()
	}
	message.SentAt = message.SentAt.UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for ingest",
			"chat_id", message.ChatID, "message_id", message.MessageID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	query := `
        INSERT INTO messages (chat_id, message_id, sender_id, content, sent_at, ingested_at)
        VALUES (:chat_id, :message_id, :sender_id, :content, :sent_at, :ingested_at)
        ON CONFLICT (chat_id, message_id) DO NOTHING;
    `

	result, err := tx.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting message",
			"chat_id", message.ChatID, "message_id", message.MessageID, "error", err)
		return fmt.Errorf("failed to insert message (chat %d, message %d): %w",
			message.ChatID, message.MessageID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		// Identity already present; the deferred rollback discards the tx.
		return ErrAlreadyExists
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted message id: %w", err)
	}
	message.ID = id

	for i := range mentions {
		mentions[i].MessageRef = id
		res, err := tx.NamedExecContext(ctx, `
            INSERT INTO mentions (message_ref, symbol, position)
            VALUES (:message_ref, :symbol, :position);
        `, mentions[i])
		if err != nil {
			s.logger.ErrorContext(ctx, "Error inserting mention",
				"chat_id", message.ChatID, "message_id", message.MessageID,
				"symbol", mentions[i].Symbol, "error", err)
			return fmt.Errorf("failed to insert mention %q: %w", mentions[i].Symbol, err)
		}
		if mentionID, err := res.LastInsertId(); err == nil {
			mentions[i].ID = mentionID
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit ingest transaction",
			"chat_id", message.ChatID, "message_id", message.MessageID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Message ingested",
		"chat_id", message.ChatID, "message_id", message.MessageID, "mentions", len(mentions))
	return nil
}

// MentionCountsInWindow groups mentions by symbol over [start, end).
func (s *sqlxStore) MentionCountsInWindow(ctx context.Context, start, end time.Time) ([]SymbolCount, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var counts []SymbolCount
	query := `
        SELECT m.symbol AS symbol, COUNT(*) AS count
        FROM mentions m
        JOIN messages msg ON msg.id = m.message_ref
        WHERE msg.sent_at >= ? AND msg.sent_at < ?
        GROUP BY m.symbol;
    `

	err := s.db.SelectContext(ctx, &counts, query, start.UTC(), end.UTC())
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error counting mentions in window",
			"start", start, "end", end, "error", err)
		return nil, fmt.Errorf("failed to count mentions in window: %w", err)
	}

	s.logger.DebugContext(ctx, "Counted mentions in window",
		"start", start, "end", end, "symbols", len(counts))
	return counts, nil
}

// SampleMessages returns up to limit distinct message texts mentioning symbol
// within [start, end), oldest first.
func (s *sqlxStore) SampleMessages(ctx context.Context, symbol string, start, end time.Time, limit int) ([]string, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}
	if limit <= 0 {
		limit = 3
	}

	var texts []string
	query := `
        SELECT msg.content
        FROM mentions m
        JOIN messages msg ON msg.id = m.message_ref
        WHERE m.symbol = ? AND msg.sent_at >= ? AND msg.sent_at < ?
        GROUP BY msg.id
        ORDER BY msg.sent_at ASC
        LIMIT ?;
    `

	err := s.db.SelectContext(ctx, &texts, query, symbol, start.UTC(), end.UTC(), limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error fetching sample messages",
			"symbol", symbol, "error", err)
		return nil, fmt.Errorf("failed to fetch sample messages for %s: %w", symbol, err)
	}

	return texts, nil
}

// LastDigestMarker reads the persisted scheduler cursor.
func (s *sqlxStore) LastDigestMarker(ctx context.Context) (time.Time, bool, error) {
	var marker time.Time
	err := s.db.GetContext(ctx, &marker,
		`SELECT last_digest_at FROM scheduler_state WHERE id = 1;`)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No digest has ever been delivered.
		return time.Time{}, false, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error reading last digest marker", "error", err)
		return time.Time{}, false, fmt.Errorf("failed to read last digest marker: %w", err)
	}

	return marker.UTC(), true, nil
}

// SetLastDigestMarker upserts the scheduler cursor.
func (s *sqlxStore) SetLastDigestMarker(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO scheduler_state (id, last_digest_at)
        VALUES (1, ?)
        ON CONFLICT (id) DO UPDATE SET last_digest_at = excluded.last_digest_at;
    `, t.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error persisting last digest marker", "marker", t, "error", err)
		return fmt.Errorf("failed to persist last digest marker: %w", err)
	}

	s.logger.DebugContext(ctx, "Last digest marker advanced", "marker", t)
	return nil
}
