package database_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mzforge/tickerdigest/internal/database"
)

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, nil)
}

func msgAt(chatID, messageID int64, sentAt time.Time, content string) *database.Message {
	return &database.Message{
		ChatID:    chatID,
		MessageID: messageID,
		SenderID:  42,
		Content:   content,
		SentAt:    sentAt,
	}
}

func mentionsOf(symbols ...string) []database.Mention {
	out := make([]database.Mention, len(symbols))
	for i, s := range symbols {
		out[i] = database.Mention{Symbol: s, Position: i * 5}
	}
	return out
}

func countsAsMap(t *testing.T, counts []database.SymbolCount) map[string]int {
	t.Helper()
	m := make(map[string]int, len(counts))
	for _, c := range counts {
		m[c.Symbol] = c.Count
	}
	return m
}

func TestPing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping against an open database failed: %v", err)
	}
}

func TestIngestMessageIdempotent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	sentAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := store.IngestMessage(ctx, msgAt(1, 100, sentAt, "$BTC to the moon"), mentionsOf("BTC")); err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}

	err := store.IngestMessage(ctx, msgAt(1, 100, sentAt, "$BTC to the moon"), mentionsOf("BTC"))
	if !errors.Is(err, database.ErrAlreadyExists) {
		t.Fatalf("second ingest returned %v, want ErrAlreadyExists", err)
	}

	counts, err := store.MentionCountsInWindow(ctx, sentAt.Add(-time.Hour), sentAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("window query failed: %v", err)
	}
	got := countsAsMap(t, counts)
	if got["BTC"] != 1 {
		t.Errorf("BTC count = %d after duplicate ingest, want 1", got["BTC"])
	}
}

func TestIngestSameMessageIDInDifferentChats(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	sentAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := store.IngestMessage(ctx, msgAt(1, 100, sentAt, "$BTC"), mentionsOf("BTC")); err != nil {
		t.Fatalf("ingest into chat 1 failed: %v", err)
	}
	if err := store.IngestMessage(ctx, msgAt(2, 100, sentAt, "$ETH"), mentionsOf("ETH")); err != nil {
		t.Fatalf("ingest into chat 2 failed: %v", err)
	}

	counts, err := store.MentionCountsInWindow(ctx, sentAt.Add(-time.Hour), sentAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("window query failed: %v", err)
	}
	if len(counts) != 2 {
		t.Errorf("got %d symbols, want 2 (message id is only unique per chat)", len(counts))
	}
}

func TestMentionCountsInWindow(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	fixtures := []struct {
		messageID int64
		sentAt    time.Time
		symbols   []string
	}{
		{1, base.Add(1 * time.Hour), []string{"BTC", "BTC", "ETH"}},
		{2, base.Add(2 * time.Hour), []string{"BTC"}},
		{3, base.Add(30 * time.Hour), []string{"DOGE"}}, // outside window
	}
	for _, f := range fixtures {
		if err := store.IngestMessage(ctx, msgAt(7, f.messageID, f.sentAt, "text"), mentionsOf(f.symbols...)); err != nil {
			t.Fatalf("ingest message %d failed: %v", f.messageID, err)
		}
	}

	counts, err := store.MentionCountsInWindow(ctx, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("window query failed: %v", err)
	}

	got := countsAsMap(t, counts)
	want := map[string]int{"BTC": 3, "ETH": 1}
	if len(got) != len(want) {
		t.Fatalf("got symbols %v, want %v", got, want)
	}
	for sym, n := range want {
		if got[sym] != n {
			t.Errorf("count[%s] = %d, want %d", sym, got[sym], n)
		}
	}
}

func TestWindowBoundaries(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	// Exactly at start: included. Exactly at end: excluded.
	if err := store.IngestMessage(ctx, msgAt(1, 1, start, "$AAA"), mentionsOf("AAA")); err != nil {
		t.Fatalf("ingest at start failed: %v", err)
	}
	if err := store.IngestMessage(ctx, msgAt(1, 2, end, "$BBB"), mentionsOf("BBB")); err != nil {
		t.Fatalf("ingest at end failed: %v", err)
	}

	counts, err := store.MentionCountsInWindow(ctx, start, end)
	if err != nil {
		t.Fatalf("window query failed: %v", err)
	}

	got := countsAsMap(t, counts)
	if got["AAA"] != 1 {
		t.Errorf("message at window start not counted: %v", got)
	}
	if _, ok := got["BBB"]; ok {
		t.Errorf("message at window end must be excluded: %v", got)
	}
}

func TestSampleMessages(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 5; i++ {
		m := msgAt(1, i, base.Add(time.Duration(i)*time.Minute), "msg about $XYZ")
		if err := store.IngestMessage(ctx, m, mentionsOf("XYZ")); err != nil {
			t.Fatalf("ingest %d failed: %v", i, err)
		}
	}

	samples, err := store.SampleMessages(ctx, "XYZ", base, base.Add(time.Hour), 3)
	if err != nil {
		t.Fatalf("sample query failed: %v", err)
	}
	if len(samples) != 3 {
		t.Errorf("got %d samples, want 3", len(samples))
	}
}

func TestDigestMarkerRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.LastDigestMarker(ctx); err != nil || ok {
		t.Fatalf("fresh store marker = (ok=%v, err=%v), want absent", ok, err)
	}

	first := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if err := store.SetLastDigestMarker(ctx, first); err != nil {
		t.Fatalf("set marker failed: %v", err)
	}

	got, ok, err := store.LastDigestMarker(ctx)
	if err != nil || !ok {
		t.Fatalf("marker read = (ok=%v, err=%v), want present", ok, err)
	}
	if !got.Equal(first) {
		t.Errorf("marker = %v, want %v", got, first)
	}

	// Upsert overwrites the single row.
	second := first.Add(24 * time.Hour)
	if err := store.SetLastDigestMarker(ctx, second); err != nil {
		t.Fatalf("second set marker failed: %v", err)
	}
	got, _, err = store.LastDigestMarker(ctx)
	if err != nil {
		t.Fatalf("second marker read failed: %v", err)
	}
	if !got.Equal(second) {
		t.Errorf("marker = %v, want %v", got, second)
	}
}
