// Package digest aggregates stored ticker mentions over a time window into a
// ranked digest and renders it for delivery.
package digest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mzforge/tickerdigest/internal/database"
)

// DefaultWindow is the aggregation window used when none is configured.
const DefaultWindow = 24 * time.Hour

const (
	maxRenderedSymbols  = 15
	maxSamplesPerSymbol = 3
	samplePreviewRunes  = 160
)

// Entry is one ranked (symbol, count) pair.
type Entry struct {
	Symbol string
	Count  int
}

// Digest is a ranked summary of mention counts over a half-open window
// [WindowStart, WindowEnd). It is ephemeral: built on demand, delivered,
// discarded.
type Digest struct {
	WindowStart time.Time
	WindowEnd   time.Time
	GeneratedAt time.Time
	Entries     []Entry
}

// Builder produces digests by querying the mention store. Building is
// read-only: the same frozen dataset always yields the same digest.
type Builder struct {
	store  database.Store
	logger *slog.Logger
}

// NewBuilder creates a digest builder backed by the given store.
func NewBuilder(store database.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{
		store:  store,
		logger: logger.With("component", "digest"),
	}
}

// Build aggregates mentions over [end-window, end) into a ranked digest.
// Symbols are ordered by descending count, ties broken by ascending symbol.
// An empty window yields a digest with no entries, not an error.
func (b *Builder) Build(ctx context.Context, end time.Time, window time.Duration) (*Digest, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	start := end.Add(-window)

	counts, err := b.store.MentionCountsInWindow(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate mentions: %w", err)
	}

	entries := make([]Entry, 0, len(counts))
	for _, c := range counts {
		entries = append(entries, Entry{Symbol: c.Symbol, Count: c.Count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Symbol < entries[j].Symbol
	})

	b.logger.DebugContext(ctx, "Digest built",
		"window_start", start, "window_end", end, "symbols", len(entries))

	return &Digest{
		WindowStart: start,
		WindowEnd:   end,
		GeneratedAt: time.Now().UTC(),
		Entries:     entries,
	}, nil
}

// Render produces the delivery text for a digest: a header, the window, and
// the top symbols with up to three sample message previews each.
func (b *Builder) Render(ctx context.Context, d *Digest) (string, error) {
	if len(d.Entries) == 0 {
		return "Daily Ticker Digest\n\nNo ticker mentions found in this window.", nil
	}

	var sb strings.Builder
	sb.WriteString("Daily Ticker Digest\n")
	fmt.Fprintf(&sb, "Window: %s - %s UTC\n\n",
		d.WindowStart.UTC().Format("2006-01-02 15:04"),
		d.WindowEnd.UTC().Format("2006-01-02 15:04"))

	top := d.Entries
	if len(top) > maxRenderedSymbols {
		top = top[:maxRenderedSymbols]
	}

	for _, entry := range top {
		fmt.Fprintf(&sb, "$%s — %d mentions\n", entry.Symbol, entry.Count)

		samples, err := b.store.SampleMessages(ctx, entry.Symbol, d.WindowStart, d.WindowEnd, maxSamplesPerSymbol)
		if err != nil {
			return "", fmt.Errorf("failed to fetch samples for %s: %w", entry.Symbol, err)
		}
		for _, sample := range samples {
			if preview := previewOf(sample); preview != "" {
				fmt.Fprintf(&sb, "  • %s\n", preview)
			}
		}
		sb.WriteString("\n")
	}

	return strings.TrimSpace(sb.String()), nil
}

// previewOf flattens a message text into a single trimmed line capped at
// samplePreviewRunes runes.
func previewOf(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) > samplePreviewRunes {
		return string(runes[:samplePreviewRunes])
	}
	return flat
}
