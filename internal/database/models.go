package database

import "time"

// Message represents one ingested chat message. The (ChatID, MessageID) pair
// is the platform-assigned identity and is unique per chat; a message observed
// more than once is stored exactly once.
type Message struct {
	ID         int64     `db:"id"`
	ChatID     int64     `db:"chat_id"`
	MessageID  int64     `db:"message_id"`
	SenderID   int64     `db:"sender_id"`
	Content    string    `db:"content"`
	SentAt     time.Time `db:"sent_at"`     // platform origination timestamp, UTC
	IngestedAt time.Time `db:"ingested_at"` // local ingestion timestamp, UTC
}

// Mention is one ticker-symbol occurrence inside a Message. Mentions are
// written in the same transaction as their owning message and never outlive
// it.
type Mention struct {
	ID         int64  `db:"id"`
	MessageRef int64  `db:"message_ref"`
	Symbol     string `db:"symbol"`
	Position   int    `db:"position"`
}

// SymbolCount is a per-symbol occurrence count within a query window.
type SymbolCount struct {
	Symbol string `db:"symbol"`
	Count  int    `db:"count"`
}
