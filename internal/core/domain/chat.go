package domain

import "time"

// Comment is append-only, ordered by arrival, kept in memory for the
// session's lifetime only.
type Comment struct {
	ID             string    `json:"id"`
	AuthorUsername string    `json:"authorUsername"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sentAt"`
}

// Heart is an ephemeral visual with no identity beyond a local id and a
// random horizontal offset. It self-removes after a fixed display duration
// and is never deduplicated against the network.
type Heart struct {
	ID      string    `json:"id"`
	Offset  int       `json:"offset"` // horizontal offset, 0-100
	ShownAt time.Time `json:"shownAt"`
}
