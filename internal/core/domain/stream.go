package domain

import (
	"time"
)

type StreamID string
type Identity string

// StreamStatus transitions one way: Created -> Live -> Ended. Ending an
// already-Ended stream is a no-op, not an error.
type StreamStatus string

const (
	StreamCreated StreamStatus = "created"
	StreamLive    StreamStatus = "live"
	StreamEnded   StreamStatus = "ended"
)

type Stream struct {
	ID        StreamID     `json:"id"`
	Title     string       `json:"title"`
	HostID    Identity     `json:"hostId"`
	Status    StreamStatus `json:"status"`
	RoomURL   string       `json:"roomUrl"`
	CreatedAt time.Time    `json:"createdAt"`
	EndedAt   *time.Time   `json:"endedAt,omitempty"`
}

// End marks the stream ended. Safe to call repeatedly.
func (s *Stream) End(at time.Time) {
	if s.Status == StreamEnded {
		return
	}
	s.Status = StreamEnded
	s.EndedAt = &at
}

type Role string

const (
	RoleHost   Role = "host"
	RoleCoHost Role = "cohost"
	RoleViewer Role = "viewer"
)

// Participant is a connected member of the media room, keyed by a stable
// per-connection identity that is never reused across reconnects.
type Participant struct {
	Identity          Identity  `json:"identity"`
	Role              Role      `json:"role"`
	JoinedAt          time.Time `json:"joinedAt"`
	HasPublishedTrack bool      `json:"hasPublishedTrack"`
}
