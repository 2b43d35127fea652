package ports

import (
	"context"

	"livecast/internal/core/domain"

	"github.com/pion/rtp"
)

// TrackKind mirrors the media kind of a room track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// RemoteTrack is a track published by another participant that this client
// has subscribed to.
type RemoteTrack interface {
	ID() string
	Kind() TrackKind
	// ReadRTP blocks for the next packet; io.EOF once the track is gone.
	ReadRTP() (*rtp.Packet, error)
}

// LocalTrack is a locally captured track owned by exactly one controller.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	// Stop releases the underlying device/feed. Safe to call repeatedly.
	Stop()
}

// RemoteParticipant is a snapshot of another room member and the tracks
// currently subscribable from them.
type RemoteParticipant struct {
	Identity domain.Identity
	Tracks   []RemoteTrack
}

// RoomEvents are the callbacks a MediaRoom delivers on.
type RoomEvents struct {
	OnParticipantJoined func(identity domain.Identity)
	OnParticipantLeft   func(identity domain.Identity)
	OnTrackSubscribed   func(track RemoteTrack, identity domain.Identity)
	OnTrackUnsubscribed func(trackID string, identity domain.Identity)
}

// MediaRoom wraps the hosted WebRTC room provider. One room object belongs
// to exactly one controller.
type MediaRoom interface {
	// SetEvents installs the callbacks. Must be called before Connect.
	SetEvents(events RoomEvents)
	// Connect joins the room at url with a role-scoped token.
	Connect(ctx context.Context, url, token string) error
	// Publish adds a local track to the room. Publishing is per track, not
	// atomic across tracks.
	Publish(ctx context.Context, track LocalTrack) error
	// RemoteParticipants snapshots current members and their tracks. Used
	// for the re-scan a cohost-joined broadcast requires, since track
	// availability and the notification are unordered relative to each other.
	RemoteParticipants() []RemoteParticipant
	// Disconnect leaves the room and releases the connection. Idempotent.
	Disconnect() error
}

// MediaProvider acquires the local capture tracks. Acquisition may block on
// a user permission prompt and must honor ctx cancellation.
type MediaProvider interface {
	Acquire(ctx context.Context) ([]LocalTrack, error)
}
