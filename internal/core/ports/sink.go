package ports

import "livecast/internal/core/domain"

// TrackSink is the render target for subscribed remote tracks. Attach is
// idempotent per (participant, track) pair: attaching the same pair twice
// binds exactly one output.
type TrackSink interface {
	// Attach binds a track to the participant's render target. Returns true
	// when a new binding was created, false when the pair was already bound.
	Attach(identity domain.Identity, track RemoteTrack) (bool, error)
	// DetachParticipant drops every binding owned by the participant.
	DetachParticipant(identity domain.Identity)
	// Close releases all bindings. Idempotent.
	Close() error
}
