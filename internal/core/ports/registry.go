package ports

import (
	"context"

	"livecast/internal/core/domain"
)

// CreateStreamResult is the registry's response to a stream creation.
// PublishToken must be a non-empty string; the caller treats anything else
// as fatal to the session attempt.
type CreateStreamResult struct {
	StreamID     domain.StreamID `json:"streamId"`
	Stream       domain.Stream   `json:"stream"`
	RoomURL      string          `json:"roomUrl"`
	PublishToken string          `json:"publishToken"`
}

// StreamRegistry is the external REST API that owns stream records. The
// session core only consumes it; it never persists stream state itself.
type StreamRegistry interface {
	// CreateStream registers a new stream and returns room credentials.
	CreateStream(ctx context.Context, title, description, privacy string) (*CreateStreamResult, error)
	// GetStream fetches stream metadata. A missing or ended stream returns
	// domain.ErrStreamNotFound in the error chain.
	GetStream(ctx context.Context, id domain.StreamID) (*domain.Stream, error)
	// EndStream marks the stream ended. Best effort: callers log failures
	// and continue local teardown regardless.
	EndStream(ctx context.Context, id domain.StreamID) error
}
