// Package render consumes subscribed remote tracks. Sinks own the read
// loops; controllers only decide which tracks get attached.
package render

import (
	"fmt"
	"sync"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// trackWriter receives the packets of one attached track.
type trackWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// writerFactory builds the output for one (participant, track) binding.
type writerFactory func(identity domain.Identity, track ports.RemoteTrack) (trackWriter, error)

type bindingKey struct {
	identity domain.Identity
	trackID  string
}

type binding struct {
	stop     chan struct{}
	stopOnce sync.Once
}

func (b *binding) halt() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// Sink is a TrackSink that pumps each attached track into an output built
// by its writer factory. Attaching the same (participant, track) pair twice
// binds exactly one output.
type Sink struct {
	factory writerFactory
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	bindings map[bindingKey]*binding
	closed   bool
}

var _ ports.TrackSink = (*Sink)(nil)

func newSink(factory writerFactory, logger *zap.SugaredLogger) *Sink {
	return &Sink{
		factory:  factory,
		logger:   logger,
		bindings: make(map[bindingKey]*binding),
	}
}

// NewPlayback returns a sink that drains tracks without persisting them.
// It stands in for an actual renderer on a headless client.
func NewPlayback(logger *zap.SugaredLogger) *Sink {
	return newSink(func(domain.Identity, ports.RemoteTrack) (trackWriter, error) {
		return discardWriter{}, nil
	}, logger)
}

// Attach binds a track to the participant's output. Returns true when a new
// binding was created, false when the pair was already bound.
func (s *Sink) Attach(identity domain.Identity, track ports.RemoteTrack) (bool, error) {
	key := bindingKey{identity: identity, trackID: track.ID()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, domain.ErrSessionClosed
	}
	if _, exists := s.bindings[key]; exists {
		s.mu.Unlock()
		return false, nil
	}

	writer, err := s.factory(identity, track)
	if err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("failed to open output for track %s: %w", track.ID(), err)
	}

	b := &binding{stop: make(chan struct{})}
	s.bindings[key] = b
	s.mu.Unlock()

	go s.pump(key, b, track, writer)

	s.logger.Infow("track attached",
		"identity", identity,
		"track_id", track.ID(),
		"kind", track.Kind(),
	)
	return true, nil
}

// pump moves packets from the track into the writer until the track ends or
// the binding is detached.
func (s *Sink) pump(key bindingKey, b *binding, track ports.RemoteTrack, writer trackWriter) {
	defer writer.Close()

	for {
		select {
		case <-b.stop:
			return
		default:
		}

		pkt, err := track.ReadRTP()
		if err != nil {
			s.mu.Lock()
			if current, ok := s.bindings[key]; ok && current == b {
				delete(s.bindings, key)
			}
			s.mu.Unlock()
			return
		}
		if err := writer.WriteRTP(pkt); err != nil {
			s.logger.Warnw("track output write failed",
				"identity", key.identity,
				"track_id", key.trackID,
				"error", err,
			)
		}
	}
}

// DetachParticipant drops every binding owned by the participant.
func (s *Sink) DetachParticipant(identity domain.Identity) {
	s.mu.Lock()
	for key, b := range s.bindings {
		if key.identity == identity {
			b.halt()
			delete(s.bindings, key)
		}
	}
	s.mu.Unlock()
}

// Close releases all bindings. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for key, b := range s.bindings {
		b.halt()
		delete(s.bindings, key)
	}
	s.mu.Unlock()
	return nil
}

type discardWriter struct{}

func (discardWriter) WriteRTP(*rtp.Packet) error { return nil }
func (discardWriter) Close() error               { return nil }
