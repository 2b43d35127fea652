package session

import (
	"context"
	"sync"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/pion/rtp"
)

type fakeRegistry struct {
	mu sync.Mutex

	createResult *ports.CreateStreamResult
	createErr    error
	createCalls  int

	getStream *domain.Stream
	getErr    error
	getCalls  int

	endErr   error
	endCalls int
	endedIDs []domain.StreamID
}

func (f *fakeRegistry) CreateStream(ctx context.Context, title, description, privacy string) (*ports.CreateStreamResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createResult, nil
}

func (f *fakeRegistry) GetStream(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getStream, nil
}

func (f *fakeRegistry) EndStream(ctx context.Context, id domain.StreamID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	f.endedIDs = append(f.endedIDs, id)
	return f.endErr
}

type fakeChannel struct {
	mu sync.Mutex

	events     ports.ChannelEvents
	connectErr error

	connectCalls int
	closeCalls   int
	sent         []domain.Envelope
	sendErr      error
}

func (f *fakeChannel) SetEvents(events ports.ChannelEvents) {
	f.events = events
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeChannel) Send(ctx context.Context, env domain.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeChannel) sentKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, 0, len(f.sent))
	for _, env := range f.sent {
		kinds = append(kinds, env.Type)
	}
	return kinds
}

func (f *fakeChannel) countKind(kind string) int {
	n := 0
	for _, k := range f.sentKinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// deliver pushes an inbound message as if read off the wire.
func (f *fakeChannel) deliver(kind string, payload interface{}) {
	env, err := domain.NewEnvelope(kind, payload)
	if err != nil {
		panic(err)
	}
	f.events.OnMessage(env)
}

func (f *fakeChannel) dropAndRecover(err error) {
	f.events.OnDisconnect(err)
	f.events.OnReconnect()
}

type fakeRoom struct {
	mu sync.Mutex

	events     ports.RoomEvents
	connectErr error
	// connectGate, when set, blocks Connect until released or ctx expires.
	connectGate chan struct{}

	connectCalls    int
	disconnectCalls int
	published       []ports.LocalTrack
	publishErr      error
	remote          []ports.RemoteParticipant
}

func (f *fakeRoom) SetEvents(events ports.RoomEvents) {
	f.events = events
}

func (f *fakeRoom) Connect(ctx context.Context, url, token string) error {
	f.mu.Lock()
	f.connectCalls++
	gate := f.connectGate
	err := f.connectErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeRoom) Publish(ctx context.Context, track ports.LocalTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, track)
	return nil
}

func (f *fakeRoom) RemoteParticipants() []ports.RemoteParticipant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakeRoom) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	return nil
}

type fakeLocalTrack struct {
	id   string
	kind ports.TrackKind

	mu        sync.Mutex
	stopCalls int
}

func (t *fakeLocalTrack) ID() string            { return t.id }
func (t *fakeLocalTrack) Kind() ports.TrackKind { return t.kind }

func (t *fakeLocalTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopCalls++
}

func (t *fakeLocalTrack) stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopCalls
}

type fakeProvider struct {
	tracks      []ports.LocalTrack
	acquireErr  error
	acquireGate chan struct{} // when set, Acquire blocks until the gate closes

	mu           sync.Mutex
	acquireCalls int
}

func (f *fakeProvider) Acquire(ctx context.Context) ([]ports.LocalTrack, error) {
	f.mu.Lock()
	f.acquireCalls++
	err := f.acquireErr
	gate := f.acquireGate
	tracks := f.tracks
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return tracks, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquireCalls
}

type fakeRemoteTrack struct {
	id   string
	kind ports.TrackKind
}

func (t *fakeRemoteTrack) ID() string                    { return t.id }
func (t *fakeRemoteTrack) Kind() ports.TrackKind         { return t.kind }
func (t *fakeRemoteTrack) ReadRTP() (*rtp.Packet, error) { return &rtp.Packet{}, nil }

type sinkKey struct {
	identity domain.Identity
	trackID  string
}

type fakeSink struct {
	mu sync.Mutex

	bound       map[sinkKey]int
	attachCalls int
	closeCalls  int
	attachErr   error
}

func newFakeSink() *fakeSink {
	return &fakeSink{bound: make(map[sinkKey]int)}
}

func (f *fakeSink) Attach(identity domain.Identity, track ports.RemoteTrack) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	if f.attachErr != nil {
		return false, f.attachErr
	}
	key := sinkKey{identity: identity, trackID: track.ID()}
	f.bound[key]++
	return f.bound[key] == 1, nil
}

func (f *fakeSink) DetachParticipant(identity domain.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.bound {
		if key.identity == identity {
			delete(f.bound, key)
		}
	}
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeSink) bindings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bound)
}
