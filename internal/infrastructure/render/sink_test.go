package render

import (
	"io"
	"sync"
	"testing"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedTrack serves packets from a channel; closing the channel ends the
// track with io.EOF.
type scriptedTrack struct {
	id      string
	kind    ports.TrackKind
	packets chan *rtp.Packet
}

func newScriptedTrack(id string, kind ports.TrackKind) *scriptedTrack {
	return &scriptedTrack{id: id, kind: kind, packets: make(chan *rtp.Packet, 16)}
}

func (t *scriptedTrack) ID() string            { return t.id }
func (t *scriptedTrack) Kind() ports.TrackKind { return t.kind }

func (t *scriptedTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, ok := <-t.packets
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

type countingWriter struct {
	mu     sync.Mutex
	wrote  int
	closed int
}

func (w *countingWriter) WriteRTP(*rtp.Packet) error {
	w.mu.Lock()
	w.wrote++
	w.mu.Unlock()
	return nil
}

func (w *countingWriter) Close() error {
	w.mu.Lock()
	w.closed++
	w.mu.Unlock()
	return nil
}

func (w *countingWriter) counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wrote, w.closed
}

type sinkFixture struct {
	sink    *Sink
	mu      sync.Mutex
	writers []*countingWriter
}

func newSinkFixture() *sinkFixture {
	f := &sinkFixture{}
	f.sink = newSink(func(domain.Identity, ports.RemoteTrack) (trackWriter, error) {
		w := &countingWriter{}
		f.mu.Lock()
		f.writers = append(f.writers, w)
		f.mu.Unlock()
		return w, nil
	}, zap.NewNop().Sugar())
	return f
}

func (f *sinkFixture) writerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writers)
}

func TestAttachPumpsPackets(t *testing.T) {
	f := newSinkFixture()
	track := newScriptedTrack("video-1", ports.TrackVideo)

	created, err := f.sink.Attach("user-a", track)
	require.NoError(t, err)
	assert.True(t, created)

	track.packets <- &rtp.Packet{}
	track.packets <- &rtp.Packet{}
	close(track.packets)

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.writers) != 1 {
			return false
		}
		wrote, closed := f.writers[0].counts()
		return wrote == 2 && closed == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAttachSamePairBindsOnce(t *testing.T) {
	f := newSinkFixture()
	track := newScriptedTrack("video-1", ports.TrackVideo)
	defer close(track.packets)

	created, err := f.sink.Attach("user-a", track)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.sink.Attach("user-a", track)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, f.writerCount())
}

func TestSameTrackIDFromOtherParticipantBindsSeparately(t *testing.T) {
	f := newSinkFixture()
	trackA := newScriptedTrack("video-1", ports.TrackVideo)
	trackB := newScriptedTrack("video-1", ports.TrackVideo)
	defer close(trackA.packets)
	defer close(trackB.packets)

	created, err := f.sink.Attach("user-a", trackA)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.sink.Attach("user-b", trackB)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, f.writerCount())
}

func TestTrackEndFreesBinding(t *testing.T) {
	f := newSinkFixture()
	track := newScriptedTrack("video-1", ports.TrackVideo)

	_, err := f.sink.Attach("user-a", track)
	require.NoError(t, err)
	close(track.packets)

	// Once the pump observes EOF the pair can be attached again.
	require.Eventually(t, func() bool {
		replacement := newScriptedTrack("video-1", ports.TrackVideo)
		created, err := f.sink.Attach("user-a", replacement)
		close(replacement.packets)
		return err == nil && created
	}, time.Second, 10*time.Millisecond)
}

func TestDetachParticipantDropsOnlyTheirs(t *testing.T) {
	f := newSinkFixture()
	trackA := newScriptedTrack("video-1", ports.TrackVideo)
	trackB := newScriptedTrack("video-2", ports.TrackVideo)
	defer close(trackB.packets)

	_, err := f.sink.Attach("user-a", trackA)
	require.NoError(t, err)
	_, err = f.sink.Attach("user-b", trackB)
	require.NoError(t, err)

	f.sink.DetachParticipant("user-a")

	created, err := f.sink.Attach("user-a", trackA)
	require.NoError(t, err)
	assert.True(t, created, "detached pair rebinds")
	close(trackA.packets)

	created, err = f.sink.Attach("user-b", trackB)
	require.NoError(t, err)
	assert.False(t, created, "other participant untouched")
}

func TestCloseRefusesNewAttaches(t *testing.T) {
	f := newSinkFixture()
	track := newScriptedTrack("video-1", ports.TrackVideo)
	defer close(track.packets)

	require.NoError(t, f.sink.Close())
	require.NoError(t, f.sink.Close())

	_, err := f.sink.Attach("user-a", track)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestFactoryFailureLeavesNoBinding(t *testing.T) {
	var calls int
	sink := newSink(func(domain.Identity, ports.RemoteTrack) (trackWriter, error) {
		calls++
		if calls == 1 {
			return nil, io.ErrClosedPipe
		}
		return discardWriter{}, nil
	}, zap.NewNop().Sugar())

	track := newScriptedTrack("video-1", ports.TrackVideo)
	defer close(track.packets)

	_, err := sink.Attach("user-a", track)
	require.Error(t, err)

	created, err := sink.Attach("user-a", track)
	require.NoError(t, err)
	assert.True(t, created)
}
