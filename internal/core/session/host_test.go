package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	apperrors "livecast/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type hostFixture struct {
	host     *Host
	registry *fakeRegistry
	channel  *fakeChannel
	room     *fakeRoom
	provider *fakeProvider
	sink     *fakeSink
	video    *fakeLocalTrack
	audio    *fakeLocalTrack
}

func newHostFixture(t *testing.T) *hostFixture {
	t.Helper()

	video := &fakeLocalTrack{id: "video", kind: ports.TrackVideo}
	audio := &fakeLocalTrack{id: "audio", kind: ports.TrackAudio}

	f := &hostFixture{
		registry: &fakeRegistry{
			createResult: &ports.CreateStreamResult{
				StreamID: "stream-1",
				Stream: domain.Stream{
					ID:     "stream-1",
					Title:  "morning show",
					HostID: "user-host",
					Status: domain.StreamCreated,
				},
				RoomURL:      "wss://rooms.example/stream-1",
				PublishToken: "publish-token",
			},
		},
		channel:  &fakeChannel{},
		room:     &fakeRoom{},
		provider: &fakeProvider{},
		sink:     newFakeSink(),
		video:    video,
		audio:    audio,
	}
	f.provider.tracks = []ports.LocalTrack{video, audio}

	f.host = NewHost(HostConfig{
		Username:        "host",
		HeartDisplay:    50 * time.Millisecond,
		HeartsPerSecond: 100,
		HeartBurst:      100,
	}, f.registry, f.channel, f.room, f.provider, f.sink, Nop, zap.NewNop().Sugar())
	return f
}

func (f *hostFixture) goLive(t *testing.T) {
	t.Helper()
	require.NoError(t, f.host.GoLive(context.Background(), "morning show", "", "public"))
	require.Equal(t, HostLive, f.host.State())
}

func TestHostGoLiveHappyPath(t *testing.T) {
	f := newHostFixture(t)

	err := f.host.GoLive(context.Background(), "morning show", "a desc", "public")
	require.NoError(t, err)

	assert.Equal(t, HostLive, f.host.State())
	assert.Equal(t, 1, f.registry.createCalls)
	assert.Equal(t, 1, f.room.connectCalls)
	assert.Len(t, f.room.published, 2)
	assert.Equal(t, 1, f.channel.connectCalls)
	require.Equal(t, []string{domain.MsgJoinStream}, f.channel.sentKinds())

	snap := f.host.Snapshot()
	require.NotNil(t, snap.Stream)
	assert.Equal(t, domain.StreamLive, snap.Stream.Status)
	assert.Equal(t, domain.StreamID("stream-1"), snap.Stream.ID)
}

func TestHostGoLiveEmptyTitle(t *testing.T) {
	f := newHostFixture(t)

	err := f.host.GoLive(context.Background(), "   ", "", "public")
	require.ErrorIs(t, err, domain.ErrEmptyTitle)

	// Local rejection: nothing moved, nothing was called.
	assert.Equal(t, HostIdle, f.host.State())
	assert.Equal(t, 0, f.provider.acquireCalls)
	assert.Equal(t, 0, f.registry.createCalls)
}

func TestHostGoLiveMediaDeniedIsRetryable(t *testing.T) {
	f := newHostFixture(t)
	f.provider.acquireErr = errors.New("permission denied")

	err := f.host.GoLive(context.Background(), "morning show", "", "public")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindPermission, apperrors.KindOf(err))
	assert.Equal(t, HostAcquiringMedia, f.host.State())

	// The user grants access and retries on the same controller.
	f.provider.mu.Lock()
	f.provider.acquireErr = nil
	f.provider.mu.Unlock()

	require.NoError(t, f.host.GoLive(context.Background(), "morning show", "", "public"))
	assert.Equal(t, HostLive, f.host.State())
}

func TestHostGoLiveRegistryFailure(t *testing.T) {
	f := newHostFixture(t)
	f.registry.createErr = errors.New("boom")

	err := f.host.GoLive(context.Background(), "morning show", "", "public")
	require.Error(t, err)

	assert.Equal(t, HostError, f.host.State())
	assert.Error(t, f.host.Failure())
	assert.Equal(t, 1, f.room.disconnectCalls)
	assert.Equal(t, 1, f.video.stops())
	assert.Equal(t, 1, f.audio.stops())
}

func TestHostGoLiveEmptyPublishToken(t *testing.T) {
	f := newHostFixture(t)
	f.registry.createResult.PublishToken = ""

	err := f.host.GoLive(context.Background(), "morning show", "", "public")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.Equal(t, HostError, f.host.State())
	assert.Equal(t, 0, f.room.connectCalls)
}

func TestHostEndDuringAcquireStopsFreshTracks(t *testing.T) {
	f := newHostFixture(t)
	gate := make(chan struct{})
	f.provider.acquireGate = gate

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.host.GoLive(context.Background(), "morning show", "", "public")
	}()
	require.Eventually(t, func() bool { return f.provider.calls() == 1 }, time.Second, 5*time.Millisecond)

	// End wins the race before GoLive adopts the acquired tracks.
	require.NoError(t, f.host.End(context.Background()))
	close(gate)

	err := <-errCh
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.Equal(t, HostEnded, f.host.State())
	assert.Equal(t, 0, f.registry.createCalls)

	// The orphaned capture feeds must stop exactly once; a leak here runs
	// for the process lifetime.
	require.Eventually(t, func() bool {
		return f.video.stops() == 1 && f.audio.stops() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHostEndIdempotent(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)

	require.NoError(t, f.host.End(context.Background()))
	assert.Equal(t, HostEnded, f.host.State())

	require.NoError(t, f.host.End(context.Background()))

	assert.Equal(t, 1, f.registry.endCalls)
	assert.Equal(t, 1, f.room.disconnectCalls)
	assert.Equal(t, 1, f.video.stops())
	assert.Equal(t, 1, f.audio.stops())
	assert.Equal(t, 1, f.channel.closeCalls)

	snap := f.host.Snapshot()
	require.NotNil(t, snap.Stream)
	assert.Equal(t, domain.StreamEnded, snap.Stream.Status)
}

func TestHostEndSurvivesRegistryFailure(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)
	f.registry.endErr = errors.New("registry down")

	// Local teardown proceeds regardless of the registry answer.
	require.NoError(t, f.host.End(context.Background()))
	assert.Equal(t, HostEnded, f.host.State())
	assert.Equal(t, 1, f.video.stops())
}

func TestHostViewerCountOverwrites(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)

	f.channel.deliver(domain.MsgViewerJoined, domain.ViewerCountPayload{ViewerCount: 5})
	assert.Equal(t, 5, f.host.Snapshot().ViewerCount)

	// The payload value is authoritative even when it jumps backwards.
	f.channel.deliver(domain.MsgViewerLeft, domain.ViewerCountPayload{ViewerCount: 2})
	assert.Equal(t, 2, f.host.Snapshot().ViewerCount)
}

func TestHostCommentsAppendInArrivalOrder(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)

	f.channel.deliver(domain.MsgNewComment, domain.NewCommentPayload{Username: "ann", Text: "hi", Timestamp: 1000})
	f.channel.deliver(domain.MsgNewComment, domain.NewCommentPayload{Username: "bob", Text: "yo", Timestamp: 500})

	snap := f.host.Snapshot()
	require.Len(t, snap.Comments, 2)
	assert.Equal(t, "ann", snap.Comments[0].AuthorUsername)
	assert.Equal(t, "bob", snap.Comments[1].AuthorUsername)
}

func TestHostCoHostModeration(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)

	f.channel.deliver(domain.MsgCoHostRequest, domain.CoHostRequestPayload{
		StreamID:    "stream-1",
		RequesterID: "user-ann",
	})
	require.Len(t, f.host.PendingCoHostRequests(), 1)

	require.NoError(t, f.host.ApproveCoHost(context.Background(), "user-ann"))
	assert.Equal(t, 1, f.channel.countKind(domain.MsgApproveCoHost))
	assert.Empty(t, f.host.PendingCoHostRequests())

	// The decision is terminal: a second resolution is refused.
	err := f.host.ApproveCoHost(context.Background(), "user-ann")
	require.ErrorIs(t, err, domain.ErrCoHostUnknown)
	err = f.host.RejectCoHost(context.Background(), "user-ann")
	require.ErrorIs(t, err, domain.ErrCoHostUnknown)
	assert.Equal(t, 1, f.channel.countKind(domain.MsgApproveCoHost))
	assert.Equal(t, 0, f.channel.countKind(domain.MsgRejectCoHost))
}

func TestHostCoHostRequestIgnoredBeforeLive(t *testing.T) {
	f := newHostFixture(t)

	f.channel.deliver(domain.MsgCoHostRequest, domain.CoHostRequestPayload{
		StreamID:    "stream-1",
		RequesterID: "user-ann",
	})
	assert.Empty(t, f.host.PendingCoHostRequests())
}

func TestHostStreamEndedBroadcast(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)

	f.channel.deliver(domain.MsgStreamEnded, nil)

	assert.Equal(t, HostEnded, f.host.State())
	assert.Equal(t, 1, f.registry.endCalls)
}

func TestHostReconnectReannouncesOnce(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)
	require.Equal(t, 1, f.channel.countKind(domain.MsgJoinStream))

	f.channel.dropAndRecover(errors.New("read: connection reset"))

	assert.Equal(t, HostLive, f.host.State())
	assert.Equal(t, 2, f.channel.countKind(domain.MsgJoinStream))
}

func TestHostAttachVideoIdempotent(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)

	track := &fakeRemoteTrack{id: "cohost-video", kind: ports.TrackVideo}
	f.room.events.OnTrackSubscribed(track, "user-ann")
	f.room.events.OnTrackSubscribed(track, "user-ann")

	assert.Equal(t, 2, f.sink.attachCalls)
	assert.Equal(t, 1, f.sink.bindings())
}

func TestHostAudioTracksAreNotAttached(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)

	f.room.events.OnTrackSubscribed(&fakeRemoteTrack{id: "cohost-audio", kind: ports.TrackAudio}, "user-ann")
	assert.Equal(t, 0, f.sink.bindings())
}

func TestHostCoHostJoinedRescansRoom(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)

	track := &fakeRemoteTrack{id: "cohost-video", kind: ports.TrackVideo}
	f.room.mu.Lock()
	f.room.remote = []ports.RemoteParticipant{{Identity: "user-ann", Tracks: []ports.RemoteTrack{track}}}
	f.room.mu.Unlock()

	// The broadcast and the track event are unordered; the rescan catches a
	// track that arrived before the notification.
	f.channel.deliver(domain.MsgCoHostJoined, domain.CoHostJoinedPayload{})
	assert.Equal(t, 1, f.sink.bindings())

	// A duplicate rescan binds nothing new.
	f.channel.deliver(domain.MsgCoHostJoined, domain.CoHostJoinedPayload{})
	assert.Equal(t, 1, f.sink.bindings())
}

func TestHostChannelErrorRetryableKeepsSession(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)

	f.channel.deliver(domain.MsgError, domain.ErrorPayload{Message: "slow down", Retryable: true})
	assert.Equal(t, HostLive, f.host.State())
}

func TestHostChannelErrorFatalFailsSession(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)

	f.channel.deliver(domain.MsgError, domain.ErrorPayload{Message: "unauthorized"})

	assert.Equal(t, HostError, f.host.State())
	require.Error(t, f.host.Failure())
	assert.Equal(t, 1, f.video.stops())
}

func TestHostSendRequiresLive(t *testing.T) {
	f := newHostFixture(t)

	assert.ErrorIs(t, f.host.SendComment(context.Background(), "hi"), domain.ErrNotConnected)
	assert.ErrorIs(t, f.host.SendHeart(context.Background()), domain.ErrNotConnected)
	assert.ErrorIs(t, f.host.ApproveCoHost(context.Background(), "user-ann"), domain.ErrNotConnected)
}

func TestHostHeartThrottleDropsQuietly(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)

	f.host.heartLimiter.SetLimit(1)
	f.host.heartLimiter.SetBurst(2)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.host.SendHeart(context.Background()))
	}

	// Two sends within burst, the rest throttled without error.
	assert.Equal(t, 2, f.channel.countKind(domain.MsgSendHeart))
	assert.Equal(t, 2, f.host.hearts.Len())
}

func TestHostHeartsExpire(t *testing.T) {
	f := newHostFixture(t)
	f.goLive(t)

	require.NoError(t, f.host.SendHeart(context.Background()))
	require.Equal(t, 1, f.host.hearts.Len())

	assert.Eventually(t, func() bool {
		return f.host.hearts.Len() == 0
	}, time.Second, 10*time.Millisecond)
}
