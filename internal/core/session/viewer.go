package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	apperrors "livecast/pkg/errors"
	"livecast/pkg/tracing"
	"livecast/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RedirectDelay is how long a UI should show the terminal "stream not
// found/ended" message before navigating away. The controller only exposes
// the failure signal; the redirect itself is a UI affordance.
const RedirectDelay = 3 * time.Second

// ViewerConfig carries the per-session knobs of a viewer controller.
type ViewerConfig struct {
	Username        string
	HeartDisplay    time.Duration
	HeartsPerSecond float64
	HeartBurst      int
	CoHostTTL       time.Duration
	RoomTimeout     time.Duration
}

// Viewer drives the watching side of a live session: fetch metadata, join
// over the event channel, connect the media room with the viewer token,
// attach remote video idempotently, survive transport drops, and request
// co-hosting.
type Viewer struct {
	mu         sync.Mutex
	state      ViewerState
	generation uint64
	sess       *SessionState
	failure    error

	identity    domain.Identity
	registry    ports.StreamRegistry
	channel     ports.EventChannel
	room        ports.MediaRoom
	sink        ports.TrackSink
	roomTimeout time.Duration

	roomConnected bool

	requester  *CoHostRequester
	hearts     *HeartBuffer
	dispatcher *Dispatcher

	heartLimiter *rate.Limiter
	metrics      Metrics
	logger       *zap.SugaredLogger
}

// NewViewer wires a viewer controller around an unconnected channel and room.
func NewViewer(
	cfg ViewerConfig,
	registry ports.StreamRegistry,
	channel ports.EventChannel,
	room ports.MediaRoom,
	sink ports.TrackSink,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *Viewer {
	if metrics == nil {
		metrics = Nop
	}
	if cfg.RoomTimeout <= 0 {
		cfg.RoomTimeout = 15 * time.Second
	}
	v := &Viewer{
		state:        ViewerIdle,
		sess:         NewSessionState(),
		identity:     domain.Identity(utils.NewIdentity(cfg.Username)),
		registry:     registry,
		channel:      channel,
		room:         room,
		sink:         sink,
		roomTimeout:  cfg.RoomTimeout,
		requester:    NewCoHostRequester(cfg.CoHostTTL),
		dispatcher:   NewDispatcher(logger),
		heartLimiter: rate.NewLimiter(rate.Limit(cfg.HeartsPerSecond), cfg.HeartBurst),
		metrics:      metrics,
		logger:       logger,
	}
	v.hearts = NewHeartBuffer(cfg.HeartDisplay, func(domain.Heart) { metrics.HeartExpired() })

	v.dispatcher.Register(domain.MsgJoinedStream, v.handleJoinedStream)
	v.dispatcher.Register(domain.MsgViewerJoined, v.handleViewerCount)
	v.dispatcher.Register(domain.MsgViewerLeft, v.handleViewerCount)
	v.dispatcher.Register(domain.MsgNewComment, v.handleNewComment)
	v.dispatcher.Register(domain.MsgHeartSent, v.handleHeartSent)
	v.dispatcher.Register(domain.MsgStreamEnded, v.handleStreamEnded)
	v.dispatcher.Register(domain.MsgCoHostApproved, v.handleCoHostApproved)
	v.dispatcher.Register(domain.MsgCoHostRejected, v.handleCoHostRejected)
	v.dispatcher.Register(domain.MsgCoHostJoined, v.handleCoHostJoined)
	v.dispatcher.Register(domain.MsgError, v.handleChannelError)

	channel.SetEvents(ports.ChannelEvents{
		OnMessage:    v.dispatcher.Dispatch,
		OnDisconnect: v.onChannelDisconnect,
		OnReconnect:  v.onChannelReconnect,
	})
	room.SetEvents(ports.RoomEvents{
		OnParticipantJoined: v.onParticipantJoined,
		OnParticipantLeft:   v.onParticipantLeft,
		OnTrackSubscribed:   v.onTrackSubscribed,
		OnTrackUnsubscribed: v.onTrackUnsubscribed,
	})
	return v
}

// Identity returns the stable per-connection identity of this viewer.
func (v *Viewer) Identity() domain.Identity {
	return v.identity
}

// State returns the current controller state.
func (v *Viewer) State() ViewerState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Failure returns the error that moved the controller into ViewerError.
func (v *Viewer) Failure() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.failure
}

func (v *Viewer) setStateLocked(s ViewerState) {
	if v.state == s {
		return
	}
	v.logger.Infow("viewer state change", "from", v.state, "to", s)
	v.state = s
	v.metrics.StateChanged(string(domain.RoleViewer), string(s))
}

func (v *Viewer) advance(gen uint64, from, to ViewerState) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.generation != gen || v.state != from {
		return false
	}
	v.setStateLocked(to)
	return true
}

// Join starts watching a stream. It returns once the join has been emitted
// on the channel; the media-room connection completes asynchronously when
// joined-stream arrives with the viewer token. A missing stream is a
// terminal failure — no media-room connect is ever attempted for it.
func (v *Viewer) Join(ctx context.Context, streamID domain.StreamID) error {
	v.mu.Lock()
	if v.state != ViewerIdle {
		v.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	gen := v.generation
	v.setStateLocked(ViewerFetchingMetadata)
	v.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "viewer.join")
	defer span.End()

	stream, err := v.registry.GetStream(ctx, streamID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return v.fail(gen, apperrors.Wrap(err, apperrors.KindRegistry, "stream not found/ended"))
	}
	if !v.advance(gen, ViewerFetchingMetadata, ViewerConnectingChannel) {
		return domain.ErrSessionClosed
	}
	v.mu.Lock()
	v.sess.Stream = stream
	v.mu.Unlock()

	if err := v.channel.Connect(ctx); err != nil {
		return v.fail(gen, apperrors.Wrap(err, apperrors.KindTransport, "event channel connect failed"))
	}
	if err := v.sendJoin(ctx, streamID); err != nil {
		return v.fail(gen, apperrors.Wrap(err, apperrors.KindTransport, "join emit failed"))
	}
	if !v.advance(gen, ViewerConnectingChannel, ViewerJoining) {
		return domain.ErrSessionClosed
	}
	return nil
}

func (v *Viewer) sendJoin(ctx context.Context, streamID domain.StreamID) error {
	env, err := domain.NewEnvelope(domain.MsgJoinStream, domain.JoinStreamPayload{
		StreamID:   streamID,
		IsStreamer: false,
	})
	if err != nil {
		return err
	}
	return v.channel.Send(ctx, env)
}

// Leave tears the session down: leave-stream emit, room disconnect, then
// channel close. Idempotent; a second Leave is a no-op.
func (v *Viewer) Leave(ctx context.Context) error {
	v.mu.Lock()
	if terminalViewer(v.state) {
		v.mu.Unlock()
		return nil
	}
	v.generation++
	var streamID domain.StreamID
	if v.sess.Stream != nil {
		streamID = v.sess.Stream.ID
	}
	joined := v.state == ViewerLive || v.state == ViewerReconnecting || v.state == ViewerConnectingRoom
	v.setStateLocked(ViewerEnded)
	v.mu.Unlock()

	if joined && streamID != "" {
		if env, err := domain.NewEnvelope(domain.MsgLeaveStream, domain.LeaveStreamPayload{StreamID: streamID}); err == nil {
			if err := v.channel.Send(ctx, env); err != nil {
				v.logger.Debugw("leave-stream emit failed", "error", err)
			}
		}
	}
	v.teardownTransports()
	return nil
}

// teardownTransports disconnects room before channel: channel delivery
// triggers teardown and must stay up last so sibling components still see
// the stream-ended broadcast.
func (v *Viewer) teardownTransports() {
	if err := v.room.Disconnect(); err != nil {
		v.logger.Warnw("room disconnect failed", "error", err)
	}
	if err := v.channel.Close(); err != nil {
		v.logger.Warnw("channel close failed", "error", err)
	}
	if err := v.sink.Close(); err != nil {
		v.logger.Warnw("sink close failed", "error", err)
	}
	v.hearts.Close()
	v.requester.Close()
}

func (v *Viewer) fail(gen uint64, err error) error {
	v.mu.Lock()
	if v.generation != gen || terminalViewer(v.state) {
		v.mu.Unlock()
		return domain.ErrSessionClosed
	}
	v.setStateLocked(ViewerError)
	v.failure = err
	v.mu.Unlock()

	v.logger.Errorw("viewer session failed", "error", err)
	v.teardownTransports()
	return err
}

// SendComment posts a comment while watching.
func (v *Viewer) SendComment(ctx context.Context, text string) error {
	streamID, err := v.requireWatching()
	if err != nil {
		return err
	}
	env, err := domain.NewEnvelope(domain.MsgSendComment, domain.SendCommentPayload{StreamID: streamID, Text: text})
	if err != nil {
		return err
	}
	return v.channel.Send(ctx, env)
}

// SendHeart emits one heart, throttled. One local visual per send.
func (v *Viewer) SendHeart(ctx context.Context) error {
	streamID, err := v.requireWatching()
	if err != nil {
		return err
	}
	if !v.heartLimiter.Allow() {
		v.logger.Debugw("heart send throttled")
		return nil
	}
	env, err := domain.NewEnvelope(domain.MsgSendHeart, domain.SendHeartPayload{StreamID: streamID})
	if err != nil {
		return err
	}
	if err := v.channel.Send(ctx, env); err != nil {
		return err
	}
	v.hearts.Add()
	v.metrics.HeartShown()
	return nil
}

// RequestCoHost emits request-cohost at most once while no pending or
// approved request exists; a second call produces zero outbound messages
// and reports domain.ErrCoHostOutstanding.
func (v *Viewer) RequestCoHost(ctx context.Context) error {
	streamID, err := v.requireWatching()
	if err != nil {
		return err
	}
	if _, err := v.requester.Begin(streamID, v.identity); err != nil {
		return err
	}
	env, err := domain.NewEnvelope(domain.MsgRequestCoHost, domain.RequestCoHostPayload{StreamID: streamID})
	if err != nil {
		return err
	}
	return v.channel.Send(ctx, env)
}

// CoHostRequest returns the state of this viewer's co-host negotiation.
func (v *Viewer) CoHostRequest() *domain.CoHostRequest {
	return v.requester.Current()
}

// CoHostGrant returns the publish credentials after an approval. Starting
// the actual co-host publish flow is the caller's job.
func (v *Viewer) CoHostGrant() *domain.CoHostGrant {
	return v.requester.Grant()
}

func (v *Viewer) requireWatching() (domain.StreamID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if (v.state != ViewerLive && v.state != ViewerReconnecting) || v.sess.Stream == nil {
		return "", domain.ErrNotConnected
	}
	return v.sess.Stream.ID, nil
}

// Snapshot captures the observable session state.
func (v *Viewer) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	snap := Snapshot{
		Role:         domain.RoleViewer,
		State:        string(v.state),
		ActiveHearts: v.hearts.Active(),
	}
	if req := v.requester.Current(); req != nil {
		snap.CoHostRequests = []domain.CoHostRequest{*req}
	}
	if v.failure != nil {
		snap.Failure = v.failure.Error()
	}
	v.sess.snapshotInto(&snap)
	return snap
}

// --- channel handlers ---

// handleJoinedStream finishes the join: overwrite the viewer count, then
// connect the media room with the viewer token. After a transport drop the
// same message confirms the re-join; the room connection survived, so only
// the state flips back to live.
func (v *Viewer) handleJoinedStream(payload json.RawMessage) error {
	var p domain.JoinedStreamPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	v.mu.Lock()
	gen := v.generation
	stream := p.Stream
	v.sess.Stream = &stream
	v.sess.SetViewerCount(p.ViewerCount)
	v.metrics.ViewerCount(p.ViewerCount)

	switch v.state {
	case ViewerReconnecting:
		if v.roomConnected {
			v.setStateLocked(ViewerLive)
			v.mu.Unlock()
			return nil
		}
		// Room never finished connecting before the drop; run the full path.
	case ViewerJoining:
	default:
		v.mu.Unlock()
		v.logger.Debugw("joined-stream ignored in current state")
		return nil
	}
	v.setStateLocked(ViewerConnectingRoom)
	v.mu.Unlock()

	if err := preflightToken(p.ViewerToken); err != nil {
		return v.fail(gen, apperrors.Wrap(err, apperrors.KindRegistry, "unusable viewer token"))
	}

	// Room connect can take arbitrarily long; run it off the delivery path
	// and re-check state when it resolves.
	go v.connectRoom(gen, stream.RoomURL, p.ViewerToken)
	return nil
}

func (v *Viewer) connectRoom(gen uint64, roomURL, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), v.roomTimeout)
	defer cancel()

	err := v.room.Connect(ctx, roomURL, token)

	v.mu.Lock()
	stale := v.generation != gen || v.state != ViewerConnectingRoom
	v.mu.Unlock()
	if stale {
		// An end/leave won the race; a late success is discarded.
		if err == nil {
			if derr := v.room.Disconnect(); derr != nil {
				v.logger.Debugw("stale room disconnect failed", "error", derr)
			}
		}
		return
	}

	if err != nil {
		v.fail(gen, apperrors.Wrap(err, apperrors.KindMedia, "media room connect failed"))
		return
	}

	v.mu.Lock()
	v.roomConnected = true
	v.setStateLocked(ViewerLive)
	v.mu.Unlock()
	v.logger.Infow("viewer live", "room_url", roomURL)
}

func (v *Viewer) handleViewerCount(payload json.RawMessage) error {
	var p domain.ViewerCountPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	v.mu.Lock()
	v.sess.SetViewerCount(p.ViewerCount)
	v.mu.Unlock()
	v.metrics.ViewerCount(p.ViewerCount)
	return nil
}

func (v *Viewer) handleNewComment(payload json.RawMessage) error {
	var p domain.NewCommentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	comment := domain.Comment{
		ID:             utils.NewCommentID(),
		AuthorUsername: p.Username,
		Text:           p.Text,
		SentAt:         time.UnixMilli(p.Timestamp),
	}
	v.mu.Lock()
	v.sess.AppendComment(comment)
	v.mu.Unlock()
	v.metrics.CommentReceived()
	return nil
}

func (v *Viewer) handleHeartSent(json.RawMessage) error {
	v.hearts.Add()
	v.metrics.HeartShown()
	return nil
}

func (v *Viewer) handleStreamEnded(json.RawMessage) error {
	v.mu.Lock()
	if terminalViewer(v.state) {
		v.mu.Unlock()
		return nil
	}
	v.generation++
	v.setStateLocked(ViewerEnded)
	v.mu.Unlock()

	v.logger.Infow("stream ended by host")
	v.teardownTransports()
	return nil
}

func (v *Viewer) handleCoHostApproved(payload json.RawMessage) error {
	var p domain.CoHostApprovedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if v.requester.Approve(p.CoHostGrant) {
		v.logger.Infow("co-host request approved")
	}
	return nil
}

func (v *Viewer) handleCoHostRejected(json.RawMessage) error {
	if v.requester.Reject() {
		v.logger.Infow("co-host request rejected")
	}
	return nil
}

func (v *Viewer) handleCoHostJoined(payload json.RawMessage) error {
	var p domain.CoHostJoinedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	v.mu.Lock()
	if v.sess.Stream != nil {
		v.sess.Stream.Title = p.Stream.Title
	}
	v.mu.Unlock()
	v.rescanRemoteTracks()
	return nil
}

func (v *Viewer) handleChannelError(payload json.RawMessage) error {
	var p domain.ErrorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Retryable {
		v.logger.Warnw("retryable channel error", "message", p.Message)
		return nil
	}
	v.mu.Lock()
	gen := v.generation
	v.mu.Unlock()
	v.fail(gen, apperrors.NewProtocol(p.Message, false))
	return nil
}

func (v *Viewer) onChannelDisconnect(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == ViewerLive {
		v.setStateLocked(ViewerReconnecting)
	}
	v.logger.Warnw("event channel dropped", "error", err, "state", v.state)
}

// onChannelReconnect re-emits exactly one join-stream: server-side viewer
// registration does not survive a transport drop.
func (v *Viewer) onChannelReconnect() {
	v.mu.Lock()
	var streamID domain.StreamID
	if v.sess.Stream != nil {
		streamID = v.sess.Stream.ID
	}
	rejoin := (v.state == ViewerReconnecting || v.state == ViewerLive) && streamID != ""
	v.mu.Unlock()
	if !rejoin {
		return
	}
	v.metrics.Reconnected()
	if err := v.sendJoin(context.Background(), streamID); err != nil {
		v.logger.Warnw("re-join after reconnect failed", "error", err)
	}
}

// --- room handlers ---

func (v *Viewer) onParticipantJoined(identity domain.Identity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if terminalViewer(v.state) {
		return
	}
	role := domain.RoleViewer
	if v.sess.Stream != nil && identity == v.sess.Stream.HostID {
		role = domain.RoleHost
	}
	v.sess.AddParticipant(identity, role, time.Now())
}

func (v *Viewer) onParticipantLeft(identity domain.Identity) {
	v.mu.Lock()
	v.sess.RemoveParticipant(identity)
	v.mu.Unlock()
	v.sink.DetachParticipant(identity)
}

// onTrackSubscribed attaches video idempotently: a cohost-joined rescan can
// legitimately retry a pair that is already bound. Events racing a
// stream-ended are dropped so nothing attaches to a stale render target.
func (v *Viewer) onTrackSubscribed(track ports.RemoteTrack, identity domain.Identity) {
	v.mu.Lock()
	if terminalViewer(v.state) {
		v.mu.Unlock()
		return
	}
	p := v.sess.AddParticipant(identity, domain.RoleViewer, time.Now())
	p.HasPublishedTrack = true
	if v.sess.Stream != nil && identity == v.sess.Stream.HostID {
		p.Role = domain.RoleHost
	} else {
		p.Role = domain.RoleCoHost
	}
	v.mu.Unlock()

	v.attachVideo(track, identity)
}

func (v *Viewer) onTrackUnsubscribed(trackID string, identity domain.Identity) {
	v.logger.Debugw("remote track unsubscribed", "track_id", trackID, "identity", identity)
}

func (v *Viewer) attachVideo(track ports.RemoteTrack, identity domain.Identity) {
	if track.Kind() != ports.TrackVideo {
		return
	}
	attached, err := v.sink.Attach(identity, track)
	if err != nil {
		v.logger.Warnw("track attach failed", "identity", identity, "track_id", track.ID(), "error", err)
		return
	}
	if attached {
		v.metrics.TrackAttached()
		v.logger.Infow("remote video attached", "identity", identity, "track_id", track.ID())
	}
}

func (v *Viewer) rescanRemoteTracks() {
	v.mu.Lock()
	if terminalViewer(v.state) {
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()

	for _, rp := range v.room.RemoteParticipants() {
		for _, track := range rp.Tracks {
			v.attachVideo(track, rp.Identity)
		}
	}
}
