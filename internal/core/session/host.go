package session

import (
	"context"
	"encoding/json"
	"strings"
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

// HostConfig carries the per-session knobs of a host controller.
type HostConfig struct {
	Username string
	// Identity overrides the generated per-connection identity. The media
	// provider stamps it onto published tracks, so both must agree.
	Identity        domain.Identity
	HeartDisplay    time.Duration
	HeartsPerSecond float64
	HeartBurst      int
}

// Host drives the streamer side of a live session: acquire local media,
// create the stream in the registry, connect and publish into the media
// room, announce on the event channel, moderate co-host requests, and tear
// everything down exactly once.
//
// Channel and room callbacks are serialized through the controller mutex;
// they may interleave in any order relative to each other, and every
// transition re-checks the current state, so a late event for a finished
// step is discarded instead of forcing a stale transition.
type Host struct {
	mu         sync.Mutex
	state      HostState
	generation uint64
	sess       *SessionState
	failure    error

	identity domain.Identity
	registry ports.StreamRegistry
	channel  ports.EventChannel
	room     ports.MediaRoom
	media    ports.MediaProvider
	sink     ports.TrackSink

	tracks         []ports.LocalTrack
	tracksReleased bool

	approver   *CoHostApprover
	hearts     *HeartBuffer
	dispatcher *Dispatcher

	heartLimiter *rate.Limiter
	metrics      Metrics
	logger       *zap.SugaredLogger
}

// NewHost wires a host controller. The channel and room must not be
// connected yet; the controller owns their whole lifecycle.
func NewHost(
	cfg HostConfig,
	registry ports.StreamRegistry,
	channel ports.EventChannel,
	room ports.MediaRoom,
	media ports.MediaProvider,
	sink ports.TrackSink,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *Host {
	if metrics == nil {
		metrics = Nop
	}
	if cfg.Identity == "" {
		cfg.Identity = domain.Identity(utils.NewIdentity(cfg.Username))
	}
	h := &Host{
		state:        HostIdle,
		sess:         NewSessionState(),
		identity:     cfg.Identity,
		registry:     registry,
		channel:      channel,
		room:         room,
		media:        media,
		sink:         sink,
		approver:     NewCoHostApprover(),
		dispatcher:   NewDispatcher(logger),
		heartLimiter: rate.NewLimiter(rate.Limit(cfg.HeartsPerSecond), cfg.HeartBurst),
		metrics:      metrics,
		logger:       logger,
	}
	h.hearts = NewHeartBuffer(cfg.HeartDisplay, func(domain.Heart) { metrics.HeartExpired() })

	h.dispatcher.Register(domain.MsgViewerJoined, h.handleViewerCount)
	h.dispatcher.Register(domain.MsgViewerLeft, h.handleViewerCount)
	h.dispatcher.Register(domain.MsgNewComment, h.handleNewComment)
	h.dispatcher.Register(domain.MsgHeartSent, h.handleHeartSent)
	h.dispatcher.Register(domain.MsgCoHostRequest, h.handleCoHostRequest)
	h.dispatcher.Register(domain.MsgCoHostJoined, h.handleCoHostJoined)
	h.dispatcher.Register(domain.MsgStreamEnded, h.handleStreamEnded)
	h.dispatcher.Register(domain.MsgError, h.handleChannelError)

	channel.SetEvents(ports.ChannelEvents{
		OnMessage:    h.dispatcher.Dispatch,
		OnDisconnect: h.onChannelDisconnect,
		OnReconnect:  h.onChannelReconnect,
	})
	room.SetEvents(ports.RoomEvents{
		OnParticipantJoined: h.onParticipantJoined,
		OnParticipantLeft:   h.onParticipantLeft,
		OnTrackSubscribed:   h.onTrackSubscribed,
		OnTrackUnsubscribed: h.onTrackUnsubscribed,
	})
	return h
}

// Identity returns the stable per-connection identity of this host.
func (h *Host) Identity() domain.Identity {
	return h.identity
}

// State returns the current controller state.
func (h *Host) State() HostState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Failure returns the error that moved the controller into HostError.
func (h *Host) Failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failure
}

func (h *Host) setStateLocked(s HostState) {
	if h.state == s {
		return
	}
	h.logger.Infow("host state change", "from", h.state, "to", s)
	h.state = s
	h.metrics.StateChanged(string(domain.RoleHost), string(s))
}

// advance applies from->to only if the session generation matches and the
// controller still sits in from. A false return means a cancellation or
// failure won the race and the in-flight step must abandon its result.
func (h *Host) advance(gen uint64, from, to HostState) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.generation != gen || h.state != from {
		return false
	}
	h.setStateLocked(to)
	return true
}

// GoLive runs the full streamer start flow. An empty title is rejected
// locally with no transition. Media acquisition failures leave the
// controller retryable in HostAcquiringMedia; everything downstream is
// fatal to the attempt.
func (h *Host) GoLive(ctx context.Context, title, description, privacy string) error {
	if strings.TrimSpace(title) == "" {
		return domain.ErrEmptyTitle
	}

	h.mu.Lock()
	if h.state != HostIdle && h.state != HostAcquiringMedia {
		h.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	gen := h.generation
	h.setStateLocked(HostAcquiringMedia)
	h.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "host.go_live")
	defer span.End()

	tracks, err := h.media.Acquire(ctx)
	if err != nil {
		// Retryable: state stays in HostAcquiringMedia.
		tracing.RecordError(ctx, err)
		h.logger.Warnw("local media acquisition failed", "error", err)
		return apperrors.NewPermission("camera/microphone capture denied", err)
	}
	// Checking the generation and adopting the tracks must be one atomic
	// step: an End racing in between would mark releaseTracks done while
	// the capture feeds keep running.
	h.mu.Lock()
	if h.generation != gen || h.state != HostAcquiringMedia {
		h.mu.Unlock()
		stopTracks(tracks)
		return domain.ErrSessionClosed
	}
	h.setStateLocked(HostCreatingStream)
	h.tracks = tracks
	h.tracksReleased = false
	h.mu.Unlock()

	result, err := h.registry.CreateStream(ctx, title, description, privacy)
	if err != nil {
		return h.fail(gen, apperrors.Wrap(err, apperrors.KindRegistry, "stream creation failed"))
	}
	if err := preflightToken(result.PublishToken); err != nil {
		return h.fail(gen, apperrors.Wrap(err, apperrors.KindRegistry, "registry returned unusable publish token"))
	}
	if !h.advance(gen, HostCreatingStream, HostConnectingRoom) {
		return domain.ErrSessionClosed
	}

	stream := result.Stream
	if stream.ID == "" {
		stream.ID = result.StreamID
	}
	if stream.RoomURL == "" {
		stream.RoomURL = result.RoomURL
	}
	h.mu.Lock()
	h.sess.Stream = &stream
	h.mu.Unlock()

	if err := h.room.Connect(ctx, result.RoomURL, result.PublishToken); err != nil {
		return h.fail(gen, apperrors.Wrap(err, apperrors.KindMedia, "media room connect failed"))
	}
	if !h.advance(gen, HostConnectingRoom, HostPublishing) {
		return domain.ErrSessionClosed
	}

	// Publishing is per track: the sub-state lasts until every track
	// reports published.
	for _, track := range tracks {
		if err := h.room.Publish(ctx, track); err != nil {
			return h.fail(gen, apperrors.Wrap(err, apperrors.KindMedia, "track publish failed"))
		}
		h.logger.Infow("published local track", "track_id", track.ID(), "kind", track.Kind())
	}

	if err := h.channel.Connect(ctx); err != nil {
		return h.fail(gen, apperrors.Wrap(err, apperrors.KindTransport, "event channel connect failed"))
	}
	announce, err := domain.NewEnvelope(domain.MsgJoinStream, domain.JoinStreamPayload{
		StreamID:   stream.ID,
		IsStreamer: true,
		Title:      title,
	})
	if err == nil {
		err = h.channel.Send(ctx, announce)
	}
	if err != nil {
		return h.fail(gen, apperrors.Wrap(err, apperrors.KindTransport, "announce failed"))
	}

	// The channel protocol carries no announce ack, so Live follows the
	// send directly.
	if !h.advance(gen, HostPublishing, HostLive) {
		return domain.ErrSessionClosed
	}
	h.mu.Lock()
	h.sess.Stream.Status = domain.StreamLive
	h.sess.AddParticipant(h.identity, domain.RoleHost, time.Now())
	h.mu.Unlock()

	h.logger.Infow("host live", "stream_id", stream.ID, "title", title)
	return nil
}

// fail moves the controller to HostError and cleans up, unless a newer
// generation (an explicit End) already owns the session.
func (h *Host) fail(gen uint64, err error) error {
	h.mu.Lock()
	if h.generation != gen || terminalHost(h.state) || h.state == HostEnding {
		h.mu.Unlock()
		return domain.ErrSessionClosed
	}
	h.setStateLocked(HostError)
	h.failure = err
	h.mu.Unlock()

	h.logger.Errorw("host session failed", "error", err)
	h.cleanup()
	return err
}

// End tears the session down: registry end-stream, room disconnect, local
// media release, channel close — in that order, each step best-effort.
// Calling End twice never errors and never double-releases anything.
func (h *Host) End(ctx context.Context) error {
	h.mu.Lock()
	if h.state == HostEnding || h.state == HostEnded {
		h.mu.Unlock()
		return nil
	}
	h.generation++ // discard every in-flight step resolution
	h.setStateLocked(HostEnding)
	var streamID domain.StreamID
	created := false
	if h.sess.Stream != nil {
		streamID = h.sess.Stream.ID
		created = true
	}
	h.mu.Unlock()

	if created {
		if err := h.registry.EndStream(ctx, streamID); err != nil {
			h.logger.Warnw("registry end-stream failed", "stream_id", streamID, "error", err)
		}
	}
	h.cleanup()

	h.mu.Lock()
	h.setStateLocked(HostEnded)
	if h.sess.Stream != nil {
		h.sess.Stream.End(time.Now())
	}
	h.mu.Unlock()
	return nil
}

// cleanup releases room, local tracks, hearts, channel and sink. Every
// step runs even when an earlier one fails.
func (h *Host) cleanup() {
	if err := h.room.Disconnect(); err != nil {
		h.logger.Warnw("room disconnect failed", "error", err)
	}
	h.releaseTracks()
	h.hearts.Close()
	if err := h.channel.Close(); err != nil {
		h.logger.Warnw("channel close failed", "error", err)
	}
	if err := h.sink.Close(); err != nil {
		h.logger.Warnw("sink close failed", "error", err)
	}
}

// releaseTracks stops local capture exactly once; repeated calls are no-ops.
func (h *Host) releaseTracks() {
	h.mu.Lock()
	if h.tracksReleased {
		h.mu.Unlock()
		return
	}
	h.tracksReleased = true
	tracks := h.tracks
	h.mu.Unlock()

	stopTracks(tracks)
}

func stopTracks(tracks []ports.LocalTrack) {
	for _, t := range tracks {
		t.Stop()
	}
}

// SendComment posts a comment to the channel while live.
func (h *Host) SendComment(ctx context.Context, text string) error {
	streamID, err := h.requireLive()
	if err != nil {
		return err
	}
	env, err := domain.NewEnvelope(domain.MsgSendComment, domain.SendCommentPayload{StreamID: streamID, Text: text})
	if err != nil {
		return err
	}
	return h.channel.Send(ctx, env)
}

// SendHeart emits one heart, throttled to the configured rate. Throttled
// sends are dropped quietly; hearts are decoration, not state.
func (h *Host) SendHeart(ctx context.Context) error {
	streamID, err := h.requireLive()
	if err != nil {
		return err
	}
	if !h.heartLimiter.Allow() {
		h.logger.Debugw("heart send throttled")
		return nil
	}
	env, err := domain.NewEnvelope(domain.MsgSendHeart, domain.SendHeartPayload{StreamID: streamID})
	if err != nil {
		return err
	}
	if err := h.channel.Send(ctx, env); err != nil {
		return err
	}
	h.hearts.Add()
	h.metrics.HeartShown()
	return nil
}

// ApproveCoHost resolves a queued request positively and tells the channel.
// Credentials for the approved co-host are issued by the backend when it
// relays the approval; the host never mints them.
func (h *Host) ApproveCoHost(ctx context.Context, requester domain.Identity) error {
	streamID, err := h.requireLive()
	if err != nil {
		return err
	}
	req, err := h.approver.Resolve(requester, true)
	if err != nil {
		return err
	}
	env, err := domain.NewEnvelope(domain.MsgApproveCoHost, domain.ApproveCoHostPayload{
		StreamID:    streamID,
		RequesterID: req.RequesterID,
	})
	if err != nil {
		return err
	}
	return h.channel.Send(ctx, env)
}

// RejectCoHost resolves a queued request negatively.
func (h *Host) RejectCoHost(ctx context.Context, requester domain.Identity) error {
	streamID, err := h.requireLive()
	if err != nil {
		return err
	}
	req, err := h.approver.Resolve(requester, false)
	if err != nil {
		return err
	}
	env, err := domain.NewEnvelope(domain.MsgRejectCoHost, domain.RejectCoHostPayload{
		StreamID:    streamID,
		RequesterID: req.RequesterID,
	})
	if err != nil {
		return err
	}
	return h.channel.Send(ctx, env)
}

// PendingCoHostRequests lists requests awaiting moderation.
func (h *Host) PendingCoHostRequests() []domain.CoHostRequest {
	return h.approver.Pending()
}

func (h *Host) requireLive() (domain.StreamID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != HostLive || h.sess.Stream == nil {
		return "", domain.ErrNotConnected
	}
	return h.sess.Stream.ID, nil
}

// Snapshot captures the observable session state.
func (h *Host) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := Snapshot{
		Role:           domain.RoleHost,
		State:          string(h.state),
		CoHostRequests: h.approver.All(),
		ActiveHearts:   h.hearts.Active(),
	}
	if h.failure != nil {
		snap.Failure = h.failure.Error()
	}
	h.sess.snapshotInto(&snap)
	return snap
}

// --- channel handlers ---

func (h *Host) handleViewerCount(payload json.RawMessage) error {
	var p domain.ViewerCountPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	h.mu.Lock()
	h.sess.SetViewerCount(p.ViewerCount)
	h.mu.Unlock()
	h.metrics.ViewerCount(p.ViewerCount)
	return nil
}

func (h *Host) handleNewComment(payload json.RawMessage) error {
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
	h.mu.Lock()
	h.sess.AppendComment(comment)
	h.mu.Unlock()
	h.metrics.CommentReceived()
	return nil
}

func (h *Host) handleHeartSent(json.RawMessage) error {
	h.hearts.Add()
	h.metrics.HeartShown()
	return nil
}

func (h *Host) handleCoHostRequest(payload json.RawMessage) error {
	var p domain.CoHostRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	h.mu.Lock()
	live := h.state == HostLive
	h.mu.Unlock()
	if !live {
		h.logger.Debugw("co-host request outside live state ignored", "requester", p.RequesterID)
		return nil
	}
	req := h.approver.Add(p.StreamID, p.RequesterID)
	h.logger.Infow("co-host request queued", "requester", req.RequesterID)
	return nil
}

// handleCoHostJoined re-scans current room members. The broadcast and the
// track becoming subscribable are unordered relative to each other, so an
// incremental update is not enough here.
func (h *Host) handleCoHostJoined(json.RawMessage) error {
	h.rescanRemoteTracks()
	return nil
}

func (h *Host) handleStreamEnded(json.RawMessage) error {
	h.logger.Infow("stream ended by server")
	return h.End(context.Background())
}

func (h *Host) handleChannelError(payload json.RawMessage) error {
	var p domain.ErrorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Retryable {
		h.logger.Warnw("retryable channel error", "message", p.Message)
		return nil
	}
	h.mu.Lock()
	gen := h.generation
	h.mu.Unlock()
	h.fail(gen, apperrors.NewProtocol(p.Message, false))
	return nil
}

func (h *Host) onChannelDisconnect(err error) {
	h.logger.Warnw("event channel dropped, reconnecting", "error", err)
}

func (h *Host) onChannelReconnect() {
	h.mu.Lock()
	live := h.state == HostLive
	var streamID domain.StreamID
	var title string
	if h.sess.Stream != nil {
		streamID = h.sess.Stream.ID
		title = h.sess.Stream.Title
	}
	h.mu.Unlock()
	if !live {
		return
	}
	h.metrics.Reconnected()

	// Server-side registration does not survive a transport drop.
	env, err := domain.NewEnvelope(domain.MsgJoinStream, domain.JoinStreamPayload{
		StreamID:   streamID,
		IsStreamer: true,
		Title:      title,
	})
	if err == nil {
		err = h.channel.Send(context.Background(), env)
	}
	if err != nil {
		h.logger.Warnw("re-announce after reconnect failed", "error", err)
	}
}

// --- room handlers ---

func (h *Host) onParticipantJoined(identity domain.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if terminalHost(h.state) || h.state == HostEnding {
		return
	}
	h.sess.AddParticipant(identity, domain.RoleViewer, time.Now())
}

func (h *Host) onParticipantLeft(identity domain.Identity) {
	h.mu.Lock()
	h.sess.RemoveParticipant(identity)
	h.mu.Unlock()
	h.sink.DetachParticipant(identity)
}

func (h *Host) onTrackSubscribed(track ports.RemoteTrack, identity domain.Identity) {
	h.mu.Lock()
	if terminalHost(h.state) || h.state == HostEnding {
		h.mu.Unlock()
		return
	}
	p := h.sess.AddParticipant(identity, domain.RoleCoHost, time.Now())
	p.Role = domain.RoleCoHost
	p.HasPublishedTrack = true
	h.mu.Unlock()

	h.attachVideo(track, identity)
}

func (h *Host) onTrackUnsubscribed(trackID string, identity domain.Identity) {
	h.logger.Debugw("remote track unsubscribed", "track_id", trackID, "identity", identity)
}

func (h *Host) attachVideo(track ports.RemoteTrack, identity domain.Identity) {
	if track.Kind() != ports.TrackVideo {
		return
	}
	attached, err := h.sink.Attach(identity, track)
	if err != nil {
		h.logger.Warnw("track attach failed", "identity", identity, "track_id", track.ID(), "error", err)
		return
	}
	if attached {
		h.metrics.TrackAttached()
		h.logger.Infow("remote video attached", "identity", identity, "track_id", track.ID())
	}
}

func (h *Host) rescanRemoteTracks() {
	h.mu.Lock()
	if terminalHost(h.state) || h.state == HostEnding {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	for _, rp := range h.room.RemoteParticipants() {
		for _, track := range rp.Tracks {
			h.attachVideo(track, rp.Identity)
		}
	}
}
