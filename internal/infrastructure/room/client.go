package room

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	apperrors "livecast/pkg/errors"
	"livecast/pkg/tracing"

	"github.com/gorilla/websocket"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	signalWriteTimeout = 10 * time.Second
	pliInterval        = 3 * time.Second
)

// Options configures the room client.
type Options struct {
	ICEServers     []string
	ConnectTimeout time.Duration
}

// signalMessage is the envelope exchanged with the room's signaling endpoint.
type signalMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type sdpPayload struct {
	SDP string `json:"sdp"`
}

type candidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type participantPayload struct {
	Identity domain.Identity `json:"identity"`
}

// webrtcTrack is implemented by local tracks that wrap a pion track.
type webrtcTrack interface {
	WebRTCTrack() webrtc.TrackLocal
}

// Client joins a hosted WebRTC room: one signaling socket, one peer
// connection, owned by exactly one controller.
type Client struct {
	opts   Options
	events ports.RoomEvents
	logger *zap.SugaredLogger

	mu           sync.Mutex
	pc           *webrtc.PeerConnection
	signal       *websocket.Conn
	participants map[domain.Identity]*remoteParticipant
	connected    bool
	closed       bool

	done chan struct{}
	wg   sync.WaitGroup
}

var _ ports.MediaRoom = (*Client)(nil)

// NewClient creates a disconnected room client.
func NewClient(opts Options, logger *zap.SugaredLogger) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	return &Client{
		opts:         opts,
		logger:       logger,
		participants: make(map[domain.Identity]*remoteParticipant),
	}
}

// SetEvents installs the callbacks. Must be called before Connect.
func (c *Client) SetEvents(events ports.RoomEvents) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = events
}

// Connect dials the signaling endpoint, negotiates the peer connection and
// blocks until media is flowing or ctx expires.
func (c *Client) Connect(ctx context.Context, url, token string) error {
	ctx, span := tracing.TraceRoomOperation(ctx, "connect", "")
	defer span.End()

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.opts.ConnectTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewMedia("room signaling dial failed", err)
	}

	pc, err := c.newPeerConnection()
	if err != nil {
		conn.Close()
		tracing.RecordError(ctx, err)
		return apperrors.NewMedia("peer connection setup failed", err)
	}

	connectedCh := make(chan struct{})
	failedCh := make(chan struct{})
	var once sync.Once

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Infow("room connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			once.Do(func() { close(connectedCh) })
		case webrtc.PeerConnectionStateFailed:
			select {
			case <-failedCh:
			default:
				close(failedCh)
			}
		}
	})
	pc.OnTrack(c.handleRemoteTrack)
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if err := c.sendSignal("candidate", candidatePayload{Candidate: candidate.ToJSON()}); err != nil {
			c.logger.Warnw("failed to send ICE candidate", "error", err)
		}
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		pc.Close()
		return domain.ErrSessionClosed
	}
	c.pc = pc
	c.signal = conn
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.signalLoop(conn, pc)

	if err := c.sendSignal("join", sdpPayload{}); err != nil {
		c.teardown()
		return apperrors.NewMedia("room join announce failed", err)
	}

	select {
	case <-connectedCh:
	case <-failedCh:
		c.teardown()
		return apperrors.NewMedia("room connection failed", fmt.Errorf("peer connection entered failed state"))
	case <-ctx.Done():
		c.teardown()
		tracing.RecordError(ctx, ctx.Err())
		return apperrors.NewMedia("room connect timed out", ctx.Err())
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.logger.Infow("room connected", "url", url)
	return nil
}

func (c *Client) newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}
	for _, server := range c.opts.ICEServers {
		config.ICEServers = append(config.ICEServers, webrtc.ICEServer{URLs: []string{server}})
	}

	settingEngine := webrtc.SettingEngine{}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

// signalLoop reads signaling messages until the socket drops.
func (c *Client) signalLoop(conn *websocket.Conn, pc *webrtc.PeerConnection) {
	defer c.wg.Done()

	for {
		var msg signalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Warnw("room signaling read failed", "error", err)
			}
			return
		}

		switch msg.Type {
		case "offer":
			c.handleOffer(pc, msg.Payload)
		case "answer":
			c.handleAnswer(pc, msg.Payload)
		case "candidate":
			c.handleCandidate(pc, msg.Payload)
		case "participant-joined":
			c.handleParticipantJoined(msg.Payload)
		case "participant-left":
			c.handleParticipantLeft(msg.Payload)
		default:
			c.logger.Debugw("ignoring unknown signaling message", "type", msg.Type)
		}
	}
}

// handleOffer applies a server-initiated renegotiation.
func (c *Client) handleOffer(pc *webrtc.PeerConnection, payload json.RawMessage) {
	var p sdpPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warnw("malformed offer payload", "error", err)
		return
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}); err != nil {
		c.logger.Errorw("failed to apply remote offer", "error", err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		c.logger.Errorw("failed to create answer", "error", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		c.logger.Errorw("failed to set local answer", "error", err)
		return
	}
	if err := c.sendSignal("answer", sdpPayload{SDP: answer.SDP}); err != nil {
		c.logger.Errorw("failed to send answer", "error", err)
	}
}

func (c *Client) handleAnswer(pc *webrtc.PeerConnection, payload json.RawMessage) {
	var p sdpPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warnw("malformed answer payload", "error", err)
		return
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		c.logger.Errorw("failed to apply remote answer", "error", err)
	}
}

func (c *Client) handleCandidate(pc *webrtc.PeerConnection, payload json.RawMessage) {
	var p candidatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warnw("malformed candidate payload", "error", err)
		return
	}
	if err := pc.AddICECandidate(p.Candidate); err != nil {
		c.logger.Warnw("failed to add ICE candidate", "error", err)
	}
}

func (c *Client) handleParticipantJoined(payload json.RawMessage) {
	var p participantPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warnw("malformed participant payload", "error", err)
		return
	}

	c.mu.Lock()
	_, known := c.participants[p.Identity]
	if !known {
		c.participants[p.Identity] = &remoteParticipant{identity: p.Identity}
	}
	events := c.events
	c.mu.Unlock()

	if !known && events.OnParticipantJoined != nil {
		events.OnParticipantJoined(p.Identity)
	}
}

func (c *Client) handleParticipantLeft(payload json.RawMessage) {
	var p participantPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warnw("malformed participant payload", "error", err)
		return
	}

	c.mu.Lock()
	participant, known := c.participants[p.Identity]
	delete(c.participants, p.Identity)
	events := c.events
	c.mu.Unlock()

	if !known {
		return
	}
	for _, track := range participant.trackList() {
		if events.OnTrackUnsubscribed != nil {
			events.OnTrackUnsubscribed(track.ID(), p.Identity)
		}
	}
	if events.OnParticipantLeft != nil {
		events.OnParticipantLeft(p.Identity)
	}
}

// handleRemoteTrack wires a newly subscribed track. The track's stream id
// carries the publishing participant's identity.
func (c *Client) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	identity := domain.Identity(track.StreamID())
	c.logger.Infow("subscribed to remote track",
		"identity", identity,
		"track_id", track.ID(),
		"codec", track.Codec().MimeType,
	)

	wrapped := newRemoteTrack(track)

	c.mu.Lock()
	participant, known := c.participants[identity]
	if !known {
		participant = &remoteParticipant{identity: identity}
		c.participants[identity] = participant
	}
	participant.addTrack(wrapped)
	events := c.events
	done := c.done
	c.mu.Unlock()

	if !known && events.OnParticipantJoined != nil {
		events.OnParticipantJoined(identity)
	}

	// Keyframe requests keep a freshly subscribed video track decodable.
	if wrapped.Kind() == ports.TrackVideo {
		c.wg.Add(1)
		go c.keyframeLoop(track.SSRC(), done)
	}
	c.wg.Add(1)
	go c.drainRTCP(receiver)

	if events.OnTrackSubscribed != nil {
		events.OnTrackSubscribed(wrapped, identity)
	}
}

// keyframeLoop periodically asks the publisher for a keyframe.
func (c *Client) keyframeLoop(ssrc webrtc.SSRC, done chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			pc := c.pc
			c.mu.Unlock()
			if pc == nil {
				return
			}
			err := pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
			})
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) drainRTCP(receiver *webrtc.RTPReceiver) {
	defer c.wg.Done()
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

// Publish adds a local track to the room and renegotiates. Publishing is
// per track, not atomic across tracks.
func (c *Client) Publish(ctx context.Context, track ports.LocalTrack) error {
	ctx, span := tracing.TraceRoomOperation(ctx, "publish", "")
	defer span.End()

	carrier, ok := track.(webrtcTrack)
	if !ok {
		return apperrors.NewMedia(fmt.Sprintf("track %s has no WebRTC representation", track.ID()), nil)
	}

	c.mu.Lock()
	pc := c.pc
	connected := c.connected
	c.mu.Unlock()
	if pc == nil || !connected {
		return domain.ErrNotConnected
	}

	sender, err := pc.AddTrack(carrier.WebRTCTrack())
	if err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewMedia(fmt.Sprintf("failed to add track %s", track.ID()), err)
	}

	// The sender's RTCP stream must be drained or the interceptors stall.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	if err := c.renegotiate(pc); err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewMedia(fmt.Sprintf("renegotiation for track %s failed", track.ID()), err)
	}

	c.logger.Infow("published local track", "track_id", track.ID(), "kind", track.Kind())
	return nil
}

// renegotiate sends a fresh offer; the answer comes back async over the
// signaling socket.
func (c *Client) renegotiate(pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return c.sendSignal("offer", sdpPayload{SDP: offer.SDP})
}

// RemoteParticipants snapshots current members and their tracks.
func (c *Client) RemoteParticipants() []ports.RemoteParticipant {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ports.RemoteParticipant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, ports.RemoteParticipant{
			Identity: p.identity,
			Tracks:   p.trackList(),
		})
	}
	return out
}

func (c *Client) sendSignal(kind string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signal == nil {
		return domain.ErrNotConnected
	}
	c.signal.SetWriteDeadline(time.Now().Add(signalWriteTimeout))
	return c.signal.WriteJSON(signalMessage{Type: kind, Payload: data})
}

// Disconnect leaves the room and releases the connection. Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.teardown()
	c.logger.Infow("room disconnected")
	return nil
}

func (c *Client) teardown() {
	c.mu.Lock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	signal := c.signal
	pc := c.pc
	c.signal = nil
	c.pc = nil
	c.connected = false
	c.participants = make(map[domain.Identity]*remoteParticipant)
	c.mu.Unlock()

	if signal != nil {
		signal.Close()
	}
	if pc != nil {
		pc.Close()
	}
	c.wg.Wait()
}
