package domain

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire format of every event-channel message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope around a marshalled payload.
func NewEnvelope(kind string, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: kind}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Envelope{Type: kind, Payload: raw}, nil
}

// Outbound message kinds.
const (
	MsgJoinStream    = "join-stream"
	MsgLeaveStream   = "leave-stream"
	MsgSendComment   = "send-comment"
	MsgSendHeart     = "send-heart"
	MsgRequestCoHost = "request-cohost"
	MsgApproveCoHost = "approve-cohost"
	MsgRejectCoHost  = "reject-cohost"
)

// Inbound message kinds.
const (
	MsgJoinedStream   = "joined-stream"
	MsgViewerJoined   = "viewer-joined"
	MsgViewerLeft     = "viewer-left"
	MsgNewComment     = "new-comment"
	MsgHeartSent      = "heart-sent"
	MsgStreamEnded    = "stream-ended"
	MsgCoHostRequest  = "cohost-request"
	MsgCoHostJoined   = "cohost-joined"
	MsgCoHostApproved = "cohost-approved"
	MsgCoHostRejected = "cohost-rejected"
	MsgError          = "error"
)

type JoinStreamPayload struct {
	StreamID   StreamID `json:"streamId"`
	IsStreamer bool     `json:"isStreamer"`
	Title      string   `json:"title,omitempty"`
}

type LeaveStreamPayload struct {
	StreamID StreamID `json:"streamId"`
}

type SendCommentPayload struct {
	StreamID StreamID `json:"streamId"`
	Text     string   `json:"text"`
}

type SendHeartPayload struct {
	StreamID StreamID `json:"streamId"`
}

type RequestCoHostPayload struct {
	StreamID StreamID `json:"streamId"`
}

type ApproveCoHostPayload struct {
	StreamID    StreamID `json:"streamId"`
	RequesterID Identity `json:"requesterId"`
}

type RejectCoHostPayload struct {
	StreamID    StreamID `json:"streamId"`
	RequesterID Identity `json:"requesterId"`
}

type JoinedStreamPayload struct {
	Stream      Stream `json:"stream"`
	ViewerCount int    `json:"viewerCount"`
	ViewerToken string `json:"viewerToken"`
}

// ViewerCountPayload carries the authoritative viewer count on both
// viewer-joined and viewer-left messages. The value always overwrites local
// state; it is never incremented or decremented locally.
type ViewerCountPayload struct {
	ViewerCount int `json:"viewerCount"`
}

type NewCommentPayload struct {
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type CoHostRequestPayload struct {
	StreamID    StreamID `json:"streamId"`
	RequesterID Identity `json:"requesterId"`
}

type CoHostJoinedPayload struct {
	Stream Stream `json:"stream"`
}

type CoHostApprovedPayload struct {
	CoHostGrant
}

type ErrorPayload struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}
