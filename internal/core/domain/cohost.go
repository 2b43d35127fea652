package domain

import "time"

// CoHostState transitions: Pending -> Approved | Rejected | Expired.
// Approved and Rejected are terminal and come from the channel; Expired is a
// local, display-only timeout with no server round trip behind it.
type CoHostState string

const (
	CoHostPending  CoHostState = "pending"
	CoHostApproved CoHostState = "approved"
	CoHostRejected CoHostState = "rejected"
	CoHostExpired  CoHostState = "expired"
)

// CoHostRequest tracks a single co-host negotiation. At most one outstanding
// request may exist per (requester, stream) pair.
type CoHostRequest struct {
	RequesterID Identity    `json:"requesterId"`
	StreamID    StreamID    `json:"streamId"`
	State       CoHostState `json:"state"`
	RequestedAt time.Time   `json:"requestedAt"`
}

// Terminal reports whether the request can no longer change state.
func (r *CoHostRequest) Terminal() bool {
	return r.State == CoHostApproved || r.State == CoHostRejected
}

// CoHostGrant carries the publish credentials handed to an approved co-host.
// Either RTMP fields or a room publish token are set, depending on how the
// provider wants the co-host to publish.
type CoHostGrant struct {
	RTMPURL      string `json:"rtmpUrl,omitempty"`
	StreamKey    string `json:"streamKey,omitempty"`
	PublishToken string `json:"publishToken,omitempty"`
}
