package session

import (
	"time"

	"livecast/internal/core/domain"
)

// HostState is the host controller's single state tag. Collapsing the
// connection flags into one enum rules out contradictory combinations.
type HostState string

const (
	HostIdle           HostState = "idle"
	HostAcquiringMedia HostState = "acquiring_media"
	HostCreatingStream HostState = "creating_stream"
	HostConnectingRoom HostState = "connecting_room"
	HostPublishing     HostState = "publishing"
	HostLive           HostState = "live"
	HostEnding         HostState = "ending"
	HostEnded          HostState = "ended"
	HostError          HostState = "error"
)

// ViewerState is the viewer controller's state tag.
type ViewerState string

const (
	ViewerIdle              ViewerState = "idle"
	ViewerFetchingMetadata  ViewerState = "fetching_metadata"
	ViewerConnectingChannel ViewerState = "connecting_channel"
	ViewerJoining           ViewerState = "joining"
	ViewerConnectingRoom    ViewerState = "connecting_room"
	ViewerLive              ViewerState = "live"
	ViewerReconnecting      ViewerState = "reconnecting"
	ViewerEnded             ViewerState = "ended"
	ViewerError             ViewerState = "error"
)

// terminalHost reports whether no further transitions are possible.
func terminalHost(s HostState) bool {
	return s == HostEnded || s == HostError
}

func terminalViewer(s ViewerState) bool {
	return s == ViewerEnded || s == ViewerError
}

// SessionState is the single source of truth for one session. It is owned
// exclusively by the controller that created it; collaborators request
// mutations through the controller and never write here directly. All
// methods are called under the owning controller's lock.
type SessionState struct {
	Stream       *domain.Stream
	Participants map[domain.Identity]*domain.Participant
	ViewerCount  int
	Comments     []domain.Comment
}

func NewSessionState() *SessionState {
	return &SessionState{
		Participants: make(map[domain.Identity]*domain.Participant),
	}
}

// SetViewerCount overwrites the count with the channel's authoritative
// value. Local optimistic mutation is disallowed to avoid drift.
func (s *SessionState) SetViewerCount(n int) {
	s.ViewerCount = n
}

func (s *SessionState) AddParticipant(identity domain.Identity, role domain.Role, at time.Time) *domain.Participant {
	if p, ok := s.Participants[identity]; ok {
		return p
	}
	p := &domain.Participant{Identity: identity, Role: role, JoinedAt: at}
	s.Participants[identity] = p
	return p
}

func (s *SessionState) RemoveParticipant(identity domain.Identity) {
	delete(s.Participants, identity)
}

func (s *SessionState) AppendComment(c domain.Comment) {
	s.Comments = append(s.Comments, c)
}

// Snapshot is a read-only copy of a controller's observable state, served
// on the control surface.
type Snapshot struct {
	Role           domain.Role            `json:"role"`
	State          string                 `json:"state"`
	Stream         *domain.Stream         `json:"stream,omitempty"`
	ViewerCount    int                    `json:"viewerCount"`
	Participants   []domain.Participant   `json:"participants"`
	Comments       []domain.Comment       `json:"comments"`
	ActiveHearts   []domain.Heart         `json:"activeHearts"`
	CoHostRequests []domain.CoHostRequest `json:"cohostRequests,omitempty"`
	Failure        string                 `json:"failure,omitempty"`
}

func (s *SessionState) snapshotInto(snap *Snapshot) {
	if s.Stream != nil {
		copied := *s.Stream
		snap.Stream = &copied
	}
	snap.ViewerCount = s.ViewerCount
	snap.Participants = make([]domain.Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		snap.Participants = append(snap.Participants, *p)
	}
	snap.Comments = append([]domain.Comment(nil), s.Comments...)
}
