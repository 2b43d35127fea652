package room

import (
	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// remoteTrack adapts a pion remote track to ports.RemoteTrack.
type remoteTrack struct {
	inner *webrtc.TrackRemote
	kind  ports.TrackKind
}

var _ ports.RemoteTrack = (*remoteTrack)(nil)

func newRemoteTrack(inner *webrtc.TrackRemote) *remoteTrack {
	kind := ports.TrackAudio
	if inner.Kind() == webrtc.RTPCodecTypeVideo {
		kind = ports.TrackVideo
	}
	return &remoteTrack{inner: inner, kind: kind}
}

func (t *remoteTrack) ID() string            { return t.inner.ID() }
func (t *remoteTrack) Kind() ports.TrackKind { return t.kind }

func (t *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.inner.ReadRTP()
	return pkt, err
}

// remoteParticipant tracks one room member. Guarded by the client mutex.
type remoteParticipant struct {
	identity domain.Identity
	tracks   []ports.RemoteTrack
}

func (p *remoteParticipant) addTrack(track ports.RemoteTrack) {
	for _, existing := range p.tracks {
		if existing.ID() == track.ID() {
			return
		}
	}
	p.tracks = append(p.tracks, track)
}

func (p *remoteParticipant) trackList() []ports.RemoteTrack {
	p2 := make([]ports.RemoteTrack, len(p.tracks))
	copy(p2, p.tracks)
	return p2
}
