package render

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"go.uber.org/zap"
)

// NewRecorder returns a sink that persists each attached track under dir,
// video to IVF and audio to Ogg. One file per (participant, track) binding.
func NewRecorder(dir string, logger *zap.SugaredLogger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording dir %s: %w", dir, err)
	}

	factory := func(identity domain.Identity, track ports.RemoteTrack) (trackWriter, error) {
		stamp := time.Now().UTC().Format("20060102T150405")
		base := fmt.Sprintf("%s_%s_%s", stamp, identity, track.ID())

		switch track.Kind() {
		case ports.TrackVideo:
			return ivfwriter.New(filepath.Join(dir, base+".ivf"))
		case ports.TrackAudio:
			return oggwriter.New(filepath.Join(dir, base+".ogg"), 48000, 2)
		default:
			return nil, fmt.Errorf("unsupported track kind %q", track.Kind())
		}
	}

	return newSink(factory, logger), nil
}
