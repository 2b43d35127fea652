// Package media acquires local capture tracks. The file provider feeds
// pre-encoded IVF/Ogg files, which stands in for a camera and microphone on
// a headless host.
package media

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	apperrors "livecast/pkg/errors"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

const oggPageDuration = 20 * time.Millisecond

// Options configures the file provider.
type Options struct {
	// Identity becomes the tracks' stream id, which is how the room maps
	// tracks back to their publisher.
	Identity  domain.Identity
	VideoFile string
	AudioFile string
}

// FileProvider implements ports.MediaProvider from on-disk media files.
type FileProvider struct {
	opts   Options
	logger *zap.SugaredLogger
}

var _ ports.MediaProvider = (*FileProvider)(nil)

func NewFileProvider(opts Options, logger *zap.SugaredLogger) *FileProvider {
	return &FileProvider{opts: opts, logger: logger}
}

// Acquire opens the media files and starts feeding samples. The returned
// tracks keep playing on a loop until stopped.
func (p *FileProvider) Acquire(ctx context.Context) ([]ports.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tracks []ports.LocalTrack

	if p.opts.VideoFile != "" {
		video, err := p.acquireVideo()
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, video)
	}
	if p.opts.AudioFile != "" {
		audio, err := p.acquireAudio()
		if err != nil {
			stopAll(tracks)
			return nil, err
		}
		tracks = append(tracks, audio)
	}

	if len(tracks) == 0 {
		return nil, apperrors.NewPermission("no media sources configured", nil)
	}
	return tracks, nil
}

func (p *FileProvider) acquireVideo() (*localTrack, error) {
	if _, err := os.Stat(p.opts.VideoFile); err != nil {
		return nil, apperrors.NewPermission(fmt.Sprintf("video source %s unavailable", p.opts.VideoFile), err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		string(p.opts.Identity),
	)
	if err != nil {
		return nil, apperrors.NewMedia("failed to create video track", err)
	}

	lt := newLocalTrack(track, ports.TrackVideo)
	go p.feedVideo(lt)
	return lt, nil
}

func (p *FileProvider) acquireAudio() (*localTrack, error) {
	if _, err := os.Stat(p.opts.AudioFile); err != nil {
		return nil, apperrors.NewPermission(fmt.Sprintf("audio source %s unavailable", p.opts.AudioFile), err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		string(p.opts.Identity),
	)
	if err != nil {
		return nil, apperrors.NewMedia("failed to create audio track", err)
	}

	lt := newLocalTrack(track, ports.TrackAudio)
	go p.feedAudio(lt)
	return lt, nil
}

// feedVideo plays the IVF file on a loop, pacing writes by the container's
// timebase.
func (p *FileProvider) feedVideo(lt *localTrack) {
	for {
		file, err := os.Open(p.opts.VideoFile)
		if err != nil {
			p.logger.Errorw("failed to open video file", "file", p.opts.VideoFile, "error", err)
			return
		}

		ivf, header, err := ivfreader.NewWith(file)
		if err != nil {
			file.Close()
			p.logger.Errorw("failed to parse IVF header", "file", p.opts.VideoFile, "error", err)
			return
		}

		frameDuration := time.Millisecond * time.Duration(
			(float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator))*1000,
		)
		ticker := time.NewTicker(frameDuration)

		eof := false
		for !eof {
			select {
			case <-lt.stop:
				ticker.Stop()
				file.Close()
				return
			case <-ticker.C:
				frame, _, err := ivf.ParseNextFrame()
				if err != nil {
					eof = true
					break
				}
				if err := lt.track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
					p.logger.Warnw("video sample write failed", "error", err)
				}
			}
		}
		ticker.Stop()
		file.Close()
	}
}

// feedAudio plays the Ogg file on a loop at the fixed Opus page cadence.
func (p *FileProvider) feedAudio(lt *localTrack) {
	for {
		file, err := os.Open(p.opts.AudioFile)
		if err != nil {
			p.logger.Errorw("failed to open audio file", "file", p.opts.AudioFile, "error", err)
			return
		}

		ogg, _, err := oggreader.NewWith(file)
		if err != nil {
			file.Close()
			p.logger.Errorw("failed to parse Ogg header", "file", p.opts.AudioFile, "error", err)
			return
		}

		ticker := time.NewTicker(oggPageDuration)

		var lastGranule uint64
		eof := false
		for !eof {
			select {
			case <-lt.stop:
				ticker.Stop()
				file.Close()
				return
			case <-ticker.C:
				page, header, err := ogg.ParseNextPage()
				if err != nil {
					eof = true
					break
				}
				sampleCount := float64(header.GranulePosition - lastGranule)
				lastGranule = header.GranulePosition
				duration := time.Duration((sampleCount/48000)*1000) * time.Millisecond

				if err := lt.track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
					p.logger.Warnw("audio sample write failed", "error", err)
				}
			}
		}
		ticker.Stop()
		file.Close()
	}
}

func stopAll(tracks []ports.LocalTrack) {
	for _, t := range tracks {
		t.Stop()
	}
}

// localTrack is a file-fed local track.
type localTrack struct {
	track *webrtc.TrackLocalStaticSample
	kind  ports.TrackKind

	stop     chan struct{}
	stopOnce sync.Once
}

var _ ports.LocalTrack = (*localTrack)(nil)

func newLocalTrack(track *webrtc.TrackLocalStaticSample, kind ports.TrackKind) *localTrack {
	return &localTrack{track: track, kind: kind, stop: make(chan struct{})}
}

func (t *localTrack) ID() string            { return t.track.ID() }
func (t *localTrack) Kind() ports.TrackKind { return t.kind }

// Stop halts the feed goroutine. Safe to call repeatedly.
func (t *localTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// WebRTCTrack exposes the pion track for publication.
func (t *localTrack) WebRTCTrack() webrtc.TrackLocal { return t.track }
