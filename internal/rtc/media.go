package rtc

import (
	"context"
	"sync"

	"freightline/internal/calls"

	"github.com/pion/webrtc/v4"
)

// Tracks is one acquired local capture: audio always, video for video calls.
type Tracks struct {
	Audio *webrtc.TrackLocalStaticSample
	Video *webrtc.TrackLocalStaticSample
}

// MediaSource models local capture as a capability that can succeed or fail.
// Acquisition may block on a user permission prompt, so it honors ctx.
// Failures are calls.ErrMediaAccessDenied or calls.ErrMediaUnavailable.
type MediaSource interface {
	Acquire(ctx context.Context, callType calls.CallType) (Tracks, error)
}

// StaticSource produces sample tracks that the application feeds from
// whatever capture pipeline it bridges in. It never prompts, so acquisition
// only fails on context cancellation or track construction errors.
type StaticSource struct{}

func NewStaticSource() StaticSource { return StaticSource{} }

func (StaticSource) Acquire(ctx context.Context, callType calls.CallType) (Tracks, error) {
	if err := ctx.Err(); err != nil {
		return Tracks{}, err
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "freightline")
	if err != nil {
		return Tracks{}, calls.ErrMediaUnavailable
	}

	t := Tracks{Audio: audio}
	if callType == calls.CallTypeVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "freightline")
		if err != nil {
			return Tracks{}, calls.ErrMediaUnavailable
		}
		t.Video = video
	}
	return t, nil
}

// capture tracks local capture state for one call. Track toggles are pure
// local flags; they produce no signaling traffic.
type capture struct {
	mu       sync.Mutex
	hasVideo bool
	audioOn  bool
	videoOn  bool
	active   bool
}

func newCapture(hasVideo bool) *capture {
	return &capture{hasVideo: hasVideo, audioOn: true, videoOn: hasVideo, active: true}
}

func (c *capture) toggleAudio() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioOn = !c.audioOn
	return !c.audioOn
}

func (c *capture) toggleVideo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasVideo {
		return true
	}
	c.videoOn = !c.videoOn
	return !c.videoOn
}

func (c *capture) isActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *capture) release() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}
