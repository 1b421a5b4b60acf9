// Package rtc implements the peer-session layer on pion. It owns one local
// capture and one PeerConnection per call attempt and exposes them to the
// call service through the calls.Peer port.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"freightline/internal/calls"

	"github.com/pion/webrtc/v4"
)

// Config carries the negotiation path set: public discovery endpoints used
// to find reachable network paths. No relay of last resort is configured;
// peers on restrictive networks may fail to connect (see startup warning).
type Config struct {
	STUNServers []string
}

func (c Config) iceServers() []webrtc.ICEServer {
	if len(c.STUNServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: c.STUNServers}}
}

// HasRelayFallback reports whether any configured endpoint is a TURN relay.
func (c Config) HasRelayFallback() bool {
	for _, u := range c.STUNServers {
		if len(u) >= 5 && (u[:5] == "turn:" || u[:6] == "turns:") {
			return true
		}
	}
	return false
}

// Factory builds pion-backed peers for the call service.
type Factory struct {
	cfg    Config
	source MediaSource
	log    *slog.Logger
}

func NewFactory(cfg Config, source MediaSource, log *slog.Logger) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{cfg: cfg, source: source, log: log}
}

// NewPeer acquires local media and opens a PeerConnection with the local
// tracks attached, so descriptions generated later reflect actual
// capabilities.
func (f *Factory) NewPeer(ctx context.Context, callType calls.CallType, h calls.PeerHandlers) (calls.Peer, error) {
	tracks, err := f.source.Acquire(ctx, callType)
	if err != nil {
		return nil, err
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: f.cfg.iceServers()})
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}

	p := &Peer{
		pc:      pc,
		capture: newCapture(tracks.Video != nil),
		log:     f.log,
	}

	if _, err := pc.AddTrack(tracks.Audio); err != nil {
		_ = pc.Close()
		p.capture.release()
		return nil, fmt.Errorf("attach audio track: %w", err)
	}
	if tracks.Video != nil {
		if _, err := pc.AddTrack(tracks.Video); err != nil {
			_ = pc.Close()
			p.capture.release()
			return nil, fmt.Errorf("attach video track: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || h.OnCandidate == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			f.log.Warn("candidate marshal failed", "err", err)
			return
		}
		h.OnCandidate(string(data))
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		if h.OnConnectionChange == nil {
			return
		}
		switch st {
		case webrtc.PeerConnectionStateConnected:
			h.OnConnectionChange(calls.ConnStateConnected)
		case webrtc.PeerConnectionStateDisconnected:
			h.OnConnectionChange(calls.ConnStateDisconnected)
		case webrtc.PeerConnectionStateFailed:
			h.OnConnectionChange(calls.ConnStateFailed)
		}
	})

	var remoteOnce sync.Once
	pc.OnTrack(func(_ *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		remoteOnce.Do(func() {
			if h.OnRemoteMedia != nil {
				h.OnRemoteMedia()
			}
		})
	})

	return p, nil
}

// Peer wraps one PeerConnection and its local capture.
//
// Remote candidates that arrive before the remote description are queued and
// replayed once the description lands; applying them earlier is a protocol
// error in pion.
type Peer struct {
	pc      *webrtc.PeerConnection
	capture *capture
	log     *slog.Logger

	mu            sync.Mutex
	remoteSet     bool
	pendingRemote []webrtc.ICECandidateInit

	closeOnce sync.Once
	closeErr  error
}

func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	data, err := json.Marshal(offer)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (p *Peer) AcceptOffer(ctx context.Context, offer string) (string, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(offer), &desc); err != nil {
		return "", fmt.Errorf("decode offer: %w", err)
	}
	if desc.Type != webrtc.SDPTypeOffer {
		return "", errors.New("remote description is not an offer")
	}
	if err := p.applyRemote(desc); err != nil {
		return "", err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	data, err := json.Marshal(answer)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (p *Peer) AcceptAnswer(ctx context.Context, answer string) error {
	if p.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return errors.New("no outstanding offer")
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(answer), &desc); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if desc.Type != webrtc.SDPTypeAnswer {
		return errors.New("remote description is not an answer")
	}
	return p.applyRemote(desc)
}

func (p *Peer) applyRemote(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.remoteSet = true

	for _, c := range p.pendingRemote {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.log.Warn("queued candidate rejected", "err", err)
		}
	}
	p.pendingRemote = nil
	return nil
}

func (p *Peer) AddRemoteCandidate(payload string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.remoteSet {
		p.pendingRemote = append(p.pendingRemote, init)
		return nil
	}
	return p.pc.AddICECandidate(init)
}

func (p *Peer) ToggleAudio() bool { return p.capture.toggleAudio() }
func (p *Peer) ToggleVideo() bool { return p.capture.toggleVideo() }

func (p *Peer) CaptureActive() bool { return p.capture.isActive() }

func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.capture.release()
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}
