// Package webrtc implements transport.PeerConnection and transport.Channel
// on top of pion/webrtc.
package webrtc

import (
	"fmt"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/nearsend/nearsend/internal/protocol"
	"github.com/nearsend/nearsend/internal/transport"
)

type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger logrus.FieldLogger
}

func NewFactory(cfg Config, logger logrus.FieldLogger) *Factory {
	settingEngine := webrtc.SettingEngine{}
	if cfg.IncludeLoopback {
		settingEngine.SetIncludeLoopbackCandidate(true)
	}

	return &Factory{
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		config: cfg.configuration(),
		logger: logger,
	}
}

func (f *Factory) NewPeerConnection(hooks transport.PeerHooks) (transport.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &peer{pc: pc, hooks: hooks, logger: f.logger}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if hooks.OnStateChange != nil {
			hooks.OnStateChange(convertState(s))
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil || hooks.OnCandidate == nil {
			return
		}
		init := c.ToJSON()
		hooks.OnCandidate(protocol.ICECandidate{
			Candidate:        init.Candidate,
			MediaStreamID:    init.SDPMid,
			MediaLineIndex:   init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.logger.WithField("label", dc.Label()).Debug("Remote data channel announced")
		p.attach(dc)
	})

	return p, nil
}

type peer struct {
	pc     *webrtc.PeerConnection
	hooks  transport.PeerHooks
	logger logrus.FieldLogger
}

func (p *peer) attach(dc *webrtc.DataChannel) {
	ch := newChannel(dc, p.hooks.OnMessage)
	dc.OnOpen(func() {
		if p.hooks.OnChannel != nil {
			p.hooks.OnChannel(ch)
		}
	})
}

func (p *peer) OpenChannel(label string) error {
	dc, err := p.pc.CreateDataChannel(label, dataChannelInit())
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	p.attach(dc)
	return nil
}

func (p *peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return offer.SDP, nil
}

func (p *peer) AcceptOffer(sdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return answer.SDP, nil
}

func (p *peer) AcceptAnswer(sdp string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (p *peer) AddICECandidate(c protocol.ICECandidate) error {
	err := p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.MediaStreamID,
		SDPMLineIndex:    c.MediaLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
	if err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (p *peer) Close() error {
	return p.pc.Close()
}

func convertState(s webrtc.PeerConnectionState) transport.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return transport.ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return transport.ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return transport.ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return transport.ConnectionStateFailed
	case webrtc.PeerConnectionStateClosed:
		return transport.ConnectionStateClosed
	default:
		return transport.ConnectionStateNew
	}
}
