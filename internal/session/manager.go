// Package session turns relayed handshake signals into established peer
// connections. All connection state is owned by one goroutine that
// processes events in order; pion callbacks only post events.
package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nearsend/nearsend/internal/protocol"
	"github.com/nearsend/nearsend/internal/transport"
)

type Manager struct {
	config Config
	logger logrus.FieldLogger
	queue  *eventQueue
	arena  *arena

	mu     sync.RWMutex
	states map[string]State
}

func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		config: cfg,
		logger: cfg.Logger,
		queue:  newEventQueue(),
		arena:  newArena(),
		states: make(map[string]State),
	}
}

// Post queues ev for the Run loop. It never blocks.
func (m *Manager) Post(ev Event) {
	m.queue.post(ev)
}

func (m *Manager) StartCall(peerID string) {
	m.Post(CallRequested{PeerID: peerID})
}

func (m *Manager) Disconnect(peerID string) {
	m.Post(DisconnectRequested{PeerID: peerID})
}

// HandleSignal decodes a relayed signal and queues it. Signals with an
// unknown kind are dropped here.
func (m *Manager) HandleSignal(sig *protocol.Signal) {
	payload, err := sig.DecodePayload()
	if err != nil {
		m.logger.WithError(err).WithField("peer", sig.From).Warn("Dropping invalid signal")
		return
	}
	m.Post(SignalReceived{From: sig.From, Payload: payload})
}

// State returns the last known state of the connection to peerID.
func (m *Manager) State(peerID string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[peerID]
	return s, ok
}

// Run processes events until ctx is done, then closes every connection.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			m.drain()
			for _, h := range m.arena.handles() {
				m.cleanup(h, StateClosed)
			}
			return ctx.Err()
		case <-m.queue.notify:
			m.drain()
		}
	}
}

func (m *Manager) drain() {
	for _, ev := range m.queue.take() {
		m.Handle(ev)
	}
}

// Handle processes a single event synchronously. It must only be called
// from the goroutine running Run, or in place of Run.
func (m *Manager) Handle(ev Event) {
	switch e := ev.(type) {
	case CallRequested:
		m.startCall(e.PeerID)
	case SignalReceived:
		m.handleSignal(e)
	case DisconnectRequested:
		if h, rec := m.arena.lookup(e.PeerID); rec != nil {
			m.cleanup(h, StateClosed)
		}
	case StateChanged:
		m.handleStateChange(e)
	case CandidateGathered:
		m.handleCandidate(e)
	case ChannelOpened:
		m.handleChannelOpened(e)
	case MessageReceived:
		if rec := m.arena.get(e.Handle); rec != nil {
			m.config.Observer.OnMessage(rec.peerID, e.Message)
		}
	case HandshakeExpired:
		m.handleHandshakeExpired(e)
	default:
		m.logger.Warnf("Unhandled session event %T", ev)
	}
}

func (m *Manager) startCall(peerID string) {
	log := m.logger.WithField("peer", peerID)
	h, rec, ok := m.newRecord(peerID)
	if !ok {
		return
	}

	if err := rec.pc.OpenChannel(m.config.ChannelLabel); err != nil {
		log.WithError(err).Error("Failed to open data channel")
		m.cleanup(h, StateFailed)
		return
	}

	sdp, err := rec.pc.CreateOffer()
	if err != nil {
		log.WithError(err).Error("Failed to create offer")
		m.cleanup(h, StateFailed)
		return
	}

	m.setState(rec, StateOffering)
	err = m.config.Signaler.SendSignal(peerID, protocol.SignalPayload{
		Kind: protocol.SignalOffer,
		SDP:  &protocol.SessionDescription{Kind: string(protocol.SignalOffer), Description: sdp},
	})
	if err != nil {
		log.WithError(err).Error("Failed to send offer")
		m.cleanup(h, StateFailed)
		return
	}
	log.Info("Sent offer")
}

func (m *Manager) handleSignal(e SignalReceived) {
	log := m.logger.WithFields(logrus.Fields{"peer": e.From, "kind": e.Payload.Kind})

	switch e.Payload.Kind {
	case protocol.SignalOffer:
		if e.Payload.SDP == nil {
			log.Warn("Offer without session description")
			return
		}
		m.acceptOffer(e.From, e.Payload.SDP.Description)

	case protocol.SignalAnswer:
		if e.Payload.SDP == nil {
			log.Warn("Answer without session description")
			return
		}
		h, rec := m.arena.lookup(e.From)
		if rec == nil || rec.state != StateOffering {
			log.Warn("Ignoring answer with no pending offer")
			return
		}
		if err := rec.pc.AcceptAnswer(e.Payload.SDP.Description); err != nil {
			log.WithError(err).Error("Failed to accept answer")
			m.cleanup(h, StateFailed)
			return
		}
		log.Info("Accepted answer")

	case protocol.SignalICECandidate:
		if e.Payload.Candidate == nil {
			log.Warn("ICE signal without candidate")
			return
		}
		_, rec := m.arena.lookup(e.From)
		if rec == nil {
			log.Warn("Ignoring ICE candidate for unknown connection")
			return
		}
		if err := rec.pc.AddICECandidate(*e.Payload.Candidate); err != nil {
			log.WithError(err).Warn("Failed to add ICE candidate")
		}
	}
}

// acceptOffer replaces any existing connection to the peer; the most
// recent offer wins.
func (m *Manager) acceptOffer(peerID, sdp string) {
	log := m.logger.WithField("peer", peerID)
	h, rec, ok := m.newRecord(peerID)
	if !ok {
		return
	}

	answer, err := rec.pc.AcceptOffer(sdp)
	if err != nil {
		log.WithError(err).Error("Failed to accept offer")
		m.cleanup(h, StateFailed)
		return
	}

	m.setState(rec, StateAnswering)
	err = m.config.Signaler.SendSignal(peerID, protocol.SignalPayload{
		Kind: protocol.SignalAnswer,
		SDP:  &protocol.SessionDescription{Kind: string(protocol.SignalAnswer), Description: answer},
	})
	if err != nil {
		log.WithError(err).Error("Failed to send answer")
		m.cleanup(h, StateFailed)
		return
	}
	log.Info("Sent answer")
}

// newRecord closes any existing connection to peerID and creates a fresh
// one with its handshake deadline armed.
func (m *Manager) newRecord(peerID string) (Handle, *record, bool) {
	if old, rec := m.arena.lookup(peerID); rec != nil {
		m.logger.WithField("peer", peerID).Info("Replacing existing connection")
		m.cleanup(old, StateClosed)
	}

	rec := &record{peerID: peerID, state: StateNew}
	h := m.arena.insert(rec)
	m.setState(rec, StateNew)

	pc, err := m.config.Factory.NewPeerConnection(m.hooks(h))
	if err != nil {
		m.logger.WithError(err).WithField("peer", peerID).Error("Failed to create peer connection")
		m.cleanup(h, StateFailed)
		return Handle{}, nil, false
	}
	rec.pc = pc
	rec.timer = m.config.Clock.AfterFunc(m.config.HandshakeTimeout, func() {
		m.Post(HandshakeExpired{Handle: h})
	})
	return h, rec, true
}

func (m *Manager) hooks(h Handle) transport.PeerHooks {
	return transport.PeerHooks{
		OnStateChange: func(s transport.ConnectionState) {
			m.Post(StateChanged{Handle: h, State: s})
		},
		OnCandidate: func(c protocol.ICECandidate) {
			m.Post(CandidateGathered{Handle: h, Candidate: c})
		},
		OnChannel: func(ch transport.Channel) {
			m.Post(ChannelOpened{Handle: h, Channel: ch})
		},
		OnMessage: func(msg transport.Message) {
			m.Post(MessageReceived{Handle: h, Message: msg})
		},
	}
}

func (m *Manager) handleStateChange(e StateChanged) {
	rec := m.arena.get(e.Handle)
	if rec == nil {
		m.logger.WithField("state", e.State).Debug("Dropping state change from stale connection")
		return
	}
	log := m.logger.WithFields(logrus.Fields{"peer": rec.peerID, "state": e.State})

	switch {
	case e.State == transport.ConnectionStateConnected:
		if rec.timer != nil {
			rec.timer.Stop()
		}
		log.Info("Peer connection established")
		m.setState(rec, StateConnected)
	case e.State == transport.ConnectionStateFailed:
		log.Warn("Peer connection failed")
		m.cleanup(e.Handle, StateFailed)
	case e.State.Terminal():
		log.Info("Peer connection ended")
		m.cleanup(e.Handle, StateClosed)
	default:
		log.Debug("Peer connection state changed")
	}
}

func (m *Manager) handleCandidate(e CandidateGathered) {
	rec := m.arena.get(e.Handle)
	if rec == nil {
		return
	}

	candidate := e.Candidate
	err := m.config.Signaler.SendSignal(rec.peerID, protocol.SignalPayload{
		Kind:      protocol.SignalICECandidate,
		Candidate: &candidate,
	})
	if err != nil {
		m.logger.WithError(err).WithField("peer", rec.peerID).Warn("Failed to send ICE candidate")
	}
}

func (m *Manager) handleChannelOpened(e ChannelOpened) {
	rec := m.arena.get(e.Handle)
	if rec == nil {
		_ = e.Channel.Close()
		return
	}

	rec.channel = e.Channel
	m.logger.WithFields(logrus.Fields{"peer": rec.peerID, "label": e.Channel.Label()}).Info("Data channel open")
	m.config.Observer.OnChannelOpen(rec.peerID, e.Channel)
}

func (m *Manager) handleHandshakeExpired(e HandshakeExpired) {
	rec := m.arena.get(e.Handle)
	if rec == nil || rec.state == StateConnected {
		return
	}

	m.logger.WithFields(logrus.Fields{
		"peer":    rec.peerID,
		"state":   rec.state,
		"timeout": m.config.HandshakeTimeout,
	}).Warn("Handshake timed out")
	m.cleanup(e.Handle, StateFailed)
}

// cleanup closes the connection and its channel, frees the record and
// reports the terminal state.
func (m *Manager) cleanup(h Handle, terminal State) {
	rec := m.arena.get(h)
	if rec == nil {
		return
	}
	m.arena.remove(h)

	if rec.timer != nil {
		rec.timer.Stop()
	}
	if rec.channel != nil {
		_ = rec.channel.Close()
	}
	if rec.pc != nil {
		if err := rec.pc.Close(); err != nil {
			m.logger.WithError(err).WithField("peer", rec.peerID).Debug("Failed to close peer connection")
		}
	}

	m.setState(rec, terminal)
}

func (m *Manager) setState(rec *record, s State) {
	rec.state = s

	m.mu.Lock()
	m.states[rec.peerID] = s
	m.mu.Unlock()

	m.config.Observer.OnStateChange(rec.peerID, s)
}
