package protocol

import "encoding/json"

type Message interface {
	Type() MessageType
}

type ErrorMessage struct {
	Message string `json:"message"`
}

func (ErrorMessage) Type() MessageType { return MsgErrorMessage }

type Join struct {
	Name string `json:"name"`
}

func (Join) Type() MessageType { return MsgJoin }

type PeerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PeerJoined PeerInfo

func (PeerJoined) Type() MessageType { return MsgPeerJoined }

type PeerLeft struct {
	ID string `json:"id"`
}

func (PeerLeft) Type() MessageType { return MsgPeerLeft }

type PeerList []PeerInfo

func (PeerList) Type() MessageType { return MsgPeerList }

// Signal is a handshake envelope. Clients fill Target; the relay adds From
// and forwards Payload untouched.
type Signal struct {
	From    string          `json:"from,omitempty"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (Signal) Type() MessageType { return MsgSignal }

type SocketID struct {
	ID string `json:"id"`
}

func (SocketID) Type() MessageType { return MsgSocketID }

type SignalPayload struct {
	Kind      SignalKind          `json:"kind"`
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *ICECandidate       `json:"candidate,omitempty"`
}

type SessionDescription struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	MediaStreamID    *string `json:"mediaStreamId,omitempty"`
	MediaLineIndex   *uint16 `json:"mediaLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// NewSignal builds an outbound signal for target carrying payload.
func NewSignal(target string, payload SignalPayload) (*Signal, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Signal{Target: target, Payload: raw}, nil
}

// DecodePayload parses the opaque payload of a received signal.
func (s *Signal) DecodePayload() (SignalPayload, error) {
	var p SignalPayload
	if err := json.Unmarshal(s.Payload, &p); err != nil {
		return SignalPayload{}, err
	}
	if !p.Kind.Valid() {
		return SignalPayload{}, ErrInvalidSignal
	}
	return p, nil
}
