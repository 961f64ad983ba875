package protocol

const (
	// ChunkSize is the largest binary frame a sender puts on the data channel.
	ChunkSize = 16 * 1024
	// HighWaterMark is the buffered byte count at which a sender pauses.
	HighWaterMark = 256 * 1024
	// LowWaterMark is the buffered byte count at which a paused sender resumes.
	LowWaterMark = HighWaterMark / 2

	MaxNameLength = 64
)

type MessageType string

const (
	MsgErrorMessage MessageType = "error-message"
	MsgJoin         MessageType = "join"
	MsgPeerJoined   MessageType = "peer-joined"
	MsgPeerLeft     MessageType = "peer-left"
	MsgPeerList     MessageType = "peer-list"
	MsgSignal       MessageType = "signal"
	MsgSocketID     MessageType = "socket-id"
)

func (t MessageType) String() string {
	switch t {
	case MsgErrorMessage, MsgJoin, MsgPeerJoined, MsgPeerLeft, MsgPeerList, MsgSignal, MsgSocketID:
		return string(t)
	default:
		return "unknown"
	}
}

// SignalKind names the handshake step carried by a signal payload.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	default:
		return false
	}
}

const FrameKindMetadata = "metadata"
