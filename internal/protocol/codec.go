package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidSignal = errors.New("invalid signal payload")
	ErrUnknownType   = errors.New("unknown message type")
)

// envelope is the outer frame of every relay message.
type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Encode(w io.Writer, msg Message) error {
	data, err := c.EncodeToBytes(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (c *Codec) Decode(r io.Reader) (Message, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return c.DecodeFromBytes(data)
}

func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.Type(), err)
	}
	return json.Marshal(envelope{Type: msg.Type(), Data: data})
}

func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	var msg Message
	switch env.Type {
	case MsgErrorMessage:
		msg = &ErrorMessage{}
	case MsgJoin:
		msg = &Join{}
	case MsgPeerJoined:
		msg = &PeerJoined{}
	case MsgPeerLeft:
		msg = &PeerLeft{}
	case MsgPeerList:
		msg = &PeerList{}
	case MsgSignal:
		msg = &Signal{}
	case MsgSocketID:
		msg = &SocketID{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if len(env.Data) == 0 {
		return nil, fmt.Errorf("decoding %s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, msg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", env.Type, err)
	}
	return msg, nil
}
