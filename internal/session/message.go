package session

import "github.com/vmihailenco/msgpack/v5"

// Message is the framed binary envelope games exchange on the data
// channels: a type tag plus an opaque msgpack payload.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// NewMessage creates a Message with the given type and payload.
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Type:    t,
		Payload: b,
	}, nil
}

// DecodePayload decodes the message payload into the provided struct.
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// ParseMessage decodes a raw data channel payload into a Message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendMessage frames msg and sends it on the selected channel. Like Send,
// it reports false without buffering when the channel is not open or the
// message cannot be encoded.
func (s *Session) SendMessage(msg Message, reliable bool) bool {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		s.logger.Warn("marshal data channel message", "error", err)
		return false
	}
	return s.Send(data, reliable)
}
