package types

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// Message attribute names.
const (
	MsgID      = "id"
	MsgBus     = "bus"
	MsgChannel = "channel"
	MsgSticky  = "sticky"
	MsgSource  = "source"
	MsgType    = "type"
	MsgPayload = "payload"
)

// MessageSchema is the field table of a stored message.
var MessageSchema = Schema{
	{Name: MsgID, Required: true, Check: checkNotEmpty},
	{Name: MsgBus, Required: true, Check: checkNotEmpty},
	{Name: MsgChannel, Required: true, Check: checkNotEmpty},
	{Name: MsgSticky, Check: checkBool},
	{Name: MsgSource, Check: checkURL},
	{Name: MsgType},
	{Name: MsgPayload, Required: true, Check: checkJSON},
}

func checkJSON(value string) error {
	if !json.Valid([]byte(value)) {
		return fmt.Errorf("JSON expected")
	}
	return nil
}

// Message is a single event posted to a channel.
type Message struct {
	ID      string
	Bus     string
	Channel string
	Sticky  bool
	Source  string
	Type    string
	// Payload is kept in its serialized JSON form.
	Payload json.RawMessage
}

// NewMessage builds a message from client-supplied fields. Client values of id,
// bus and channel are replaced by the given ones. Unknown fields are rejected.
func NewMessage(id, bus, channel string, data map[string]any) (*Message, error) {
	msg := &Message{ID: id, Bus: bus, Channel: channel}
	for name, val := range data {
		switch name {
		case MsgID, MsgBus, MsgChannel:
			// Server-assigned.
		case MsgSticky:
			switch v := val.(type) {
			case bool:
				msg.Sticky = v
			case string:
				b, err := ParseBool(v)
				if err != nil {
					return nil, &ValidationError{Field: MsgSticky, Reason: err.Error()}
				}
				msg.Sticky = b
			case nil:
			default:
				return nil, &ValidationError{Field: MsgSticky, Reason: "boolean expected"}
			}
		case MsgSource, MsgType:
			s, ok := val.(string)
			if !ok && val != nil {
				return nil, &ValidationError{Field: name, Reason: "string expected"}
			}
			if name == MsgSource {
				msg.Source = s
			} else {
				msg.Type = s
			}
		case MsgPayload:
			raw, err := json.Marshal(val)
			if err != nil {
				return nil, &ValidationError{Field: MsgPayload, Reason: err.Error()}
			}
			msg.Payload = raw
		default:
			return nil, &ValidationError{Field: name, Reason: "unknown message field"}
		}
	}
	if msg.Payload == nil {
		msg.Payload = json.RawMessage("null")
	}
	if err := MessageSchema.Validate(msg.Attrs()); err != nil {
		return nil, err
	}
	return msg, nil
}

// MessageFromAttrs loads and validates a stored message.
func MessageFromAttrs(a Attrs) (*Message, error) {
	if err := MessageSchema.Validate(a); err != nil {
		return nil, err
	}
	msg := &Message{
		ID:      a[MsgID],
		Bus:     a[MsgBus],
		Channel: a[MsgChannel],
		Source:  a[MsgSource],
		Type:    a[MsgType],
		Payload: json.RawMessage(a[MsgPayload]),
	}
	if s, ok := a[MsgSticky]; ok {
		msg.Sticky, _ = ParseBool(s)
	}
	return msg, nil
}

// Attrs flattens the message into its stored form.
func (m *Message) Attrs() Attrs {
	a := Attrs{
		MsgID:      m.ID,
		MsgBus:     m.Bus,
		MsgChannel: m.Channel,
		MsgSticky:  FormatBool(m.Sticky),
		MsgPayload: string(m.Payload),
	}
	if m.Source != "" {
		a[MsgSource] = m.Source
	}
	if m.Type != "" {
		a[MsgType] = m.Type
	}
	return a
}

// FrameBody is the client-visible content of a message.
type FrameBody struct {
	Sticky  bool            `json:"sticky"`
	Source  string          `json:"source,omitempty"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Frame is the response projection of a message. It is never persisted.
type Frame struct {
	ID      string    `json:"id"`
	Channel string    `json:"channel"`
	Message FrameBody `json:"message"`
}

// Frame projects the message for a response: bus removed, payload as native JSON.
func (m *Message) Frame() Frame {
	return Frame{
		ID:      m.ID,
		Channel: m.Channel,
		Message: FrameBody{
			Sticky:  m.Sticky,
			Source:  m.Source,
			Type:    m.Type,
			Payload: m.Payload,
		},
	}
}

// Layout of the timestamp part of message IDs. Fixed width, so lexicographic
// order of IDs is chronological order.
const idTimeLayout = "2006-01-02T15:04:05.000Z"

const (
	idSuffixLength = 10
	hexAlphabet    = "0123456789abcdef"
	tokenAlphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewMessageID generates a time-based, lexicographically comparable message ID.
func NewMessageID(now time.Time) string {
	return IDTimePrefix(now) + "-" + RandomString(idSuffixLength, hexAlphabet)
}

// IDTimePrefix formats a timestamp the way it appears in message IDs. Every ID
// generated before t sorts before the returned string.
func IDTimePrefix(t time.Time) string {
	return t.UTC().Format(idTimeLayout)
}

// NewChannelToken generates a random alphanumeric channel name.
func NewChannelToken(length int) string {
	return RandomString(length, tokenAlphabet)
}

// RandomString returns n characters drawn uniformly from the alphabet using a
// cryptographically secure source.
func RandomString(n int, alphabet string) string {
	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("types: failed to read random bytes: " + err.Error())
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf)
}
