package chat

import (
	"encoding/json"
	"fmt"
)

// EventKind is the "type" tag on the wire.
type EventKind string

const (
	KindMessage EventKind = "message"
	KindTyping  EventKind = "typing"
	KindHistory EventKind = "history"
	KindAck     EventKind = "ack"
)

// ClientEvent is what a browser may send: SendMessage or Typing.
type ClientEvent interface {
	clientEvent()
}

type SendMessage struct {
	Body string
	// Ref is an optional client-chosen id echoed back in acks.
	Ref string
}

type Typing struct{}

func (SendMessage) clientEvent() {}
func (Typing) clientEvent()      {}

type inboundFrame struct {
	Type    EventKind `json:"type"`
	Message string    `json:"message"`
	Ref     string    `json:"ref"`
}

func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	switch f.Type {
	case KindMessage:
		return SendMessage{Body: f.Message, Ref: f.Ref}, nil
	case KindTyping:
		return Typing{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported event type %q", ErrInvalidInput, f.Type)
	}
}

// ServerEvent is what the server sends: HistoryEvent, MessageEvent,
// TypingEvent or AckEvent.
type ServerEvent interface {
	serverEvent()
}

type HistoryEvent struct {
	Messages []Message
}

type MessageEvent struct {
	Message Message
}

type TypingEvent struct {
	UserName string
}

const (
	AckOK    = "ok"
	AckError = "error"
)

// Ack codes sent with AckError.
const (
	CodeInvalidInput         = "invalid_input"
	CodeStorageUnavailable   = "storage_unavailable"
	CodeBroadcastUnavailable = "broadcast_unavailable"
)

// AckEvent goes to the sender only.
type AckEvent struct {
	Status    string
	Code      string
	Reason    string
	Ref       string
	MessageID int64
}

func (HistoryEvent) serverEvent() {}
func (MessageEvent) serverEvent() {}
func (TypingEvent) serverEvent()  {}
func (AckEvent) serverEvent()     {}

type historyWire struct {
	Type     EventKind `json:"type"`
	Messages []Message `json:"messages"`
}

type messageWire struct {
	Type EventKind `json:"type"`
	Message
}

type typingWire struct {
	Type     EventKind `json:"type"`
	UserName string    `json:"user_name"`
}

type ackWire struct {
	Type   EventKind `json:"type"`
	Status string    `json:"status"`
	Code   string    `json:"code,omitempty"`
	Reason string    `json:"reason,omitempty"`
	Ref    string    `json:"ref,omitempty"`
	ID     int64     `json:"id,omitempty"`
}

func EncodeServerEvent(ev ServerEvent) ([]byte, error) {
	switch e := ev.(type) {
	case HistoryEvent:
		msgs := e.Messages
		if msgs == nil {
			msgs = []Message{}
		}
		return json.Marshal(historyWire{Type: KindHistory, Messages: msgs})
	case MessageEvent:
		return json.Marshal(messageWire{Type: KindMessage, Message: e.Message})
	case TypingEvent:
		return json.Marshal(typingWire{Type: KindTyping, UserName: e.UserName})
	case AckEvent:
		return json.Marshal(ackWire{
			Type:   KindAck,
			Status: e.Status,
			Code:   e.Code,
			Reason: e.Reason,
			Ref:    e.Ref,
			ID:     e.MessageID,
		})
	default:
		return nil, fmt.Errorf("unknown server event %T", ev)
	}
}

// EventHeader is the part of a broadcast payload the hub and connections
// need without decoding the whole event.
type EventHeader struct {
	Type EventKind `json:"type"`
	ID   int64     `json:"id"`
}

func peekHeader(payload []byte) (EventHeader, error) {
	var h EventHeader
	err := json.Unmarshal(payload, &h)
	return h, err
}
