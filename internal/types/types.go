package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/DoyleJ11/skirmish-backend/internal/engine"
	"github.com/DoyleJ11/skirmish-backend/internal/room"
)

var ErrUnknownMessageType = errors.New("unknown message type")
var ErrMalformedMessage = errors.New("malformed message")

// Session-level rejection reasons. The engine and the room supply the rest.
const (
	ErrRoomFull        engine.Reason = "ROOM_FULL"
	ErrSeatUnassigned  engine.Reason = "SEAT_UNASSIGNED"
	ErrInvalidPlayerID engine.Reason = "INVALID_PLAYER_ID"
)

// RejectReasons is the closed set of reasons a REJECT may carry, in wire
// order.
var RejectReasons = []engine.Reason{
	room.ErrTurnMismatch,
	engine.ErrNotActivePlayer,
	engine.ErrPieceNotFound,
	engine.ErrPieceNotOwned,
	engine.ErrOutOfBounds,
	engine.ErrGameAlreadyFinished,
	engine.ErrPhaseMismatch,
	engine.ErrInvalidMoveDistance,
	engine.ErrSamePosition,
	engine.ErrCellOccupied,
	engine.ErrMoveAlreadyUsed,
	ErrRoomFull,
	ErrSeatUnassigned,
	ErrInvalidPlayerID,
}

type MessageType string

const (
	TypeHello         MessageType = "HELLO"
	TypeIntent        MessageType = "INTENT"
	TypeResyncRequest MessageType = "RESYNC_REQUEST"
	TypeAdmin         MessageType = "ADMIN"

	TypeWelcome MessageType = "WELCOME"
	TypeEvent   MessageType = "EVENT"
	TypeReject  MessageType = "REJECT"
	TypeSync    MessageType = "SYNC"
)

type envelope struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// ClientMessage is a decoded inbound frame: Hello, Intent, ResyncRequest or
// Admin.
type ClientMessage interface {
	MessageType() MessageType
	isClientMessage()
}

type Hello struct {
	PlayerID string `json:"playerId"`
}

type Intent struct {
	ExpectedTurn int            `json:"expectedTurn"`
	Command      engine.Command `json:"command"`
}

type ResyncRequest struct {
	FromSeq uint64 `json:"fromSeq"`
}

type AdminAction string

const ActionDestroyRoom AdminAction = "DESTROY_ROOM"

type Admin struct {
	Action AdminAction `json:"action"`
}

func (Hello) MessageType() MessageType         { return TypeHello }
func (Intent) MessageType() MessageType        { return TypeIntent }
func (ResyncRequest) MessageType() MessageType { return TypeResyncRequest }
func (Admin) MessageType() MessageType         { return TypeAdmin }

func (Hello) isClientMessage()         {}
func (Intent) isClientMessage()        {}
func (ResyncRequest) isClientMessage() {}
func (Admin) isClientMessage()         {}

// ServerMessage is an outbound frame: Welcome, EventMessage, Reject or Sync.
type ServerMessage interface {
	MessageType() MessageType
	isServerMessage()
}

type Welcome struct {
	RoomID     string          `json:"roomId"`
	You        engine.PlayerID `json:"you"`
	Seq        uint64          `json:"seq"`
	State      engine.State    `json:"state"`
	RoomStatus room.Lifecycle  `json:"roomStatus"`
}

// EventMessage carries one sequenced event; its payload is {seq, event}.
type EventMessage struct {
	room.SequencedEvent
}

type Reject struct {
	Reason       engine.Reason `json:"reason"`
	ExpectedTurn int           `json:"expectedTurn"`
}

type Sync struct {
	Seq        uint64         `json:"seq"`
	State      engine.State   `json:"state"`
	RoomStatus room.Lifecycle `json:"roomStatus"`
}

func (Welcome) MessageType() MessageType      { return TypeWelcome }
func (EventMessage) MessageType() MessageType { return TypeEvent }
func (Reject) MessageType() MessageType       { return TypeReject }
func (Sync) MessageType() MessageType         { return TypeSync }

func (Welcome) isServerMessage()      {}
func (EventMessage) isServerMessage() {}
func (Reject) isServerMessage()       {}
func (Sync) isServerMessage()         {}

func NewWelcome(snap room.Snapshot, you engine.PlayerID) Welcome {
	return Welcome{RoomID: snap.RoomID, You: you, Seq: snap.Seq, State: snap.State, RoomStatus: snap.Lifecycle}
}

func NewSync(snap room.Snapshot) Sync {
	return Sync{Seq: snap.Seq, State: snap.State, RoomStatus: snap.Lifecycle}
}

func NewEvent(evt room.SequencedEvent) EventMessage {
	return EventMessage{SequencedEvent: evt}
}

func Encode(msg ServerMessage) ([]byte, error) {
	return json.Marshal(envelope{Type: msg.MessageType(), Payload: msg})
}

func EncodeClient(msg ClientMessage) ([]byte, error) {
	return json.Marshal(envelope{Type: msg.MessageType(), Payload: msg})
}

// DecodeClient parses an inbound frame. Any error means the frame is a
// protocol violation and should be dropped.
func DecodeClient(data []byte) (ClientMessage, error) {
	typ, payload, err := split(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeHello:
		if payload.Get("playerId").Type != gjson.String {
			return nil, fmt.Errorf("%s: playerId: %w", typ, ErrMalformedMessage)
		}
		var msg Hello
		if err := unmarshalPayload(typ, payload, &msg); err != nil {
			return nil, err
		}
		return msg, nil

	case TypeIntent:
		if payload.Get("expectedTurn").Type != gjson.Number || !payload.Get("command").IsObject() {
			return nil, fmt.Errorf("%s: expectedTurn and command required: %w", typ, ErrMalformedMessage)
		}
		var msg Intent
		if err := unmarshalPayload(typ, payload, &msg); err != nil {
			return nil, err
		}
		return msg, nil

	case TypeResyncRequest:
		if payload.Get("fromSeq").Type != gjson.Number {
			return nil, fmt.Errorf("%s: fromSeq: %w", typ, ErrMalformedMessage)
		}
		var msg ResyncRequest
		if err := unmarshalPayload(typ, payload, &msg); err != nil {
			return nil, err
		}
		return msg, nil

	case TypeAdmin:
		var msg Admin
		if err := unmarshalPayload(typ, payload, &msg); err != nil {
			return nil, err
		}
		if msg.Action != ActionDestroyRoom {
			return nil, fmt.Errorf("%s: action %q: %w", typ, msg.Action, ErrMalformedMessage)
		}
		return msg, nil

	default:
		return nil, fmt.Errorf("client message %q: %w", typ, ErrUnknownMessageType)
	}
}

// Decode parses an outbound frame, as a client would.
func Decode(data []byte) (ServerMessage, error) {
	typ, payload, err := split(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeWelcome:
		var msg Welcome
		if err := unmarshalPayload(typ, payload, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeEvent:
		var msg EventMessage
		if err := unmarshalPayload(typ, payload, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeReject:
		var msg Reject
		if err := unmarshalPayload(typ, payload, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeSync:
		var msg Sync
		if err := unmarshalPayload(typ, payload, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("server message %q: %w", typ, ErrUnknownMessageType)
	}
}

func split(data []byte) (MessageType, gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return "", gjson.Result{}, fmt.Errorf("invalid json: %w", ErrMalformedMessage)
	}
	payload := gjson.GetBytes(data, "payload")
	if !payload.IsObject() {
		return "", gjson.Result{}, fmt.Errorf("payload: %w", ErrMalformedMessage)
	}
	return MessageType(gjson.GetBytes(data, "type").String()), payload, nil
}

func unmarshalPayload(typ MessageType, payload gjson.Result, v any) error {
	if err := json.Unmarshal([]byte(payload.Raw), v); err != nil {
		return fmt.Errorf("%s: %w", typ, err)
	}
	return nil
}
