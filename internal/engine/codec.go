package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrUnknownEventType = errors.New("unknown event type")
var ErrUnknownIntentType = errors.New("unknown intent type")

type IntentType string

const (
	IntentEndTurn IntentType = "EndTurn"
	IntentMove    IntentType = "Move"
)

// MarshalEvent encodes evt as a JSON object carrying a "type" discriminator.
func MarshalEvent(evt Event) ([]byte, error) {
	if evt == nil {
		return nil, fmt.Errorf("marshal event: %w", ErrUnknownEventType)
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	return sjson.SetBytes(raw, "type", string(evt.EventType()))
}

// UnmarshalEvent decodes an event previously encoded with MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("unmarshal event: invalid json")
	}
	switch typ := EventType(gjson.GetBytes(data, "type").String()); typ {
	case EvtTurnEnded:
		return decodeAs[TurnEnded](data)
	case EvtPieceMoved:
		return decodeAs[PieceMoved](data)
	case EvtCombatResolved:
		return decodeAs[CombatResolved](data)
	case EvtSuccessorSpawned:
		return decodeAs[SuccessorSpawned](data)
	case EvtGameFinished:
		return decodeAs[GameFinished](data)
	default:
		return nil, fmt.Errorf("unmarshal event %q: %w", typ, ErrUnknownEventType)
	}
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", v.EventType(), err)
	}
	return v, nil
}

func MarshalIntent(intent Intent) ([]byte, error) {
	switch in := intent.(type) {
	case EndTurn:
		return []byte(`{"type":"EndTurn"}`), nil
	case Move:
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		return sjson.SetBytes(raw, "type", string(IntentMove))
	default:
		return nil, fmt.Errorf("marshal intent %T: %w", intent, ErrUnknownIntentType)
	}
}

func UnmarshalIntent(data []byte) (Intent, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("unmarshal intent: invalid json")
	}
	switch typ := IntentType(gjson.GetBytes(data, "type").String()); typ {
	case IntentEndTurn:
		return EndTurn{}, nil
	case IntentMove:
		if !gjson.GetBytes(data, "pieceId").Exists() || !gjson.GetBytes(data, "to").IsObject() {
			return nil, errors.New("unmarshal Move: pieceId and to are required")
		}
		var m Move
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal Move: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unmarshal intent %q: %w", typ, ErrUnknownIntentType)
	}
}

type commandJSON struct {
	Actor  PlayerID        `json:"actorPlayerId"`
	Intent json.RawMessage `json:"intent"`
}

func (c Command) MarshalJSON() ([]byte, error) {
	intent, err := MarshalIntent(c.Intent)
	if err != nil {
		return nil, err
	}
	return json.Marshal(commandJSON{Actor: c.Actor, Intent: intent})
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var raw commandJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	intent, err := UnmarshalIntent(raw.Intent)
	if err != nil {
		return err
	}
	c.Actor = raw.Actor
	c.Intent = intent
	return nil
}
