package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType はエンベロープの種別です。
type MessageType string

const (
	// client -> server
	MessageTypeKeyState MessageType = "keystate"
	MessageTypeReady    MessageType = "ready"

	// server -> client
	MessageTypeObjects MessageType = "objects"
	MessageTypeAssign  MessageType = "assign"
	MessageTypeRoster  MessageType = "roster"
)

var (
	ErrEmptyMessage       = errors.New("empty message")
	ErrEmptyMessageType   = errors.New("message type is empty")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMissingPayload     = errors.New("message payload is missing")
)

// Envelope はすべてのメッセージに共通する外側の形式です。
//
//	{ "type": "...", "data": ... }
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode はpayloadをエンベロープに包んでエンコードします。payloadがnilならdataを省略します。
func Encode(t MessageType, payload any) ([]byte, error) {
	if t == "" {
		return nil, ErrEmptyMessageType
	}
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Data = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", t, err)
	}
	return data, nil
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, ErrEmptyMessage
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrEmptyMessageType
	}
	return env, nil
}

func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return out, fmt.Errorf("%s: %w", env.Type, ErrMissingPayload)
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return out, nil
}

// KeyState は1接続分の押下状態です。入力メッセージは差分ではなく全置換です。
// 未知のキー名は無視され、欠けたキーは離されたものとして扱います。
type KeyState struct {
	Left   bool `json:"ArrowLeft"`
	Right  bool `json:"ArrowRight"`
	Thrust bool `json:"ArrowUp"`
	Fire   bool `json:" "`
}

// EntityType はスナップショット内のオブジェクト種別です。
type EntityType string

const (
	EntityTypeShip   EntityType = "ship"
	EntityTypeBullet EntityType = "bullet"
)

// Entity はobjectsメッセージの1要素です。
type Entity struct {
	Type EntityType `json:"type"`
	Data any        `json:"data"`
}

// ShipState は船のワイヤ表現です。色は送りません。
type ShipState struct {
	ID             SessionID `json:"id"`
	Pos            Vector    `json:"pos"`
	Rad            float64   `json:"rad"`
	IsAccelerating bool      `json:"isAccelerating"`
	IsAlive        bool      `json:"isAlive"`
	Lives          int       `json:"lives"`
}

// BulletState は弾のワイヤ表現です。色と向きは送りません。
type BulletState struct {
	ID  uint32 `json:"id"`
	Pos Vector `json:"pos"`
}

// Assign は参加したセッションに自分の船のIDと色を通知します。
type Assign struct {
	ID    SessionID `json:"id"`
	Color string    `json:"color"`
}

// RosterEntry は参加中の船のIDと色です。
type RosterEntry struct {
	ID    SessionID `json:"id"`
	Color string    `json:"color"`
}

// Objects はobjectsメッセージをデコードした結果です。
type Objects struct {
	Ships   []ShipState
	Bullets []BulletState
}

// DecodeObjects はobjectsメッセージのペイロードを船と弾に分けてデコードします。
// 未知の種別は無視します。
func DecodeObjects(env Envelope) (Objects, error) {
	if env.Type != MessageTypeObjects {
		return Objects{}, fmt.Errorf("%w: %s", ErrUnknownMessageType, env.Type)
	}
	raw, err := DecodePayload[[]struct {
		Type EntityType      `json:"type"`
		Data json.RawMessage `json:"data"`
	}](env)
	if err != nil {
		return Objects{}, err
	}
	var objs Objects
	for _, e := range raw {
		switch e.Type {
		case EntityTypeShip:
			var s ShipState
			if err := json.Unmarshal(e.Data, &s); err != nil {
				return Objects{}, fmt.Errorf("decode ship: %w", err)
			}
			objs.Ships = append(objs.Ships, s)
		case EntityTypeBullet:
			var b BulletState
			if err := json.Unmarshal(e.Data, &b); err != nil {
				return Objects{}, fmt.Errorf("decode bullet: %w", err)
			}
			objs.Bullets = append(objs.Bullets, b)
		default:
		}
	}
	return objs, nil
}
