package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "shooting/server/domain"

type RoomID string

func (id RoomID) String() string { return string(id) }
func (id RoomID) IsEmpty() bool  { return id == "" }

var (
	ErrNoRoomAvailable = errors.New("no room available")
	ErrNilApplication  = errors.New("room requires an application")
)

// ルーム制御トピックに流れるメッセージ
const (
	ControlJoin  = "join"
	ControlLeave = "leave"
)

const DefaultTickRate = 60

type Room struct {
	ID       RoomID
	sessions map[SessionID]struct{}

	pubsub      PubSub
	application Application // 外部からアプリケーションロジックを注入できる

	tickInterval time.Duration

	tickDuration metric.Float64Histogram
	attrs        metric.MeasurementOption
}

// NewRoom はtickRate(Hz)で駆動するRoomを生成します。tickRateが0以下なら60Hzです。
func NewRoom(id RoomID, pubsub PubSub, application Application, tickRate int) (*Room, error) {
	if application == nil {
		return nil, ErrNilApplication
	}
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	tickDuration, err := otel.Meter(instrumentationName).Float64Histogram(
		"room.tick.duration",
		metric.WithDescription("Time spent simulating one room tick"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tick histogram: %w", err)
	}
	return &Room{
		ID:           id,
		sessions:     make(map[SessionID]struct{}),
		pubsub:       pubsub,
		application:  application,
		tickInterval: time.Second / time.Duration(tickRate),
		tickDuration: tickDuration,
		attrs:        metric.WithAttributes(attribute.String("room", id.String())),
	}, nil
}

func (r *Room) Broadcast(ctx context.Context, data []byte) {
	for sessionID := range r.sessions {
		r.pubsub.Publish(ctx, SessionTopic(sessionID), Message{Data: data})
	}
}

func (r *Room) SendTo(ctx context.Context, sessionID SessionID, data []byte) {
	r.pubsub.Publish(ctx, SessionTopic(sessionID), Message{Data: data})
}

// NumSessions は参加中のセッション数を返します。Runと同じgoroutineからのみ呼べます。
func (r *Room) NumSessions() int {
	return len(r.sessions)
}

func (r *Room) Run(ctx context.Context) error {
	// room宛のメッセージを購読
	msgCh := r.pubsub.Subscribe(RoomTopic(r.ID))
	defer r.pubsub.Unsubscribe(RoomTopic(r.ID), msgCh)

	// room制御用トピックを購読（join/leave）
	ctrlCh := r.pubsub.Subscribe(RoomControlTopic(r.ID))
	defer r.pubsub.Unsubscribe(RoomControlTopic(r.ID), ctrlCh)

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "room started", "roomID", r.ID, "tickInterval", r.tickInterval)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "room stopped", "roomID", r.ID)
			return nil
		case <-ticker.C:
			r.step(ctx, ctrlCh, msgCh)
		}
	}
}

// step は溜まった入力をすべて適用してから1tick進め、結果をブロードキャストします。
// この一連の処理は途中で他の入力に割り込まれません。
func (r *Room) step(ctx context.Context, ctrlCh, msgCh <-chan Message) {
	start := time.Now()
	// 制御メッセージを処理（join/leave）
CTRL_LOOP:
	for {
		select {
		case ctrl := <-ctrlCh:
			r.handleControlMessage(ctx, ctrl)
		default:
			break CTRL_LOOP
		}
	}
	// 受信メッセージを処理
RECEIVE_LOOP:
	for {
		select {
		case msg := <-msgCh:
			if _, ok := r.sessions[msg.SessionID]; !ok {
				slog.DebugContext(ctx, "message from session outside the room", "sessionID", msg.SessionID)
				continue
			}
			// アプリケーションロジックが担当する
			if err := r.application.HandleMessage(ctx, msg.SessionID, msg.Data); err != nil {
				slog.WarnContext(ctx, "room handle message failed", "sessionID", msg.SessionID, "err", err)
			}
		default:
			break RECEIVE_LOOP
		}
	}
	for _, frame := range r.application.Tick(ctx) {
		r.Broadcast(ctx, frame)
	}
	r.tickDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000, r.attrs)
}

// handleControlMessage はjoin/leave制御メッセージを処理します。
func (r *Room) handleControlMessage(ctx context.Context, msg Message) {
	switch string(msg.Data) {
	case ControlJoin:
		if _, ok := r.sessions[msg.SessionID]; ok {
			return
		}
		reply, err := r.application.Join(ctx, msg.SessionID)
		if err != nil {
			slog.WarnContext(ctx, "application rejected join", "sessionID", msg.SessionID, "err", err)
			return
		}
		r.sessions[msg.SessionID] = struct{}{}
		if reply != nil {
			r.SendTo(ctx, msg.SessionID, reply)
		}
		slog.InfoContext(ctx, "session joined room", "sessionID", msg.SessionID, "roomID", r.ID)
	case ControlLeave:
		if _, ok := r.sessions[msg.SessionID]; !ok {
			return
		}
		delete(r.sessions, msg.SessionID)
		r.application.Leave(ctx, msg.SessionID)
		slog.InfoContext(ctx, "session left room", "sessionID", msg.SessionID, "roomID", r.ID)
	default:
		slog.WarnContext(ctx, "unknown room control message", "data", string(msg.Data))
	}
}
