package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrBackpressure は書き込みチャネルが満杯の場合に返されるエラーです。
	ErrBackpressure = errors.New("write channel is full, apply backpressure")
	// ErrInitializationFailed はセッションエンドポイントの初期化に失敗した場合に返されるエラーです。
	ErrInitializationFailed = errors.New("failed to initialize session endpoint")
)

const (
	DefaultIdleTimeout       = 120 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	defaultWriteBufferSize   = 1024
)

// EndpointConfig はSessionEndpointの動作設定です。ゼロ値の項目はデフォルト値になります。
type EndpointConfig struct {
	IdleTimeout       time.Duration
	HeartbeatInterval time.Duration
	WriteBufferSize   int
}

func (c EndpointConfig) withDefaults() EndpointConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = defaultWriteBufferSize
	}
	return c
}

// SessionEndpoint は1セッション分の読み書きとルームとの中継を担当します。
type SessionEndpoint struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg         EndpointConfig
	session     *Session
	connection  *Connection
	pubsub      PubSub
	roomManager RoomManager
	roomID      RoomID // 実行時にRoomManagerから取得

	ctrlCh  chan endpointEvent // 制御用チャネル
	writeCh chan []byte        // 書き込み用チャネル

	// lifecycle
	closed atomic.Bool
}

func NewSessionEndpoint(ctx context.Context, session *Session, connection *Connection, pubsub PubSub, roomManager RoomManager, cfg EndpointConfig) (*SessionEndpoint, error) {
	if session == nil {
		return nil, ErrInitializationFailed
	}
	if connection == nil {
		return nil, ErrInitializationFailed
	}
	if pubsub == nil {
		return nil, ErrInitializationFailed
	}
	if roomManager == nil {
		return nil, ErrInitializationFailed
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	se := &SessionEndpoint{
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg,
		session:     session,
		connection:  connection,
		pubsub:      pubsub,
		roomManager: roomManager,
		ctrlCh:      make(chan endpointEvent, 16),
		writeCh:     make(chan []byte, cfg.WriteBufferSize),
	}
	return se, nil
}

// Run はセッションが閉じられるまでブロックします。
func (se *SessionEndpoint) Run() error {
	defer se.close()

	roomID, err := se.roomManager.GetRoom(se.ctx, se.session.ID())
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}
	se.roomID = roomID

	// 自分宛のメッセージを購読
	sessionTopic := SessionTopic(se.session.ID())
	msgCh := se.pubsub.Subscribe(sessionTopic)
	defer se.pubsub.Unsubscribe(sessionTopic, msgCh)

	heartbeat := NewHeartbeatService(se.cfg.HeartbeatInterval, se.session, se.connection)

	eg, ctx := errgroup.WithContext(se.ctx)
	eg.Go(func() error {
		se.ownerLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		se.readLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		se.writeLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		se.subscribeLoop(ctx, msgCh)
		return nil
	})
	eg.Go(func() error {
		heartbeat.Run(ctx)
		return nil
	})

	// ルームに参加を通知
	se.publishControl(ctx, ControlJoin)

	err = eg.Wait()

	// ctxはキャンセル済みなので離脱通知は独立したcontextで送る
	se.publishControl(context.WithoutCancel(ctx), ControlLeave)
	return err
}

func (se *SessionEndpoint) Send(data []byte) error {
	select {
	case se.writeCh <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (se *SessionEndpoint) Close(ctx context.Context) {
	se.sendCtrlEvent(ctx, endpointEvent{kind: evClose, err: nil})
}

func (se *SessionEndpoint) ForceClose() {
	se.close()
}

// ownerLoop は論理セッションの状態を監視し、必要に応じて接続の管理を行います。
func (se *SessionEndpoint) ownerLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-se.ctrlCh:
			se.handleControlEvent(ctx, ev)
		case <-ticker.C:
			// 入力がないだけのプレイヤーは切断しない。pongが途絶えた接続のみ閉じる
			if idle, reason := se.session.IsIdle(se.cfg.IdleTimeout); idle {
				slog.DebugContext(ctx, "session idle",
					"sessionID", se.session.ID(),
					"readIdle", se.session.IsReadIdle(se.cfg.IdleTimeout),
					"writeIdle", se.session.IsWriteIdle(se.cfg.IdleTimeout),
				)
				se.handleControlEvent(ctx, endpointEvent{
					kind: evClose,
					err:  errors.New(reason.String()),
				})
			}
		}
	}
}

func (se *SessionEndpoint) readLoop(ctx context.Context) {
	for {
		data, err := se.connection.Read(ctx)
		if err != nil {
			se.sendCtrlEvent(ctx, endpointEvent{kind: evReadError, err: err})
			return
		}
		se.session.TouchRead()
		se.handleData(ctx, data)
	}
}

func (se *SessionEndpoint) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-se.writeCh:
			err := se.connection.Write(ctx, data)
			if err != nil {
				se.sendCtrlEvent(ctx, endpointEvent{kind: evWriteError, err: err})
				return
			}
			se.session.TouchWrite()
		}
	}
}

// subscribeLoop はpubsubからのメッセージをwriteChに転送します。
func (se *SessionEndpoint) subscribeLoop(ctx context.Context, msgCh <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if err := se.Send(msg.Data); err != nil {
				slog.WarnContext(ctx, "subscribeLoop: writeCh full, message dropped", "sessionID", se.session.ID())
			}
		}
	}
}

func (se *SessionEndpoint) close() {
	if !se.closed.CompareAndSwap(false, true) {
		return
	}
	se.cancel()
	se.session.Close()
	se.connection.Close()
}

// handleData は受信データをroom topicに転送します。デコードはアプリケーションが行います。
func (se *SessionEndpoint) handleData(ctx context.Context, data []byte) {
	if len(data) == 0 {
		slog.WarnContext(ctx, "empty message dropped", "sessionID", se.session.ID())
		return
	}
	se.pubsub.Publish(ctx, RoomTopic(se.roomID), Message{
		SessionID: se.session.ID(),
		Data:      data,
	})
}

// publishControl は参加と離脱の通知です。取りこぼすとルームに船が残るため、届くまで待ちます。
func (se *SessionEndpoint) publishControl(ctx context.Context, ctrl string) {
	err := se.pubsub.PublishWait(ctx, RoomControlTopic(se.roomID), Message{
		SessionID: se.session.ID(),
		Data:      []byte(ctrl),
	})
	if err != nil {
		slog.WarnContext(ctx, "room control not delivered", "sessionID", se.session.ID(), "control", ctrl, "err", err)
	}
}

// handleControlEvent は制御チャネルからのイベントを処理し論理セッションの状態を更新する唯一の関数です。
func (se *SessionEndpoint) handleControlEvent(ctx context.Context, ev endpointEvent) {
	switch ev.kind {
	case evClose:
		slog.InfoContext(ctx, "closing session", "sessionID", se.session.ID(), "reason", ev.err)
		se.close()
	case evReadError:
		slog.DebugContext(ctx, "read failed, closing session", "sessionID", se.session.ID(), "err", ev.err)
		se.close()
	case evWriteError:
		slog.WarnContext(ctx, "write failed, closing session", "sessionID", se.session.ID(), "err", ev.err)
		se.close()
	default:
		slog.WarnContext(ctx, "unknown endpoint event kind", "kind", ev.kind)
	}
}

func (se *SessionEndpoint) sendCtrlEvent(ctx context.Context, ev endpointEvent) {
	select {
	case se.ctrlCh <- ev:
	case <-ctx.Done():
	}
}
