package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	adapterwebsocket "shooting/server/adapter/websocket"
	"shooting/server/domain"
)

type AcceptHandler struct {
	pubsub      domain.PubSub
	roomManager domain.RoomManager
	cfg         domain.EndpointConfig
	acceptOpts  *websocket.AcceptOptions
}

func NewAcceptHandler(pubsub domain.PubSub, roomManager domain.RoomManager, cfg domain.EndpointConfig) *AcceptHandler {
	return &AcceptHandler{
		pubsub:      pubsub,
		roomManager: roomManager,
		cfg:         cfg,
		acceptOpts: &websocket.AcceptOptions{
			InsecureSkipVerify: true, // 開発用: Origin チェックをスキップ
		},
	}
}

func (h *AcceptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := websocket.Accept(w, r, h.acceptOpts)
	if err != nil {
		slog.ErrorContext(ctx, "failed to accept", "err", err)
		return
	}

	session := domain.NewSession()
	transport := adapterwebsocket.NewTransportFrom(conn)
	connection := domain.NewConnection(session.ID(), transport)
	endpoint, err := domain.NewSessionEndpoint(ctx, session, connection, h.pubsub, h.roomManager, h.cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create session endpoint", "err", err)
		connection.Close()
		return
	}
	slog.DebugContext(ctx, "accepted new connection", "sessionID", session.ID())
	if err := endpoint.Run(); err != nil && !errors.Is(err, ctx.Err()) {
		slog.ErrorContext(ctx, "failed to run session endpoint", "sessionID", session.ID(), "err", err)
		return
	}
	slog.DebugContext(ctx, "connection closed", "sessionID", session.ID())
}
