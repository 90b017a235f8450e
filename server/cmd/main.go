package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shooting/server"
	"shooting/server/application"
	"shooting/server/config"
	"shooting/server/domain"
	"shooting/server/telemetry"
)

func main() {
	cfg, err := config.Load(os.Getenv("SHOOTING_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Setup(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: "shooting-server",
		Interval:    cfg.Telemetry.Interval,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up telemetry", "err", err)
		os.Exit(1)
	}

	// PubSub初期化
	pubsub := domain.NewSimplePubSub()

	roomID := domain.RoomID(cfg.Room.ID)
	roomManager := domain.NewSimpleRoomManager(roomID)

	app, err := application.NewGameApplication(application.Options{
		MinReadyPlayers: cfg.Game.MinReadyPlayers,
		AutoRespawn:     cfg.Game.AutoRespawn,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create game", "err", err)
		os.Exit(1)
	}
	room, err := domain.NewRoom(roomID, pubsub, app, cfg.Room.TickRate)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create room", "err", err)
		os.Exit(1)
	}
	go func() {
		if err := room.Run(ctx); err != nil {
			slog.ErrorContext(ctx, "room error", "err", err)
		}
	}()

	handler := server.Route(pubsub, roomManager, domain.EndpointConfig{
		IdleTimeout:       cfg.Session.IdleTimeout,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		WriteBufferSize:   cfg.Session.WriteBufferSize,
	})
	s := server.NewServer(cfg.Server.ListenAddr(), handler)
	// hijack済みのWebSocket接続もシグナルで終了させる
	s.HTTP.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		if err := s.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "err", err)
			stop()
		}
	}()
	slog.InfoContext(ctx, "server listening", "addr", s.Addr(), "room", roomID, "tickRate", cfg.Room.TickRate)

	<-ctx.Done()
	slog.InfoContext(ctx, "shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "graceful shutdown failed", "error", err)
		if err := s.Close(); err != nil {
			slog.ErrorContext(ctx, "forced close failed", "error", err)
		}
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "telemetry shutdown failed", "error", err)
	}
	slog.InfoContext(ctx, "server shutdown complete")
}
