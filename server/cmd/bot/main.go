package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"

	"shooting/server/application"
	"shooting/server/config"
	"shooting/server/domain"
)

func main() {
	cfg, err := config.Load(os.Getenv("SHOOTING_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting bots", "count", cfg.Bot.Count, "server", cfg.Bot.ServerURL)

	var wg sync.WaitGroup
	for i := range cfg.Bot.Count {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runBot(ctx, cfg.Bot.ServerURL, cfg.Bot.Reconnect, id)
		}(i)
	}

	wg.Wait()
	slog.Info("all bots stopped")
}

func runBot(ctx context.Context, serverURL string, reconnect time.Duration, id int) {
	logger := slog.With("botID", id)

	for {
		if ctx.Err() != nil {
			return
		}
		err := botSession(ctx, serverURL, logger)
		if err != nil && ctx.Err() == nil {
			logger.Warn("bot session ended, reconnecting", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(reconnect):
			}
		}
	}
}

// botState は受信ループと判断ループで共有する状態です。
type botState struct {
	mu     sync.Mutex
	selfID domain.SessionID
	ships  []domain.ShipState
}

func (s *botState) snapshot() (domain.ShipState, []domain.ShipState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selfID.IsZero() {
		return domain.ShipState{}, nil, false
	}
	for _, ship := range s.ships {
		if ship.ID == s.selfID {
			return ship, s.ships, true
		}
	}
	return domain.ShipState{}, nil, false
}

func botSession(ctx context.Context, serverURL string, logger *slog.Logger) error {
	conn, _, err := websocket.Dial(ctx, serverURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	logger.Info("connected")

	controller := application.NewRuleBotController()
	state := &botState{}
	readErr := make(chan error, 1)

	// 受信ループ。pongの処理もReadが担う
	go func() {
		readErr <- readLoop(ctx, conn, state, logger)
	}()

	// 判断・送信ループ (60FPS相当)
	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()

	var (
		last      domain.KeyState
		readySent bool
	)
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "shutdown")
			return nil
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		case <-ticker.C:
			self, ships, ok := state.snapshot()
			if !ok {
				continue
			}
			if !readySent {
				if err := send(ctx, conn, domain.MessageTypeReady, nil); err != nil {
					return err
				}
				readySent = true
			}

			ks := controller.Decide(self, ships)
			if ks == last {
				continue
			}
			if err := send(ctx, conn, domain.MessageTypeKeyState, ks); err != nil {
				return err
			}
			last = ks
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, state *botState, logger *slog.Logger) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		env, err := domain.DecodeEnvelope(data)
		if err != nil {
			logger.Debug("dropping undecodable message", "err", err)
			continue
		}
		switch env.Type {
		case domain.MessageTypeAssign:
			assign, err := domain.DecodePayload[domain.Assign](env)
			if err != nil {
				return err
			}
			state.mu.Lock()
			state.selfID = assign.ID
			state.mu.Unlock()
			logger.Info("ship assigned", "shipID", assign.ID, "color", assign.Color)
		case domain.MessageTypeObjects:
			objs, err := domain.DecodeObjects(env)
			if err != nil {
				return err
			}
			state.mu.Lock()
			state.ships = objs.Ships
			state.mu.Unlock()
		case domain.MessageTypeRoster:
			logger.Debug("roster updated")
		}
	}
}

func send(ctx context.Context, conn *websocket.Conn, t domain.MessageType, payload any) error {
	data, err := domain.Encode(t, payload)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", t, err)
	}
	return nil
}
