package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"shooting/server/domain"
)

const instrumentationName = "shooting/server/application"

const (
	// 復活地点はこの範囲の一様乱数
	SpawnRange             = domain.WindowOffset
	DefaultMinReadyPlayers = 2
)

var ErrAlreadyJoined = errors.New("session already has a ship")

// Options はGameApplicationの設定です。
type Options struct {
	MinReadyPlayers int
	AutoRespawn     bool
	// Now とRand はテストで差し替えます。nilなら実時間と時刻シードの乱数を使います。
	Now  func() time.Time
	Rand *rand.Rand
}

// GameApplication は船と弾のシミュレーションを行うdomain.Applicationです。
// Roomの単一goroutineからのみ呼ばれる前提で、内部でロックを取りません。
type GameApplication struct {
	field   *Field
	inputs  map[domain.SessionID]domain.KeyState
	palette *Palette

	now             func() time.Time
	rng             *rand.Rand
	minReadyPlayers int
	autoRespawn     bool

	roundActive bool
	rosterDirty bool

	bulletsFired    metric.Int64Counter
	shipsEliminated metric.Int64Counter
	shipsRespawned  metric.Int64Counter
}

var _ domain.Application = (*GameApplication)(nil)

func NewGameApplication(opts Options) (*GameApplication, error) {
	if opts.MinReadyPlayers <= 0 {
		opts.MinReadyPlayers = DefaultMinReadyPlayers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(seed, seed>>32|1))
	}

	meter := otel.Meter(instrumentationName)
	fired, err := meter.Int64Counter("game.bullets.fired", metric.WithDescription("Bullets fired by ships"))
	if err != nil {
		return nil, fmt.Errorf("creating fired counter: %w", err)
	}
	eliminated, err := meter.Int64Counter("game.ships.eliminated", metric.WithDescription("Ships hit by a bullet"))
	if err != nil {
		return nil, fmt.Errorf("creating eliminated counter: %w", err)
	}
	respawned, err := meter.Int64Counter("game.ships.respawned", metric.WithDescription("Ships put back on the field"))
	if err != nil {
		return nil, fmt.Errorf("creating respawned counter: %w", err)
	}

	return &GameApplication{
		field:           NewField(),
		inputs:          make(map[domain.SessionID]domain.KeyState),
		palette:         NewPalette(opts.Rand.Float64() * 360),
		now:             opts.Now,
		rng:             opts.Rand,
		minReadyPlayers: opts.MinReadyPlayers,
		autoRespawn:     opts.AutoRespawn,
		bulletsFired:    fired,
		shipsEliminated: eliminated,
		shipsRespawned:  respawned,
	}, nil
}

// randomPlace は復活地点と向きをランダムに決めます。
func (app *GameApplication) randomPlace() (domain.Vector, float64) {
	x := (app.rng.Float64()*2 - 1) * SpawnRange
	y := (app.rng.Float64()*2 - 1) * SpawnRange
	return domain.NewVector(x, y), app.rng.Float64() * 2 * math.Pi
}

// Join は船を生成し、割り当てたIDと色をassignメッセージとして返します。
func (app *GameApplication) Join(ctx context.Context, sessionID domain.SessionID) ([]byte, error) {
	if _, ok := app.field.GetShip(sessionID); ok {
		return nil, ErrAlreadyJoined
	}
	pos, rad := app.randomPlace()
	ship := NewShip(sessionID, app.palette.Next(), pos, rad)

	reply, err := domain.Encode(domain.MessageTypeAssign, domain.Assign{ID: ship.ID, Color: ship.Color})
	if err != nil {
		return nil, err
	}
	app.field.AddShip(ship)
	app.rosterDirty = true
	slog.InfoContext(ctx, "ship joined", "shipID", ship.ID, "color", ship.Color, "ships", len(app.field.Ships()))
	return reply, nil
}

func (app *GameApplication) Leave(ctx context.Context, sessionID domain.SessionID) {
	delete(app.inputs, sessionID)
	if _, ok := app.field.RemoveShip(sessionID); !ok {
		return
	}
	app.rosterDirty = true
	slog.InfoContext(ctx, "ship left", "shipID", sessionID, "ships", len(app.field.Ships()))
}

// HandleMessage は入力を保存するだけで、シミュレーションはTickで進めます。
func (app *GameApplication) HandleMessage(ctx context.Context, sessionID domain.SessionID, data []byte) error {
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		return err
	}
	switch env.Type {
	case domain.MessageTypeKeyState:
		ks, err := domain.DecodePayload[domain.KeyState](env)
		if err != nil {
			return err
		}
		// 差分ではなく押下状態の全置換
		app.inputs[sessionID] = ks
	case domain.MessageTypeReady:
		ship, ok := app.field.GetShip(sessionID)
		if !ok {
			slog.DebugContext(ctx, "ready from session without ship", "sessionID", sessionID)
			return nil
		}
		ship.Ready()
		slog.InfoContext(ctx, "ship ready", "shipID", sessionID)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownMessageType, env.Type)
	}
	return nil
}

// Tick は1tick進め、送信するフレームを返します。参加者が変わったtickはroster、最後にobjectsです。
func (app *GameApplication) Tick(ctx context.Context) [][]byte {
	now := app.now()

	var spawn SpawnFunc
	if app.autoRespawn {
		spawn = app.randomPlace
	}
	res := app.field.Step(app.inputs, now, spawn)

	if n := len(res.Fired); n > 0 {
		app.bulletsFired.Add(ctx, int64(n))
	}
	for _, hit := range res.Hits {
		slog.DebugContext(ctx, "ship eliminated", "victimID", hit.VictimID, "attackerID", hit.AttackerID, "bulletID", hit.BulletID)
	}
	if n := len(res.Hits); n > 0 {
		app.shipsEliminated.Add(ctx, int64(n))
	}
	if n := len(res.Respawned); n > 0 {
		app.shipsRespawned.Add(ctx, int64(n))
	}

	app.updateRound(ctx)

	frames := make([][]byte, 0, 2)
	if app.rosterDirty {
		if frame, err := domain.Encode(domain.MessageTypeRoster, app.roster()); err != nil {
			slog.ErrorContext(ctx, "encode roster failed", "err", err)
		} else {
			frames = append(frames, frame)
			app.rosterDirty = false
		}
	}
	frame, err := domain.Encode(domain.MessageTypeObjects, Snapshot(ctx, app.field.Ships(), app.field.Bullets()))
	if err != nil {
		slog.ErrorContext(ctx, "encode objects failed", "err", err)
		return frames
	}
	return append(frames, frame)
}

func (app *GameApplication) roster() []domain.RosterEntry {
	ships := app.field.Ships()
	entries := make([]domain.RosterEntry, 0, len(ships))
	for _, s := range ships {
		entries = append(entries, domain.RosterEntry{ID: s.ID, Color: s.Color})
	}
	return entries
}

// updateRound は全員のreadyでラウンドを始め、残りが1隻以下になったら終えます。
func (app *GameApplication) updateRound(ctx context.Context) {
	ships := app.field.Ships()
	if !app.roundActive {
		if len(ships) < app.minReadyPlayers {
			return
		}
		for _, s := range ships {
			if !s.IsReady {
				return
			}
		}
		for _, s := range ships {
			s.Entry()
		}
		app.roundActive = true
		slog.InfoContext(ctx, "round started", "ships", len(ships))
		return
	}

	var survivors []*Ship
	for _, s := range ships {
		if s.InPlay(app.autoRespawn) {
			survivors = append(survivors, s)
		}
	}
	if len(survivors) > 1 {
		return
	}
	app.roundActive = false
	if len(survivors) == 1 {
		slog.InfoContext(ctx, "round finished", "winnerID", survivors[0].ID, "color", survivors[0].Color)
	} else {
		slog.InfoContext(ctx, "round finished without a winner")
	}
}

// RoundActive はラウンド進行中かを返します。
func (app *GameApplication) RoundActive() bool {
	return app.roundActive
}
