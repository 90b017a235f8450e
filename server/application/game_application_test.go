package application

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"shooting/server/domain"
)

func newTestApp(t *testing.T, opts Options) (*GameApplication, *time.Time) {
	t.Helper()
	now := t0
	opts.Now = func() time.Time { return now }
	opts.Rand = rand.New(rand.NewPCG(1, 2))
	app, err := NewGameApplication(opts)
	require.NoError(t, err)
	return app, &now
}

func join(t *testing.T, app *GameApplication) *Ship {
	t.Helper()
	id := domain.NewSessionID()
	_, err := app.Join(context.Background(), id)
	require.NoError(t, err)
	s, ok := app.field.GetShip(id)
	require.True(t, ok)
	return s
}

func send(t *testing.T, app *GameApplication, id domain.SessionID, typ domain.MessageType, payload any) {
	t.Helper()
	data, err := domain.Encode(typ, payload)
	require.NoError(t, err)
	require.NoError(t, app.HandleMessage(context.Background(), id, data))
}

func decodeFrame(t *testing.T, frame []byte) domain.Envelope {
	t.Helper()
	env, err := domain.DecodeEnvelope(frame)
	require.NoError(t, err)
	return env
}

func TestGameApplication_Join(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t, Options{})
	id := domain.NewSessionID()

	reply, err := app.Join(ctx, id)
	require.NoError(t, err)

	assign, err := domain.DecodePayload[domain.Assign](decodeFrame(t, reply))
	require.NoError(t, err)
	assert.Equal(t, id, assign.ID)
	assert.Regexp(t, `^#[0-9a-f]{6}$`, assign.Color)

	s, ok := app.field.GetShip(id)
	require.True(t, ok)
	assert.Equal(t, assign.Color, s.Color)
	assert.LessOrEqual(t, s.Pos.Norm(), SpawnRange*1.5)
	assert.Equal(t, 0, s.Lives)

	_, err = app.Join(ctx, id)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestGameApplication_TickFrames(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t, Options{})
	a := join(t, app)
	b := join(t, app)

	frames := app.Tick(ctx)
	require.Len(t, frames, 2)

	roster := decodeFrame(t, frames[0])
	require.Equal(t, domain.MessageTypeRoster, roster.Type)
	entries, err := domain.DecodePayload[[]domain.RosterEntry](roster)
	require.NoError(t, err)
	assert.Equal(t, []domain.RosterEntry{{ID: a.ID, Color: a.Color}, {ID: b.ID, Color: b.Color}}, entries)

	objs, err := domain.DecodeObjects(decodeFrame(t, frames[1]))
	require.NoError(t, err)
	require.Len(t, objs.Ships, 2)
	assert.Equal(t, a.ID, objs.Ships[0].ID)
	assert.Equal(t, b.ID, objs.Ships[1].ID)

	// 参加者が変わらなければobjectsだけ
	frames = app.Tick(ctx)
	require.Len(t, frames, 1)
	assert.Equal(t, domain.MessageTypeObjects, decodeFrame(t, frames[0]).Type)

	app.Leave(ctx, b.ID)
	frames = app.Tick(ctx)
	require.Len(t, frames, 2)
	entries, err = domain.DecodePayload[[]domain.RosterEntry](decodeFrame(t, frames[0]))
	require.NoError(t, err)
	assert.Equal(t, []domain.RosterEntry{{ID: a.ID, Color: a.Color}}, entries)
}

func TestGameApplication_KeyStateReplacesHeldKeys(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t, Options{})
	s := join(t, app)
	s.Pos, s.Rad = domain.Vector{}, 0

	send(t, app, s.ID, domain.MessageTypeKeyState, domain.KeyState{Thrust: true})
	app.Tick(ctx)
	assert.True(t, s.IsAccelerating)
	assert.InDelta(t, AccelFactor*(1-DecelFactor), s.Speed.X, 1e-12)

	// 差分ではなく全置換なのでthrustは離される
	send(t, app, s.ID, domain.MessageTypeKeyState, domain.KeyState{Left: true})
	app.Tick(ctx)
	assert.False(t, s.IsAccelerating)
	assert.InDelta(t, RotateSpeed, s.Rad, 1e-12)

	// 同じ入力はtickをまたいで保持される
	app.Tick(ctx)
	assert.InDelta(t, 2*RotateSpeed, s.Rad, 1e-12)
}

func TestGameApplication_HandleMessageErrors(t *testing.T) {
	app, _ := newTestApp(t, Options{})
	id := domain.NewSessionID()
	ctx := context.Background()

	tests := []struct {
		name string
		data string
		want error
	}{
		{"empty", "", domain.ErrEmptyMessage},
		{"unknown type", `{"type":"chat","data":"hi"}`, domain.ErrUnknownMessageType},
		{"server-only type", `{"type":"objects","data":[]}`, domain.ErrUnknownMessageType},
		{"keystate without data", `{"type":"keystate"}`, domain.ErrMissingPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := app.HandleMessage(ctx, id, []byte(tt.data))
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}

	// 船のないセッションのreadyは無視する
	assert.NoError(t, app.HandleMessage(ctx, id, []byte(`{"type":"ready"}`)))
}

func startRound(t *testing.T, app *GameApplication) (*Ship, *Ship) {
	t.Helper()
	ctx := context.Background()
	a := join(t, app)
	b := join(t, app)
	send(t, app, a.ID, domain.MessageTypeReady, nil)
	send(t, app, b.ID, domain.MessageTypeReady, nil)
	app.Tick(ctx)
	require.True(t, app.RoundActive())
	return a, b
}

func TestGameApplication_RoundFlow(t *testing.T) {
	ctx := context.Background()
	app, now := newTestApp(t, Options{MinReadyPlayers: 2, AutoRespawn: true})
	a := join(t, app)

	send(t, app, a.ID, domain.MessageTypeReady, nil)
	app.Tick(ctx)
	assert.False(t, app.RoundActive(), "one ship is not enough")

	b := join(t, app)
	app.Tick(ctx)
	assert.False(t, app.RoundActive(), "b is not ready")

	send(t, app, b.ID, domain.MessageTypeReady, nil)
	app.Tick(ctx)
	require.True(t, app.RoundActive())
	for _, s := range []*Ship{a, b} {
		assert.Equal(t, MaxLives, s.Lives)
		assert.False(t, s.IsReady)
	}

	// bは撃墜と復活を繰り返し、最後のライフで脱落する
	for i := MaxLives; i > 0; i-- {
		require.True(t, app.RoundActive(), "lives left: %d", b.Lives)
		require.True(t, b.Hit(*now))
		*now = now.Add(RespawnDelay + time.Millisecond)
		app.Tick(ctx)
		assert.Equal(t, i-1, b.Lives)
	}
	assert.False(t, b.IsAlive)
	assert.False(t, app.RoundActive())
}

func TestGameApplication_RoundEndsOnHitWithoutRespawn(t *testing.T) {
	ctx := context.Background()
	app, now := newTestApp(t, Options{})
	a, b := startRound(t, app)

	require.True(t, b.Hit(*now))
	*now = now.Add(time.Second)
	app.Tick(ctx)
	assert.False(t, app.RoundActive())
	assert.Equal(t, MaxLives, b.Lives)
	assert.False(t, b.IsAlive)

	// 次のラウンドを始められる
	send(t, app, a.ID, domain.MessageTypeReady, nil)
	send(t, app, b.ID, domain.MessageTypeReady, nil)
	app.Tick(ctx)
	assert.True(t, app.RoundActive())
}

func TestGameApplication_RoundEndsWhenOpponentLeaves(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t, Options{})
	_, b := startRound(t, app)

	app.Leave(ctx, b.ID)
	app.Tick(ctx)
	assert.False(t, app.RoundActive())
}

func TestGameApplication_AutoRespawn(t *testing.T) {
	ctx := context.Background()
	app, now := newTestApp(t, Options{AutoRespawn: true})
	s := join(t, app)
	s.Lives = 2
	s.Hit(*now)

	*now = now.Add(RespawnDelay)
	app.Tick(ctx)
	assert.False(t, s.IsAlive)

	*now = now.Add(time.Millisecond)
	app.Tick(ctx)
	assert.True(t, s.IsAlive)
	assert.Equal(t, 1, s.Lives)
	// 復活位置は±SpawnRange以内
	assert.LessOrEqual(t, s.Pos.X, SpawnRange)
	assert.GreaterOrEqual(t, s.Pos.X, -SpawnRange)
	assert.LessOrEqual(t, s.Pos.Y, SpawnRange)
	assert.GreaterOrEqual(t, s.Pos.Y, -SpawnRange)
}

func TestGameApplication_NoAutoRespawn(t *testing.T) {
	app, now := newTestApp(t, Options{})
	s := join(t, app)
	s.Lives = 2
	s.Hit(*now)

	*now = now.Add(time.Minute)
	app.Tick(context.Background())
	assert.False(t, s.IsAlive)
	assert.Equal(t, 2, s.Lives)
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestGameApplication_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })

	ctx := context.Background()
	app, now := newTestApp(t, Options{AutoRespawn: true})
	shooter := join(t, app)
	victim := join(t, app)
	shooter.Pos, shooter.Rad = domain.NewVector(-20, 0), 0
	victim.Pos = domain.Vector{}
	victim.Lives = 2

	send(t, app, shooter.ID, domain.MessageTypeKeyState, domain.KeyState{Fire: true})
	app.Tick(ctx)
	require.False(t, victim.IsAlive)

	send(t, app, shooter.ID, domain.MessageTypeKeyState, domain.KeyState{})
	*now = now.Add(2 * time.Second)
	app.Tick(ctx)
	require.True(t, victim.IsAlive)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(1), counterValue(t, rm, "game.bullets.fired"))
	assert.Equal(t, int64(1), counterValue(t, rm, "game.ships.eliminated"))
	assert.Equal(t, int64(1), counterValue(t, rm, "game.ships.respawned"))
}
