package application

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"shooting/server/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestShip(x, y, rad float64) *Ship {
	return NewShip(domain.NewSessionID(), "#ff0000", domain.NewVector(x, y), rad)
}

func TestNewShip(t *testing.T) {
	s := newTestShip(1, 2, 0.5)

	assert.True(t, s.IsAlive)
	assert.False(t, s.IsReady)
	assert.Equal(t, 0, s.Lives)
	assert.Equal(t, MaxLives, s.MaxLives)
	assert.Equal(t, ChargeTime, s.ChargeTime)
	assert.Equal(t, domain.Vector{}, s.Speed)
}

func TestShip_Control_Rotation(t *testing.T) {
	s := newTestShip(0, 0, 0)

	s.Control(domain.KeyState{Left: true})
	assert.InDelta(t, RotateSpeed, s.Rad, 1e-12)

	s.Control(domain.KeyState{Right: true})
	s.Control(domain.KeyState{Right: true})
	assert.InDelta(t, -RotateSpeed, s.Rad, 1e-12)

	// 両方押しは打ち消し合う
	s.Control(domain.KeyState{Left: true, Right: true})
	assert.InDelta(t, -RotateSpeed, s.Rad, 1e-12)
}

func TestShip_Control_DragWhileCoasting(t *testing.T) {
	s := newTestShip(0, 0, 0)
	s.Speed = domain.NewVector(2, -1)

	s.Control(domain.KeyState{})

	assert.InDelta(t, 2*(1-DecelFactor), s.Speed.X, 1e-12)
	assert.InDelta(t, -1*(1-DecelFactor), s.Speed.Y, 1e-12)
	assert.InDelta(t, 2*(1-DecelFactor), s.Pos.X, 1e-12)
	assert.False(t, s.IsAccelerating)
}

// 原点から向き0で10tick推力をかけた結果は漸化式の閉じた形と一致する
func TestShip_Control_ThrustTenTicks(t *testing.T) {
	s := newTestShip(0, 0, 0)
	for i := 0; i < 10; i++ {
		s.Control(domain.KeyState{Thrust: true})
	}

	const a, d, n = AccelFactor, 1 - DecelFactor, 10
	dn := math.Pow(d, n)
	wantSpeed := a * d * (1 - dn) / (1 - d)
	wantPos := a * d / (1 - d) * (n - d*(1-dn)/(1-d))

	require.True(t, s.IsAccelerating)
	assert.InDelta(t, wantSpeed, s.Speed.Norm(), 1e-12)
	assert.InDelta(t, wantSpeed, s.Speed.X, 1e-12)
	assert.InDelta(t, 0, s.Speed.Y, 1e-12)
	assert.InDelta(t, wantPos, s.Pos.X, 1e-12)
	assert.InDelta(t, 0, s.Pos.Y, 1e-12)
	// 0.03*0.995 から始まる漸化式の10tick目
	assert.InDelta(t, 0.29187, wantSpeed, 1e-5)
	assert.InDelta(t, 1.61737, wantPos, 1e-5)
}

func TestShip_Control_WrapsAround(t *testing.T) {
	s := newTestShip(314, 0, 0)
	s.Speed = domain.NewVector(2, 0)

	s.Control(domain.KeyState{})

	speed := 2 * (1 - DecelFactor)
	assert.InDelta(t, 314+speed-WrapSpan, s.Pos.X, 1e-9)
	assert.InDelta(t, speed, s.Speed.X, 1e-12)
	assert.Equal(t, 0.0, s.Rad)

	s = newTestShip(0, -314, 0)
	s.Speed = domain.NewVector(0, -2)
	s.Control(domain.KeyState{})
	assert.InDelta(t, -314-speed+WrapSpan, s.Pos.Y, 1e-9)
}

func TestShip_Control_ReappearsOnOppositeEdge(t *testing.T) {
	s := newTestShip(0, 0, 0)
	prev := s.Pos.X
	for i := 0; i < 10000; i++ {
		s.Control(domain.KeyState{Thrust: true})
		if s.Pos.X < prev {
			require.Greater(t, prev, WrapBound-10)
			require.Less(t, s.Pos.X, -WrapBound+10)
			assert.Equal(t, 0.0, s.Rad)
			return
		}
		prev = s.Pos.X
	}
	t.Fatal("ship never crossed the edge")
}

func TestShip_Control_StaysWithinBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Float64Range(-WrapBound, WrapBound).Draw(t, "x")
		y := rapid.Float64Range(-WrapBound, WrapBound).Draw(t, "y")
		rad := rapid.Float64Range(-10, 10).Draw(t, "rad")
		s := newTestShip(x, y, rad)

		inputs := rapid.SliceOfN(rapid.Uint8Range(0, 15), 1, 300).Draw(t, "inputs")
		for _, in := range inputs {
			s.Control(domain.KeyState{
				Left:   in&1 != 0,
				Right:  in&2 != 0,
				Thrust: in&4 != 0,
			})
			if math.Abs(s.Pos.X) > WrapBound || math.Abs(s.Pos.Y) > WrapBound {
				t.Fatalf("ship escaped the field: %+v", s.Pos)
			}
		}
	})
}

func TestShip_Control_DeadShipIsFrozen(t *testing.T) {
	s := newTestShip(10, 20, 1)
	s.Speed = domain.NewVector(1, 1)
	require.True(t, s.Hit(t0))

	s.Control(domain.KeyState{Thrust: true, Left: true})

	assert.True(t, s.IsAccelerating)
	assert.Equal(t, 1.0, s.Rad)
	assert.Equal(t, domain.Vector{}, s.Speed)
	assert.Equal(t, domain.NewVector(10, 20), s.Pos)
}

func TestShip_Fire_Cooldown(t *testing.T) {
	s := newTestShip(0, 0, 0)
	fire := domain.KeyState{Fire: true}

	assert.False(t, s.Fire(domain.KeyState{}, t0), "not held")
	assert.True(t, s.Fire(fire, t0))
	assert.False(t, s.Fire(fire, t0.Add(100*time.Millisecond)))
	assert.False(t, s.Fire(fire, t0.Add(ChargeTime)), "cooldown boundary is exclusive")
	assert.True(t, s.Fire(fire, t0.Add(ChargeTime+time.Millisecond)))
	assert.Equal(t, t0.Add(ChargeTime+time.Millisecond), s.LastFireTime)
}

func TestShip_Fire_DeadShipCannotFire(t *testing.T) {
	s := newTestShip(0, 0, 0)
	s.Hit(t0)
	assert.False(t, s.Fire(domain.KeyState{Fire: true}, t0.Add(time.Hour)))
}

func TestShip_Head(t *testing.T) {
	s := newTestShip(10, 10, 0)
	assert.Equal(t, domain.NewVector(25, 10), s.Head())

	s.Rad = math.Pi / 2
	head := s.Head()
	assert.InDelta(t, 10, head.X, 1e-9)
	assert.InDelta(t, 25, head.Y, 1e-9)
}

func TestShip_Respawn_Gating(t *testing.T) {
	s := newTestShip(50, 50, 0.3)
	s.Entry()
	require.True(t, s.Hit(t0))
	require.False(t, s.Hit(t0), "second hit is a no-op")

	spawn := domain.NewVector(-100, 120)
	before := *s
	assert.False(t, s.Respawn(spawn, 2, t0.Add(999*time.Millisecond)))
	assert.False(t, s.Respawn(spawn, 2, t0.Add(RespawnDelay)))
	assert.Equal(t, before, *s, "rejected respawn leaves state unchanged")

	require.True(t, s.Respawn(spawn, 2, t0.Add(RespawnDelay+time.Millisecond)))
	assert.Equal(t, MaxLives-1, s.Lives)
	assert.Equal(t, spawn, s.Pos)
	assert.Equal(t, 2.0, s.Rad)
	assert.Equal(t, domain.Vector{}, s.Speed)
	assert.True(t, s.IsAlive)
}

func TestShip_Respawn_AliveOrNoLives(t *testing.T) {
	s := newTestShip(0, 0, 0)
	s.Entry()
	assert.False(t, s.Respawn(domain.NewVector(1, 1), 0, t0.Add(time.Hour)), "alive ship")

	s = newTestShip(0, 0, 0)
	s.Hit(t0)
	assert.False(t, s.Respawn(domain.NewVector(1, 1), 0, t0.Add(time.Hour)), "no lives")
	assert.False(t, s.InPlay(true))
}

// 最後のライフでの復活は位置だけ移して死亡状態のまま
func TestShip_Respawn_LastLifeStaysDead(t *testing.T) {
	s := newTestShip(0, 0, 0)
	s.Lives = 1
	s.Hit(t0)

	spawn := domain.NewVector(30, -40)
	require.True(t, s.Respawn(spawn, 1, t0.Add(2*time.Second)))
	assert.Equal(t, 0, s.Lives)
	assert.False(t, s.IsAlive)
	assert.Equal(t, spawn, s.Pos)
	assert.False(t, s.CanRespawn(t0.Add(time.Hour)))
	assert.False(t, s.InPlay(true))
}

func TestShip_InPlay(t *testing.T) {
	s := newTestShip(0, 0, 0)
	s.Entry()
	assert.True(t, s.InPlay(false))
	assert.True(t, s.InPlay(true))

	s.Hit(t0)
	assert.True(t, s.InPlay(true), "lives left to respawn with")
	assert.False(t, s.InPlay(false), "no respawn means eliminated")
}

func TestShip_EntryAndReady(t *testing.T) {
	s := newTestShip(5, 5, 0)
	s.Hit(t0)
	s.Ready()
	require.True(t, s.IsReady)

	s.Entry()

	assert.Equal(t, MaxLives, s.Lives)
	assert.False(t, s.IsReady)
	assert.False(t, s.IsAlive, "entry does not revive")
	assert.Equal(t, domain.NewVector(5, 5), s.Pos)
}
