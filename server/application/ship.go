package application

import (
	"time"

	"shooting/server/domain"
)

const (
	RotateSpeed  = 0.07  // rad/tick
	AccelFactor  = 0.03  // units/tick^2
	DecelFactor  = 0.005 // 毎tickの速度減衰率
	ChargeTime   = 500 * time.Millisecond
	RespawnDelay = 1000 * time.Millisecond
	MaxLives     = 3

	ShipHitRadius = 12.0
	NoseLength    = 15.0

	// 船はこの範囲を超えると反対側の端から現れる
	WrapBound = 315.0
	WrapSpan  = 2 * WrapBound
)

// Ship はプレイヤーが操作する船です。
type Ship struct {
	ID    domain.SessionID
	Color string

	Pos   domain.Vector
	Rad   float64
	Speed domain.Vector

	IsAccelerating bool
	IsAlive        bool
	IsReady        bool
	Lives          int
	MaxLives       int

	ChargeTime   time.Duration
	LastFireTime time.Time
	LastHitTime  time.Time
}

// NewShip は参加直後の船を生成します。ライフは0で、entryまで補充されません。
func NewShip(id domain.SessionID, color string, pos domain.Vector, rad float64) *Ship {
	return &Ship{
		ID:         id,
		Color:      color,
		Pos:        pos,
		Rad:        rad,
		IsAlive:    true,
		MaxLives:   MaxLives,
		ChargeTime: ChargeTime,
	}
}

// Control は1tick分の入力を適用して位置を進めます。
// 死亡中は推力と回転を無視しますが、移動とラップアラウンドは常に行います。
func (s *Ship) Control(ks domain.KeyState) {
	s.IsAccelerating = ks.Thrust
	if s.IsAlive {
		if s.IsAccelerating {
			s.Speed = s.Speed.Add(domain.NewVector(AccelFactor, 0).Rotate(s.Rad))
		}
		s.Speed = s.Speed.Scale(1 - DecelFactor)
		if ks.Left {
			s.Rad += RotateSpeed
		}
		if ks.Right {
			s.Rad -= RotateSpeed
		}
	}
	s.Pos = wrap(s.Pos.Add(s.Speed))
}

func wrap(v domain.Vector) domain.Vector {
	return domain.NewVector(wrapAxis(v.X), wrapAxis(v.Y))
}

func wrapAxis(a float64) float64 {
	switch {
	case a > WrapBound:
		return a - WrapSpan
	case a < -WrapBound:
		return a + WrapSpan
	}
	return a
}

// Fire は発射できる場合にtrueを返し、発射時刻を記録します。
func (s *Ship) Fire(ks domain.KeyState, now time.Time) bool {
	if !s.IsAlive || !ks.Fire || now.Sub(s.LastFireTime) <= s.ChargeTime {
		return false
	}
	s.LastFireTime = now
	return true
}

// Head は船首の座標です。弾はここから発射されます。
func (s *Ship) Head() domain.Vector {
	return domain.NewVector(NoseLength, 0).Rotate(s.Rad).Add(s.Pos)
}

func (s *Ship) CanRespawn(now time.Time) bool {
	return !s.IsAlive && now.Sub(s.LastHitTime) > RespawnDelay && s.Lives > 0
}

// Respawn は条件を満たす場合に指定位置で復活させ、trueを返します。
// ライフを先に減らしてから生存判定するため、最後のライフでの復活は死亡状態のままになります。
func (s *Ship) Respawn(pos domain.Vector, rad float64, now time.Time) bool {
	if !s.CanRespawn(now) {
		return false
	}
	s.Lives--
	s.Pos = pos
	s.Rad = rad
	s.Speed = domain.Vector{}
	s.IsAlive = s.Lives > 0
	return true
}

// Hit は被弾処理です。死亡中の船には何もしません。
func (s *Ship) Hit(now time.Time) bool {
	if !s.IsAlive {
		return false
	}
	s.IsAlive = false
	s.LastHitTime = now
	s.Speed = domain.Vector{}
	return true
}

// Entry はラウンド開始時にライフを補充します。位置と生死は変えません。
func (s *Ship) Entry() {
	s.Lives = s.MaxLives
	s.IsReady = false
}

func (s *Ship) Ready() {
	s.IsReady = true
}

// InPlay は生存中か、復活が有効でまだライフを持っているかを返します。
// 復活しない設定では撃墜された時点で脱落です。
func (s *Ship) InPlay(respawning bool) bool {
	return s.IsAlive || (respawning && s.Lives > 0)
}

func (s *Ship) State() domain.ShipState {
	return domain.ShipState{
		ID:             s.ID,
		Pos:            s.Pos,
		Rad:            s.Rad,
		IsAccelerating: s.IsAccelerating,
		IsAlive:        s.IsAlive,
		Lives:          s.Lives,
	}
}
