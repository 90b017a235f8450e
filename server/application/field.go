package application

import (
	"slices"
	"time"

	"shooting/server/domain"
)

// Field は船と弾の集合を所有し、1tick分のシミュレーションを進めます。
// 船は参加順に保持され、当たり判定もこの順に行われます。
type Field struct {
	ships        []*Ship
	bullets      []*Bullet
	nextBulletID uint32
}

// StepResult は1tickで起きた出来事です。
type StepResult struct {
	Fired     []*Bullet
	Hits      []HitEvent
	Respawned []*Ship
}

// SpawnFunc は復活位置と向きを決めます。
type SpawnFunc func() (domain.Vector, float64)

func NewField() *Field {
	return &Field{}
}

func (f *Field) AddShip(s *Ship) {
	f.ships = append(f.ships, s)
}

// RemoveShip は船をフィールドから削除します。発射済みの弾は残ります。
func (f *Field) RemoveShip(id domain.SessionID) (*Ship, bool) {
	for i, s := range f.ships {
		if s.ID == id {
			f.ships = slices.Delete(f.ships, i, i+1)
			return s, true
		}
	}
	return nil, false
}

func (f *Field) GetShip(id domain.SessionID) (*Ship, bool) {
	for _, s := range f.ships {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Ships は参加順の船のコピーを返します。以後の追加や削除の影響を受けません。
func (f *Field) Ships() []*Ship {
	return slices.Clone(f.ships)
}

// Bullets は弾のコピーを返します。
func (f *Field) Bullets() []*Bullet {
	return slices.Clone(f.bullets)
}

// Step は入力適用、発射、弾の移動、当たり判定、消滅、復活の順に1tick進めます。
// 入力のないセッションはすべてのキーが離されているものとして扱います。
// spawnがnilなら自動復活は行いません。
func (f *Field) Step(inputs map[domain.SessionID]domain.KeyState, now time.Time, spawn SpawnFunc) StepResult {
	var res StepResult

	for _, s := range f.ships {
		s.Control(inputs[s.ID])
	}
	for _, s := range f.ships {
		if s.Fire(inputs[s.ID], now) {
			f.nextBulletID++
			b := NewBullet(f.nextBulletID, s)
			f.bullets = append(f.bullets, b)
			res.Fired = append(res.Fired, b)
		}
	}
	for _, b := range f.bullets {
		b.Move()
	}

	survivors, hits := ResolveHits(f.ships, f.bullets, now)
	res.Hits = hits

	alive := survivors[:0]
	for _, b := range survivors {
		if b.IsAlive() {
			alive = append(alive, b)
		}
	}
	f.bullets = alive

	if spawn != nil {
		for _, s := range f.ships {
			if !s.CanRespawn(now) {
				continue
			}
			pos, rad := spawn()
			if s.Respawn(pos, rad, now) {
				res.Respawned = append(res.Respawned, s)
			}
		}
	}
	return res
}
