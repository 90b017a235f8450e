package application

import (
	"math"
	"time"

	"shooting/server/domain"
)

const (
	BulletSpeed = 5.0 // units/tick
	// 弾は船のラップ境界より外側で消える
	BulletBound = 360.0
)

// Bullet はフィールド上の弾丸を表す構造体です。向きと速さは発射後に変わりません。
type Bullet struct {
	ID      uint32
	OwnerID domain.SessionID
	Color   string
	Pos     domain.Vector
	Rad     float64
	Speed   float64
}

func NewBullet(id uint32, owner *Ship) *Bullet {
	return &Bullet{
		ID:      id,
		OwnerID: owner.ID,
		Color:   owner.Color,
		Pos:     owner.Head(),
		Rad:     owner.Rad,
		Speed:   BulletSpeed,
	}
}

func (b *Bullet) Move() {
	b.Pos = b.Pos.Add(domain.NewVector(b.Speed, 0).Rotate(b.Rad))
}

// IsAlive は弾がプレイエリア内にあるかを返します。
func (b *Bullet) IsAlive() bool {
	return math.Abs(b.Pos.X) <= BulletBound && math.Abs(b.Pos.Y) <= BulletBound
}

// IsHit は船が命中半径の内側にいるかを返します。境界ちょうどは外れです。
func (b *Bullet) IsHit(s *Ship) bool {
	return b.Pos.Dist(s.Pos) < ShipHitRadius
}

func (b *Bullet) State() domain.BulletState {
	return domain.BulletState{ID: b.ID, Pos: b.Pos}
}

// HitEvent は弾丸が船に命中したイベントを表します。
type HitEvent struct {
	BulletID   uint32
	VictimID   domain.SessionID
	AttackerID domain.SessionID
}

// ResolveHits は弾ごとに最初に命中した船を撃墜し、残った弾と命中イベントを返します。
// 船はshipsの順に判定され、死亡中の船と発射した本人は対象外です。
func ResolveHits(ships []*Ship, bullets []*Bullet, now time.Time) ([]*Bullet, []HitEvent) {
	survivors := make([]*Bullet, 0, len(bullets))
	var hits []HitEvent
	for _, b := range bullets {
		hit := false
		for _, s := range ships {
			if !s.IsAlive || s.ID == b.OwnerID {
				continue
			}
			if b.IsHit(s) {
				s.Hit(now)
				hits = append(hits, HitEvent{BulletID: b.ID, VictimID: s.ID, AttackerID: b.OwnerID})
				hit = true
				break
			}
		}
		if !hit {
			survivors = append(survivors, b)
		}
	}
	return survivors, hits
}
