package application

import (
	"context"
	"log/slog"

	"shooting/server/domain"
	"shooting/utils"
)

// Snapshot は船と弾をobjectsメッセージの要素に射影します。船が先、弾が後です。
// 座標が有限でないものは含めません。
func Snapshot(ctx context.Context, ships []*Ship, bullets []*Bullet) []domain.Entity {
	entities := make([]domain.Entity, 0, len(ships)+len(bullets))
	for _, s := range ships {
		if !utils.FiniteVector(s.Pos) || !utils.IsFinite(s.Rad) {
			slog.WarnContext(ctx, "ship with non-finite state excluded from snapshot", "shipID", s.ID)
			continue
		}
		entities = append(entities, domain.Entity{Type: domain.EntityTypeShip, Data: s.State()})
	}
	for _, b := range bullets {
		if !utils.FiniteVector(b.Pos) {
			slog.WarnContext(ctx, "bullet with non-finite state excluded from snapshot", "bulletID", b.ID)
			continue
		}
		entities = append(entities, domain.Entity{Type: domain.EntityTypeBullet, Data: b.State()})
	}
	return entities
}
