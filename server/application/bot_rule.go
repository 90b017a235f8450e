package application

import (
	"math"
	"math/rand/v2"

	"shooting/server/domain"
)

const (
	botTurnDeadZone = 0.05 // これ以下の角度差では回転しない
	botJitterChance = 0.02 // 毎tick 2% の確率で回転を乱す
)

// RuleBotController はルールベースのボットAIです。
// ボットごとに異なる個性パラメータを持ちます。
type RuleBotController struct {
	CloseRange   float64 // これより近いと推力を切る
	FireRange    float64 // これより遠いと撃たない
	AimTolerance float64 // 発射する角度差(rad)
	JitterChance float64
}

// NewRuleBotController はランダムな個性を持つボットAIを生成します。
func NewRuleBotController() *RuleBotController {
	return &RuleBotController{
		CloseRange:   60 + rand.Float64()*60,   // 60〜120
		FireRange:    200 + rand.Float64()*150, // 200〜350
		AimTolerance: 0.1 + rand.Float64()*0.15,
		JitterChance: botJitterChance,
	}
}

func (r *RuleBotController) Decide(self domain.ShipState, ships []domain.ShipState) domain.KeyState {
	if !self.IsAlive {
		return domain.KeyState{}
	}

	target, ok := nearestEnemy(self, ships)
	if !ok {
		// 相手がいなければゆっくり旋回
		return domain.KeyState{Left: true}
	}

	delta := torusDelta(self.Pos, target.Pos)
	dist := delta.Norm()
	diff := normalizeAngle(math.Atan2(delta.Y, delta.X) - self.Rad)

	var ks domain.KeyState
	switch {
	case diff > botTurnDeadZone:
		ks.Left = true
	case diff < -botTurnDeadZone:
		ks.Right = true
	}
	if r.JitterChance > 0 && rand.Float64() < r.JitterChance {
		ks.Left, ks.Right = ks.Right, ks.Left
	}
	ks.Thrust = dist > r.CloseRange
	ks.Fire = math.Abs(diff) < r.AimTolerance && dist < r.FireRange
	return ks
}

func nearestEnemy(self domain.ShipState, ships []domain.ShipState) (domain.ShipState, bool) {
	var (
		best  domain.ShipState
		found bool
		min   = math.Inf(1)
	)
	for _, s := range ships {
		if s.ID == self.ID || !s.IsAlive {
			continue
		}
		if d := torusDelta(self.Pos, s.Pos).Norm(); d < min {
			best, min, found = s, d, true
		}
	}
	return best, found
}

// torusDelta はラップアラウンドを考慮した from から to への最短の差分です。
func torusDelta(from, to domain.Vector) domain.Vector {
	return domain.NewVector(wrapDelta(to.X-from.X), wrapDelta(to.Y-from.Y))
}

func wrapDelta(d float64) float64 {
	switch {
	case d > WrapBound:
		return d - WrapSpan
	case d < -WrapBound:
		return d + WrapSpan
	}
	return d
}

// normalizeAngle は角度を(-π, π]に収めます。
func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	switch {
	case a > math.Pi:
		a -= 2 * math.Pi
	case a <= -math.Pi:
		a += 2 * math.Pi
	}
	return a
}
