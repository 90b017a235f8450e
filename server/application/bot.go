package application

import "shooting/server/domain"

// BotController はボットの意思決定インターフェースです。
// 受信したスナップショットから次に送るキー入力を決めます。
type BotController interface {
	Decide(self domain.ShipState, ships []domain.ShipState) domain.KeyState
}
