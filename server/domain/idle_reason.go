package domain

import "fmt"

// IdleReason はセッションを無通信として閉じる理由です。
type IdleReason uint8

const (
	IdleNone IdleReason = iota
	// IdlePong はheartbeatへの応答が途絶えたことを示します。入力がないだけでは閉じません。
	IdlePong
)

func (r IdleReason) String() string {
	switch r {
	case IdleNone:
		return "none"
	case IdlePong:
		return "pong timeout"
	default:
		return fmt.Sprintf("IdleReason(%d)", uint8(r))
	}
}
