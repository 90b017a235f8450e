package domain

import "context"

//go:generate go tool mockgen -destination=./mocks/application_mock.go -package=mocks . Application

// Application はRoomのtickループから呼び出されるゲームロジックです。
// すべてのメソッドはRoomのgoroutineからのみ呼ばれます。
type Application interface {
	// Join は参加したセッションへの返信を返します。nilなら何も送りません。
	Join(ctx context.Context, sessionID SessionID) ([]byte, error)
	Leave(ctx context.Context, sessionID SessionID)
	HandleMessage(ctx context.Context, sessionID SessionID, data []byte) error
	// Tick は1tick進め、全セッションへブロードキャストするフレームを順に返します。
	Tick(ctx context.Context) [][]byte
}
