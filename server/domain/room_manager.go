package domain

import "context"

//go:generate go tool mockgen -destination=./mocks/room_manager_mock.go -package=mocks . RoomManager

// RoomManager はセッションの参加先ルームを決定します。
type RoomManager interface {
	GetRoom(ctx context.Context, sessionID SessionID) (RoomID, error)
}

// simpleRoomManager は全セッションを単一のデフォルトルームに割り当てます。
type simpleRoomManager struct {
	defaultRoom RoomID
}

func NewSimpleRoomManager(defaultRoom RoomID) RoomManager {
	return &simpleRoomManager{defaultRoom: defaultRoom}
}

func (m *simpleRoomManager) GetRoom(ctx context.Context, sessionID SessionID) (RoomID, error) {
	if m.defaultRoom.IsEmpty() {
		return "", ErrNoRoomAvailable
	}
	return m.defaultRoom, nil
}
