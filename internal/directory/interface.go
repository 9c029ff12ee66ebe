package directory

import (
	"context"
	"errors"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrRoomNotFound = errors.New("room not found")
)

// Directory answers identity, room and membership questions. The gateway
// only ever reads from it.
type Directory interface {
	LookupUser(ctx context.Context, userID string) (*domain.User, error)
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
	IsRoomMember(ctx context.Context, roomID, userID string) (bool, error)
	HasMembership(ctx context.Context, userID, teamID string) (bool, error)
	HasRole(ctx context.Context, userID, teamID string, role domain.Role) (bool, error)
}
