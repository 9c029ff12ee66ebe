package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// RoomCache stores room metadata by id.
type RoomCache interface {
	Get(ctx context.Context, key string) (*domain.Room, error)
	Set(ctx context.Context, key string, room *domain.Room, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	BuildKeyByID(roomID string) string
	Close() error
}
