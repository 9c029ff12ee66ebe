package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/cache"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
)

// CachedDirectory puts a cache-aside layer in front of room lookups. Room
// metadata changes rarely; membership answers always go to the backing
// directory so revocations take effect at the next connect.
type CachedDirectory struct {
	Directory
	cache cache.RoomCache
	ttl   time.Duration
	sf    singleflight.Group
}

func NewCachedDirectory(next Directory, roomCache cache.RoomCache, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		Directory: next,
		cache:     roomCache,
		ttl:       ttl,
	}
}

func (d *CachedDirectory) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	key := d.cache.BuildKeyByID(roomID)

	result, err, _ := d.sf.Do(key, func() (interface{}, error) {
		return d.fetchWithCache(ctx, roomID, key)
	})
	if err != nil {
		return nil, err
	}

	room, ok := result.(*domain.Room)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	copied := *room
	return &copied, nil
}

func (d *CachedDirectory) fetchWithCache(ctx context.Context, roomID, key string) (*domain.Room, error) {
	cached, err := d.cache.Get(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("room cache get error")
	}

	room, err := d.Directory.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.cache.Set(cacheCtx, key, room, d.ttl); err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("room cache set error")
		}
	}()

	return room, nil
}
