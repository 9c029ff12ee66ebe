package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/snowflake"
)

// MemoryStore keeps messages in process memory, ids from a snowflake node.
type MemoryStore struct {
	mu    sync.RWMutex
	ids   *snowflake.Node
	rooms map[string][]domain.Message
	now   func() time.Time
}

func NewMemoryStore(ids *snowflake.Node) *MemoryStore {
	return &MemoryStore{
		ids:   ids,
		rooms: make(map[string][]domain.Message),
		now:   time.Now,
	}
}

func (s *MemoryStore) Append(_ context.Context, roomID string, sender domain.Principal, text string) (*domain.Message, error) {
	if text == "" {
		return nil, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// id and timestamp are taken under the lock so both grow together
	id, err := s.ids.Next()
	if err != nil {
		return nil, err
	}
	msg := domain.Message{
		ID:         id,
		RoomID:     roomID,
		SenderID:   senderID(sender),
		SenderName: sender.Username,
		Content:    text,
		CreatedAt:  now(s.now),
	}
	s.rooms[roomID] = append(s.rooms[roomID], msg)

	out := msg
	return &out, nil
}

func (s *MemoryStore) History(_ context.Context, roomID string, before int64, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	all := s.rooms[roomID]
	var anchor *domain.Message
	if before > 0 {
		for i := range all {
			if all[i].ID == before {
				a := all[i]
				anchor = &a
				break
			}
		}
	}
	msgs := make([]domain.Message, 0, len(all))
	for i := range all {
		m := all[i]
		switch {
		case before <= 0:
		case anchor != nil:
			if !m.Before(anchor) {
				continue
			}
		case m.ID >= before:
			continue
		}
		msgs = append(msgs, m)
	}
	s.mu.RUnlock()

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Before(&msgs[j]) })

	if n := clampLimit(limit); len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}
