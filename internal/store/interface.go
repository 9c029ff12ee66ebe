package store

import (
	"context"
	"errors"
	"time"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
)

var ErrEmptyContent = errors.New("message content is empty")

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// Store is the append-only message log. It is the only component that
// assigns message ids and timestamps.
type Store interface {
	// Append persists text from sender in roomID and returns the stored message.
	Append(ctx context.Context, roomID string, sender domain.Principal, text string) (*domain.Message, error)
	// History returns up to limit messages of roomID older than the message
	// id before (0 for the latest page), oldest first.
	History(ctx context.Context, roomID string, before int64, limit int) ([]domain.Message, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func senderID(p domain.Principal) *string {
	if !p.Authenticated || p.ID == "" {
		return nil
	}
	id := p.ID
	return &id
}

// now truncates to microseconds, the finest precision every backend keeps.
func now(clock func() time.Time) time.Time {
	return clock().UTC().Truncate(time.Microsecond)
}

func reverse(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
