package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
)

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	RoomID     string    `gorm:"type:varchar(36);not null;index:idx_messages_room_created,priority:1"`
	SenderID   *string   `gorm:"type:varchar(36);index"`
	SenderName string    `gorm:"type:varchar(150);not null"`
	Content    string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null;index:idx_messages_room_created,priority:2"`
}

func (MessageModel) TableName() string {
	return "messages"
}

func (m *MessageModel) ToDomain() domain.Message {
	return domain.Message{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt.UTC(),
	}
}

// GormStore keeps messages in the relational database; ids come from the
// table's auto-increment key.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) Append(ctx context.Context, roomID string, sender domain.Principal, text string) (*domain.Message, error) {
	if text == "" {
		return nil, ErrEmptyContent
	}

	model := &MessageModel{
		RoomID:     roomID,
		SenderID:   senderID(sender),
		SenderName: sender.Username,
		Content:    text,
		CreatedAt:  now(s.now),
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to insert message")
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	msg := model.ToDomain()
	return &msg, nil
}

// History pages on the same (created_at, id) key it sorts by, anchored at the
// cursor message. An unknown cursor falls back to comparing ids.
func (s *GormStore) History(ctx context.Context, roomID string, before int64, limit int) ([]domain.Message, error) {
	query := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if before > 0 {
		var anchor MessageModel
		err := s.db.WithContext(ctx).
			Select("id", "created_at").
			Where("room_id = ? AND id = ?", roomID, before).
			Take(&anchor).Error
		switch {
		case err == nil:
			query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", anchor.CreatedAt, anchor.CreatedAt, anchor.ID)
		case errors.Is(err, gorm.ErrRecordNotFound):
			query = query.Where("id < ?", before)
		default:
			l := log.Ctx(ctx)
			l.Error().Err(err).Str(log.FieldRoomID, roomID).Int64(log.FieldMessageID, before).Msg("failed to load history cursor")
			return nil, fmt.Errorf("failed to load history cursor: %w", err)
		}
	}

	var models []MessageModel
	if err := query.Order("created_at DESC").Order("id DESC").Limit(clampLimit(limit)).Find(&models).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to load history")
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	msgs := make([]domain.Message, len(models))
	for i := range models {
		msgs[i] = models[i].ToDomain()
	}
	reverse(msgs)
	return msgs, nil
}
