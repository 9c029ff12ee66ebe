package directory

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
)

// GormDirectory implements Directory on the relational tables owned by the
// collaboration platform.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) LookupUser(ctx context.Context, userID string) (*domain.User, error) {
	var model UserModel
	if err := d.db.WithContext(ctx).First(&model, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to look up user")
		return nil, err
	}
	return &domain.User{ID: model.ID, Username: model.Username}, nil
}

func (d *GormDirectory) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	var model RoomModel
	if err := d.db.WithContext(ctx).First(&model, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to get room")
		return nil, err
	}
	return model.ToDomain(), nil
}

func (d *GormDirectory) IsRoomMember(ctx context.Context, roomID, userID string) (bool, error) {
	return d.exists(ctx, &RoomMemberModel{}, "room_id = ? AND user_id = ?", roomID, userID)
}

func (d *GormDirectory) HasMembership(ctx context.Context, userID, teamID string) (bool, error) {
	return d.exists(ctx, &MembershipModel{}, "user_id = ? AND team_id = ?", userID, teamID)
}

func (d *GormDirectory) HasRole(ctx context.Context, userID, teamID string, role domain.Role) (bool, error) {
	return d.exists(ctx, &MembershipModel{}, "user_id = ? AND team_id = ? AND role = ?", userID, teamID, string(role))
}

func (d *GormDirectory) exists(ctx context.Context, model interface{}, query string, args ...interface{}) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(model).Where(query, args...).Count(&count).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("directory lookup failed")
		return false, err
	}
	return count > 0, nil
}
