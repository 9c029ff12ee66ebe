package directory

import (
	"time"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
)

// UserModel is the GORM model for the users table.
type UserModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Username  string    `gorm:"type:varchar(150);uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

// TeamModel is the GORM model for the teams table.
type TeamModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Name      string    `gorm:"type:varchar(200);not null"`
	OwnerID   string    `gorm:"type:varchar(36);index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (TeamModel) TableName() string {
	return "teams"
}

// MembershipModel places a user on a team. A user has at most one role per team.
type MembershipModel struct {
	ID       uint      `gorm:"primaryKey"`
	UserID   string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_membership_user_team"`
	TeamID   string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_membership_user_team"`
	Role     string    `gorm:"type:varchar(20);not null;default:'member'"`
	JoinedAt time.Time `gorm:"autoCreateTime"`
}

func (MembershipModel) TableName() string {
	return "memberships"
}

// RoomModel is the GORM model for chat channels.
type RoomModel struct {
	ID        string  `gorm:"type:varchar(36);primaryKey"`
	Name      string  `gorm:"type:varchar(200);not null"`
	TeamID    *string `gorm:"type:varchar(36);index"`
	IsPrivate bool    `gorm:"not null;default:false"`
}

func (RoomModel) TableName() string {
	return "channels"
}

func (m *RoomModel) ToDomain() *domain.Room {
	return &domain.Room{
		ID:        m.ID,
		Name:      m.Name,
		TeamID:    m.TeamID,
		IsPrivate: m.IsPrivate,
	}
}

// RoomMemberModel is the explicit member set of a private channel.
type RoomMemberModel struct {
	RoomID string `gorm:"type:varchar(36);primaryKey"`
	UserID string `gorm:"type:varchar(36);primaryKey"`
}

func (RoomMemberModel) TableName() string {
	return "channel_members"
}

// Models lists every table the directory reads, for auto-migration.
func Models() []interface{} {
	return []interface{}{
		&UserModel{},
		&TeamModel{},
		&MembershipModel{},
		&RoomModel{},
		&RoomMemberModel{},
	}
}
