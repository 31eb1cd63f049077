// Package domain defines the persistence models of the relay: the chats the
// bots are members of, the users verified into private channels and the
// audit trail of deliveries. The types are mapped with GORM.
package domain

import (
	"time"
)

// Group is a chat one of the bots belongs to, tracked from membership
// updates.
//
// Fields:
//   - ChatID: platform chat id (unique).
//   - Active: false once the bot left or was removed; LeftAt records when.
//   - MemberCount: last known size, refreshed when the bot joins.
type Group struct {
	ID          uint       `json:"-"            gorm:"primaryKey"`
	ChatID      int64      `json:"chat_id"      gorm:"not null;uniqueIndex"`
	Title       string     `json:"title"        gorm:"type:varchar(255)"`
	Type        string     `json:"type"         gorm:"type:varchar(32)"`
	Username    string     `json:"username"     gorm:"type:varchar(64)"`
	Description string     `json:"description"  gorm:"type:text"`
	Active      bool       `json:"active"       gorm:"not null;default:true;index"`
	MemberCount int        `json:"member_count" gorm:"not null;default:0"`
	JoinedAt    time.Time  `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Group.
func (Group) TableName() string { return "tracked_groups" }

// VerifiedUser records a user admitted through a verification code. An
// active code belongs to at most one user; the service layer enforces that
// before writing.
type VerifiedUser struct {
	ID            uint      `json:"-"               gorm:"primaryKey"`
	UserID        int64     `json:"user_id"         gorm:"not null;uniqueIndex"`
	VerifyGroupID int64     `json:"verify_group_id" gorm:"not null;index"`
	InfoGroupID   int64     `json:"info_group_id"`
	Code          string    `json:"code"            gorm:"type:varchar(128);not null;index"`
	VerifiedAt    time.Time `json:"verified_at"`
	Active        bool      `json:"active"          gorm:"not null;default:true;index"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for VerifiedUser.
func (VerifiedUser) TableName() string { return "verified_users" }
