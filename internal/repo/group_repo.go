// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for tracked groups.
//
// Functions are context-aware and accept a *gorm.DB handle so they compose
// with transactions. They carry no business rules.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/signal-relay/internal/domain"
)

// UpsertGroup inserts g or refreshes the existing row for g.ChatID and marks
// it active again.
func UpsertGroup(ctx context.Context, db *gorm.DB, g *domain.Group) error {
	g.Active = true
	g.LeftAt = nil
	if g.JoinedAt.IsZero() {
		g.JoinedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "type", "username", "description",
				"active", "member_count", "joined_at", "left_at", "updated_at",
			}),
		}).
		Create(g).Error
}

// DeactivateGroup marks a group inactive. Returns ErrNotFound when the chat
// was never tracked.
func DeactivateGroup(ctx context.Context, db *gorm.DB, chatID int64, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Group{}).
		Where("chat_id = ?", chatID).
		Updates(map[string]any{"active": false, "left_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetGroup fetches one group by chat id.
func GetGroup(ctx context.Context, db *gorm.DB, chatID int64) (*domain.Group, error) {
	var g domain.Group
	if err := db.WithContext(ctx).Where("chat_id = ?", chatID).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroups returns groups ordered by join time, optionally only active ones.
func ListGroups(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Group, error) {
	var out []domain.Group
	q := db.WithContext(ctx).Order("joined_at asc, id asc")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	err := q.Find(&out).Error
	return out, err
}

// ActiveChatIDs returns the chat ids of all active groups.
func ActiveChatIDs(ctx context.Context, db *gorm.DB) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).
		Model(&domain.Group{}).
		Where("active = ?", true).
		Order("chat_id").
		Pluck("chat_id", &ids).Error
	return ids, err
}

// SetMemberCount stores the latest member count for a tracked chat.
func SetMemberCount(ctx context.Context, db *gorm.DB, chatID int64, n int) error {
	return db.WithContext(ctx).
		Model(&domain.Group{}).
		Where("chat_id = ?", chatID).
		Update("member_count", n).Error
}
