package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/signal-relay/internal/domain"
)

// ErrCodeHeld is returned when another active user already holds a code.
var ErrCodeHeld = errors.New("code held by another active user")

// activeCodeIndex keeps a code on at most one active row.
const activeCodeIndex = "CREATE UNIQUE INDEX IF NOT EXISTS idx_verified_users_active_code ON verified_users(code) WHERE active = 1"

// FindActiveByCode returns the active user holding code.
func FindActiveByCode(ctx context.Context, db *gorm.DB, code string) (*domain.VerifiedUser, error) {
	var u domain.VerifiedUser
	err := db.WithContext(ctx).
		Where("code = ? AND active = ?", code, true).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetVerifiedUser fetches a user by platform id, active or not.
func GetVerifiedUser(ctx context.Context, db *gorm.DB, userID int64) (*domain.VerifiedUser, error) {
	var u domain.VerifiedUser
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertVerifiedUser records a successful verification, reactivating an
// existing row for the same user.
func UpsertVerifiedUser(ctx context.Context, db *gorm.DB, u *domain.VerifiedUser) error {
	u.Active = true
	if u.VerifiedAt.IsZero() {
		u.VerifiedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"verify_group_id", "info_group_id", "code", "verified_at", "active", "updated_at"}),
		}).
		Create(u).Error
}

// ClaimCode records u as the active holder of u.Code. The holder check and
// the upsert share one transaction; the partial unique index turns a lost
// race into ErrCodeHeld as well.
func ClaimCode(ctx context.Context, db *gorm.DB, u *domain.VerifiedUser) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var holder domain.VerifiedUser
		err := tx.Where("code = ? AND active = ? AND user_id <> ?", u.Code, true, u.UserID).First(&holder).Error
		switch {
		case err == nil:
			return ErrCodeHeld
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		u.Active = true
		if u.VerifiedAt.IsZero() {
			u.VerifiedAt = time.Now().UTC()
		}
		var own domain.VerifiedUser
		err = tx.Where("user_id = ?", u.UserID).First(&own).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(u).Error
		}
		if err != nil {
			return err
		}
		u.ID = own.ID
		return tx.Model(&domain.VerifiedUser{}).Where("id = ?", own.ID).Updates(map[string]any{
			"verify_group_id": u.VerifyGroupID,
			"info_group_id":   u.InfoGroupID,
			"code":            u.Code,
			"verified_at":     u.VerifiedAt,
			"active":          true,
		}).Error
	})
	if isUniqueViolation(err) {
		return ErrCodeHeld
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// DeactivateVerifiedUser marks the user inactive for verifyGroupID and
// returns the row as it was, or ErrNotFound when no active row matched.
func DeactivateVerifiedUser(ctx context.Context, db *gorm.DB, userID, verifyGroupID int64) (*domain.VerifiedUser, error) {
	var u domain.VerifiedUser
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND verify_group_id = ? AND active = ?", userID, verifyGroupID, true).
			First(&u).Error; err != nil {
			return err
		}
		return tx.Model(&domain.VerifiedUser{}).
			Where("id = ?", u.ID).
			Update("active", false).Error
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}
