package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/signal-relay/internal/domain"
)

// CreateReport inserts a delivery report. The caller assigns the id.
func CreateReport(ctx context.Context, db *gorm.DB, r *domain.DeliveryReport) error {
	return db.WithContext(ctx).Create(r).Error
}

// ListReports returns the newest reports first, optionally for one kind.
func ListReports(ctx context.Context, db *gorm.DB, kind string, limit int) ([]domain.DeliveryReport, error) {
	var out []domain.DeliveryReport
	q := db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	err := q.Find(&out).Error
	return out, err
}
