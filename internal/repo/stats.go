// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides aggregate queries over delivery reports
// used by the reports endpoint.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/signal-relay/internal/domain"
)

// KindTotals aggregates delivery reports of one kind.
type KindTotals struct {
	Kind      string `json:"kind"`
	Events    int64  `json:"events"`
	Succeeded int64  `json:"succeeded"`
	Failed    int64  `json:"failed"`
}

// ReportTotals sums reports created at or after since, grouped by kind and
// ordered by kind. A zero since covers all rows.
func ReportTotals(ctx context.Context, db *gorm.DB, since time.Time) ([]KindTotals, error) {
	var out []KindTotals
	q := db.WithContext(ctx).
		Model(&domain.DeliveryReport{}).
		Select("kind, COUNT(*) AS events, COALESCE(SUM(succeeded), 0) AS succeeded, COALESCE(SUM(failed), 0) AS failed").
		Group("kind").
		Order("kind")
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	err := q.Scan(&out).Error
	return out, err
}
