package domain

import "time"

// DeliveryReport is the outcome of one event's fan-out. Reports are an audit
// trail only; nothing is replayed from them.
type DeliveryReport struct {
	ID           int64     `json:"id,string"    gorm:"primaryKey;autoIncrement:false"`
	Kind         string    `json:"kind"         gorm:"type:varchar(32);not null;index:idx_reports_kind_created,priority:1"`
	Subject      string    `json:"subject"      gorm:"type:varchar(128);not null"`
	DedupKey     string    `json:"dedup_key"    gorm:"type:varchar(128)"`
	Destinations int       `json:"destinations" gorm:"not null"`
	Succeeded    int       `json:"succeeded"    gorm:"not null"`
	Failed       int       `json:"failed"       gorm:"not null"`
	Failures     string    `json:"failures,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"   gorm:"index:idx_reports_kind_created,priority:2;index"`
}

// TableName implements the GORM tabler interface.
func (DeliveryReport) TableName() string { return "delivery_reports" }
