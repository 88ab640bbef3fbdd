package migrations

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Run applies the schema for the bounded contexts. Intended to replace adapter-level automigrate.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&annotationRecord{},
	)
}

// Annotation schema mirrors the annotations Postgres adapter. Categories
// are stored as parallel arrays so a summary round-trips in one row.
type annotationRecord struct {
	Handle            string         `gorm:"primaryKey;column:handle;size:255"`
	WindowDays        int            `gorm:"column:window_days"`
	SampleSize        int            `gorm:"column:sample_size"`
	CategoryNames     pq.StringArray `gorm:"column:category_names;type:text[]"`
	CategoryCounts    pq.Int64Array  `gorm:"column:category_counts;type:bigint[]"`
	CategoryTruncated pq.BoolArray   `gorm:"column:category_truncated;type:boolean[]"`
	FetchedAt         time.Time      `gorm:"column:fetched_at;index"`
	CreatedAt         time.Time      `gorm:"column:created_at"`
	UpdatedAt         time.Time      `gorm:"column:updated_at"`
}

func (annotationRecord) TableName() string { return "annotation_cache" }
