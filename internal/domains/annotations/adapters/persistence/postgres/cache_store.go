package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/ports"
)

var _ ports.CacheStore = (*CacheStore)(nil)

// DefaultAnnotationTTL is how long cached summaries count as fresh when
// no explicit TTL is configured. Housekeeping jobs use it as the purge
// cutoff.
const DefaultAnnotationTTL = 168 * time.Hour

// CacheStore persists remark summaries in PostgreSQL so cached
// annotations survive restarts. The caller owns the DB lifecycle.
type CacheStore struct {
	db *gorm.DB
}

// NewCacheStore wires a PostgreSQL-backed cache store.
func NewCacheStore(db *gorm.DB) *CacheStore {
	return &CacheStore{db: db}
}

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

// Get loads the cached summary for handle, returning nil when the row is
// absent or older than ttl. Stale rows stay behind for PurgeExpired.
func (s *CacheStore) Get(ctx context.Context, handle string, ttl time.Duration) (*domain.RemarkSummary, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var record annotationRecord
	if err := s.db.WithContext(ctx).First(&record, "handle = ?", handle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if ttl <= 0 || time.Since(record.FetchedAt) >= ttl {
		return nil, nil
	}
	return record.toDomain(), nil
}

// Put upserts the summary keyed by handle and restarts its age.
func (s *CacheStore) Put(ctx context.Context, handle string, summary *domain.RemarkSummary) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if summary == nil {
		return errors.New("cannot cache nil summary")
	}
	record := newAnnotationRecord(handle, summary, time.Now())
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "handle"}},
			DoUpdates: clause.Assignments(map[string]any{
				"window_days":        record.WindowDays,
				"sample_size":        record.SampleSize,
				"category_names":     record.CategoryNames,
				"category_counts":    record.CategoryCounts,
				"category_truncated": record.CategoryTruncated,
				"fetched_at":         record.FetchedAt,
				"updated_at":         gorm.Expr("NOW()"),
			}),
		}).Create(&record).Error
}

// ClearAll removes every cached summary.
func (s *CacheStore) ClearAll(ctx context.Context) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&annotationRecord{}).Error
}

// PurgeExpired removes rows whose age reached olderThan and reports how
// many went. Use for housekeeping or cron.
func (s *CacheStore) PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := s.ensureDB(); err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	result := s.db.WithContext(ctx).Where("fetched_at <= ?", cutoff).Delete(&annotationRecord{})
	return result.RowsAffected, result.Error
}

func (s *CacheStore) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres cache store not configured")
	}
	return nil
}

func newAnnotationRecord(handle string, summary *domain.RemarkSummary, fetchedAt time.Time) annotationRecord {
	record := annotationRecord{
		Handle:     handle,
		WindowDays: summary.WindowDays,
		SampleSize: summary.SampleSize,
		FetchedAt:  fetchedAt,
	}
	if n := len(summary.Categories); n > 0 {
		record.CategoryNames = make(pq.StringArray, 0, n)
		record.CategoryCounts = make(pq.Int64Array, 0, n)
		record.CategoryTruncated = make(pq.BoolArray, 0, n)
		for _, category := range summary.Categories {
			record.CategoryNames = append(record.CategoryNames, category.Name)
			record.CategoryCounts = append(record.CategoryCounts, category.Count)
			record.CategoryTruncated = append(record.CategoryTruncated, category.Truncated)
		}
	}
	return record
}

func (r *annotationRecord) toDomain() *domain.RemarkSummary {
	if r == nil {
		return nil
	}
	n := max(len(r.CategoryNames), len(r.CategoryCounts), len(r.CategoryTruncated))
	summary := &domain.RemarkSummary{
		Handle:     r.Handle,
		WindowDays: r.WindowDays,
		SampleSize: r.SampleSize,
		Categories: make([]domain.CategoryCount, 0, n),
	}
	for i := 0; i < n; i++ {
		var category domain.CategoryCount
		if i < len(r.CategoryNames) {
			category.Name = r.CategoryNames[i]
		}
		if i < len(r.CategoryCounts) {
			category.Count = r.CategoryCounts[i]
		}
		if i < len(r.CategoryTruncated) {
			category.Truncated = r.CategoryTruncated[i]
		}
		summary.Categories = append(summary.Categories, category)
	}
	return summary
}
