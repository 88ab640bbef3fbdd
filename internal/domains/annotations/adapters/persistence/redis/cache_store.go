package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/ports"
)

var _ ports.CacheStore = (*CacheStore)(nil)

// DefaultKeyPrefix namespaces annotation keys inside a shared Redis.
const DefaultKeyPrefix = "annotations"

// CacheStore keeps remark summaries in Redis. Entries carry their fetch
// time so the per-read ttl stays authoritative even when the Redis-side
// expiry is configured looser. The caller owns the client lifecycle.
type CacheStore struct {
	rdb    *redis.Client
	prefix string
	maxAge time.Duration
}

// Option customises the store.
type Option func(*CacheStore)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(s *CacheStore) {
		if trimmed := strings.Trim(prefix, ":"); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

// WithMaxAge sets a Redis-side expiry on written keys, letting Redis
// reclaim memory for entries nothing reads anymore. Zero keeps keys until
// PurgeExpired or ClearAll removes them.
func WithMaxAge(maxAge time.Duration) Option {
	return func(s *CacheStore) { s.maxAge = maxAge }
}

// NewCacheStore wires a Redis-backed cache store.
func NewCacheStore(rdb *redis.Client, opts ...Option) *CacheStore {
	store := &CacheStore{rdb: rdb, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

type annotationRecord struct {
	Handle     string           `json:"handle"`
	WindowDays int              `json:"window_days"`
	SampleSize int              `json:"sample_size"`
	Categories []categoryRecord `json:"categories"`
	FetchedAt  time.Time        `json:"fetched_at"`
}

type categoryRecord struct {
	Name      string `json:"name"`
	Count     int64  `json:"count"`
	Truncated bool   `json:"truncated"`
}

// Get loads the cached summary for handle, returning nil when the key is
// absent or the entry is older than ttl.
func (s *CacheStore) Get(ctx context.Context, handle string, ttl time.Duration) (*domain.RemarkSummary, error) {
	if err := s.ensureClient(); err != nil {
		return nil, err
	}
	raw, err := s.rdb.Get(ctx, s.key(handle)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var record annotationRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decode cached annotation: %w", err)
	}
	if ttl <= 0 || time.Since(record.FetchedAt) >= ttl {
		return nil, nil
	}
	return record.toDomain(), nil
}

// Put stores the summary keyed by handle and restarts its age.
func (s *CacheStore) Put(ctx context.Context, handle string, summary *domain.RemarkSummary) error {
	if err := s.ensureClient(); err != nil {
		return err
	}
	if summary == nil {
		return errors.New("cannot cache nil summary")
	}
	raw, err := json.Marshal(newAnnotationRecord(summary, time.Now()))
	if err != nil {
		return fmt.Errorf("encode annotation: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(handle), raw, s.maxAge).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// ClearAll removes every key in the store's namespace.
func (s *CacheStore) ClearAll(ctx context.Context) error {
	if err := s.ensureClient(); err != nil {
		return err
	}
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// PurgeExpired walks the namespace and deletes entries whose age reached
// olderThan, reporting how many went. Use for housekeeping or cron.
func (s *CacheStore) PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := s.ensureClient(); err != nil {
		return 0, err
	}
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	var removed int64
	for _, key := range keys {
		raw, err := s.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("redis get: %w", err)
		}
		var record annotationRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			// Unreadable entries are junk; sweep them too.
			record.FetchedAt = time.Time{}
		}
		if record.FetchedAt.After(cutoff) {
			continue
		}
		deleted, err := s.rdb.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed += deleted
	}
	return removed, nil
}

func (s *CacheStore) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

func (s *CacheStore) key(handle string) string {
	return s.prefix + ":" + handle
}

func (s *CacheStore) ensureClient() error {
	if s == nil || s.rdb == nil {
		return errors.New("redis cache store not configured")
	}
	return nil
}

func newAnnotationRecord(summary *domain.RemarkSummary, fetchedAt time.Time) annotationRecord {
	record := annotationRecord{
		Handle:     summary.Handle,
		WindowDays: summary.WindowDays,
		SampleSize: summary.SampleSize,
		Categories: make([]categoryRecord, 0, len(summary.Categories)),
		FetchedAt:  fetchedAt,
	}
	for _, category := range summary.Categories {
		record.Categories = append(record.Categories, categoryRecord{
			Name:      category.Name,
			Count:     category.Count,
			Truncated: category.Truncated,
		})
	}
	return record
}

func (r *annotationRecord) toDomain() *domain.RemarkSummary {
	summary := &domain.RemarkSummary{
		Handle:     r.Handle,
		WindowDays: r.WindowDays,
		SampleSize: r.SampleSize,
		Categories: make([]domain.CategoryCount, 0, len(r.Categories)),
	}
	for _, category := range r.Categories {
		summary.Categories = append(summary.Categories, domain.CategoryCount{
			Name:      category.Name,
			Count:     category.Count,
			Truncated: category.Truncated,
		})
	}
	return summary
}
