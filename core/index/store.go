package index

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a key has no index entry.
	ErrNotFound = errors.New("entry not found")
	// ErrTooManyKeys is returned when a batched lookup exceeds the
	// configured cap. The caller must re-chunk and retry.
	ErrTooManyKeys = errors.New("too many keys in batch request")
)

// upsertChunkSize bounds the number of rows written per statement so a large
// reconciliation batch stays within driver placeholder limits.
const upsertChunkSize = 500

// lookupChunkSize bounds the IN clause of batched lookups.
const lookupChunkSize = 500

// Store is the durable key -> Entry mapping. It is the single source of
// truth for existence queries and serializes its writers through the
// database's own transaction discipline; readers of committed data are never
// blocked longer than one commit.
type Store struct {
	db         *gorm.DB
	batchLimit int
}

// Open connects to the index database and migrates its schema. A store that
// cannot be opened or migrated must not be served from; callers treat the
// error as fatal.
func Open(cfg Config) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}

	var db *gorm.DB
	var err error
	switch cfg.Driver {
	case "mysql":
		userInfo := url.UserPassword(cfg.User, cfg.Password).String()
		dsn := fmt.Sprintf("%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
			userInfo, cfg.Host, cfg.Port, cfg.Name, timeout, timeout, timeout)
		db, err = gorm.Open(mysql.Open(dsn), gormConfig)
	default:
		db, err = gorm.Open(sqlite.Open(cfg.Path), gormConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping index database: %w", err)
	}

	if err := db.AutoMigrate(&Entry{}, &metaRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate index schema: %w", err)
	}

	return &Store{db: db, batchLimit: cfg.EffectiveBatchLimit()}, nil
}

// BatchLimit returns the cap enforced by GetBatch.
func (s *Store) BatchLimit() int {
	return s.batchLimit
}

// Get returns the entry for key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (Entry, error) {
	var entry Entry
	err := s.db.WithContext(ctx).First(&entry, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Entry{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return Entry{}, fmt.Errorf("index lookup for %s failed: %w", key, err)
	}
	return entry, nil
}

// GetBatch returns the entries present for the requested keys. Absent keys
// are simply missing from the result map. Requests over the cap are rejected
// with ErrTooManyKeys and touch no state.
func (s *Store) GetBatch(ctx context.Context, keys []string) (map[string]Entry, error) {
	if len(keys) > s.batchLimit {
		return nil, fmt.Errorf("%d keys exceeds cap of %d: %w", len(keys), s.batchLimit, ErrTooManyKeys)
	}

	result := make(map[string]Entry, len(keys))
	// Chunk the IN clause to stay within driver placeholder limits, but run
	// every chunk in one transaction so the batch reads a single snapshot
	// even when a reconciliation commit lands mid-request.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(keys); start += lookupChunkSize {
			end := start + lookupChunkSize
			if end > len(keys) {
				end = len(keys)
			}
			var entries []Entry
			if err := tx.Where("key IN ?", keys[start:end]).Find(&entries).Error; err != nil {
				return err
			}
			for _, e := range entries {
				result[e.Key] = e
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index batch lookup failed: %w", err)
	}
	return result, nil
}

// Upsert inserts or overwrites a single entry, last-write-wins by key.
func (s *Store) Upsert(ctx context.Context, entry Entry) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"size", "modified_at", "indexed_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("index upsert for %s failed: %w", entry.Key, err)
	}
	return nil
}

// UpsertBatch atomically inserts or overwrites a batch of entries. Either
// all entries become visible to subsequent reads or none do; a crash
// mid-batch leaves the prior committed state.
func (s *Store) UpsertBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"size", "modified_at", "indexed_at"}),
		}).CreateInBatches(entries, upsertChunkSize).Error
	})
	if err != nil {
		return fmt.Errorf("index batch upsert of %d entries failed: %w", len(entries), err)
	}
	return nil
}

// Count returns the number of indexed entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Entry{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("index count failed: %w", err)
	}
	return count, nil
}

// LastRefresh returns the persisted last-refresh timestamp. ok is false when
// no reconciliation has ever completed.
func (s *Store) LastRefresh(ctx context.Context) (time.Time, bool, error) {
	var row metaRow
	err := s.db.WithContext(ctx).First(&row, "name = ?", metaLastRefresh).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read last refresh: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, row.Value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt last refresh value %q: %w", row.Value, err)
	}
	return ts, true, nil
}

// SetLastRefresh persists the last-refresh timestamp.
func (s *Store) SetLastRefresh(ctx context.Context, ts time.Time) error {
	row := metaRow{Name: metaLastRefresh, Value: ts.Format(time.RFC3339Nano)}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to persist last refresh: %w", err)
	}
	return nil
}

// TouchIndexedAt re-stamps indexed_at for existing entries without changing
// their size or modification time. Keys with no index entry are ignored.
func (s *Store) TouchIndexedAt(ctx context.Context, keys []string, ts time.Time) error {
	for start := 0; start < len(keys); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		err := s.db.WithContext(ctx).Model(&Entry{}).
			Where("key IN ?", keys[start:end]).
			Update("indexed_at", ts).Error
		if err != nil {
			return fmt.Errorf("index touch of %d keys failed: %w", end-start, err)
		}
	}
	return nil
}

// PruneIndexedBefore removes entries whose IndexedAt predates cutoff and
// returns how many were removed. A full scan stamps every entry it sees with
// the scan's start time, so everything older was not seen this run.
func (s *Store) PruneIndexedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("indexed_at < ?", cutoff).Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("index prune failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}
