package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"gorm.io/gorm"
)

// DefaultHistoryRetention is the number of sync sessions kept in history.
const DefaultHistoryRetention = 50

// CacheBackend stores advisory cache entries outside the database.
type CacheBackend interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// LocalStore implements offline.LocalStore on GORM.
type LocalStore struct {
	db        *gorm.DB
	clock     shared.Clock
	retention int
	cache     CacheBackend
}

// StoreOption configures a LocalStore
type StoreOption func(*LocalStore)

// WithClock sets the clock used for cache expiry and bookkeeping timestamps
func WithClock(c shared.Clock) StoreOption {
	return func(s *LocalStore) { s.clock = c }
}

// WithHistoryRetention sets how many sync sessions are kept
func WithHistoryRetention(n int) StoreOption {
	return func(s *LocalStore) {
		if n > 0 {
			s.retention = n
		}
	}
}

// WithCacheBackend routes cache operations to backend instead of the
// cache_entries table.
func WithCacheBackend(backend CacheBackend) StoreOption {
	return func(s *LocalStore) { s.cache = backend }
}

// NewLocalStore creates a local store over db. The schema must already be
// migrated (see Migrate).
func NewLocalStore(db *gorm.DB, opts ...StoreOption) *LocalStore {
	s := &LocalStore{
		db:        db,
		clock:     shared.SystemClock{},
		retention: DefaultHistoryRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ offline.LocalStore = (*LocalStore)(nil)

func (s *LocalStore) withDB(db *gorm.DB) *LocalStore {
	c := *s
	c.db = db
	return &c
}

// Transaction runs fn against a store bound to a single transaction. An error
// returned by fn rolls back and is passed through unchanged.
func (s *LocalStore) Transaction(ctx context.Context, fn func(tx offline.LocalStore) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(s.withDB(tx))
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return shared.NewStorageError("transaction", err)
}

// wrap turns gorm errors into the store's error taxonomy.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ErrNotFound
	}
	return shared.NewStorageError(op, err)
}

func (s *LocalStore) now() time.Time {
	return s.clock.Now().UTC()
}
