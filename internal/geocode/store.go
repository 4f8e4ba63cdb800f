package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const redisKeyPrefix = "leadmatch:geocode:cep:"

// CacheEntry is a successful resolution of one CEP.
type CacheEntry struct {
	PostalCode string    `gorm:"column:postal_code;primaryKey;size:8" json:"postal_code"`
	Latitude   float64   `gorm:"column:latitude;not null" json:"latitude"`
	Longitude  float64   `gorm:"column:longitude;not null" json:"longitude"`
	Source     string    `gorm:"column:source;size:32" json:"source"`
	ResolvedAt time.Time `gorm:"column:resolved_at;not null" json:"resolved_at"`
}

// TableName exposes the table backing the geocode cache.
func (CacheEntry) TableName() string {
	return "geocode_cache_entries"
}

// Coordinates returns the cached position.
func (e CacheEntry) Coordinates() Coordinates {
	return Coordinates{Latitude: e.Latitude, Longitude: e.Longitude}
}

// Store persists resolved CEPs. Lookup returns nil without error on a miss.
type Store interface {
	Lookup(ctx context.Context, postalCode string) (*CacheEntry, error)
	Save(ctx context.Context, entry CacheEntry) error
}

// GormStore keeps the cache in the application database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs the SQL cache tier.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Lookup(ctx context.Context, postalCode string) (*CacheEntry, error) {
	var entry CacheEntry
	err := s.db.WithContext(ctx).Where("postal_code = ?", postalCode).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Save upserts by CEP so that concurrent resolutions of the same CEP converge.
func (s *GormStore) Save(ctx context.Context, entry CacheEntry) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "postal_code"}},
			DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "source", "resolved_at"}),
		}).
		Create(&entry).Error
}

// RedisStore keeps the hot cache tier in Redis.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore wraps a Redis client. A zero ttl keeps entries until evicted.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Lookup(ctx context.Context, postalCode string) (*CacheEntry, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+postalCode).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *RedisStore) Save(ctx context.Context, entry CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+entry.PostalCode, raw, s.ttl).Err()
}

// TieredStore reads through a hot tier to a durable tier. Hot tier failures only
// cost a slower lookup.
type TieredStore struct {
	hot    Store
	cold   Store
	logger *zap.Logger
}

// NewTieredStore layers hot over cold.
func NewTieredStore(hot, cold Store, logger *zap.Logger) *TieredStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredStore{hot: hot, cold: cold, logger: logger}
}

func (s *TieredStore) Lookup(ctx context.Context, postalCode string) (*CacheEntry, error) {
	entry, err := s.hot.Lookup(ctx, postalCode)
	if err != nil {
		s.logger.Warn("geocode hot cache lookup failed", zap.String("postal_code", postalCode), zap.Error(err))
	} else if entry != nil {
		return entry, nil
	}

	entry, err = s.cold.Lookup(ctx, postalCode)
	if err != nil || entry == nil {
		return entry, err
	}
	if err := s.hot.Save(ctx, *entry); err != nil {
		s.logger.Warn("geocode hot cache backfill failed", zap.String("postal_code", postalCode), zap.Error(err))
	}
	return entry, nil
}

func (s *TieredStore) Save(ctx context.Context, entry CacheEntry) error {
	if err := s.cold.Save(ctx, entry); err != nil {
		return err
	}
	if err := s.hot.Save(ctx, entry); err != nil {
		s.logger.Warn("geocode hot cache write failed", zap.String("postal_code", entry.PostalCode), zap.Error(err))
	}
	return nil
}
