package cache

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cubis-academy/models"
)

var _ Cache = (*Database)(nil)

// Database keeps cache entries in the cache_entries table. It is used when
// no distributed cache is provisioned but the relational store is shared
// between instances.
type Database struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabase returns a relational cache on db. The cache_entries table is
// created by services.AutoMigrate.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db, now: time.Now}
}

func (d *Database) Get(ctx context.Context, key string) ([]byte, error) {
	var entry models.CacheEntry
	err := d.db.WithContext(ctx).
		Where("cache_key = ? AND expires_at > ?", key, d.now().UTC()).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMiss
	} else if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

func (d *Database) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return d.Delete(ctx, key)
	}
	entry := models.CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: d.now().Add(ttl).UTC(),
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&entry).Error
}

func (d *Database) Delete(ctx context.Context, key string) error {
	return d.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&models.CacheEntry{}).Error
}

func (d *Database) Name() string { return "database" }

// Purge removes expired entries and returns how many were dropped.
func (d *Database) Purge(ctx context.Context) (int64, error) {
	result := d.db.WithContext(ctx).
		Where("expires_at <= ?", d.now().UTC()).
		Delete(&models.CacheEntry{})
	return result.RowsAffected, result.Error
}
