package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CacheRepo implements domain.SharedCacheRepository: the shared cache tier
// persisted in the audit store. Expired rows are logically absent on read
// and physically removed by PurgeExpired.
type CacheRepo struct {
	db *sql.DB
}

func NewCacheRepo(db *sql.DB) *CacheRepo {
	return &CacheRepo{db: db}
}

// Get returns the cached value when present and not expired.
func (r *CacheRepo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	var expiresAt time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT cache_value, expires_at FROM cache_entries WHERE cache_key = ?`,
		key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cache entry %s: %w", key, err)
	}
	if time.Now().After(expiresAt) {
		_, _ = r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
		return nil, false, nil
	}
	return []byte(value), true, nil
}

// Set stores or refreshes a cache entry with the given TTL.
func (r *CacheRepo) Set(ctx context.Context, key string, value []byte, ttlSeconds int64) error {
	expiresAt := time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_key, cache_value, expires_at, created_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(cache_key) DO UPDATE SET
			cache_value = excluded.cache_value,
			expires_at = excluded.expires_at,
			created_at = CURRENT_TIMESTAMP`,
		key, string(value), expiresAt)
	if err != nil {
		return fmt.Errorf("set cache entry %s: %w", key, err)
	}
	return nil
}

// DeleteLike removes entries whose key matches the glob-style pattern
// ('*' wildcard) and returns how many were removed.
func (r *CacheRepo) DeleteLike(ctx context.Context, pattern string) (int64, error) {
	likePattern := strings.ReplaceAll(pattern, "*", "%")
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE cache_key LIKE ?`, likePattern)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries like %s: %w", pattern, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeExpired physically removes expired rows.
func (r *CacheRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("purge expired cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
