package api

import (
	"database/sql"
	"encoding/json"
	"errors"
)

// cacheGet reads a read-through cache entry from the Cache table. found is
// false on a cache miss.
func cacheGet(db *sql.DB, key string, dest any) (found bool, err error) {
	var blob []byte
	row := db.QueryRow(`SELECT value FROM cache WHERE key = ?`, key)
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(blob, dest); err != nil {
		return false, err
	}
	return true, nil
}

// cachePut writes value under key, replacing any existing entry.
func cachePut(db *sql.DB, key string, value any) error {
	blob, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = db.Exec(`INSERT INTO cache (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, blob)
	return err
}

const (
	CacheKeyHomepageTotals = "homepage_totals"
	CacheKeyOptionStats    = "option_stats"
	CacheKeyRatingStats    = "rating_stats"
)
