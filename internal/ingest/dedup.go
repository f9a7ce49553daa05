// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/boreal/internal/config"
	"github.com/tomtom215/boreal/internal/logging"
)

// DedupCache is the seen-candid fast path in front of the authoritative
// store existence check. Entries expire after the TTL; a cache miss is
// never trusted on its own, so losing the cache (restart with the
// in-memory variant) costs only extra store probes, not correctness.
type DedupCache struct {
	db  *badger.DB
	ttl time.Duration
}

// NewDedupCache opens the Badger-backed cache. An empty directory selects
// the in-memory variant.
func NewDedupCache(cfg config.IngestConfig) (*DedupCache, error) {
	ttl := cfg.DedupCacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	opts := badger.DefaultOptions(cfg.DedupCacheDir).WithLogger(nil)
	if cfg.DedupCacheDir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open dedup cache: %w", err)
	}
	return &DedupCache{db: db, ttl: ttl}, nil
}

// Seen reports whether the candid was marked within the TTL. Read errors
// degrade to a miss: the authoritative check runs anyway.
func (c *DedupCache) Seen(candid int64) bool {
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(dedupKey(candid))
		return err
	})
	if err == nil {
		return true
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		logging.Warn().Err(err).Int64("candid", candid).Msg("Dedup cache read failed")
	}
	return false
}

// Mark records the candid with the configured TTL.
func (c *DedupCache) Mark(candid int64) {
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(dedupKey(candid), nil).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		// The store-level conflict handling still catches duplicates.
		logging.Warn().Err(err).Int64("candid", candid).Msg("Dedup cache write failed")
	}
}

// Close flushes and closes the cache.
func (c *DedupCache) Close() error {
	return c.db.Close()
}

func dedupKey(candid int64) []byte {
	return strconv.AppendInt([]byte("candid/"), candid, 10)
}
