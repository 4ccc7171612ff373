package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

var (
	bucketAssets     = []byte("assets")
	bucketSessionIdx = []byte("idx_session")
	bucketTypeIdx    = []byte("idx_type")
	bucketExpiryIdx  = []byte("idx_expiry")
	bucketAccessIdx  = []byte("idx_access")
	bucketAccessMeta = []byte("meta_access")
	bucketMeta       = []byte("meta")

	keyUsedBytes = []byte("used_bytes")
)

// BoltStore is the durable tier: serialized CachedAsset records in a single
// bbolt file, surviving process restarts, with secondary indexes by session,
// asset type, expiry, and last access.
type BoltStore struct {
	db       *bolt.DB
	capacity int64
	logger   *zap.Logger
}

// Open opens (creating if needed) the durable store file.
func Open(cfg config.StoreConfig, capacity int64, logger *zap.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: cfg.OpenTimeout})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreRead,
			fmt.Sprintf("failed to open store at %s", cfg.Path), err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketAssets, bucketSessionIdx, bucketTypeIdx,
			bucketExpiryIdx, bucketAccessIdx, bucketAccessMeta, bucketMeta,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(errors.ErrCodeStoreWrite, "failed to create buckets", err)
	}

	return &BoltStore{
		db:       db,
		capacity: capacity,
		logger:   logger.Named("store"),
	}, nil
}

// Get returns the record for id. Absent records report ASSET_NOT_FOUND;
// undecodable records are deleted and report STORE_CORRUPT so the caller
// treats them as a miss.
func (s *BoltStore) Get(ctx context.Context, id string) (*types.CachedAsset, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "get canceled", err)
	}

	var asset *types.CachedAsset
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAssets).Get([]byte(id))
		if data == nil {
			return errors.NewError(errors.ErrCodeAssetNotFound, id).WithComponent("store")
		}

		decoded := &types.CachedAsset{}
		if err := json.Unmarshal(data, decoded); err != nil {
			return errors.Wrap(errors.ErrCodeStoreCorrupt,
				fmt.Sprintf("undecodable record %s", id), err)
		}
		if last, count, ok := readBookkeeping(tx, id); ok {
			decoded.CacheInfo.LastAccessed = last
			decoded.CacheInfo.AccessCount = count
		}
		asset = decoded
		return nil
	})
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeStoreCorrupt {
			s.logger.Warn("deleting corrupt record", zap.String("id", id), zap.Error(err))
			_ = s.Delete(ctx, id)
		}
		return nil, err
	}
	return asset, nil
}

// Put writes the record, replacing any stale index entries from a previous
// version. When the write would exceed the configured capacity the least
// recently accessed records are evicted first; a record that alone exceeds
// capacity is rejected.
func (s *BoltStore) Put(ctx context.Context, asset *types.CachedAsset) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeOperationCanceled, "put canceled", err)
	}

	data, err := json.Marshal(asset)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite,
			fmt.Sprintf("failed to encode record %s", asset.ID), err)
	}
	size := int64(len(data))
	if s.capacity > 0 && size > s.capacity {
		return errors.NewError(errors.ErrCodeAssetTooLarge, fmt.Sprintf(
			"record %s (%d bytes) exceeds durable capacity (%d bytes)",
			asset.ID, size, s.capacity)).WithComponent("store")
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		used := readUsedBytes(tx)

		// Drop the previous version's footprint and index entries.
		if prevData := tx.Bucket(bucketAssets).Get([]byte(asset.ID)); prevData != nil {
			used -= int64(len(prevData))
			if prev := decodeRecord(tx, asset.ID); prev != nil {
				removeIndexEntries(tx, prev)
			} else {
				sweepIndexEntries(tx, asset.ID)
			}
		}

		// Evict least-recently-accessed records until the newcomer fits.
		if s.capacity > 0 {
			for used+size > s.capacity {
				accessKey, victim := oldestAccess(tx)
				if victim == "" || victim == asset.ID {
					break
				}
				used -= recordSize(tx, victim)
				if rec := decodeRecord(tx, victim); rec != nil {
					removeIndexEntries(tx, rec)
				} else {
					// Missing or undecodable victim: its index keys cannot
					// be derived from the record, so sweep them out.
					sweepIndexEntries(tx, victim)
				}
				// Drop the access row directly as well, so a stale row can
				// never stall the loop.
				if err := tx.Bucket(bucketAccessIdx).Delete(accessKey); err != nil {
					return err
				}
				if err := tx.Bucket(bucketAssets).Delete([]byte(victim)); err != nil {
					return err
				}
				s.logger.Debug("evicted record for capacity", zap.String("id", victim))
			}
		}

		if err := tx.Bucket(bucketAssets).Put([]byte(asset.ID), data); err != nil {
			return err
		}
		if err := writeIndexEntries(tx, asset); err != nil {
			return err
		}
		if err := writeBookkeeping(tx, asset.ID, asset.CacheInfo.LastAccessed, asset.CacheInfo.AccessCount); err != nil {
			return err
		}
		return writeUsedBytes(tx, used+size)
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite,
			fmt.Sprintf("failed to write record %s", asset.ID), err)
	}
	return nil
}

// Delete removes the record and its index entries.
func (s *BoltStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeOperationCanceled, "delete canceled", err)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAssets).Get([]byte(id))
		if data == nil {
			// No record, but index rows may still point here (a previous
			// undecodable-record deletion, for instance). Sweep them so LRU
			// and expiry scans never return the id again.
			sweepIndexEntries(tx, id)
			return nil
		}

		used := readUsedBytes(tx) - int64(len(data))
		if rec := decodeRecord(tx, id); rec != nil {
			removeIndexEntries(tx, rec)
		} else {
			sweepIndexEntries(tx, id)
		}
		if err := tx.Bucket(bucketAssets).Delete([]byte(id)); err != nil {
			return err
		}
		return writeUsedBytes(tx, used)
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite,
			fmt.Sprintf("failed to delete record %s", id), err)
	}
	return nil
}

// Clear drops every record and index.
func (s *BoltStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeOperationCanceled, "clear canceled", err)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketAssets, bucketSessionIdx, bucketTypeIdx,
			bucketExpiryIdx, bucketAccessIdx, bucketAccessMeta,
		} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return writeUsedBytes(tx, 0)
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, "failed to clear store", err)
	}
	return nil
}

// Touch writes back access bookkeeping for id. Best-effort; the engine
// treats failures as log-only.
func (s *BoltStore) Touch(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeOperationCanceled, "touch canceled", err)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		last, count, ok := readBookkeeping(tx, id)
		if !ok {
			return nil
		}

		// Only the sidecar bookkeeping and the access index move; the record
		// payload is never rewritten on a read.
		if err := tx.Bucket(bucketAccessIdx).Delete(timeKey(last, id)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketAccessIdx).Put(timeKey(at, id), []byte(id)); err != nil {
			return err
		}
		return writeBookkeeping(tx, id, at, count+1)
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite,
			fmt.Sprintf("failed to touch record %s", id), err)
	}
	return nil
}

// BySession returns the ids of all records belonging to the session.
func (s *BoltStore) BySession(ctx context.Context, sessionID string) ([]string, error) {
	return s.scanIndex(ctx, bucketSessionIdx, sessionID)
}

// ByType returns the ids of all records of the given asset type.
func (s *BoltStore) ByType(ctx context.Context, assetType string) ([]string, error) {
	return s.scanIndex(ctx, bucketTypeIdx, assetType)
}

// ExpiredBefore returns the ids of all records whose expiry precedes cutoff,
// via a range scan over the expiry index.
func (s *BoltStore) ExpiredBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "scan canceled", err)
	}

	var ids []string
	max := make([]byte, 8)
	binary.BigEndian.PutUint64(max, uint64(cutoff.UnixNano()))

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketExpiryIdx).Cursor()
		for k, v := c.First(); k != nil && len(k) >= 8 && string(k[:8]) < string(max); k, v = c.Next() {
			ids = append(ids, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreRead, "expiry scan failed", err)
	}
	return ids, nil
}

// LeastRecent returns up to n record ids ordered oldest last-access first.
func (s *BoltStore) LeastRecent(ctx context.Context, n int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "scan canceled", err)
	}

	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAccessIdx).Cursor()
		for k, v := c.First(); k != nil && len(ids) < n; k, v = c.Next() {
			ids = append(ids, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreRead, "access scan failed", err)
	}
	return ids, nil
}

// Stats summarizes store occupancy.
func (s *BoltStore) Stats(ctx context.Context) (types.StoreStats, error) {
	if err := ctx.Err(); err != nil {
		return types.StoreStats{}, errors.Wrap(errors.ErrCodeOperationCanceled, "stats canceled", err)
	}

	var stats types.StoreStats
	err := s.db.View(func(tx *bolt.Tx) error {
		stats.Count = int64(tx.Bucket(bucketAssets).Stats().KeyN)
		stats.UsedBytes = readUsedBytes(tx)
		return nil
	})
	if err != nil {
		return types.StoreStats{}, errors.Wrap(errors.ErrCodeStoreRead, "stats failed", err)
	}
	return stats, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) scanIndex(ctx context.Context, bucket []byte, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "scan canceled", err)
	}

	var ids []string
	seek := indexKey(prefix, "")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Seek(seek); k != nil && hasPrefix(k, seek); k, v = c.Next() {
			ids = append(ids, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreRead, "index scan failed", err)
	}
	return ids, nil
}

// Index key helpers. Composite keys separate the prefix from the id with a
// NUL byte so prefixes never collide.

func indexKey(prefix, id string) []byte {
	key := make([]byte, 0, len(prefix)+1+len(id))
	key = append(key, prefix...)
	key = append(key, 0)
	key = append(key, id...)
	return key
}

func timeKey(t time.Time, id string) []byte {
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return append(key, id...)
}

func hasPrefix(key, prefix []byte) bool {
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == string(prefix)
}

func writeIndexEntries(tx *bolt.Tx, asset *types.CachedAsset) error {
	id := []byte(asset.ID)
	if asset.Metadata.SessionID != "" {
		if err := tx.Bucket(bucketSessionIdx).Put(indexKey(asset.Metadata.SessionID, asset.ID), id); err != nil {
			return err
		}
	}
	if asset.Metadata.AssetType != "" {
		if err := tx.Bucket(bucketTypeIdx).Put(indexKey(asset.Metadata.AssetType, asset.ID), id); err != nil {
			return err
		}
	}
	if !asset.CacheInfo.ExpiresAt.IsZero() {
		if err := tx.Bucket(bucketExpiryIdx).Put(timeKey(asset.CacheInfo.ExpiresAt, asset.ID), id); err != nil {
			return err
		}
	}
	return tx.Bucket(bucketAccessIdx).Put(timeKey(asset.CacheInfo.LastAccessed, asset.ID), id)
}

func removeIndexEntries(tx *bolt.Tx, asset *types.CachedAsset) {
	if asset.Metadata.SessionID != "" {
		_ = tx.Bucket(bucketSessionIdx).Delete(indexKey(asset.Metadata.SessionID, asset.ID))
	}
	if asset.Metadata.AssetType != "" {
		_ = tx.Bucket(bucketTypeIdx).Delete(indexKey(asset.Metadata.AssetType, asset.ID))
	}
	if !asset.CacheInfo.ExpiresAt.IsZero() {
		_ = tx.Bucket(bucketExpiryIdx).Delete(timeKey(asset.CacheInfo.ExpiresAt, asset.ID))
	}

	// The live access row is keyed by the sidecar's last-access time, which
	// moves on every Touch; the stored record's copy is stale.
	last := asset.CacheInfo.LastAccessed
	if t, _, ok := readBookkeeping(tx, asset.ID); ok {
		last = t
	}
	_ = tx.Bucket(bucketAccessIdx).Delete(timeKey(last, asset.ID))
	_ = tx.Bucket(bucketAccessMeta).Delete([]byte(asset.ID))
}

// sweepIndexEntries removes every index row pointing at id by scanning the
// index buckets. Used when the record is absent or no longer decodes, so the
// exact composite keys cannot be derived from it.
func sweepIndexEntries(tx *bolt.Tx, id string) {
	for _, name := range [][]byte{
		bucketSessionIdx, bucketTypeIdx, bucketExpiryIdx, bucketAccessIdx,
	} {
		c := tx.Bucket(name).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == id {
				_ = c.Delete()
			}
		}
	}
	_ = tx.Bucket(bucketAccessMeta).Delete([]byte(id))
}

func decodeRecord(tx *bolt.Tx, id string) *types.CachedAsset {
	data := tx.Bucket(bucketAssets).Get([]byte(id))
	if data == nil {
		return nil
	}
	rec := &types.CachedAsset{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil
	}
	return rec
}

func recordSize(tx *bolt.Tx, id string) int64 {
	return int64(len(tx.Bucket(bucketAssets).Get([]byte(id))))
}

func oldestAccess(tx *bolt.Tx) ([]byte, string) {
	k, v := tx.Bucket(bucketAccessIdx).Cursor().First()
	if k == nil {
		return nil, ""
	}
	// Copy: the mmap-backed key is not stable across bucket mutations.
	return append([]byte(nil), k...), string(v)
}

// Bookkeeping sidecar: 16 bytes per id (last-access UnixNano ++ access
// count), so a Touch never rewrites the record payload.

func readBookkeeping(tx *bolt.Tx, id string) (time.Time, int64, bool) {
	data := tx.Bucket(bucketAccessMeta).Get([]byte(id))
	if len(data) != 16 {
		return time.Time{}, 0, false
	}
	last := time.Unix(0, int64(binary.BigEndian.Uint64(data[:8])))
	count := int64(binary.BigEndian.Uint64(data[8:]))
	return last, count, true
}

func writeBookkeeping(tx *bolt.Tx, id string, last time.Time, count int64) error {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(last.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], uint64(count))
	return tx.Bucket(bucketAccessMeta).Put([]byte(id), buf)
}

func readUsedBytes(tx *bolt.Tx) int64 {
	data := tx.Bucket(bucketMeta).Get(keyUsedBytes)
	if len(data) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(data))
}

func writeUsedBytes(tx *bolt.Tx, used int64) error {
	if used < 0 {
		used = 0
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(used))
	return tx.Bucket(bucketMeta).Put(keyUsedBytes, buf)
}
