/*
Package store implements the durable tier of the asset cache engine on a
single bbolt file.

Records are serialized CachedAsset values keyed by id in the assets bucket.
Secondary index buckets support the lookups the engine's sweeps need:

	idx_session  sessionID|id  -> id
	idx_type     assetType|id  -> id
	idx_expiry   expiresAt++id -> id   (big-endian UnixNano; range scans)
	idx_access   lastAccess++id -> id  (LRU ordering for capacity eviction)
	meta_access  id -> lastAccess ++ accessCount (16-byte sidecar)

Access bookkeeping lives in the meta_access sidecar, so Touch moves the
access-index row and rewrites 16 bytes instead of re-marshaling the record
payload on every durable hit; Get overlays the sidecar values onto the
decoded record.

The meta bucket carries a running used-bytes counter so Stats never walks
the record set. Put keeps the store within its configured capacity by
evicting the least recently accessed records first; a record that alone
exceeds capacity is rejected and the caller's tier choice degrades. A
victim that is missing or no longer decodes has its index rows swept by
value scan so the eviction loop always advances.

The store survives process restarts; the volatile tier does not.
*/
package store
