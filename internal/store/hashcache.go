package store

import (
	"encoding/binary"
	"encoding/hex"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

// HashCache is an optional boltdb-backed cache of Merkle hash nodes
// shared across every swarm a directory-seeder instance serves. Entries
// are keyed by swarm id and node range only; no file path, size or mtime
// is recorded, so it cannot tell whether a file changed. Grounded on
// daemon/manager/cas_bolt.go's BoltCAS, adapted from a per-chunk
// existence cache into a per-swarm hash-node cache keyed by
// (swarm id, range).
type HashCache struct {
	db *bolt.DB
}

var hashCacheBucket = []byte("merkle_nodes")

// OpenHashCache opens (creating if necessary) the boltdb file at path.
func OpenHashCache(path string) (*HashCache, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(hashCacheBucket)
		return e
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &HashCache{db: db}, nil
}

func (c *HashCache) Close() error { return c.db.Close() }

func cacheKey(swarmID []byte, start, end uint32) []byte {
	k := make([]byte, len(swarmID)+8)
	copy(k, swarmID)
	binary.BigEndian.PutUint32(k[len(swarmID):], start)
	binary.BigEndian.PutUint32(k[len(swarmID)+4:], end)
	return k
}

// Put stores a node's hash, alongside the current time for later GC.
func (c *HashCache) Put(swarmID []byte, start, end uint32, hash []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(hashCacheBucket)
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], uint64(time.Now().Unix()))
		v2 := append(v[:], hash...)
		return bk.Put(cacheKey(swarmID, start, end), v2)
	})
}

// Get returns a cached hash, or (nil, false) if absent.
func (c *HashCache) Get(swarmID []byte, start, end uint32) ([]byte, bool) {
	var hash []byte
	_ = c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(hashCacheBucket)
		v := bk.Get(cacheKey(swarmID, start, end))
		if v == nil || len(v) < 8 {
			return nil
		}
		hash = append([]byte{}, v[8:]...)
		return nil
	})
	return hash, hash != nil
}

// GC drops cache entries older than maxAge, for swarms no longer seeded.
func (c *HashCache) GC(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(hashCacheBucket)
		cur := bk.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			if len(v) >= 8 && int64(binary.BigEndian.Uint64(v[:8])) < cutoff {
				if err := cur.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// SwarmIDHex renders a swarm id the way log lines and the stats UI do.
func SwarmIDHex(swarmID []byte) string { return hex.EncodeToString(swarmID) }
