package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// responseBucket is the single bbolt bucket holding hash-keyed cached LLM
// responses.
var responseBucket = []byte("responses")

// Cache is an optional, hash-keyed LLM response cache backed by bbolt,
// stored at outputDir/.bristlenose/cache/responses.db. It exists to avoid
// re-paying for an LLM call whose provider, model and prompts are unchanged
// in cases where the manifest's own skip decision still re-runs the stage.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating if necessary) the response cache database under
// outputDir/.bristlenose/cache/.
func OpenCache(outputDir string) (*Cache, error) {
	dir := filepath.Join(outputDir, ".bristlenose", "cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("manifest: create cache dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, "responses.db"), 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("manifest: open response cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(responseBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("manifest: init response cache bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying bbolt database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get looks up a cached response by key (typically a hash of provider
// fingerprint + stage + input content). Returns ok=false on a miss.
func (c *Cache) Get(key string) (value []byte, ok bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(responseBucket).Get([]byte(key))
		if v != nil {
			value = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return value, ok, err
}

// Put stores value under key, overwriting any existing entry.
func (c *Cache) Put(key string, value []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(responseBucket).Put([]byte(key), value)
	})
}
