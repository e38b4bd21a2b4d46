package tts

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// CacheKey derives the disk cache key for one synthesized utterance.
// Text, language and voice profile all change the audio, so all three
// feed the hash.
func CacheKey(text, language string, profile VoiceProfile) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", text, language, profile.fingerprint())
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is a disk LRU of synthesized PCM, stored as WAV files so
// entries survive restarts. Recency lives in memory, seeded from file
// mtimes at open.
type Cache struct {
	dir   string
	limit int

	mu      sync.Mutex
	lastUse map[string]time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// OpenCache creates the directory if needed and indexes any existing
// entries. limit <= 0 disables eviction.
func OpenCache(dir string, limit int) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating tts cache dir: %w", err)
	}
	c := &Cache{dir: dir, limit: limit, lastUse: make(map[string]time.Time)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading tts cache dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".wav") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		c.lastUse[strings.TrimSuffix(name, ".wav")] = info.ModTime()
	}

	// The limit may have shrunk since the last run.
	c.mu.Lock()
	c.evictLocked()
	c.mu.Unlock()
	return c, nil
}

// Get loads a cached entry. Corrupt entries are removed and reported as
// misses.
func (c *Cache) Get(key string) ([]float32, int, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		c.misses.Add(1)
		return nil, 0, false
	}
	pcm, rate, err := decodeWAV(data)
	if err != nil {
		os.Remove(c.path(key))
		c.mu.Lock()
		delete(c.lastUse, key)
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, 0, false
	}

	c.mu.Lock()
	c.lastUse[key] = time.Now()
	c.mu.Unlock()
	c.hits.Add(1)
	return pcm, rate, true
}

// Put stores an entry and evicts the least recently used ones past the
// limit. Write errors are returned but safe to ignore: the cache is an
// optimization.
func (c *Cache) Put(key string, pcm []float32, sampleRate int) error {
	tmp, err := os.CreateTemp(c.dir, "put-*")
	if err != nil {
		return fmt.Errorf("writing tts cache entry: %w", err)
	}
	_, werr := tmp.Write(encodeWAV(pcm, sampleRate))
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		if werr != nil {
			return fmt.Errorf("writing tts cache entry: %w", werr)
		}
		return fmt.Errorf("writing tts cache entry: %w", cerr)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing tts cache entry: %w", err)
	}

	c.mu.Lock()
	c.lastUse[key] = time.Now()
	c.evictLocked()
	c.mu.Unlock()
	return nil
}

// Len returns the number of indexed entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lastUse)
}

// Stats returns hit and miss counts since open.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".wav")
}

func (c *Cache) evictLocked() {
	if c.limit <= 0 {
		return
	}
	for len(c.lastUse) > c.limit {
		oldestKey := ""
		var oldest time.Time
		for k, t := range c.lastUse {
			if oldestKey == "" || t.Before(oldest) {
				oldestKey, oldest = k, t
			}
		}
		os.Remove(c.path(oldestKey))
		delete(c.lastUse, oldestKey)
	}
}
