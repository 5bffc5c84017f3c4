package voicestore

import (
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/plomtts/internal/core"
	"github.com/fsnotify/fsnotify"
)

// listingCache holds the last directory scan. Any filesystem event below the root or
// a voice directory invalidates it, and entries older than ttl are never served, so
// out-of-band edits become visible within ttl at worst.
type listingCache struct {
	mu       sync.Mutex
	gen      uint64
	valid    bool
	cachedAt time.Time
	voices   []core.Voice
	ttl      time.Duration

	watcher *fsnotify.Watcher
	log     *logger.Logger
	done    chan struct{}
}

func newListingCache(root string, ttl time.Duration, log *logger.Logger) (*listingCache, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	addErr := watcher.Add(root)
	if addErr != nil {
		_ = watcher.Close()

		return nil, fmt.Errorf("failed to watch directory %s: %w", root, addErr)
	}

	cache := &listingCache{
		ttl:     ttl,
		watcher: watcher,
		log:     log,
		done:    make(chan struct{}),
	}

	go cache.watch()

	return cache, nil
}

func (c *listingCache) watch() {
	defer close(c.done)

	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}

			c.invalidate()

			if event.Has(fsnotify.Create) {
				info, statErr := os.Stat(event.Name)
				if statErr == nil && info.IsDir() {
					_ = c.watcher.Add(event.Name)
				}
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}

			c.log.Warn("Voice directory watcher error: %v", err)
			c.invalidate()
		}
	}
}

func (c *listingCache) get() ([]core.Voice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid || time.Since(c.cachedAt) >= c.ttl {
		return nil, false
	}

	return slices.Clone(c.voices), true
}

func (c *listingCache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gen
}

// put stores a scan taken at generation. A scan that raced with an invalidation is
// dropped.
func (c *listingCache) put(generation uint64, voices []core.Voice, dirs []string) {
	for _, dir := range dirs {
		_ = c.watcher.Add(dir)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != generation {
		return
	}

	c.voices = voices
	c.valid = true
	c.cachedAt = time.Now()
}

func (c *listingCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.valid = false
	c.voices = nil
}

func (c *listingCache) close() error {
	err := c.watcher.Close()
	<-c.done

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	return nil
}
