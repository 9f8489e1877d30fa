package stylesync

import (
	"crypto/md5"
	"sync"
	"time"
)

// DefaultLoopGuardTTL bounds how long a registered write suppresses change
// events echoing it back.
const DefaultLoopGuardTTL = 2 * time.Second

type writeRecord struct {
	hash [md5.Size]byte
	at   time.Time
}

// LoopGuard suppresses the change notifications triggered by the agent's own
// writes: each write registers a content hash under the file path and the
// stylesheet id, and a change event whose content hashes identically within
// the TTL is ignored. Expired entries are purged on access and by a
// background sweep.
type LoopGuard struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]writeRecord
	done    chan struct{}
	once    sync.Once
}

// NewLoopGuard creates a guard and starts its sweep loop.
func NewLoopGuard(ttl time.Duration) *LoopGuard {
	if ttl <= 0 {
		ttl = DefaultLoopGuardTTL
	}
	g := &LoopGuard{
		ttl:     ttl,
		entries: make(map[string]writeRecord),
		done:    make(chan struct{}),
	}
	go g.sweep()
	return g
}

// RegisterWrite records a write of content under key. It completes before
// returning so the subsequent change event is reliably classified.
func (g *LoopGuard) RegisterWrite(key, content string) {
	g.mu.Lock()
	g.entries[key] = writeRecord{hash: md5.Sum([]byte(content)), at: time.Now()}
	g.mu.Unlock()
}

// ShouldIgnore reports whether content under key echoes a registered write
// within the TTL. Expired entries encountered here are dropped.
func (g *LoopGuard) ShouldIgnore(key, content string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.entries[key]
	if !ok {
		return false
	}
	if time.Since(rec.at) > g.ttl {
		delete(g.entries, key)
		return false
	}
	return rec.hash == md5.Sum([]byte(content))
}

func (g *LoopGuard) sweep() {
	ticker := time.NewTicker(g.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			now := time.Now()
			g.mu.Lock()
			for k, rec := range g.entries {
				if now.Sub(rec.at) > g.ttl {
					delete(g.entries, k)
				}
			}
			g.mu.Unlock()
		}
	}
}

// Close stops the sweep loop and drops all entries.
func (g *LoopGuard) Close() {
	g.once.Do(func() { close(g.done) })
	g.mu.Lock()
	g.entries = make(map[string]writeRecord)
	g.mu.Unlock()
}
