package network

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// defaultDedupTTL is how long a pushed message hash is remembered.
const defaultDedupTTL = 10 * time.Second

// Dedup drops messages whose BLAKE3 hash was seen within the TTL.
type Dedup struct {
	mu   sync.Mutex
	seen map[[32]byte]time.Time // seen maps message hash to first sighting
	ttl  time.Duration          // ttl is the retention window
	stop chan struct{}          // stop ends the expiry loop
	wg   sync.WaitGroup         // wg waits for the expiry loop
}

// NewDedup creates a tracker. A zero ttl selects the default.
func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	d := &Dedup{
		seen: make(map[[32]byte]time.Time),
		ttl:  ttl,
		stop: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.expireLoop()

	return d
}

// Check records data and reports whether it is new.
func (d *Dedup) Check(data []byte) bool {
	hash := blake3.Sum256(data)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[hash]; ok && now.Sub(at) < d.ttl {
		return false
	}

	d.seen[hash] = now

	return true
}

// Len returns the number of remembered hashes.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.seen)
}

// Close stops the expiry loop.
func (d *Dedup) Close() {
	close(d.stop)
	d.wg.Wait()
}

func (d *Dedup) expireLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.expire(time.Now())
		case <-d.stop:
			return
		}
	}
}

// expire drops hashes older than the TTL.
func (d *Dedup) expire(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for hash, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, hash)
		}
	}
}
