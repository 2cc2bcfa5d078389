package policy

import (
	"sync"
	"time"
)

// Blocklist remembers source addresses that triggered a block for a while.
type Blocklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewBlocklist() *Blocklist {
	return &Blocklist{entries: make(map[string]time.Time)}
}

// Block bans ip until now+d. A longer existing ban is kept.
func (b *Blocklist) Block(ip string, d time.Duration, now time.Time) {
	if ip == "" || d <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	until := now.Add(d)
	if current, ok := b.entries[ip]; ok && current.After(until) {
		return
	}
	b.entries[ip] = until
}

// Blocked reports whether ip is banned at now. Expired entries are removed.
func (b *Blocklist) Blocked(ip string, now time.Time) bool {
	if ip == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.entries[ip]
	if !ok {
		return false
	}
	if !now.Before(until) {
		delete(b.entries, ip)
		return false
	}
	return true
}

func (b *Blocklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
