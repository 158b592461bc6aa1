// Package cache implements the TTL-aged IPv4→MAC binding table shared by
// every interface worker and the control-plane server.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/arpd/arpd/internal/metrics"
)

// Permanent is the in-memory TTL sentinel: a binding with this TTL never
// ages and is never evicted by the sweep.
const Permanent int32 = -1

// DefaultTTL is the cache's default TTL in seconds until changed via
// SetDefaultTTL.
const DefaultTTL int32 = 60

var bucketPermanent = []byte("permanent_bindings")

// ErrOutOfRange is returned by Get for an index ≥ Count().
var ErrOutOfRange = errors.New("cache: index out of range")

// Binding is one (IPv4, MAC, TTL) cache entry.
type Binding struct {
	IP  net.IP
	MAC net.HardwareAddr
	TTL int32
}

func (b Binding) clone() Binding {
	ip := make(net.IP, len(b.IP))
	copy(ip, b.IP)
	mac := make(net.HardwareAddr, len(b.MAC))
	copy(mac, b.MAC)
	return Binding{IP: ip, MAC: mac, TTL: b.TTL}
}

// persistedBinding is the JSON shape stored in BoltDB for permanent entries.
type persistedBinding struct {
	IP  string `json:"ip"`
	MAC string `json:"mac"`
}

// Cache is the process-wide binding table. All public operations are
// serialized under a single mutex held for their duration; Snapshot
// returns a copy so callers never hold the lock during I/O.
type Cache struct {
	mu         sync.Mutex
	bindings   []*Binding // insertion order
	defaultTTL int32

	db     *bolt.DB // optional: persists permanent (TTL=Permanent) bindings only
	logger *slog.Logger

	cancelAging context.CancelFunc
	agingDone   chan struct{}
}

// New creates a Cache whose default TTL is DefaultTTL. If db is non-nil,
// permanent bindings are checkpointed there and reloaded on startup so an
// administrator-pinned binding survives a daemon restart; non-permanent
// bindings are never persisted — resurrecting a decaying TTL across a
// restart would misrepresent how long the binding has actually been idle.
func New(db *bolt.DB, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		defaultTTL: DefaultTTL,
		db:         db,
		logger:     logger,
	}

	if db != nil {
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketPermanent)
			return err
		}); err != nil {
			return nil, fmt.Errorf("cache: creating permanent-bindings bucket: %w", err)
		}
		if err := c.loadPermanent(); err != nil {
			return nil, fmt.Errorf("cache: loading permanent bindings: %w", err)
		}
		metrics.BindingsActive.Set(float64(len(c.bindings)))
	}

	return c, nil
}

func (c *Cache) loadPermanent() error {
	return c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPermanent)
		return b.ForEach(func(k, v []byte) error {
			var p persistedBinding
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("unmarshalling permanent binding %s: %w", k, err)
			}
			mac, err := net.ParseMAC(p.MAC)
			if err != nil {
				return fmt.Errorf("parsing MAC for permanent binding %s: %w", k, err)
			}
			c.bindings = append(c.bindings, &Binding{
				IP:  net.ParseIP(p.IP).To4(),
				MAC: mac,
				TTL: Permanent,
			})
			return nil
		})
	})
}

func (c *Cache) persistPermanent(b *Binding) {
	if c.db == nil {
		return
	}
	data, err := json.Marshal(persistedBinding{IP: b.IP.String(), MAC: b.MAC.String()})
	if err != nil {
		c.logger.Error("marshalling permanent binding", "ip", b.IP, "error", err)
		return
	}
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPermanent).Put([]byte(b.IP.String()), data)
	}); err != nil {
		c.logger.Error("persisting permanent binding", "ip", b.IP, "error", err)
	}
}

func (c *Cache) unpersist(ip net.IP) {
	if c.db == nil {
		return
	}
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPermanent).Delete([]byte(ip.String()))
	}); err != nil {
		c.logger.Error("removing persisted binding", "ip", ip, "error", err)
	}
}

// Get returns the binding at the given position in insertion order.
func (c *Cache) Get(index int) (Binding, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.bindings) {
		return Binding{}, ErrOutOfRange
	}
	return c.bindings[index].clone(), nil
}

// FindByIP returns the (at most one) binding for ip, or ok=false.
func (c *Cache) FindByIP(ip net.IP) (Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b := c.findByIPLocked(ip); b != nil {
		return b.clone(), true
	}
	return Binding{}, false
}

func (c *Cache) findByIPLocked(ip net.IP) *Binding {
	ip4 := ip.To4()
	for _, b := range c.bindings {
		if b.IP.Equal(ip4) {
			return b
		}
	}
	return nil
}

// FindByMAC returns the first binding with the given MAC, or ok=false.
// Duplicate MACs across different IPs are permitted; only the first match
// (insertion order) is returned.
func (c *Cache) FindByMAC(mac net.HardwareAddr) (Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.bindings {
		if bytesEqualMAC(b.MAC, mac) {
			return b.clone(), true
		}
	}
	return Binding{}, false
}

func bytesEqualMAC(a, b net.HardwareAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Add inserts (ip, mac, ttl) unless a binding for ip already exists, in
// which case the call is a no-op and the existing entry wins.
func (c *Cache) Add(ip net.IP, mac net.HardwareAddr, ttl int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.findByIPLocked(ip) != nil {
		return
	}

	b := &Binding{IP: ip.To4(), MAC: append(net.HardwareAddr{}, mac...), TTL: ttl}
	c.bindings = append(c.bindings, b)
	metrics.BindingsActive.Set(float64(len(c.bindings)))

	if ttl == Permanent {
		c.persistPermanent(b)
	}
}

// AddDefault is Add(ip, mac, c.DefaultTTL()).
func (c *Cache) AddDefault(ip net.IP, mac net.HardwareAddr) {
	c.mu.Lock()
	ttl := c.defaultTTL
	c.mu.Unlock()
	c.Add(ip, mac, ttl)
}

// Remove deletes the binding for ip, if any, and reports whether one was
// removed.
func (c *Cache) Remove(ip net.IP) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ip4 := ip.To4()
	for i, b := range c.bindings {
		if b.IP.Equal(ip4) {
			c.bindings = append(c.bindings[:i], c.bindings[i+1:]...)
			metrics.BindingsActive.Set(float64(len(c.bindings)))
			if b.TTL == Permanent {
				c.unpersist(ip4)
			}
			return true
		}
	}
	return false
}

// SetDefaultTTL updates the TTL used by future inserts. Existing entries'
// TTLs are unaffected (open question, resolved in favour of the
// original's behaviour — set_default_ttl is forward-looking only).
func (c *Cache) SetDefaultTTL(ttl int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultTTL = ttl
}

// DefaultTTL returns the cache's current default TTL.
func (c *Cache) DefaultTTL() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaultTTL
}

// Count returns the number of bindings currently in the cache.
func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bindings)
}

// Snapshot returns all bindings in insertion order. The slice is a copy;
// holding it does not block other cache operations.
func (c *Cache) Snapshot() []Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Binding, len(c.bindings))
	for i, b := range c.bindings {
		out[i] = b.clone()
	}
	return out
}

// RunAging starts the once-per-second aging sweep in the background. It
// runs until ctx is cancelled or Stop is called.
func (c *Cache) RunAging(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelAging = cancel
	c.agingDone = make(chan struct{})

	go func() {
		defer close(c.agingDone)
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.tick()
			}
		}
	}()
}

// Stop halts the aging sweep and waits for it to exit.
func (c *Cache) Stop() {
	if c.cancelAging != nil {
		c.cancelAging()
	}
	if c.agingDone != nil {
		<-c.agingDone
	}
}

// tick performs one aging sweep: decrement every non-permanent TTL by one,
// evicting any binding that reaches zero. Held atomically under the cache
// lock — O(n) but n is small (hundreds at most).
func (c *Cache) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.bindings[:0]
	for _, b := range c.bindings {
		if b.TTL == Permanent {
			kept = append(kept, b)
			continue
		}
		b.TTL--
		if b.TTL <= 0 {
			c.logger.Debug("binding expired", "ip", b.IP, "mac", b.MAC)
			metrics.BindingsExpired.Inc()
			continue
		}
		kept = append(kept, b)
	}
	c.bindings = kept
	metrics.BindingsActive.Set(float64(len(c.bindings)))
}
