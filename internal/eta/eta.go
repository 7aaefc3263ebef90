package eta

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

// Client returns driving durations between two points.
type Client interface {
	EstimateSeconds(ctx context.Context, from, to models.Coord) (float64, error)
}

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// Estimator refines the distance-based trip duration with a routing engine
// when one is configured.
type Estimator struct {
	Client Client // optional
	Cache  *Cache // optional
}

// Minutes returns the routed duration in whole minutes, rounded up, or
// fallback when no client is set or the lookup fails.
func (e *Estimator) Minutes(ctx context.Context, from, to models.Coord, fallback int) int {
	if e == nil || e.Client == nil {
		return fallback
	}
	if e.Cache != nil {
		if v, ok := e.Cache.Get(from, to); ok {
			return toMinutes(v)
		}
	}
	secs, err := e.Client.EstimateSeconds(ctx, from, to)
	if err != nil || secs <= 0 {
		return fallback
	}
	if e.Cache != nil {
		e.Cache.Set(from, to, secs)
	}
	return toMinutes(secs)
}

func toMinutes(secs float64) int {
	m := int(math.Ceil(secs / 60))
	if m < 1 {
		return 1
	}
	return m
}

// ArrivalString is the wall-clock arrival time shown to riders, as HH:MM.
func ArrivalString(now time.Time, minutes int) string {
	return now.Add(time.Duration(minutes) * time.Minute).Format("15:04")
}
