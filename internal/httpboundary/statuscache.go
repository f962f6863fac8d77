package httpboundary

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
)

// statusPingTTL is the "60-second TTL" named in §5/§9 for the
// process-wide ping/status cache.
const statusPingTTL = 60 * time.Second

// healthStatus is the GET /health payload: liveness plus the cached
// provider availability snapshot.
type healthStatus struct {
	Status    string                    `json:"status"`
	Providers *providers.ProviderStatus `json:"providers,omitempty"`
}

// statusCache holds one cached (computedAt, value) pair, guarded by mu,
// with a singleflight.Group collapsing concurrent cache misses into a
// single recompute instead of letting every simultaneous ping recompute it.
type statusCache struct {
	mu         sync.Mutex
	computedAt time.Time
	value      healthStatus

	group singleflight.Group
}

func newStatusCache() *statusCache {
	return &statusCache{}
}

// get returns the cached status, recomputing it at most once per TTL
// window no matter how many callers race in concurrently.
func (c *statusCache) get(provider *providers.LoadBalancedProvider) healthStatus {
	c.mu.Lock()
	if !c.computedAt.IsZero() && time.Since(c.computedAt) < statusPingTTL {
		v := c.value
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	v, _, _ := c.group.Do("status", func() (any, error) {
		c.mu.Lock()
		if !c.computedAt.IsZero() && time.Since(c.computedAt) < statusPingTTL {
			v := c.value
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()

		status := healthStatus{Status: "ok"}
		if provider != nil {
			ps := provider.Status()
			status.Providers = &ps
			if ps.Total > 0 && ps.Available == 0 {
				status.Status = "degraded"
			}
		}

		c.mu.Lock()
		c.computedAt = time.Now()
		c.value = status
		c.mu.Unlock()
		return status, nil
	})
	return v.(healthStatus)
}
