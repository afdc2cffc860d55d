package loadbalance

import (
	"sync"
	"workspace-mcp/registry"
)

// RoundRobinBalancer rotates through instances in address order. It remembers the last
// address it returned rather than a slot index, so the rotation stays fair when servers
// join or leave between lookups.
type RoundRobinBalancer struct {
	mu   sync.Mutex
	last string
}

func (b *RoundRobinBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	lowest, next := -1, -1
	for i := range instances {
		addr := instances[i].Addr
		if lowest < 0 || addr < instances[lowest].Addr {
			lowest = i
		}
		if addr > b.last && (next < 0 || addr < instances[next].Addr) {
			next = i
		}
	}
	if next < 0 {
		next = lowest
	}
	b.last = instances[next].Addr
	return &instances[next], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
