// Package loadbalance picks one server out of the instances found in the registry.
//
// Two strategies are implemented:
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  servers announced with different weights
package loadbalance

import (
	"errors"
	"fmt"
	"workspace-mcp/registry"
)

var ErrNoInstances = errors.New("no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list. Must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round-robin", "RoundRobin":
		return &RoundRobinBalancer{}, nil
	case "weighted-random", "WeightedRandom":
		return &WeightedRandomBalancer{}, nil
	}
	return nil, fmt.Errorf("unknown balancer %q", name)
}
