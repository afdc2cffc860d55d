// Package registry announces running servers and lets bridges find them.
package registry

import "context"

// ServiceInstance describes one reachable server endpoint.
type ServiceInstance struct {
	ID        string `json:"id"`
	Addr      string `json:"addr"`
	Weight    int    `json:"weight"` // Weight for load balancing
	Version   string `json:"version"`
	Workspace string `json:"workspace,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}
