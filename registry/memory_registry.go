package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is a process-local Registry for single-host setups and tests.
// TTLs are ignored: entries live until Deregister.
type MemoryRegistry struct {
	mu       sync.RWMutex
	services map[string]map[string]ServiceInstance
	watchers map[string][]chan []ServiceInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

func (m *MemoryRegistry) Register(_ context.Context, serviceName string, instance ServiceInstance, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.services[serviceName] == nil {
		m.services[serviceName] = make(map[string]ServiceInstance)
	}
	m.services[serviceName][instance.Addr] = instance
	m.notifyLocked(serviceName)
	return nil
}

func (m *MemoryRegistry) Deregister(_ context.Context, serviceName string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services[serviceName], addr)
	m.notifyLocked(serviceName)
	return nil
}

func (m *MemoryRegistry) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(serviceName), nil
}

func (m *MemoryRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	m.mu.Lock()
	m.watchers[serviceName] = append(m.watchers[serviceName], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.watchers[serviceName]
		for i, w := range list {
			if w == ch {
				m.watchers[serviceName] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (m *MemoryRegistry) Close() error { return nil }

func (m *MemoryRegistry) snapshotLocked(serviceName string) []ServiceInstance {
	instances := make([]ServiceInstance, 0, len(m.services[serviceName]))
	for _, inst := range m.services[serviceName] {
		instances = append(instances, inst)
	}
	// etcd lists by key; keep the same order here
	sort.Slice(instances, func(i, j int) bool { return instances[i].Addr < instances[j].Addr })
	return instances
}

// notifyLocked replaces any unread snapshot so slow watchers only see the latest list.
func (m *MemoryRegistry) notifyLocked(serviceName string) {
	snapshot := m.snapshotLocked(serviceName)
	for _, ch := range m.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
