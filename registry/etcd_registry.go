// etcd layout:
//
//	Key:   /workspace-mcp/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL-based leases: if the server dies without deregistering, the lease
// expires and the entry disappears on its own.

package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/workspace-mcp/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, so Deregister can revoke it
}

// NewEtcdRegistry connects to the given endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, leases: make(map[string]clientv3.LeaseID)}, nil
}

func instanceKey(serviceName, addr string) string {
	return keyPrefix + serviceName + "/" + addr
}

func servicePrefix(serviceName string) string {
	return keyPrefix + serviceName + "/"
}

// Register stores the instance under a lease of ttl seconds and keeps the lease alive
// until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := instanceKey(serviceName, instance.Addr)
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// The keepalive outlives the registration call, so it must not inherit ctx.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()
	return nil
}

// Deregister removes the instance immediately by revoking its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	key := instanceKey(serviceName, addr)

	r.mu.Lock()
	leaseID, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		_, err := r.client.Revoke(ctx, leaseID)
		return err
	}
	_, err := r.client.Delete(ctx, key)
	return err
}

// Watch re-reads the full instance list on every change under the service prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, servicePrefix(serviceName), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns every instance currently registered for serviceName.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
