package loadbalance

import (
	"math/rand/v2"
	"sort"
	"workspace-mcp/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional to its
// advertised weight. Instances announced without a weight count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	bounds := make([]int, len(instances))
	total := 0
	for i, inst := range instances {
		total += effectiveWeight(inst)
		bounds[i] = total
	}
	r := rand.IntN(total)
	i := sort.Search(len(bounds), func(i int) bool { return bounds[i] > r })
	return &instances[i], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

func effectiveWeight(inst registry.ServiceInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
