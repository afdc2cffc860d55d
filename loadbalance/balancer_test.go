package loadbalance

import (
	"errors"
	"testing"
	"workspace-mcp/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	seen := map[string]bool{}
	first := ""
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = inst.Addr
		}
		seen[inst.Addr] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expect all 3 instances in one cycle, got %v", seen)
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick(testInstances)
	if inst.Addr != first {
		t.Fatalf("expect wrap around to %s, got %s", first, inst.Addr)
	}
}

func TestRoundRobinMembershipChange(t *testing.T) {
	b := &RoundRobinBalancer{}
	for _, want := range []string{":8001", ":8002"} {
		inst, _ := b.Pick(testInstances)
		if inst.Addr != want {
			t.Fatalf("expect %s, got %s", want, inst.Addr)
		}
	}

	// :8002 leaves and :8004 joins, listed out of order; rotation resumes after :8002
	changed := []registry.ServiceInstance{{Addr: ":8004"}, {Addr: ":8001"}, {Addr: ":8003"}}
	for _, want := range []string{":8003", ":8004", ":8001"} {
		inst, _ := b.Pick(changed)
		if inst.Addr != want {
			t.Fatalf("expect %s, got %s", want, inst.Addr)
		}
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick([]registry.ServiceInstance{})
	if !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		inst, err := b.Pick([]registry.ServiceInstance{{Addr: ":9001"}, {Addr: ":9002", Weight: -3}})
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}
	// unweighted instances count as weight 1, so both get traffic
	if counts[":9001"] == 0 || counts[":9002"] == 0 {
		t.Fatalf("expect both instances picked, got %v", counts)
	}
}

func TestWeightedRandomEmpty(t *testing.T) {
	b := &WeightedRandomBalancer{}
	if _, err := b.Pick(nil); !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{"round-robin", "weighted-random"} {
		if _, err := New(name); err != nil {
			t.Fatalf("New(%q) failed: %v", name, err)
		}
	}
	if _, err := New("consistent-hash"); err == nil {
		t.Fatal("expect unknown balancer error")
	}
}
