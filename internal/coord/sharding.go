package coord

import (
	"hash/fnv"
	"slices"
	"strings"
)

// ParseStrategy maps a config value to a strategy; unknown values fall
// back to AverageAllocation.
func ParseStrategy(s string) ShardingStrategy {
	switch ShardingStrategy(strings.ToUpper(strings.TrimSpace(s))) {
	case RoundRobin:
		return RoundRobin
	default:
		return AverageAllocation
	}
}

// Assign distributes shard items 0..total-1 over instances. The result is
// deterministic for a given set of instances regardless of their order.
//
// AverageAllocation gives each instance total/n items in order and hands the
// remainder to the first instances. RoundRobin first rotates the sorted
// instance list by a hash of jobName so single-shard jobs spread out.
func Assign(strategy ShardingStrategy, total int, instances []string, jobName string) map[string][]int {
	out := map[string][]int{}
	if total <= 0 || len(instances) == 0 {
		return out
	}
	sorted := slices.Clone(instances)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	if strategy == RoundRobin {
		h := fnv.New32a()
		_, _ = h.Write([]byte(jobName))
		shift := int(h.Sum32() % uint32(len(sorted)))
		sorted = append(sorted[shift:], sorted[:shift]...)
	}

	n := len(sorted)
	per := total / n
	item := 0
	for _, inst := range sorted {
		for range per {
			out[inst] = append(out[inst], item)
			item++
		}
	}
	for i := 0; item < total; i++ {
		out[sorted[i]] = append(out[sorted[i]], item)
		item++
	}
	return out
}
