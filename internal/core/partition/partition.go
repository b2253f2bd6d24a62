package partition

import "hash/fnv"

// Count is the fixed number of logical partitions the archive is
// sharded into for compaction. Never changes after initial deployment —
// it's a capacity decision, not a scaling decision.
const Count = 64

// For returns the partition ID for a geo value.
// Stable and deterministic: same geo value always maps to the same
// partition. Uses FNV-32a (stdlib, fast, well-distributed).
func For(geoValue string) int {
	h := fnv.New32a()
	h.Write([]byte(geoValue))
	return int(h.Sum32()) % Count
}
