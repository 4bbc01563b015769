package balance

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// DefaultReplicas is the number of virtual points per host on the ring.
const DefaultReplicas = 100

type consistentHash struct {
	replicas int
}

func NewConsistentHash(replicas int) Strategy {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	return &consistentHash{replicas: replicas}
}

type point struct {
	hash uint64
	host string
}

func (c *consistentHash) Route(key string, candidates []string) string {
	ring := make([]point, 0, len(candidates)*c.replicas)
	for _, host := range candidates {
		for i := 0; i < c.replicas; i++ {
			ring = append(ring, point{
				hash: xxhash.Sum64String(host + "#" + strconv.Itoa(i)),
				host: host,
			})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	h := xxhash.Sum64String(key)
	idx := sort.Search(len(ring), func(i int) bool { return ring[i].hash >= h })
	if idx == len(ring) {
		idx = 0
	}
	return ring[idx].host
}
