// Package hashring implements a consistent-hash ring that deterministically
// maps a file path to one of N shards using virtual nodes.
package hashring

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"
)

// DefaultVirtualNodes is the default number of virtual nodes per shard.
const DefaultVirtualNodes = 150

// Ring is an immutable consistent-hash ring over shard IDs 0..N-1.
type Ring struct {
	shardCount   int
	virtualNodes int
	positions    []uint32 // sorted ring positions
	owners       []int    // owners[i] is the shard owning positions[i]
}

// New builds a ring for shardCount shards with virtualNodes vnodes per
// shard (DefaultVirtualNodes if zero). shardCount must be >= 1.
func New(shardCount int, virtualNodes int) *Ring {
	if shardCount < 1 {
		shardCount = 1
	}
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}

	r := &Ring{shardCount: shardCount, virtualNodes: virtualNodes}
	if shardCount == 1 {
		// Single-shard case short-circuits; no ring needed.
		return r
	}

	type entry struct {
		pos   uint32
		owner int
	}
	entries := make([]entry, 0, shardCount*virtualNodes)
	for shard := 0; shard < shardCount; shard++ {
		for v := 0; v < virtualNodes; v++ {
			key := fmt.Sprintf("shard-%d-vnode-%d", shard, v)
			entries = append(entries, entry{pos: hashPosition(key), owner: shard})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })

	r.positions = make([]uint32, len(entries))
	r.owners = make([]int, len(entries))
	for i, e := range entries {
		r.positions[i] = e.pos
		r.owners[i] = e.owner
	}
	return r
}

// GetShard returns the shard index owning path.
func (r *Ring) GetShard(path string) int {
	if r.shardCount <= 1 {
		return 0
	}

	h := hashPosition(path)
	idx := sort.Search(len(r.positions), func(i int) bool { return r.positions[i] >= h })
	if idx == len(r.positions) {
		idx = 0
	}
	return r.owners[idx]
}

// ShardCount returns the number of shards in the ring.
func (r *Ring) ShardCount() int { return r.shardCount }

// hashPosition hashes key with MD5 and reads the first 4 bytes big-endian
// as an unsigned 32-bit ring position.
func hashPosition(key string) uint32 {
	sum := md5.Sum([]byte(key))
	return binary.BigEndian.Uint32(sum[:4])
}
