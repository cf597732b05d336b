package sim

import (
	"sort"

	"github.com/pkg/errors"
)

// Topology maps every node to the partition that owns it.
//
// Nodes are assigned before the simulation starts. After Freeze the
// topology is read-only and safe for concurrent reads.
type Topology struct {
	numPartitions int
	owner         map[NodeID]PartitionID
	frozen        bool
}

// NewTopology creates an empty topology over numPartitions partitions.
func NewTopology(numPartitions int) *Topology {
	if numPartitions < 1 {
		panicf("sim: a topology needs at least one partition, got %d",
			numPartitions)
	}

	return &Topology{
		numPartitions: numPartitions,
		owner:         make(map[NodeID]PartitionID),
	}
}

// NumPartitions returns the number of partitions.
func (t *Topology) NumPartitions() int {
	return t.numPartitions
}

// Assign places a node on a partition.
func (t *Topology) Assign(node NodeID, p PartitionID) error {
	if t.frozen {
		return errors.Errorf("topology frozen, cannot assign node %d", node)
	}

	if !t.ValidPartition(p) {
		return errors.WithStack(&InvalidTargetError{
			Node:      node,
			Partition: p,
			Reason:    "partition out of range",
		})
	}

	t.owner[node] = p

	return nil
}

// Freeze makes the topology read-only.
func (t *Topology) Freeze() {
	t.frozen = true
}

// ValidPartition tells if p names an existing partition.
func (t *Topology) ValidPartition(p PartitionID) bool {
	return p >= 0 && int(p) < t.numPartitions
}

// PartitionOf returns the owner of a node.
func (t *Topology) PartitionOf(node NodeID) (PartitionID, bool) {
	p, ok := t.owner[node]
	return p, ok
}

// NodesOf lists the nodes of a partition in ascending order.
func (t *Topology) NodesOf(p PartitionID) []NodeID {
	var nodes []NodeID

	for n, owner := range t.owner {
		if owner == p {
			nodes = append(nodes, n)
		}
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	return nodes
}

// FirstNode returns the lowest numbered node of a partition. Partition-level
// events are addressed to it.
func (t *Topology) FirstNode(p PartitionID) (NodeID, bool) {
	nodes := t.NodesOf(p)
	if len(nodes) == 0 {
		return 0, false
	}

	return nodes[0], true
}
