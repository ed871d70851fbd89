// Package octree implements the construction side of an out-of-core point cloud octree.
//
// Every octant owns a 128×128×128 spatial grid that enforces a minimum spacing between the points
// it keeps. Points that do not fit the grid are deferred into the octant's payload and, once the
// payload reaches a bucket threshold, pushed down into up to eight child octants of half the size
// and half the spacing. The result is a level-of-detail hierarchy in which every level on its own is
// a evenly thinned version of the cloud.
package octree

import (
	"github.com/golang/geo/r3"

	"go.viam.com/ooc/pointcloud"
)

// Each octant in a finished octree is either an internal node, which has at least one child and
// only keeps its grid occupants, or a leaf node, which keeps its grid occupants and every payload
// point that was never pushed further down.
const (
	InternalNode = NodeType(iota)
	LeafNode
)

const (
	// GridSize is the number of cells of an octant's spatial grid along each axis.
	GridSize = 128
	// DefaultMaxPointsPerBucket is the payload size at which an octant subdivides.
	DefaultMaxPointsPerBucket = 10000
	// DefaultMaxLevel caps the depth of the tree. Octants on this level keep their payload
	// instead of subdividing, which guarantees termination for coincident points.
	DefaultMaxLevel = 21
)

// NodeType represents the possible types of octants in a finished octree.
type NodeType uint8

func (n NodeType) String() string {
	switch n {
	case InternalNode:
		return "InternalNode"
	case LeafNode:
		return "LeafNode"
	}
	return "Unknown"
}

// Octree owns the root octant and the parameters it was built with.
type Octree[P any] struct {
	Root               *Octant[P]
	MaxPointsPerBucket int
	MaxLevelReached    int
	Accessor           pointcloud.Accessor[P]
}

// New wraps an existing root, e.g. one reconstructed from disk.
func New[P any](root *Octant[P], acc pointcloud.Accessor[P], maxPointsPerBucket, maxLevel int) *Octree[P] {
	return &Octree[P]{
		Root:               root,
		MaxPointsPerBucket: maxPointsPerBucket,
		MaxLevelReached:    maxLevel,
		Accessor:           acc,
	}
}

// ChildIndex returns the slot of the child octant of an octant centered at center that p falls
// into. The bits are fixed and shared with everything that reads a hierarchy back:
//
//	bit 0: p.X >= center.X
//	bit 1: p.Z >= center.Z
//	bit 2: p.Y >= center.Y
func ChildIndex(center, p r3.Vector) int {
	idx := 0
	if p.X >= center.X {
		idx |= 1
	}
	if p.Z >= center.Z {
		idx |= 2
	}
	if p.Y >= center.Y {
		idx |= 4
	}
	return idx
}

// ChildCenter returns the center of the child in slot idx of an octant with the given center and
// side length.
func ChildCenter(center r3.Vector, size float64, idx int) r3.Vector {
	quarter := size / 4
	offset := func(bit int) float64 {
		if idx&bit != 0 {
			return quarter
		}
		return -quarter
	}
	return r3.Vector{
		X: center.X + offset(1),
		Y: center.Y + offset(4),
		Z: center.Z + offset(2),
	}
}
