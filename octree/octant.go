package octree

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
)

// Octant is a cubic region of the octree.
type Octant[P any] struct {
	ID         uuid.UUID
	Center     r3.Vector
	Size       float64
	Resolution float64
	Level      int
	Children   [8]*Octant[P]
	IsLeaf     bool

	// Payload holds points deferred from the grid. For a leaf of a finished octree these are
	// part of its resident points; internal octants have an empty payload.
	Payload []P
	// Grid is only present on octants that were built in memory. Octants reconstructed from a
	// hierarchy file carry topology only.
	Grid *SpatialGrid[P]
}

// NewOctant returns an octant with a fresh random ID and an empty grid.
func NewOctant[P any](center r3.Vector, size, resolution float64, level int) *Octant[P] {
	return &Octant[P]{
		ID:         uuid.New(),
		Center:     center,
		Size:       size,
		Resolution: resolution,
		Level:      level,
		Grid:       NewSpatialGrid[P](),
	}
}

// CreateChild returns a new octant for slot idx with half the size and half the resolution. It
// does not attach the child.
func (o *Octant[P]) CreateChild(idx int) *Octant[P] {
	return NewOctant[P](ChildCenter(o.Center, o.Size, idx), o.Size/2, o.Resolution/2, o.Level+1)
}

// ChildMask returns a byte whose bit i is set iff child slot i exists.
func (o *Octant[P]) ChildMask() byte {
	var mask byte
	for i, child := range o.Children {
		if child != nil {
			mask |= 1 << i
		}
	}
	return mask
}

// HasChildren reports whether any child slot is populated.
func (o *Octant[P]) HasChildren() bool {
	return o.ChildMask() != 0
}

// NodeType reports whether the octant is a leaf or an internal node.
func (o *Octant[P]) NodeType() NodeType {
	if o.IsLeaf {
		return LeafNode
	}
	return InternalNode
}

// LowerCorner is the corner of the octant with the smallest coordinates.
func (o *Octant[P]) LowerCorner() r3.Vector {
	half := o.Size / 2
	return r3.Vector{X: o.Center.X - half, Y: o.Center.Y - half, Z: o.Center.Z - half}
}

// Contains checks if the point lies inside the bounds of the octant, borders included.
func (o *Octant[P]) Contains(p r3.Vector) bool {
	half := o.Size / 2
	return math.Abs(p.X-o.Center.X) <= half &&
		math.Abs(p.Y-o.Center.Y) <= half &&
		math.Abs(p.Z-o.Center.Z) <= half
}

// Points returns the octant's resident points: every grid occupant in cell order followed, for a
// leaf, by its remaining payload. This is exactly what gets persisted for the octant.
func (o *Octant[P]) Points() []P {
	var points []P
	if o.Grid != nil {
		points = o.Grid.Occupants()
	}
	if o.IsLeaf {
		points = append(points, o.Payload...)
	}
	return points
}

// PointCount is len(o.Points()) without building the slice.
func (o *Octant[P]) PointCount() int {
	n := 0
	if o.Grid != nil {
		n = o.Grid.Len()
	}
	if o.IsLeaf {
		n += len(o.Payload)
	}
	return n
}
