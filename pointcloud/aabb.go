package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// AABB is an axis aligned bounding box.
type AABB struct {
	Min, Max r3.Vector
}

// NewAABB returns an empty box that any merged point will replace.
func NewAABB() AABB {
	return AABB{
		Min: r3.Vector{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64},
		Max: r3.Vector{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64},
	}
}

// Merge grows the box to contain v.
func (box *AABB) Merge(v r3.Vector) {
	box.Min.X = math.Min(box.Min.X, v.X)
	box.Min.Y = math.Min(box.Min.Y, v.Y)
	box.Min.Z = math.Min(box.Min.Z, v.Z)
	box.Max.X = math.Max(box.Max.X, v.X)
	box.Max.Y = math.Max(box.Max.Y, v.Y)
	box.Max.Z = math.Max(box.Max.Z, v.Z)
}

// Empty reports whether nothing was merged into the box.
func (box AABB) Empty() bool {
	return box.Min.X > box.Max.X || box.Min.Y > box.Max.Y || box.Min.Z > box.Max.Z
}

// Size is the extent of the box on each axis.
func (box AABB) Size() r3.Vector {
	return box.Max.Sub(box.Min)
}

// Center is the midpoint of the box.
func (box AABB) Center() r3.Vector {
	return box.Min.Add(box.Max).Mul(0.5)
}

// MaxExtent is the longest side of the box.
func (box AABB) MaxExtent() float64 {
	s := box.Size()
	return math.Max(s.X, math.Max(s.Y, s.Z))
}

// Contains reports whether v lies inside the box, borders included.
func (box AABB) Contains(v r3.Vector) bool {
	return v.X >= box.Min.X && v.X <= box.Max.X &&
		v.Y >= box.Min.Y && v.Y <= box.Max.Y &&
		v.Z >= box.Min.Z && v.Z <= box.Max.Z
}

// BoundingBox computes the bounding box of the given points. Points with non-finite coordinates
// are rejected since they cannot be placed in any octant.
func BoundingBox[P any](acc Accessor[P], points []P) (AABB, error) {
	box := NewAABB()
	for i := range points {
		pos := acc.Position(&points[i])
		if !IsFinite(pos) {
			return AABB{}, errors.Errorf("point %d has a non-finite position %v", i, pos)
		}
		box.Merge(pos)
	}
	if box.Empty() {
		return AABB{}, errors.New("cannot compute bounding box of zero points")
	}
	return box, nil
}
