// Package pointcloud defines the point representations the out-of-core octree is built from and
// the accessor contract through which the index reads and writes them.
//
// The index never inspects point fields directly. Everything it needs (position, grid
// bookkeeping and a fixed-size raw record) goes through an Accessor, so callers can bring their
// own point layout as long as it has a fixed record length.
package pointcloud

import (
	"github.com/golang/geo/r3"
)

// An Accessor gives the octree access to the parts of a point of type P that it cares about.
type Accessor[P any] interface {
	// Position returns the point's position in world space.
	Position(p *P) r3.Vector

	// GridIndex returns the spatial grid cell the point occupies, if any.
	GridIndex(p *P) (GridIndex, bool)

	// SetGridIndex records that the point occupies the given cell. Passing ok=false marks the
	// point as not being a cell occupant, i.e. it was pushed to an octant's payload.
	SetGridIndex(p *P, idx GridIndex, ok bool)

	// PointSize is the length in bytes of a single raw point record.
	PointSize() int

	// MarshalPoint writes the raw record of p into dst, which is at least PointSize bytes long.
	MarshalPoint(p *P, dst []byte)

	// UnmarshalPoint decodes a point from a raw record of PointSize bytes.
	UnmarshalPoint(src []byte) (P, error)

	// PointType describes which fields the raw record carries.
	PointType() PointType
}

// GridIndex is the integer cell coordinate of a point inside an octant's spatial grid.
type GridIndex struct {
	X, Y, Z int32
}

// AppendPoints appends the raw records of all points to dst.
func AppendPoints[P any](dst []byte, acc Accessor[P], points []P) []byte {
	size := acc.PointSize()
	off := len(dst)
	dst = append(dst, make([]byte, size*len(points))...)
	for i := range points {
		acc.MarshalPoint(&points[i], dst[off+i*size:off+(i+1)*size])
	}
	return dst
}
