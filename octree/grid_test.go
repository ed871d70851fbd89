package octree

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/ooc/pointcloud"
)

// unitOctant has a resolution of exactly 1 and its lower corner at the origin.
func unitOctant() *Octant[pointcloud.Pos64] {
	return NewOctant[pointcloud.Pos64](r3.Vector{X: 64, Y: 64, Z: 64}, GridSize, 1, 0)
}

func pos64(x, y, z float64) pointcloud.Pos64 {
	return pointcloud.Pos64{Position: r3.Vector{X: x, Y: y, Z: z}}
}

func TestCellIndex(t *testing.T) {
	o := unitOctant()

	test.That(t, CellIndex(o, r3.Vector{X: 0.5, Y: 1.5, Z: 2.5}), test.ShouldResemble, pointcloud.GridIndex{X: 0, Y: 1, Z: 2})
	// borders go to the higher cell
	test.That(t, CellIndex(o, r3.Vector{X: 5, Y: 5, Z: 5}), test.ShouldResemble, pointcloud.GridIndex{X: 5, Y: 5, Z: 5})
	// the upper face of the octant is clamped into the last cell
	test.That(t, CellIndex(o, r3.Vector{X: 128, Y: 0, Z: 128}), test.ShouldResemble, pointcloud.GridIndex{X: 127, Y: 0, Z: 127})

	test.That(t, FirstCellCenter(o), test.ShouldResemble, r3.Vector{X: 0.5, Y: 0.5, Z: 0.5})
}

func TestGridInsert(t *testing.T) {
	acc := pointcloud.Pos64Accessor{}

	t.Run("empty cell takes the point", func(t *testing.T) {
		o := unitOctant()
		placement := o.Grid.Insert(acc, o, pos64(0.5, 0.5, 0.5))
		test.That(t, placement.Occupied, test.ShouldBeTrue)
		test.That(t, placement.Index, test.ShouldResemble, pointcloud.GridIndex{})
		test.That(t, o.Grid.Len(), test.ShouldEqual, 1)
		test.That(t, o.Payload, test.ShouldBeEmpty)

		cell, ok := o.Grid.Cell(pointcloud.GridIndex{})
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, cell.Size, test.ShouldEqual, 1.0)
		test.That(t, cell.Center, test.ShouldResemble, r3.Vector{X: 0.5, Y: 0.5, Z: 0.5})
		idx, occupied := acc.GridIndex(&cell.Occupant)
		test.That(t, occupied, test.ShouldBeTrue)
		test.That(t, idx, test.ShouldResemble, pointcloud.GridIndex{})
	})

	t.Run("point too close to a neighbor is deferred", func(t *testing.T) {
		o := unitOctant()
		test.That(t, o.Grid.Insert(acc, o, pos64(1.5, 0.5, 0.5)).Occupied, test.ShouldBeTrue)
		// exactly one spacing away is allowed
		test.That(t, o.Grid.Insert(acc, o, pos64(0.5, 0.5, 0.5)).Occupied, test.ShouldBeTrue)
		// 0.7 from the occupant of cell 1
		test.That(t, o.Grid.Insert(acc, o, pos64(2.2, 0.5, 0.5)).Occupied, test.ShouldBeFalse)

		test.That(t, o.Grid.Len(), test.ShouldEqual, 2)
		test.That(t, o.Payload, test.ShouldHaveLength, 1)
		test.That(t, o.Payload[0].Position.X, test.ShouldEqual, 2.2)
		_, occupied := acc.GridIndex(&o.Payload[0])
		test.That(t, occupied, test.ShouldBeFalse)
	})

	t.Run("point closer to the cell center replaces the occupant", func(t *testing.T) {
		o := unitOctant()
		test.That(t, o.Grid.Insert(acc, o, pos64(3.875, 0.5, 0.5)).Occupied, test.ShouldBeTrue)
		placement := o.Grid.Insert(acc, o, pos64(3.625, 0.5, 0.5))
		test.That(t, placement.Occupied, test.ShouldBeTrue)
		test.That(t, placement.Index, test.ShouldResemble, pointcloud.GridIndex{X: 3})

		cell, ok := o.Grid.Cell(pointcloud.GridIndex{X: 3})
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, cell.Occupant.Position.X, test.ShouldEqual, 3.625)

		test.That(t, o.Payload, test.ShouldHaveLength, 1)
		test.That(t, o.Payload[0].Position.X, test.ShouldEqual, 3.875)
		_, occupied := acc.GridIndex(&o.Payload[0])
		test.That(t, occupied, test.ShouldBeFalse)
	})

	t.Run("incumbent keeps the cell on a tie", func(t *testing.T) {
		o := unitOctant()
		test.That(t, o.Grid.Insert(acc, o, pos64(10.25, 0.5, 0.5)).Occupied, test.ShouldBeTrue)
		test.That(t, o.Grid.Insert(acc, o, pos64(10.75, 0.5, 0.5)).Occupied, test.ShouldBeFalse)

		cell, _ := o.Grid.Cell(pointcloud.GridIndex{X: 10})
		test.That(t, cell.Occupant.Position.X, test.ShouldEqual, 10.25)
		test.That(t, o.Payload, test.ShouldHaveLength, 1)
		test.That(t, o.Payload[0].Position.X, test.ShouldEqual, 10.75)
	})

	t.Run("occupants come back in cell order", func(t *testing.T) {
		o := unitOctant()
		for _, x := range []float64{20.5, 0.5, 10.5, 5.5} {
			test.That(t, o.Grid.Insert(acc, o, pos64(x, 0.5, 0.5)).Occupied, test.ShouldBeTrue)
		}
		var xs []float64
		for _, p := range o.Grid.Occupants() {
			xs = append(xs, p.Position.X)
		}
		test.That(t, xs, test.ShouldResemble, []float64{0.5, 5.5, 10.5, 20.5})

		var indices []int32
		o.Grid.Each(func(idx pointcloud.GridIndex, cell *GridCell[pointcloud.Pos64]) {
			indices = append(indices, idx.X)
		})
		test.That(t, indices, test.ShouldResemble, []int32{0, 5, 10, 20})
	})
}

func TestCellKeyRoundTrip(t *testing.T) {
	for _, idx := range []pointcloud.GridIndex{{}, {X: 127, Y: 127, Z: 127}, {X: 1, Y: 64, Z: 3}} {
		test.That(t, keyIndex(cellKey(idx)), test.ShouldResemble, idx)
	}
}
