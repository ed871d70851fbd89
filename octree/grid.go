package octree

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"

	"go.viam.com/ooc/pointcloud"
)

// GridCell is one cell of a spatial grid. Size is the spacing of the owning octant.
type GridCell[P any] struct {
	Center   r3.Vector
	Size     float64
	Occupant P
}

// Placement is the outcome of inserting a point into a spatial grid.
type Placement struct {
	// Occupied is true if the inserted point became a cell occupant. Otherwise it was deferred
	// to the octant's payload.
	Occupied bool
	Index    pointcloud.GridIndex
}

// SpatialGrid is a sparse GridSize³ grid. Cells are allocated the first time a point lands in them.
type SpatialGrid[P any] struct {
	cells map[uint32]*GridCell[P]
}

// NewSpatialGrid returns an empty grid.
func NewSpatialGrid[P any]() *SpatialGrid[P] {
	return &SpatialGrid[P]{cells: make(map[uint32]*GridCell[P])}
}

func cellKey(idx pointcloud.GridIndex) uint32 {
	return uint32(idx.X)<<14 | uint32(idx.Y)<<7 | uint32(idx.Z)
}

func keyIndex(key uint32) pointcloud.GridIndex {
	const mask = GridSize - 1
	return pointcloud.GridIndex{X: int32(key >> 14 & mask), Y: int32(key >> 7 & mask), Z: int32(key & mask)}
}

// Len is the number of occupied cells.
func (g *SpatialGrid[P]) Len() int {
	return len(g.cells)
}

// Cell returns the cell at idx, if it is allocated.
func (g *SpatialGrid[P]) Cell(idx pointcloud.GridIndex) (*GridCell[P], bool) {
	cell, ok := g.cells[cellKey(idx)]
	return cell, ok
}

// Occupants returns all cell occupants ordered by cell index, so the result does not depend on
// map iteration order.
func (g *SpatialGrid[P]) Occupants() []P {
	keys := g.sortedKeys()
	out := make([]P, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.cells[k].Occupant)
	}
	return out
}

// Each calls fn for every occupied cell in cell index order.
func (g *SpatialGrid[P]) Each(fn func(idx pointcloud.GridIndex, cell *GridCell[P])) {
	for _, k := range g.sortedKeys() {
		fn(keyIndex(k), g.cells[k])
	}
}

func (g *SpatialGrid[P]) sortedKeys() []uint32 {
	keys := make([]uint32, 0, len(g.cells))
	for k := range g.cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// CellIndex computes the grid cell of p inside octant o. Coordinates on a cell border go to the
// higher cell; the result is clamped to the grid.
func CellIndex[P any](o *Octant[P], p r3.Vector) pointcloud.GridIndex {
	local := p.Sub(o.LowerCorner())
	axis := func(c float64) int32 {
		i := int32(math.Floor(c * GridSize / o.Size))
		if i < 0 {
			return 0
		}
		if i > GridSize-1 {
			return GridSize - 1
		}
		return i
	}
	return pointcloud.GridIndex{X: axis(local.X), Y: axis(local.Y), Z: axis(local.Z)}
}

// FirstCellCenter is the center of the grid cell with index (0,0,0) of octant o.
func FirstCellCenter[P any](o *Octant[P]) r3.Vector {
	half := o.Size / GridSize / 2
	return o.LowerCorner().Add(r3.Vector{X: half, Y: half, Z: half})
}

// Insert places p in the grid of octant o, or defers it into o's payload.
//
// A point is deferred if an occupant of any of the 26 neighbouring cells is closer to it than that
// cell's size. Otherwise it takes its own cell if empty. If the cell is taken, whichever of the two
// points is closer to the cell center keeps it and the other one is deferred. The incumbent keeps
// the cell on an exact tie.
func (g *SpatialGrid[P]) Insert(acc pointcloud.Accessor[P], o *Octant[P], p P) Placement {
	pos := acc.Position(&p)
	idx := CellIndex(o, pos)

	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dz := int32(-1); dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				n := pointcloud.GridIndex{X: idx.X + dx, Y: idx.Y + dy, Z: idx.Z + dz}
				if n.X < 0 || n.Y < 0 || n.Z < 0 || n.X >= GridSize || n.Y >= GridSize || n.Z >= GridSize {
					continue
				}
				neighbor, ok := g.cells[cellKey(n)]
				if !ok {
					continue
				}
				if pos.Distance(acc.Position(&neighbor.Occupant)) < neighbor.Size {
					return g.deferPoint(acc, o, p)
				}
			}
		}
	}

	key := cellKey(idx)
	cell, ok := g.cells[key]
	if !ok {
		first := FirstCellCenter(o)
		cellSize := o.Size / GridSize
		cell = &GridCell[P]{
			Center: first.Add(r3.Vector{
				X: float64(idx.X) * cellSize,
				Y: float64(idx.Y) * cellSize,
				Z: float64(idx.Z) * cellSize,
			}),
			Size: o.Resolution,
		}
		acc.SetGridIndex(&p, idx, true)
		cell.Occupant = p
		g.cells[key] = cell
		return Placement{Occupied: true, Index: idx}
	}

	incumbent := cell.Occupant
	if pos.Distance(cell.Center) < acc.Position(&incumbent).Distance(cell.Center) {
		acc.SetGridIndex(&incumbent, pointcloud.GridIndex{}, false)
		o.Payload = append(o.Payload, incumbent)
		acc.SetGridIndex(&p, idx, true)
		cell.Occupant = p
		return Placement{Occupied: true, Index: idx}
	}
	return g.deferPoint(acc, o, p)
}

func (g *SpatialGrid[P]) deferPoint(acc pointcloud.Accessor[P], o *Octant[P], p P) Placement {
	acc.SetGridIndex(&p, pointcloud.GridIndex{}, false)
	o.Payload = append(o.Payload, p)
	return Placement{}
}
