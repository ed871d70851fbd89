package loader

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/ooc/octree"
)

// VisibleNode is an octant selected for rendering in one update.
type VisibleNode[P any] struct {
	ID            uuid.UUID
	Octant        *octree.Octant[P]
	ProjectedSize float64
	// PointCount is what the node contributed to the point budget.
	PointCount int
	// Loaded is false while an asynchronous load is still outstanding. Points is nil then.
	Loaded bool
	// Points are owned by the loader and must not be modified.
	Points []P
}

// VisibleSet is the result of an update: the selected nodes in the order they were accepted,
// i.e. by decreasing projected size.
type VisibleSet[P any] struct {
	Nodes []VisibleNode[P]
	index map[uuid.UUID]int
}

func newVisibleSet[P any](nodes []VisibleNode[P]) *VisibleSet[P] {
	vs := &VisibleSet[P]{Nodes: nodes, index: make(map[uuid.UUID]int, len(nodes))}
	for i, n := range nodes {
		vs.index[n.ID] = i
	}
	return vs
}

// Len is the number of visible nodes.
func (vs *VisibleSet[P]) Len() int {
	return len(vs.Nodes)
}

// Contains reports whether the node is visible.
func (vs *VisibleSet[P]) Contains(id uuid.UUID) bool {
	_, ok := vs.index[id]
	return ok
}

// Lookup returns the visible node with the given ID.
func (vs *VisibleSet[P]) Lookup(id uuid.UUID) (VisibleNode[P], bool) {
	i, ok := vs.index[id]
	if !ok {
		return VisibleNode[P]{}, false
	}
	return vs.Nodes[i], true
}

// IDs returns the IDs of all visible nodes in acceptance order.
func (vs *VisibleSet[P]) IDs() []uuid.UUID {
	return lo.Map(vs.Nodes, func(n VisibleNode[P], _ int) uuid.UUID { return n.ID })
}

// PointCount is the number of points the visible nodes account for against the budget.
func (vs *VisibleSet[P]) PointCount() int {
	return lo.SumBy(vs.Nodes, func(n VisibleNode[P]) int { return n.PointCount })
}

// LoadedPointCount is the number of points actually resident for the visible nodes.
func (vs *VisibleSet[P]) LoadedPointCount() int {
	return lo.SumBy(vs.Nodes, func(n VisibleNode[P]) int { return len(n.Points) })
}

const maxHierarchyOffset = 1<<24 - 1

// EncodeVisibleHierarchy lays out the visible part of the tree breadth first, four bytes per
// visible node: a mask of the node's visible children followed by the 24-bit little-endian
// distance, in nodes, from the node to its first visible child. Shaders use it to find the
// deepest visible octant around a point. The result is empty if the root is not visible.
func EncodeVisibleHierarchy[P any](root *octree.Octant[P], vs *VisibleSet[P]) ([]byte, error) {
	if root == nil || !vs.Contains(root.ID) {
		return nil, nil
	}
	order := []*octree.Octant[P]{root}
	out := make([]byte, 0, 4*vs.Len())
	for pos := 0; pos < len(order); pos++ {
		o := order[pos]
		var mask byte
		offset := 0
		for i, child := range o.Children {
			if child == nil || !vs.Contains(child.ID) {
				continue
			}
			if mask == 0 {
				offset = len(order) - pos
			}
			mask |= 1 << i
			order = append(order, child)
		}
		if offset > maxHierarchyOffset {
			return nil, errors.Errorf("visible hierarchy offset %d does not fit into 24 bits", offset)
		}
		out = append(out, mask, byte(offset), byte(offset>>8), byte(offset>>16))
	}
	return out, nil
}
