package octree

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/ooc/pointcloud"
)

// rootInflation enlarges the root cube so that no point lies exactly on its border.
const rootInflation = 1.01

type buildOptions struct {
	maxPointsPerBucket int
	maxLevel           int
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

// WithMaxPointsPerBucket sets the payload size at which an octant subdivides.
func WithMaxPointsPerBucket(n int) BuildOption {
	return func(o *buildOptions) {
		o.maxPointsPerBucket = n
	}
}

// WithMaxLevel sets the deepest level an octant may be created on.
func WithMaxLevel(n int) BuildOption {
	return func(o *buildOptions) {
		o.maxLevel = n
	}
}

// Build constructs an octree over points, which must all lie inside aabb. The input slice is not
// modified; the octree keeps its own copies of the points.
func Build[P any](
	ctx context.Context,
	aabb pointcloud.AABB,
	points []P,
	acc pointcloud.Accessor[P],
	logger golog.Logger,
	opts ...BuildOption,
) (*Octree[P], error) {
	options := buildOptions{
		maxPointsPerBucket: DefaultMaxPointsPerBucket,
		maxLevel:           DefaultMaxLevel,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.maxPointsPerBucket <= 0 {
		return nil, errors.Errorf("invalid max points per bucket (%d) for octree", options.maxPointsPerBucket)
	}
	if options.maxLevel < 0 {
		return nil, errors.Errorf("invalid max level (%d) for octree", options.maxLevel)
	}
	if len(points) == 0 {
		return nil, errors.New("cannot build an octree from zero points")
	}
	if aabb.Empty() {
		return nil, errors.New("cannot build an octree over an empty bounding box")
	}

	size := aabb.MaxExtent() * rootInflation
	if size <= 0 {
		// all points coincide; any cube around them will do
		size = 1
	}
	root := NewOctant[P](aabb.Center(), size, size/GridSize, 0)
	tree := &Octree[P]{
		Root:               root,
		MaxPointsPerBucket: options.maxPointsPerBucket,
		Accessor:           acc,
	}

	for i := range points {
		if i%100000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		pos := acc.Position(&points[i])
		if !pointcloud.IsFinite(pos) {
			return nil, errors.Errorf("point %d has a non-finite position %v", i, pos)
		}
		if !root.Contains(pos) {
			return nil, errors.Errorf("error point %d %v is outside the bounds of this octree", i, pos)
		}
		root.Grid.Insert(acc, root, points[i])
	}

	if err := tree.subdivide(ctx, root, options.maxLevel, logger); err != nil {
		return nil, err
	}

	logger.Debugw("built octree",
		"points", len(points),
		"rootSize", root.Size,
		"spacing", root.Resolution,
		"maxLevel", tree.MaxLevelReached,
	)
	return tree, nil
}

// subdivide pushes payloads down the tree starting at start. It walks the tree with an explicit
// stack in the same order a recursive depth-first subdivision would.
func (tree *Octree[P]) subdivide(ctx context.Context, start *Octant[P], maxLevel int, logger golog.Logger) error {
	if !tree.shouldSubdivide(start, maxLevel, logger) {
		start.IsLeaf = true
		return nil
	}

	stack := []*Octant[P]{start}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		octant := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, p := range octant.Payload {
			pos := tree.Accessor.Position(&p)
			idx := ChildIndex(octant.Center, pos)
			child := octant.Children[idx]
			if child == nil {
				child = octant.CreateChild(idx)
				octant.Children[idx] = child
				if child.Level > tree.MaxLevelReached {
					tree.MaxLevelReached = child.Level
				}
			}
			child.Grid.Insert(tree.Accessor, child, p)
		}
		octant.Payload = nil
		octant.IsLeaf = false

		for i := len(octant.Children) - 1; i >= 0; i-- {
			child := octant.Children[i]
			if child == nil {
				continue
			}
			if tree.shouldSubdivide(child, maxLevel, logger) {
				stack = append(stack, child)
			} else {
				child.IsLeaf = true
			}
		}
	}
	return nil
}

func (tree *Octree[P]) shouldSubdivide(octant *Octant[P], maxLevel int, logger golog.Logger) bool {
	if len(octant.Payload) < tree.MaxPointsPerBucket {
		return false
	}
	if octant.Level >= maxLevel {
		logger.Warnw("octant reached the maximum level, keeping its payload",
			"id", octant.ID,
			"level", octant.Level,
			"points", len(octant.Payload),
		)
		return false
	}
	return true
}
