package octree

import "github.com/pkg/errors"

// ErrStopTraversal can be returned by a traversal callback to end the walk early without an error.
var ErrStopTraversal = errors.New("stop traversal")

// Traverse visits every octant of the tree in depth-first preorder, children in slot order 0..7.
// If fn returns an error the walk stops; ErrStopTraversal is swallowed.
func (tree *Octree[P]) Traverse(fn func(o *Octant[P]) error) error {
	if tree.Root == nil {
		return nil
	}
	stack := []*Octant[P]{tree.Root}
	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if err := fn(o); err != nil {
			if errors.Is(err, ErrStopTraversal) {
				return nil
			}
			return err
		}
		for i := len(o.Children) - 1; i >= 0; i-- {
			if o.Children[i] != nil {
				stack = append(stack, o.Children[i])
			}
		}
	}
	return nil
}

// Octants returns all octants in preorder.
func (tree *Octree[P]) Octants() []*Octant[P] {
	var out []*Octant[P]
	//nolint:errcheck
	tree.Traverse(func(o *Octant[P]) error {
		out = append(out, o)
		return nil
	})
	return out
}

// Find returns the first octant in preorder that satisfies match.
func (tree *Octree[P]) Find(match func(o *Octant[P]) bool) (*Octant[P], bool) {
	var found *Octant[P]
	//nolint:errcheck
	tree.Traverse(func(o *Octant[P]) error {
		if match(o) {
			found = o
			return ErrStopTraversal
		}
		return nil
	})
	return found, found != nil
}
