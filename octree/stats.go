package octree

import (
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/samber/lo"
)

// Stats summarizes the shape of an octree.
type Stats struct {
	Nodes  int
	Leaves int
	Points int
	// LevelHistogram maps a level to the number of octants on it.
	LevelHistogram map[int]int
	// EmptyNodes counts octants without resident points; no node file is written for them.
	EmptyNodes int

	PointsPerNodeMean   float64
	PointsPerNodeMedian float64
	PointsPerNodeMax    float64
	PointsPerNodeP95    float64
}

// Levels returns the levels present in the histogram in ascending order.
func (s Stats) Levels() []int {
	levels := lo.Keys(s.LevelHistogram)
	sort.Ints(levels)
	return levels
}

// Stats walks the tree and collects node, leaf and point counts. Point counts are only meaningful
// for trees built in memory; a topology read back from disk reports zero points.
func (tree *Octree[P]) Stats() (Stats, error) {
	s := Stats{LevelHistogram: map[int]int{}}
	var perNode stats.Float64Data
	err := tree.Traverse(func(o *Octant[P]) error {
		s.Nodes++
		s.LevelHistogram[o.Level]++
		if o.IsLeaf {
			s.Leaves++
		}
		n := o.PointCount()
		if n == 0 {
			s.EmptyNodes++
		}
		s.Points += n
		perNode = append(perNode, float64(n))
		return nil
	})
	if err != nil || len(perNode) == 0 {
		return s, err
	}

	if s.PointsPerNodeMean, err = perNode.Mean(); err != nil {
		return s, err
	}
	if s.PointsPerNodeMedian, err = perNode.Median(); err != nil {
		return s, err
	}
	if s.PointsPerNodeMax, err = perNode.Max(); err != nil {
		return s, err
	}
	if s.PointsPerNodeP95, err = perNode.Percentile(95); err != nil {
		return s, err
	}
	return s, nil
}
