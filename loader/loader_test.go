package loader

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
	goutilstest "go.viam.com/utils/testutils"

	"go.viam.com/ooc/octree"
	"go.viam.com/ooc/octreefile"
	"go.viam.com/ooc/pointcloud"
	"go.viam.com/ooc/testutils"
)

type point = pointcloud.Pos64Col32

// testPoints is the size of the cloud behind testTree.
const testPoints = 25000

// testTree holds a uniform cloud plus a dense cluster that forces a few levels of subdivision.
func testTree(t *testing.T) *octree.Octree[point] {
	t.Helper()
	acc := pointcloud.Pos64Col32Accessor{}
	points := testutils.RandomCloud(11, 20000, 10)
	for _, p := range testutils.ClusteredCloud(12, testPoints-20000, r3.Vector{X: 2, Y: 2, Z: 2}, 0.2) {
		points = append(points, point{Position: p.Position})
	}
	aabb, err := pointcloud.BoundingBox[point](acc, points)
	test.That(t, err, test.ShouldBeNil)
	tree, err := octree.Build(context.Background(), aabb, points, acc, golog.NewTestLogger(t),
		octree.WithMaxPointsPerBucket(500))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tree.MaxLevelReached, test.ShouldBeGreaterThan, 2)
	return tree
}

// everything accepts every octant in view.
func everything() Config {
	return Config{PointBudget: 1 << 30, MaxNodesToLoad: 5, FetchWorkers: 2}
}

var (
	overview = viewFrom(r3.Vector{X: 5, Y: 5, Z: 30}, cloudCenter)
	away     = viewFrom(r3.Vector{X: 5, Y: 5, Z: 30}, r3.Vector{X: 5, Y: 5, Z: 60})
)

func newTestLoader(t *testing.T, tree *octree.Octree[point], source NodeSource[point], cfg Config,
	opts ...Option[point],
) *Loader[point] {
	t.Helper()
	l, err := New[point](tree, source, cfg, golog.NewTestLogger(t), opts...)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, l.Close(), test.ShouldBeNil)
	})
	return l
}

func TestUpdateLoadsEverythingInView(t *testing.T) {
	tree := testTree(t)
	source := newFakeSource(tree)
	renderer := newFakeRenderer()
	l := newTestLoader(t, tree, source, everything(), WithRenderer[point](renderer))

	vs, err := l.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vs.Len(), test.ShouldEqual, len(tree.Octants()))
	test.That(t, vs.Nodes[0].ID, test.ShouldEqual, tree.Root.ID)
	test.That(t, vs.PointCount(), test.ShouldEqual, testPoints)
	test.That(t, vs.LoadedPointCount(), test.ShouldEqual, testPoints)
	for _, n := range vs.Nodes {
		test.That(t, n.Loaded, test.ShouldBeTrue)
		test.That(t, l.WasLoaded(n.ID), test.ShouldBeTrue)
	}
	test.That(t, renderer.residentCount(), test.ShouldEqual, vs.Len())

	stats := l.Stats()
	test.That(t, stats.Updates, test.ShouldEqual, 1)
	test.That(t, stats.Loads, test.ShouldEqual, vs.Len())
	test.That(t, stats.ResidentPoints, test.ShouldEqual, testPoints)

	// a second update with the same view loads nothing new
	_, err = l.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l.Stats().Loads, test.ShouldEqual, vs.Len())
	test.That(t, source.loadCount(tree.Root.ID), test.ShouldEqual, 1)
}

func TestUpdateRespectsBudget(t *testing.T) {
	tree := testTree(t)
	rootPoints := tree.Root.PointCount()

	for _, budget := range []int{1, rootPoints, rootPoints + 100} {
		cfg := everything()
		cfg.PointBudget = budget
		l := newTestLoader(t, tree, newFakeSource(tree), cfg)

		vs, err := l.Update(context.Background(), overview)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, vs.Len(), test.ShouldBeGreaterThan, 0)
		last := vs.Nodes[vs.Len()-1]
		// only the node that crossed the budget may exceed it
		test.That(t, vs.PointCount()-last.PointCount, test.ShouldBeLessThanOrEqualTo, budget)
		if budget >= rootPoints {
			test.That(t, vs.Len(), test.ShouldBeGreaterThan, 1)
		} else {
			test.That(t, vs.Len(), test.ShouldEqual, 1)
		}
		test.That(t, vs.Len(), test.ShouldBeLessThan, len(tree.Octants()))
		test.That(t, l.Stats().ResidentPoints, test.ShouldEqual, vs.PointCount())
	}
}

func TestUpdateLevelOfDetail(t *testing.T) {
	tree := testTree(t)
	cfg := everything()
	cfg.MinProjectedSizeModifier = 0.1

	near := newTestLoader(t, tree, newFakeSource(tree), cfg)
	far := newTestLoader(t, tree, newFakeSource(tree), everything())
	far.cfg.MinProjectedSize = 60

	nearSet, err := near.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	for _, n := range nearSet.Nodes {
		test.That(t, n.ProjectedSize, test.ShouldBeGreaterThanOrEqualTo, nearSet.Nodes[0].ProjectedSize*0.1)
	}

	distant := viewFrom(r3.Vector{X: 5, Y: 5, Z: 60}, cloudCenter)
	farSet, err := far.Update(context.Background(), distant)
	test.That(t, err, test.ShouldBeNil)
	for _, n := range farSet.Nodes {
		test.That(t, n.ProjectedSize, test.ShouldBeGreaterThanOrEqualTo, 60.0)
	}
	test.That(t, farSet.Len(), test.ShouldBeGreaterThan, 0)
	test.That(t, farSet.Len(), test.ShouldBeLessThan, len(tree.Octants()))
}

func TestUpdateEvicts(t *testing.T) {
	tree := testTree(t)
	renderer := newFakeRenderer()
	l := newTestLoader(t, tree, newFakeSource(tree), everything(), WithRenderer[point](renderer))

	vs, err := l.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	loaded := vs.Len()

	empty, err := l.Update(context.Background(), away)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, empty.Len(), test.ShouldEqual, 0)
	for _, id := range vs.IDs() {
		test.That(t, l.WasLoaded(id), test.ShouldBeFalse)
	}
	test.That(t, renderer.residentCount(), test.ShouldEqual, 0)
	test.That(t, renderer.releases, test.ShouldEqual, loaded)

	stats := l.Stats()
	test.That(t, stats.Evictions, test.ShouldEqual, loaded)
	test.That(t, stats.ResidentNodes, test.ShouldEqual, 0)
	test.That(t, stats.ResidentPoints, test.ShouldEqual, 0)

	// coming back loads everything again
	again, err := l.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.Len(), test.ShouldEqual, loaded)
	test.That(t, l.Stats().Loads, test.ShouldEqual, 2*loaded)
}

func TestUpdateMissingNodes(t *testing.T) {
	tree := testTree(t)
	source := newFakeSource(tree)
	logger, logs := golog.NewObservedTestLogger(t)

	var leaf, internal *octree.Octant[point]
	for _, o := range tree.Root.Children {
		if o != nil && o.IsLeaf && leaf == nil {
			leaf = o
		}
		if o != nil && !o.IsLeaf && internal == nil {
			internal = o
		}
	}
	test.That(t, leaf, test.ShouldNotBeNil)
	test.That(t, internal, test.ShouldNotBeNil)
	source.missing[leaf.ID] = true
	source.missing[internal.ID] = true

	l, err := New[point](tree, source, everything(), logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, l.Close(), test.ShouldBeNil)
	}()

	vs, err := l.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vs.Contains(leaf.ID), test.ShouldBeFalse)
	test.That(t, vs.Len(), test.ShouldEqual, len(tree.Octants())-1)

	// an internal octant without a file is visible without points and its children are reached
	n, ok := vs.Lookup(internal.ID)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, n.PointCount, test.ShouldEqual, 0)
	test.That(t, n.Points, test.ShouldBeEmpty)
	for _, child := range internal.Children {
		if child != nil {
			test.That(t, vs.Contains(child.ID), test.ShouldBeTrue)
		}
	}

	test.That(t, l.Stats().Unloadable, test.ShouldEqual, 1)
	test.That(t, testutils.CountMessages(logs, zapcore.ErrorLevel, "octant cannot be loaded and will be skipped"),
		test.ShouldEqual, 1)

	// the broken leaf is never asked for again
	calls := source.calls(leaf.ID)
	_, err = l.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, source.calls(leaf.ID), test.ShouldEqual, calls)
}

func TestUpdateRetriesTransientErrors(t *testing.T) {
	tree := testTree(t)
	source := newFakeSource(tree)
	var leaf *octree.Octant[point]
	for _, o := range tree.Octants() {
		if o.IsLeaf {
			leaf = o
			break
		}
	}
	source.failOnce[leaf.ID] = true
	l := newTestLoader(t, tree, source, everything())

	vs, err := l.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vs.Contains(leaf.ID), test.ShouldBeFalse)
	test.That(t, l.Stats().LoadErrors, test.ShouldEqual, 1)

	vs, err = l.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vs.Contains(leaf.ID), test.ShouldBeTrue)
	test.That(t, l.WasLoaded(leaf.ID), test.ShouldBeTrue)
}

func TestUpdateFailedLoadKeepsBudget(t *testing.T) {
	tree := testTree(t)
	source := newFakeSource(tree)
	rootPoints := len(source.points[tree.Root.ID])
	cfg := everything()
	cfg.PointBudget = rootPoints

	reference := newTestLoader(t, tree, newFakeSource(tree), cfg)
	vs, err := reference.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	var next uuid.UUID
	for _, n := range vs.Nodes[1:] {
		if n.PointCount > 0 {
			next = n.ID
			break
		}
	}
	test.That(t, next, test.ShouldNotEqual, uuid.Nil)

	source.failLoadOnce[next] = true
	l := newTestLoader(t, tree, source, cfg)
	vs, err = l.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vs.Contains(next), test.ShouldBeFalse)
	test.That(t, l.Stats().LoadErrors, test.ShouldEqual, 1)
	test.That(t, vs.PointCount(), test.ShouldBeGreaterThan, rootPoints)
	test.That(t, vs.PointCount(), test.ShouldEqual, vs.LoadedPointCount())
	for _, n := range vs.Nodes {
		test.That(t, n.Loaded, test.ShouldBeTrue)
	}
}

func TestUpdateThrottle(t *testing.T) {
	tree := testTree(t)
	mock := clock.NewMock()
	cfg := everything()
	cfg.UpdateInterval = 33 * time.Millisecond
	l := newTestLoader(t, tree, newFakeSource(tree), cfg, WithClock[point](mock))

	first, err := l.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first.Len(), test.ShouldBeGreaterThan, 0)

	mock.Add(10 * time.Millisecond)
	throttled, err := l.Update(context.Background(), away)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, throttled, test.ShouldEqual, first)
	test.That(t, l.Stats().Throttled, test.ShouldEqual, 1)

	mock.Add(30 * time.Millisecond)
	next, err := l.Update(context.Background(), away)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, next.Len(), test.ShouldEqual, 0)
	test.That(t, l.Stats().Updates, test.ShouldEqual, 2)
}

func TestUpdateAsync(t *testing.T) {
	tree := testTree(t)
	source := newFakeSource(tree)
	cfg := everything()
	cfg.Async = true
	cfg.MaxNodesToLoad = 4
	cfg.FetchWorkers = 2
	l := newTestLoader(t, tree, source, cfg)

	vs, err := l.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vs.Len(), test.ShouldEqual, len(tree.Octants()))
	// nothing is handed over before the next update
	for _, n := range vs.Nodes {
		test.That(t, n.Loaded, test.ShouldBeFalse)
		test.That(t, n.Points, test.ShouldBeNil)
	}

	goutilstest.WaitForAssertionWithSleep(t, 10*time.Millisecond, 500, func(tb testing.TB) {
		tb.Helper()
		vs, err := l.Update(context.Background(), overview)
		test.That(tb, err, test.ShouldBeNil)
		test.That(tb, vs.LoadedPointCount(), test.ShouldEqual, testPoints)
	})
	test.That(t, l.Stats().Loads, test.ShouldEqual, len(tree.Octants()))
}

func TestUpdateAsyncDiscardsStaleLoads(t *testing.T) {
	tree := testTree(t)
	source := newFakeSource(tree)
	source.gate = make(chan struct{})
	cfg := everything()
	cfg.Async = true
	cfg.MaxNodesToLoad = 3
	cfg.FetchWorkers = 3
	l := newTestLoader(t, tree, source, cfg)

	_, err := l.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeNil)
	vs, err := l.Update(context.Background(), away)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vs.Len(), test.ShouldEqual, 0)

	close(source.gate)
	goutilstest.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		_, err := l.Update(context.Background(), away)
		test.That(tb, err, test.ShouldBeNil)
		test.That(tb, l.Stats().Discarded, test.ShouldEqual, 3)
	})
	stats := l.Stats()
	test.That(t, stats.Loads, test.ShouldEqual, 0)
	test.That(t, stats.ResidentNodes, test.ShouldEqual, 0)
}

func TestLoaderErrors(t *testing.T) {
	tree := testTree(t)
	logger := golog.NewTestLogger(t)

	_, err := New[point](nil, newFakeSource(tree), everything(), logger)
	test.That(t, err, test.ShouldNotBeNil)

	cfg := everything()
	cfg.PointBudget = 0
	_, err = New[point](tree, newFakeSource(tree), cfg, logger)
	test.That(t, err, test.ShouldNotBeNil)

	cfg = everything()
	cfg.Async = true
	cfg.FetchWorkers = 0
	_, err = New[point](tree, newFakeSource(tree), cfg, logger)
	test.That(t, err, test.ShouldNotBeNil)

	l := newTestLoader(t, tree, newFakeSource(tree), everything())
	bad := overview
	bad.ViewportHeight = 0
	_, err = l.Update(context.Background(), bad)
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Update(ctx, overview)
	test.That(t, err, test.ShouldEqual, context.Canceled)

	test.That(t, l.Close(), test.ShouldBeNil)
	_, err = l.Update(context.Background(), overview)
	test.That(t, err, test.ShouldBeError, "loader is closed")
}

func TestLoaderOverDataset(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	tree := testTree(t)
	dir := t.TempDir()
	w, err := octreefile.NewWriter[point](dir, logger, octreefile.WithCompression(octreefile.CompressionZstd))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.Write(ctx, tree), test.ShouldBeNil)

	ds, err := octreefile.Read[point](ctx, dir, pointcloud.Pos64Col32Accessor{}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, ds.Close(), test.ShouldBeNil)
	}()

	budget := tree.Root.PointCount() + 1000
	cfg := everything()
	cfg.PointBudget = budget
	l, err := NewFromDataset(ds, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, l.Close(), test.ShouldBeNil)
	}()

	vs, err := l.Update(ctx, overview)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vs.Nodes[0].ID, test.ShouldEqual, tree.Root.ID)
	test.That(t, vs.LoadedPointCount(), test.ShouldEqual, vs.PointCount())
	test.That(t, vs.PointCount()-vs.Nodes[vs.Len()-1].PointCount, test.ShouldBeLessThanOrEqualTo, budget)
	test.That(t, vs.Len(), test.ShouldBeGreaterThan, 1)
	for _, n := range vs.Nodes {
		for _, p := range n.Points {
			test.That(t, n.Octant.Contains(p.Position), test.ShouldBeTrue)
		}
	}
}

func TestEncodeVisibleHierarchy(t *testing.T) {
	mk := func(level int) *octree.Octant[point] {
		return &octree.Octant[point]{ID: uuid.New(), Level: level}
	}
	root := mk(0)
	c0, c7 := mk(1), mk(1)
	g2, g3, hidden := mk(2), mk(2), mk(2)
	root.Children[0], root.Children[7] = c0, c7
	c0.Children[2], c0.Children[3], c0.Children[5] = g2, g3, hidden

	visible := newVisibleSet([]VisibleNode[point]{{ID: root.ID}, {ID: c7.ID}, {ID: c0.ID}, {ID: g3.ID}, {ID: g2.ID}})
	encoded, err := EncodeVisibleHierarchy(root, visible)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, encoded, test.ShouldResemble, []byte{
		0b10000001, 1, 0, 0, // root: first visible child right behind it
		0b00001100, 2, 0, 0, // c0: its first visible child is g2 at position 3
		0, 0, 0, 0, // c7
		0, 0, 0, 0, // g2
		0, 0, 0, 0, // g3
	})

	encoded, err = EncodeVisibleHierarchy(root, newVisibleSet[point](nil))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, encoded, test.ShouldBeEmpty)
}
