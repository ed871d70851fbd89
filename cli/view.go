package cli

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/ooc/loader"
	"go.viam.com/ooc/octreefile"
	"go.viam.com/ooc/pointcloud"
)

// visibleTable lists the visible octants in the order they were selected.
func visibleTable[P any](vs *loader.VisibleSet[P]) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Octant", "Level", "Points", "Loaded", "Projected size"})
	for i, n := range vs.Nodes {
		t.AppendRow(table.Row{i, n.ID, n.Octant.Level, n.PointCount, n.Loaded, fmt.Sprintf("%.1f px", n.ProjectedSize)})
	}
	return t.Render()
}

func vectorFlag(c *cli.Context, name string) (r3.Vector, error) {
	v := c.Float64Slice(name)
	if len(v) != 3 {
		return r3.Vector{}, errors.Errorf("--%s needs exactly three values, got %d", name, len(v))
	}
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}, nil
}

func viewFromFlags(c *cli.Context) (loader.View, error) {
	eye, err := vectorFlag(c, viewFlagEye)
	if err != nil {
		return loader.View{}, err
	}
	target, err := vectorFlag(c, viewFlagTarget)
	if err != nil {
		return loader.View{}, err
	}
	up, err := vectorFlag(c, viewFlagUp)
	if err != nil {
		return loader.View{}, err
	}
	width, height := c.Int(viewFlagWidth), c.Int(viewFlagHeight)
	if width <= 0 || height <= 0 {
		return loader.View{}, errors.Errorf("invalid viewport %dx%d", width, height)
	}
	view := loader.NewPerspectiveView(eye, target, up,
		mgl64.DegToRad(c.Float64(viewFlagFOV)),
		float64(width)/float64(height),
		c.Float64(viewFlagNear), c.Float64(viewFlagFar),
		height)
	return view, view.Validate()
}

// ViewAction runs a single loader update against an index and prints what was selected.
func ViewAction(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return errors.New("ooc view needs an index directory")
	}
	if c.NArg() > 1 {
		return errors.Errorf("unexpected arguments after %s, flags go before the index directory", dir)
	}
	meta, err := octreefile.ReadMeta(filepath.Join(dir, octreefile.MetaFileName))
	if err != nil {
		return err
	}
	switch meta.PointType {
	case pointcloud.Pos64Accessor{}.PointType():
		return runView[pointcloud.Pos64](c, dir, pointcloud.Pos64Accessor{})
	case pointcloud.Pos64Col32Accessor{}.PointType():
		return runView[pointcloud.Pos64Col32](c, dir, pointcloud.Pos64Col32Accessor{})
	case pointcloud.Pos64Col32IShortAccessor{}.PointType():
		return runView[pointcloud.Pos64Col32IShort](c, dir, pointcloud.Pos64Col32IShortAccessor{})
	}
	return errors.Errorf("no point layout for fields %v", meta.PointType.Fields())
}

func runView[P any](c *cli.Context, dir string, acc pointcloud.Accessor[P]) (err error) {
	logger := loggerFrom(c)
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	lc := cfg.Loader.LoaderConfig()
	// a single update has nothing to overlap asynchronous loads with
	lc.Async = false
	if c.IsSet(viewFlagPointBudget) {
		lc.PointBudget = c.Int(viewFlagPointBudget)
	}
	if c.IsSet(viewFlagMinSize) {
		lc.MinProjectedSize = c.Float64(viewFlagMinSize)
	}
	view, err := viewFromFlags(c)
	if err != nil {
		return err
	}

	ds, err := openDataset(c, dir, acc, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, ds.Close())
	}()
	l, err := loader.NewFromDataset(ds, lc, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, l.Close())
	}()

	vs, err := l.Update(c.Context, view)
	if err != nil {
		return err
	}
	st := l.Stats()
	w := c.App.Writer
	printf(w, "Visible octants: %d of %d", vs.Len(), ds.OctantCount())
	printf(w, "Points:          %d loaded of %d selected (budget %d)", vs.LoadedPointCount(), vs.PointCount(), lc.PointBudget)
	printf(w, "Loads:           %d (%d errors, %d unloadable)", st.Loads, st.LoadErrors, st.Unloadable)
	printf(w, "%s", visibleTable(vs))
	if c.Bool(viewFlagHierarchy) {
		encoded, err := loader.EncodeVisibleHierarchy(ds.Tree.Root, vs)
		if err != nil {
			return err
		}
		printf(w, "%s", hex.EncodeToString(encoded))
	}
	return nil
}
