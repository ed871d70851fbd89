package cli

import (
	"io/fs"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/edaniels/golog"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/ooc/octreefile"
	"go.viam.com/ooc/pointcloud"
)

// InfoAction prints the metadata and shape of an index.
func InfoAction(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return errors.New("ooc info needs an index directory")
	}
	meta, err := octreefile.ReadMeta(filepath.Join(dir, octreefile.MetaFileName))
	if err != nil {
		return err
	}
	switch meta.PointType {
	case pointcloud.Pos64Accessor{}.PointType():
		return printInfo[pointcloud.Pos64](c, dir, pointcloud.Pos64Accessor{})
	case pointcloud.Pos64Col32Accessor{}.PointType():
		return printInfo[pointcloud.Pos64Col32](c, dir, pointcloud.Pos64Col32Accessor{})
	case pointcloud.Pos64Col32IShortAccessor{}.PointType():
		return printInfo[pointcloud.Pos64Col32IShort](c, dir, pointcloud.Pos64Col32IShortAccessor{})
	}
	return errors.Errorf("no point layout for fields %v", meta.PointType.Fields())
}

// openDataset opens the index in dir with an accessor picked by the caller.
func openDataset[P any](c *cli.Context, dir string, acc pointcloud.Accessor[P], logger golog.Logger) (*octreefile.Dataset[P], error) {
	ds, err := octreefile.Read[P](c.Context, dir, acc, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open index %q", dir)
	}
	return ds, nil
}

func printInfo[P any](c *cli.Context, dir string, acc pointcloud.Accessor[P]) (err error) {
	ds, err := openDataset(c, dir, acc, loggerFrom(c))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, ds.Close())
	}()

	st, err := ds.Tree.Stats()
	if err != nil {
		return err
	}
	size, err := dirSize(dir)
	if err != nil {
		return err
	}
	meta := ds.Meta
	w := c.App.Writer
	printf(w, "Index:        %s (%s)", dir, units.HumanSize(float64(size)))
	printf(w, "Point fields: %v", meta.PointType.Fields())
	printf(w, "Compression:  %s", meta.Compression)
	printf(w, "Root:         center %v size %g spacing %g",
		meta.Octree.RootNode.Center, meta.Octree.RootNode.Size, meta.Octree.SpacingFactor)
	printf(w, "Points:       %d (bucket %d)", meta.Octree.NumberOfPoints, meta.Octree.MaxNoOfPointsInBucket)
	printf(w, "Octants:      %d (%d leaves)", st.Nodes, st.Leaves)
	levels := table.NewWriter()
	levels.AppendHeader(table.Row{"Level", "Octants"})
	for _, level := range st.Levels() {
		levels.AppendRow(table.Row{level, st.LevelHistogram[level]})
	}
	printf(w, "%s", levels.Render())
	if st.Nodes != meta.Octree.NumberOfNodes && meta.Octree.NumberOfNodes != 0 {
		warningf(c.App.ErrWriter, "metadata lists %d octants but the hierarchy holds %d", meta.Octree.NumberOfNodes, st.Nodes)
	}
	return nil
}

func dirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}
