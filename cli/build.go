package cli

import (
	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/ooc/config"
	"go.viam.com/ooc/octree"
	"go.viam.com/ooc/octreefile"
	"go.viam.com/ooc/pointcloud"
)

// loadConfig reads the file named by the global config flag, or returns the defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(configFlag)
	if path == "" {
		return config.Default(), nil
	}
	return config.Read(path, loggerFrom(c))
}

// BuildAction reads a point cloud file, builds an octree over it and writes the index.
func BuildAction(c *cli.Context) error {
	logger := loggerFrom(c)
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	b := cfg.Build
	if c.IsSet(buildFlagInput) {
		b.Input = c.Path(buildFlagInput)
	}
	if c.IsSet(buildFlagOutput) {
		b.Output = c.Path(buildFlagOutput)
	}
	if c.IsSet(buildFlagBucket) {
		b.MaxPointsPerBucket = c.Int(buildFlagBucket)
	}
	if c.IsSet(buildFlagMaxLevel) {
		maxLevel := c.Int(buildFlagMaxLevel)
		b.MaxLevel = &maxLevel
	}
	if c.IsSet(buildFlagWorkers) {
		b.Workers = c.Int(buildFlagWorkers)
	}
	if c.IsSet(buildFlagCompression) {
		b.Compression = c.String(buildFlagCompression)
	}
	if err := b.Validate("build"); err != nil {
		return err
	}

	points, err := pointcloud.ReadFile(b.Input, logger)
	if err != nil {
		return errors.Wrapf(err, "could not read %q", b.Input)
	}
	acc := pointcloud.Pos64Col32IShortAccessor{}
	aabb, err := pointcloud.BoundingBox[pointcloud.Pos64Col32IShort](acc, points)
	if err != nil {
		return err
	}
	tree, err := octree.Build[pointcloud.Pos64Col32IShort](c.Context, aabb, points, acc, logger, b.BuildOptions()...)
	if err != nil {
		return errors.Wrap(err, "could not build octree")
	}
	w, err := octreefile.NewWriter[pointcloud.Pos64Col32IShort](b.Output, logger, b.WriterOptions()...)
	if err != nil {
		return err
	}
	if err := w.Write(c.Context, tree); err != nil {
		return errors.Wrapf(err, "could not write index to %q", b.Output)
	}

	st, err := tree.Stats()
	if err != nil {
		return err
	}
	size, err := dirSize(b.Output)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "Wrote %d points in %d octants (%d leaves, depth %d) to %s (%s)",
		st.Points, st.Nodes, st.Leaves, tree.MaxLevelReached, b.Output, units.HumanSize(float64(size)))
	if dropped := len(points) - st.Points; dropped != 0 {
		warningf(c.App.ErrWriter, "%d input points are missing from the index", dropped)
	}
	return nil
}
