package octreefile

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/docker/go-units"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/ooc/octree"
)

type writerOptions struct {
	workers     int
	compression Compression
}

// WriterOption configures a Writer.
type WriterOption func(*writerOptions)

// WithWorkers bounds how many node files are written concurrently.
func WithWorkers(n int) WriterOption {
	return func(o *writerOptions) {
		o.workers = n
	}
}

// WithCompression selects the node file encoding.
func WithCompression(c Compression) WriterOption {
	return func(o *writerOptions) {
		o.compression = c
	}
}

// A Writer persists octrees into a directory.
type Writer[P any] struct {
	dir     string
	logger  golog.Logger
	options writerOptions
}

// NewWriter returns a Writer that writes into dir, creating it if needed.
func NewWriter[P any](dir string, logger golog.Logger, opts ...WriterOption) (*Writer[P], error) {
	options := writerOptions{
		workers:     runtime.NumCPU(),
		compression: CompressionNone,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.workers <= 0 {
		return nil, errors.Errorf("invalid number of writer workers (%d)", options.workers)
	}
	if err := options.compression.Validate(); err != nil {
		return nil, err
	}
	return &Writer[P]{dir: dir, logger: logger, options: options}, nil
}

// Write persists tree as meta.json, octree.hierarchy and one node file per octant that has points.
// The metadata and the hierarchy are complete before any node file is written.
func (w *Writer[P]) Write(ctx context.Context, tree *octree.Octree[P]) error {
	ctx, span := trace.StartSpan(ctx, "octreefile::Writer::Write")
	defer span.End()

	nodeDir := filepath.Join(w.dir, NodeDirName)
	if err := os.MkdirAll(nodeDir, 0o750); err != nil {
		return err
	}

	octants := tree.Octants()
	numPoints := 0
	for _, o := range octants {
		numPoints += o.PointCount()
	}

	meta := Meta{
		Octree: OctreeMeta{
			MaxLevel:              tree.MaxLevelReached,
			MaxNoOfPointsInBucket: tree.MaxPointsPerBucket,
			SpacingFactor:         tree.Root.Resolution,
			NumberOfNodes:         len(octants),
			NumberOfPoints:        numPoints,
			RootNode: RootNodeMeta{
				Center: [3]float64{tree.Root.Center.X, tree.Root.Center.Y, tree.Root.Center.Z},
				Size:   tree.Root.Size,
			},
		},
		PointType:   tree.Accessor.PointType(),
		Compression: w.options.compression,
	}
	if err := writeMeta(filepath.Join(w.dir, MetaFileName), meta); err != nil {
		return errors.Wrap(err, "writing metadata")
	}
	if err := w.writeHierarchyFile(tree); err != nil {
		return errors.Wrap(err, "writing hierarchy")
	}

	codec, err := newNodeCodec(w.options.compression)
	if err != nil {
		return err
	}
	defer codec.close()

	var written, nodeFiles atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.options.workers)
	for _, o := range octants {
		if o.PointCount() == 0 {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		o := o
		g.Go(func() error {
			data := codec.encode(encodeNode(tree.Accessor, o.Points()))
			path := filepath.Join(nodeDir, NodeFileName(o.ID))
			//nolint:gosec
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return errors.Wrapf(err, "writing node %s", o.ID)
			}
			written.Add(int64(len(data)))
			nodeFiles.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.logger.Infow("wrote octree",
		"dir", w.dir,
		"octants", len(octants),
		"nodeFiles", nodeFiles.Load(),
		"points", numPoints,
		"compression", w.options.compression,
		"size", units.HumanSize(float64(written.Load())),
	)
	return nil
}

func (w *Writer[P]) writeHierarchyFile(tree *octree.Octree[P]) (err error) {
	//nolint:gosec
	f, err := os.Create(filepath.Join(w.dir, HierarchyFileName))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	buf := bufio.NewWriter(f)
	n, err := writeHierarchy(buf, tree)
	if err != nil {
		return err
	}
	w.logger.Debugw("wrote hierarchy", "records", n)
	return buf.Flush()
}
