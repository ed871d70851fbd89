// Package octreefile persists octrees to disk and reads them back.
//
// An index directory holds three kinds of artifacts that must stay consistent with each other:
//
//	meta.json          global parameters, root placement and the point record layout
//	octree.hierarchy   the topology as depth-first preorder records, little-endian
//	Octants/<id>.node  the resident points of one octant
//
// Reading an index only rebuilds the topology. Points are fetched per octant on demand through
// the returned Dataset, which is what the streaming loader builds on.
package octreefile

import (
	"bufio"
	"context"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/utils"

	"go.viam.com/ooc/octree"
	"go.viam.com/ooc/pointcloud"
)

// A Dataset is an index opened for reading: its metadata, its topology and access to the point
// payload of each octant.
type Dataset[P any] struct {
	Dir  string
	Meta Meta
	Tree *octree.Octree[P]

	acc     pointcloud.Accessor[P]
	codec   *nodeCodec
	octants int
	byID    map[uuid.UUID]*octree.Octant[P]
	logger  golog.Logger
}

// Read opens the index in dir and rebuilds its topology. No points are loaded.
func Read[P any](ctx context.Context, dir string, acc pointcloud.Accessor[P], logger golog.Logger) (*Dataset[P], error) {
	_, span := trace.StartSpan(ctx, "octreefile::Read")
	defer span.End()

	meta, err := ReadMeta(filepath.Join(dir, MetaFileName))
	if err != nil {
		return nil, err
	}
	if meta.PointType != acc.PointType() {
		return nil, formatErrorf("index stores points with fields %v, accessor expects %v",
			meta.PointType.Fields(), acc.PointType().Fields())
	}

	//nolint:gosec
	f, err := os.Open(filepath.Join(dir, HierarchyFileName))
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	root, count, err := readHierarchy[P](bufio.NewReader(f), meta.Octree.RootNode, meta.Octree.SpacingFactor, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", HierarchyFileName)
	}
	if meta.Octree.NumberOfNodes != 0 && meta.Octree.NumberOfNodes != count {
		logger.Warnw("hierarchy does not match metadata", "octants", count, "expected", meta.Octree.NumberOfNodes)
	}

	codec, err := newNodeCodec(meta.Compression)
	if err != nil {
		return nil, err
	}
	ds := &Dataset[P]{
		Dir:     dir,
		Meta:    meta,
		Tree:    octree.New(root, acc, meta.Octree.MaxNoOfPointsInBucket, meta.Octree.MaxLevel),
		acc:     acc,
		codec:   codec,
		octants: count,
		byID:    make(map[uuid.UUID]*octree.Octant[P], count),
		logger:  logger,
	}
	for _, o := range ds.Tree.Octants() {
		if _, dup := ds.byID[o.ID]; dup {
			codec.close()
			return nil, formatErrorf("octant %s appears twice in the hierarchy", o.ID)
		}
		ds.byID[o.ID] = o
	}
	logger.Debugw("read octree", "dir", dir, "octants", count, "maxLevel", meta.Octree.MaxLevel)
	return ds, nil
}

// OctantCount is the number of octants in the topology.
func (ds *Dataset[P]) OctantCount() int {
	return ds.octants
}

// Octant looks up an octant by ID.
func (ds *Dataset[P]) Octant(id uuid.UUID) (*octree.Octant[P], bool) {
	o, ok := ds.byID[id]
	return o, ok
}

// NodePath is where the points of octant id are stored.
func (ds *Dataset[P]) NodePath(id uuid.UUID) string {
	return filepath.Join(ds.Dir, NodeDirName, NodeFileName(id))
}

// LoadNode reads the points of octant id. A missing file is reported as ErrNodeMissing.
func (ds *Dataset[P]) LoadNode(ctx context.Context, id uuid.UUID) ([]P, error) {
	_, span := trace.StartSpan(ctx, "octreefile::Dataset::LoadNode")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := ds.NodePath(id)
	//nolint:gosec
	stored, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapMissing(err, path)
	}
	raw, err := ds.codec.decode(stored)
	if err != nil {
		return nil, errors.Wrapf(err, "node %s", id)
	}
	points, err := decodeNode(ds.acc, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "node %s", id)
	}
	return points, nil
}

// NodePointCount reads only the header of octant id's node file.
func (ds *Dataset[P]) NodePointCount(ctx context.Context, id uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	h, err := ds.codec.readHeader(ds.NodePath(id), ds.acc.PointSize())
	if err != nil {
		return 0, errors.Wrapf(err, "node %s", id)
	}
	return h.count, nil
}

// Close releases the decompressor, if any.
func (ds *Dataset[P]) Close() error {
	ds.codec.close()
	return nil
}
