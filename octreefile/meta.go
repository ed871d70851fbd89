package octreefile

import (
	"encoding/json"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/ooc/pointcloud"
)

// Compression names how node files are encoded.
type Compression string

// The supported node file encodings.
const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// Validate returns an error for an unknown compression.
func (c Compression) Validate() error {
	switch c {
	case "", CompressionNone, CompressionZstd:
		return nil
	}
	return errors.Errorf("unknown compression %q", string(c))
}

// Meta is the content of meta.json.
type Meta struct {
	Octree      OctreeMeta           `json:"octree"`
	PointType   pointcloud.PointType `json:"pointType"`
	Compression Compression          `json:"compression,omitempty"`
}

// OctreeMeta holds the global octree parameters.
type OctreeMeta struct {
	MaxLevel              int          `json:"maxLevel"`
	MaxNoOfPointsInBucket int          `json:"maxNoOfPointsInBucket"`
	SpacingFactor         float64      `json:"spacingFactor"`
	NumberOfNodes         int          `json:"numberOfNodes,omitempty"`
	NumberOfPoints        int          `json:"numberOfPoints,omitempty"`
	RootNode              RootNodeMeta `json:"rootNode"`
}

// RootNodeMeta places the root octant.
type RootNodeMeta struct {
	Center [3]float64 `json:"center"`
	Size   float64    `json:"size"`
}

// CenterVector returns the root center as a vector.
func (r RootNodeMeta) CenterVector() r3.Vector {
	return r3.Vector{X: r.Center[0], Y: r.Center[1], Z: r.Center[2]}
}

func writeMeta(path string, meta Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	//nolint:gosec
	return os.WriteFile(path, data, 0o644)
}

// ReadMeta parses a meta.json file.
func ReadMeta(path string) (Meta, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, errors.Wrapf(ErrFormat, "parsing %s: %s", path, err)
	}
	if meta.Compression == "" {
		meta.Compression = CompressionNone
	}
	if err := meta.Compression.Validate(); err != nil {
		return Meta{}, errors.Wrapf(ErrFormat, "%s: %s", path, err)
	}
	if meta.Octree.RootNode.Size <= 0 {
		return Meta{}, formatErrorf("%s: root node size must be positive", path)
	}
	if !meta.PointType.HasPositionFloat3_64 {
		return Meta{}, formatErrorf("%s: point type has no position", path)
	}
	return meta, nil
}
