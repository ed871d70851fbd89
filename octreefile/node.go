package octreefile

import (
	"encoding/binary"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/ooc/pointcloud"
)

const (
	// MetaFileName is the name of the metadata document inside an index directory.
	MetaFileName = "meta.json"
	// HierarchyFileName is the name of the topology stream inside an index directory.
	HierarchyFileName = "octree.hierarchy"
	// NodeDirName is the directory holding one file per non-empty octant.
	NodeDirName = "Octants"

	nodeExt        = ".node"
	nodeHeaderSize = 8
)

// NodeFileName is the file name of an octant's points: its ID as 32 hex digits without dashes.
func NodeFileName(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "") + nodeExt
}

// encodeNode lays out pointCount(int32) | pointByteLength(int32) | records.
func encodeNode[P any](acc pointcloud.Accessor[P], points []P) []byte {
	size := acc.PointSize()
	buf := make([]byte, nodeHeaderSize, nodeHeaderSize+size*len(points))
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(points)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(size*len(points)))
	return pointcloud.AppendPoints(buf, acc, points)
}

type nodeHeader struct {
	count      int
	byteLength int
}

func parseNodeHeader(src []byte, pointSize int) (nodeHeader, error) {
	if len(src) < nodeHeaderSize {
		return nodeHeader{}, formatErrorf("node file has %d bytes, shorter than its header", len(src))
	}
	h := nodeHeader{
		count:      int(int32(binary.LittleEndian.Uint32(src[0:]))),
		byteLength: int(int32(binary.LittleEndian.Uint32(src[4:]))),
	}
	if h.count < 0 || h.byteLength != h.count*pointSize {
		return nodeHeader{}, formatErrorf("node header claims %d points in %d bytes with %d byte records",
			h.count, h.byteLength, pointSize)
	}
	return h, nil
}

func decodeNode[P any](acc pointcloud.Accessor[P], src []byte) ([]P, error) {
	size := acc.PointSize()
	h, err := parseNodeHeader(src, size)
	if err != nil {
		return nil, err
	}
	body := src[nodeHeaderSize:]
	if len(body) != h.byteLength {
		return nil, formatErrorf("node body has %d bytes, header claims %d", len(body), h.byteLength)
	}
	points := make([]P, 0, h.count)
	for i := 0; i < h.count; i++ {
		p, err := acc.UnmarshalPoint(body[i*size : (i+1)*size])
		if err != nil {
			return nil, errors.Wrapf(ErrFormat, "point %d: %s", i, err)
		}
		points = append(points, p)
	}
	return points, nil
}

// nodeCodec applies the index's compression to whole node files. Encoder and decoder are safe for
// concurrent EncodeAll/DecodeAll calls.
type nodeCodec struct {
	compression Compression
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

func newNodeCodec(c Compression) (*nodeCodec, error) {
	codec := &nodeCodec{compression: c}
	if c != CompressionZstd {
		return codec, nil
	}
	var err error
	if codec.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		return nil, err
	}
	if codec.decoder, err = zstd.NewReader(nil); err != nil {
		return nil, err
	}
	return codec, nil
}

func (c *nodeCodec) encode(raw []byte) []byte {
	if c.encoder == nil {
		return raw
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func (c *nodeCodec) decode(stored []byte) ([]byte, error) {
	if c.decoder == nil {
		return stored, nil
	}
	raw, err := c.decoder.DecodeAll(stored, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "decompressing node: %s", err)
	}
	return raw, nil
}

// readHeader reads only as much of the file as it takes to learn the point count.
func (c *nodeCodec) readHeader(path string, pointSize int) (nodeHeader, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nodeHeader{}, wrapMissing(err, path)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var r io.Reader = f
	if c.compression == CompressionZstd {
		dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nodeHeader{}, err
		}
		defer dec.Close()
		r = dec
	}
	buf := make([]byte, nodeHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nodeHeader{}, formatErrorf("node file %s is shorter than its header", filepath.Base(path))
		}
		return nodeHeader{}, err
	}
	return parseNodeHeader(buf, pointSize)
}

func (c *nodeCodec) close() {
	if c.encoder != nil {
		utils.UncheckedError(c.encoder.Close())
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}

func wrapMissing(err error, path string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(ErrNodeMissing, "%s", filepath.Base(path))
	}
	return err
}
