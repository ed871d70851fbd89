package octreefile

import (
	"encoding/binary"
	"io"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/ooc/octree"
)

// recordSize is guid(16) | level(int32) | isLeaf(1) | childMask(1).
const recordSize = 16 + 4 + 1 + 1

type hierarchyRecord struct {
	id        uuid.UUID
	level     int32
	isLeaf    bool
	childMask byte
}

// guidBytes lays out id the way Guid.ToByteArray does: the first three groups little-endian,
// the last eight bytes as they are. Hierarchy files written by other tools use this layout.
func guidBytes(id uuid.UUID) [16]byte {
	var b [16]byte
	copy(b[:], id[:])
	b[0], b[1], b[2], b[3] = id[3], id[2], id[1], id[0]
	b[4], b[5] = id[5], id[4]
	b[6], b[7] = id[7], id[6]
	return b
}

// guidFromBytes is the inverse of guidBytes. The swap is its own inverse.
func guidFromBytes(b []byte) uuid.UUID {
	var raw uuid.UUID
	copy(raw[:], b)
	return uuid.UUID(guidBytes(raw))
}

func (r hierarchyRecord) marshal(dst []byte) {
	id := guidBytes(r.id)
	copy(dst, id[:])
	binary.LittleEndian.PutUint32(dst[16:], uint32(r.level))
	dst[20] = 0
	if r.isLeaf {
		dst[20] = 1
	}
	dst[21] = r.childMask
}

func unmarshalRecord(src []byte) (hierarchyRecord, error) {
	rec := hierarchyRecord{
		id:        guidFromBytes(src[:16]),
		level:     int32(binary.LittleEndian.Uint32(src[16:])),
		childMask: src[21],
	}
	switch src[20] {
	case 0:
	case 1:
		rec.isLeaf = true
	default:
		return rec, formatErrorf("octant %s has invalid leaf flag %d", rec.id, src[20])
	}
	if rec.level < 0 {
		return rec, formatErrorf("octant %s has negative level %d", rec.id, rec.level)
	}
	return rec, nil
}

// writeHierarchy writes the topology of the tree in depth-first preorder, children in slot order.
func writeHierarchy[P any](w io.Writer, tree *octree.Octree[P]) (int, error) {
	buf := make([]byte, recordSize)
	written := 0
	err := tree.Traverse(func(o *octree.Octant[P]) error {
		hierarchyRecord{
			id:        o.ID,
			level:     int32(o.Level),
			isLeaf:    o.IsLeaf,
			childMask: o.ChildMask(),
		}.marshal(buf)
		if _, err := w.Write(buf); err != nil {
			return err
		}
		written++
		return nil
	})
	return written, err
}

// readRecord returns io.EOF only if the stream ended exactly before the record.
func readRecord(r io.Reader, buf []byte) (hierarchyRecord, error) {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return hierarchyRecord{}, formatErrorf("truncated hierarchy record")
		}
		return hierarchyRecord{}, err
	}
	return unmarshalRecord(buf)
}

type hierarchyFrame[P any] struct {
	octant *octree.Octant[P]
	mask   byte
	next   int
}

// readHierarchy rebuilds the topology below a root with the given placement. Child placement is
// derived from the parent; only existence, IDs, levels and leaf flags come from the stream.
//
// A stream that ends exactly on a record boundary before every announced child was read yields a
// partial tree and a warning. Anything else that does not match a complete preorder stream is an
// ErrFormat.
func readHierarchy[P any](
	r io.Reader,
	rootMeta RootNodeMeta,
	spacing float64,
	logger golog.Logger,
) (*octree.Octant[P], int, error) {
	buf := make([]byte, recordSize)
	rec, err := readRecord(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, formatErrorf("empty hierarchy")
		}
		return nil, 0, err
	}
	if rec.level != 0 {
		return nil, 0, formatErrorf("root octant %s has level %d", rec.id, rec.level)
	}
	root := &octree.Octant[P]{
		ID:         rec.id,
		Center:     rootMeta.CenterVector(),
		Size:       rootMeta.Size,
		Resolution: spacing,
		IsLeaf:     rec.isLeaf,
	}
	count := 1
	if err := checkLeafMask(rec); err != nil {
		return nil, 0, err
	}

	stack := []hierarchyFrame[P]{{octant: root, mask: rec.childMask}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		slot := -1
		for i := top.next; i < 8; i++ {
			if top.mask&(1<<i) != 0 {
				slot = i
				break
			}
		}
		if slot < 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		top.next = slot + 1
		parent := top.octant

		rec, err := readRecord(r, buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Warnw("octree hierarchy ended early, keeping partial topology",
					"octants", count,
					"missingChildren", missingChildren(stack)+1,
				)
				return root, count, nil
			}
			return nil, 0, err
		}
		if int(rec.level) != parent.Level+1 {
			return nil, 0, formatErrorf("octant %s has level %d below a parent on level %d", rec.id, rec.level, parent.Level)
		}
		if err := checkLeafMask(rec); err != nil {
			return nil, 0, err
		}
		child := &octree.Octant[P]{
			ID:         rec.id,
			Center:     octree.ChildCenter(parent.Center, parent.Size, slot),
			Size:       parent.Size / 2,
			Resolution: parent.Resolution / 2,
			Level:      int(rec.level),
			IsLeaf:     rec.isLeaf,
		}
		parent.Children[slot] = child
		count++
		stack = append(stack, hierarchyFrame[P]{octant: child, mask: rec.childMask})
	}

	var extra [1]byte
	if _, err := io.ReadFull(r, extra[:]); err == nil {
		return nil, 0, formatErrorf("trailing bytes after %d octants", count)
	}
	return root, count, nil
}

func checkLeafMask(rec hierarchyRecord) error {
	if rec.isLeaf && rec.childMask != 0 {
		return formatErrorf("leaf octant %s announces children %08b", rec.id, rec.childMask)
	}
	return nil
}

func missingChildren[P any](stack []hierarchyFrame[P]) int {
	missing := 0
	for _, f := range stack {
		for i := f.next; i < 8; i++ {
			if f.mask&(1<<i) != 0 {
				missing++
			}
		}
	}
	return missing
}
