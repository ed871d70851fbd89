package pointcloud

import (
	"encoding/binary"
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

const (
	positionSize  = 24
	colorSize     = 4
	intensitySize = 2
)

// gridSlot is the grid bookkeeping every concrete point type carries. It is not part of the raw
// record.
type gridSlot struct {
	idx GridIndex
	ok  bool
}

// Pos64 is a point that is solely positionally based.
type Pos64 struct {
	Position r3.Vector
	grid     gridSlot
}

// Pos64Col32 is a point with a position and an 8-bit-per-channel color.
type Pos64Col32 struct {
	Position r3.Vector
	Color    color.NRGBA
	grid     gridSlot
}

// Pos64Col32IShort is a colored point that also carries a 16-bit intensity, as produced by most
// LAS scanners.
type Pos64Col32IShort struct {
	Position  r3.Vector
	Color     color.NRGBA
	Intensity uint16
	grid      gridSlot
}

func putPosition(dst []byte, v r3.Vector) {
	binary.LittleEndian.PutUint64(dst[0:], math.Float64bits(v.X))
	binary.LittleEndian.PutUint64(dst[8:], math.Float64bits(v.Y))
	binary.LittleEndian.PutUint64(dst[16:], math.Float64bits(v.Z))
}

func readPosition(src []byte) r3.Vector {
	return r3.Vector{
		X: math.Float64frombits(binary.LittleEndian.Uint64(src[0:])),
		Y: math.Float64frombits(binary.LittleEndian.Uint64(src[8:])),
		Z: math.Float64frombits(binary.LittleEndian.Uint64(src[16:])),
	}
}

func putColor(dst []byte, c color.NRGBA) {
	dst[0], dst[1], dst[2], dst[3] = c.R, c.G, c.B, c.A
}

func readColor(src []byte) color.NRGBA {
	return color.NRGBA{R: src[0], G: src[1], B: src[2], A: src[3]}
}

func checkRecord(src []byte, want int) error {
	if len(src) != want {
		return errors.Errorf("error unmarshaling point invalid record size (%d), expected %d", len(src), want)
	}
	return nil
}

// Pos64Accessor is the Accessor for Pos64.
type Pos64Accessor struct{}

// Position returns the point's position.
func (Pos64Accessor) Position(p *Pos64) r3.Vector { return p.Position }

// GridIndex returns the occupied cell, if any.
func (Pos64Accessor) GridIndex(p *Pos64) (GridIndex, bool) { return p.grid.idx, p.grid.ok }

// SetGridIndex records the occupied cell.
func (Pos64Accessor) SetGridIndex(p *Pos64, idx GridIndex, ok bool) { p.grid = gridSlot{idx, ok} }

// PointSize is the raw record length.
func (Pos64Accessor) PointSize() int { return positionSize }

// MarshalPoint writes the raw record.
func (Pos64Accessor) MarshalPoint(p *Pos64, dst []byte) { putPosition(dst, p.Position) }

// UnmarshalPoint reads a raw record.
func (Pos64Accessor) UnmarshalPoint(src []byte) (Pos64, error) {
	if err := checkRecord(src, positionSize); err != nil {
		return Pos64{}, err
	}
	return Pos64{Position: readPosition(src)}, nil
}

// PointType describes the raw record.
func (Pos64Accessor) PointType() PointType {
	return PointType{HasPositionFloat3_64: true}
}

// Pos64Col32Accessor is the Accessor for Pos64Col32.
type Pos64Col32Accessor struct{}

// Position returns the point's position.
func (Pos64Col32Accessor) Position(p *Pos64Col32) r3.Vector { return p.Position }

// GridIndex returns the occupied cell, if any.
func (Pos64Col32Accessor) GridIndex(p *Pos64Col32) (GridIndex, bool) { return p.grid.idx, p.grid.ok }

// SetGridIndex records the occupied cell.
func (Pos64Col32Accessor) SetGridIndex(p *Pos64Col32, idx GridIndex, ok bool) {
	p.grid = gridSlot{idx, ok}
}

// PointSize is the raw record length.
func (Pos64Col32Accessor) PointSize() int { return positionSize + colorSize }

// MarshalPoint writes the raw record.
func (Pos64Col32Accessor) MarshalPoint(p *Pos64Col32, dst []byte) {
	putPosition(dst, p.Position)
	putColor(dst[positionSize:], p.Color)
}

// UnmarshalPoint reads a raw record.
func (a Pos64Col32Accessor) UnmarshalPoint(src []byte) (Pos64Col32, error) {
	if err := checkRecord(src, a.PointSize()); err != nil {
		return Pos64Col32{}, err
	}
	return Pos64Col32{Position: readPosition(src), Color: readColor(src[positionSize:])}, nil
}

// PointType describes the raw record.
func (Pos64Col32Accessor) PointType() PointType {
	return PointType{HasPositionFloat3_64: true, HasColorFloat32: true}
}

// Pos64Col32IShortAccessor is the Accessor for Pos64Col32IShort.
type Pos64Col32IShortAccessor struct{}

// Position returns the point's position.
func (Pos64Col32IShortAccessor) Position(p *Pos64Col32IShort) r3.Vector { return p.Position }

// GridIndex returns the occupied cell, if any.
func (Pos64Col32IShortAccessor) GridIndex(p *Pos64Col32IShort) (GridIndex, bool) {
	return p.grid.idx, p.grid.ok
}

// SetGridIndex records the occupied cell.
func (Pos64Col32IShortAccessor) SetGridIndex(p *Pos64Col32IShort, idx GridIndex, ok bool) {
	p.grid = gridSlot{idx, ok}
}

// PointSize is the raw record length.
func (Pos64Col32IShortAccessor) PointSize() int { return positionSize + colorSize + intensitySize }

// MarshalPoint writes the raw record.
func (Pos64Col32IShortAccessor) MarshalPoint(p *Pos64Col32IShort, dst []byte) {
	putPosition(dst, p.Position)
	putColor(dst[positionSize:], p.Color)
	binary.LittleEndian.PutUint16(dst[positionSize+colorSize:], p.Intensity)
}

// UnmarshalPoint reads a raw record.
func (a Pos64Col32IShortAccessor) UnmarshalPoint(src []byte) (Pos64Col32IShort, error) {
	if err := checkRecord(src, a.PointSize()); err != nil {
		return Pos64Col32IShort{}, err
	}
	return Pos64Col32IShort{
		Position:  readPosition(src),
		Color:     readColor(src[positionSize:]),
		Intensity: binary.LittleEndian.Uint16(src[positionSize+colorSize:]),
	}, nil
}

// PointType describes the raw record.
func (Pos64Col32IShortAccessor) PointType() PointType {
	return PointType{HasPositionFloat3_64: true, HasColorFloat32: true, HasIntensityUInt_16: true}
}
