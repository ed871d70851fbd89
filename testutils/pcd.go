package testutils

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"go.viam.com/ooc/pointcloud"
)

func pcdRGB(p pointcloud.Pos64Col32) uint32 {
	return uint32(p.Color.R)<<16 | uint32(p.Color.G)<<8 | uint32(p.Color.B)
}

// WritePCD writes points as a PCD v0.7 stream with fields "x y z rgb". Positions are stored as
// 32-bit floats, so they only survive a round trip up to float32 precision.
func WritePCD(w io.Writer, points []pointcloud.Pos64Col32, binaryData bool) error {
	bw := bufio.NewWriter(w)
	data := "ascii"
	if binaryData {
		data = "binary"
	}
	if _, err := fmt.Fprintf(bw, "# test cloud\nVERSION .7\nFIELDS x y z rgb\nSIZE 4 4 4 4\nTYPE F F F I\nCOUNT 1 1 1 1\n"+
		"WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA %s\n", len(points), len(points), data); err != nil {
		return err
	}
	var record [16]byte
	for _, p := range points {
		if !binaryData {
			if _, err := fmt.Fprintf(bw, "%f %f %f %d\n", p.Position.X, p.Position.Y, p.Position.Z, pcdRGB(p)); err != nil {
				return err
			}
			continue
		}
		binary.LittleEndian.PutUint32(record[0:], math.Float32bits(float32(p.Position.X)))
		binary.LittleEndian.PutUint32(record[4:], math.Float32bits(float32(p.Position.Y)))
		binary.LittleEndian.PutUint32(record[8:], math.Float32bits(float32(p.Position.Z)))
		binary.LittleEndian.PutUint32(record[12:], pcdRGB(p))
		if _, err := bw.Write(record[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}
