package pointcloud

import (
	"bufio"
	"encoding/binary"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadFile returns the points of the given LAS or PCD file.
func ReadFile(fn string, logger golog.Logger) ([]Pos64Col32IShort, error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".las":
		return ReadLASFile(fn, logger)
	case ".pcd":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return ReadPCD(f)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// ReadLASFile returns the points of a LAS file. Colors are reduced from 16 to 8 bits per channel;
// point formats without color come out white.
func ReadLASFile(fn string, logger golog.Logger) ([]Pos64Col32IShort, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	points := make([]Pos64Col32IShort, 0, lf.Header.NumberPoints)
	var skipped int
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, errors.Wrapf(err, "reading LAS point %d", i)
		}
		data := p.PointData()
		pos := r3.Vector{X: data.X, Y: data.Y, Z: data.Z}
		if !IsFinite(pos) {
			skipped++
			continue
		}

		pt := Pos64Col32IShort{
			Position:  pos,
			Color:     color.NRGBA{R: 255, G: 255, B: 255, A: 255},
			Intensity: data.Intensity,
		}
		if rgb := p.RgbData(); rgb != nil {
			pt.Color = ColorFrom16(rgb.Red, rgb.Green, rgb.Blue)
		}
		points = append(points, pt)
	}
	if skipped > 0 {
		logger.Warnw("skipped LAS points with non-finite coordinates", "file", fn, "skipped", skipped)
	}
	return points, nil
}

type pcdDataType int

const (
	pcdASCII pcdDataType = iota
	pcdBinary
	pcdCompressed
)

type pcdHeader struct {
	hasColor bool
	size     []int
	kind     []string
	width    int
	height   int
	points   int
	data     pcdDataType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	parseInts := func() ([]int, error) {
		wantFields := 3
		if header.hasColor {
			wantFields = 4
		}
		if len(tokens) != wantFields {
			return nil, errors.Errorf("unexpected number of fields in %s line", name)
		}
		out := make([]int, len(tokens))
		for i, token := range tokens {
			v, err := strconv.Atoi(token)
			if err != nil {
				return nil, errors.Errorf("invalid %s field %s", name, token)
			}
			out[i] = v
		}
		return out, nil
	}

	var err error
	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
			header.hasColor = false
		case "x y z rgb":
			header.hasColor = true
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		if header.size, err = parseInts(); err != nil {
			return err
		}
	case "TYPE":
		if len(tokens) != len(header.size) {
			return errors.Errorf("unexpected number of fields in %s line", name)
		}
		header.kind = tokens
		for i, k := range tokens {
			if i < 3 && (k != "F" || header.size[i] != 4) {
				return errors.Errorf("unsupported pcd position type %s%d", k, header.size[i])
			}
		}
	case "COUNT":
		counts, err := parseInts()
		if err != nil {
			return err
		}
		for _, c := range counts {
			if c != 1 {
				return errors.Errorf("unsupported pcd COUNT %s", value)
			}
		}
	case "WIDTH":
		if header.width, err = strconv.Atoi(value); err != nil || header.width < 0 {
			return errors.Errorf("invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		if header.height, err = strconv.Atoi(value); err != nil || header.height < 0 {
			return errors.Errorf("invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("VIEWPOINT must have 7 values, got %d", len(tokens))
		}
	case "POINTS":
		if header.points, err = strconv.Atoi(value); err != nil || header.points < 0 {
			return errors.Errorf("invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = pcdASCII
		case "binary":
			header.data = pcdBinary
		case "binary_compressed":
			header.data = pcdCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}
	return nil
}

// ReadPCD reads an ascii or binary PCD stream with fields "x y z" or "x y z rgb".
func ReadPCD(inRaw io.Reader) ([]Pos64Col32IShort, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Errorf("error reading header line %d: %s", headerLineCount, err)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	switch header.data {
	case pcdASCII:
		return readPCDASCII(in, header)
	case pcdBinary:
		return readPCDBinary(in, header)
	default:
		return nil, errors.New("compressed pcd not yet supported")
	}
}

func readPCDASCII(in *bufio.Reader, header pcdHeader) ([]Pos64Col32IShort, error) {
	points := make([]Pos64Col32IShort, 0, header.points)
	for i := 0; i < header.points; i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "reading pcd point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != len(header.size) {
			return nil, errors.Errorf("pcd point %d has %d values, expected %d", i, len(tokens), len(header.size))
		}
		var xyz [3]float64
		for j := 0; j < 3; j++ {
			if xyz[j], err = strconv.ParseFloat(tokens[j], 64); err != nil {
				return nil, errors.Wrapf(err, "pcd point %d", i)
			}
		}
		pt := Pos64Col32IShort{
			Position: r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]},
			Color:    color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		}
		if header.hasColor {
			c, err := parsePCDColor(tokens[3], header.kind[3])
			if err != nil {
				return nil, errors.Wrapf(err, "pcd point %d", i)
			}
			pt.Color = ColorFromPacked(c)
		}
		points = append(points, pt)
	}
	return points, nil
}

func parsePCDColor(token, kind string) (uint32, error) {
	if kind == "F" {
		f, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return 0, err
		}
		return math.Float32bits(float32(f)), nil
	}
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) ([]Pos64Col32IShort, error) {
	recordSize := 0
	for _, s := range header.size {
		recordSize += s
	}
	buf := make([]byte, recordSize)
	points := make([]Pos64Col32IShort, 0, header.points)
	for i := 0; i < header.points; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading pcd point %d", i)
		}
		pt := Pos64Col32IShort{
			Position: r3.Vector{
				X: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[0:]))),
				Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4:]))),
				Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8:]))),
			},
			Color: color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		}
		if header.hasColor {
			if header.size[3] != 4 {
				return nil, errors.Errorf("unsupported pcd rgb size %d", header.size[3])
			}
			pt.Color = ColorFromPacked(binary.LittleEndian.Uint32(buf[12:]))
		}
		points = append(points, pt)
	}
	return points, nil
}
