package pointcloud

import (
	"encoding/json"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// IsFinite reports whether every component of v is a finite number.
func IsFinite(v r3.Vector) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// PointType describes which fields a raw point record carries. It is written into the index
// metadata so that other consumers can configure their own decoding.
type PointType struct {
	HasPositionFloat3_64 bool
	HasColorFloat32      bool
	HasIntensityUInt_16  bool
	HasNormalFloat3_32   bool
	HasLabelUInt_8       bool
}

// Fields returns the names of the flags that are set, in a fixed order.
func (pt PointType) Fields() []string {
	var names []string
	for _, f := range pt.flags() {
		if f.set {
			names = append(names, f.name)
		}
	}
	return names
}

type pointTypeFlag struct {
	name string
	set  bool
	ptr  *bool
}

func (pt *PointType) flags() []pointTypeFlag {
	return []pointTypeFlag{
		{"HasPositionFloat3_64", pt.HasPositionFloat3_64, &pt.HasPositionFloat3_64},
		{"HasColorFloat32", pt.HasColorFloat32, &pt.HasColorFloat32},
		{"HasIntensityUInt_16", pt.HasIntensityUInt_16, &pt.HasIntensityUInt_16},
		{"HasNormalFloat3_32", pt.HasNormalFloat3_32, &pt.HasNormalFloat3_32},
		{"HasLabelUInt_8", pt.HasLabelUInt_8, &pt.HasLabelUInt_8},
	}
}

// MarshalJSON writes only the flags that are set, each as `"Name": true`.
func (pt PointType) MarshalJSON() ([]byte, error) {
	out := make(map[string]bool)
	for _, name := range pt.Fields() {
		out[name] = true
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads an object of boolean flags. Unknown flags are an error so that a consumer
// never silently misreads a record layout it does not understand.
func (pt *PointType) UnmarshalJSON(data []byte) error {
	var in map[string]bool
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*pt = PointType{}
	flags := pt.flags()
	for name, set := range in {
		found := false
		for _, f := range flags {
			if f.name == name {
				*f.ptr = set
				found = true
				break
			}
		}
		if !found {
			return errors.Errorf("unknown point type flag %q", name)
		}
	}
	return nil
}
