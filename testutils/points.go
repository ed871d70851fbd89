package testutils

import (
	"image/color"
	"math/rand"

	"github.com/golang/geo/r3"

	"go.viam.com/ooc/pointcloud"
)

// CubeCorners returns the eight corners of the unit cube [0,1]³.
func CubeCorners() []pointcloud.Pos64 {
	points := make([]pointcloud.Pos64, 0, 8)
	for i := 0; i < 8; i++ {
		points = append(points, pointcloud.Pos64{Position: r3.Vector{
			X: float64(i & 1),
			Y: float64(i >> 1 & 1),
			Z: float64(i >> 2 & 1),
		}})
	}
	return points
}

// RandomCloud returns n points spread uniformly over a cube with the given side, using a fixed
// seed so repeated calls return the same points.
func RandomCloud(seed int64, n int, side float64) []pointcloud.Pos64Col32 {
	//nolint:gosec
	rng := rand.New(rand.NewSource(seed))
	points := make([]pointcloud.Pos64Col32, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, pointcloud.Pos64Col32{
			Position: r3.Vector{X: rng.Float64() * side, Y: rng.Float64() * side, Z: rng.Float64() * side},
			Color:    color.NRGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255},
		})
	}
	return points
}

// ClusteredCloud returns n points within a tiny sphere of the given radius around center, which
// forces deep subdivision.
func ClusteredCloud(seed int64, n int, center r3.Vector, radius float64) []pointcloud.Pos64 {
	//nolint:gosec
	rng := rand.New(rand.NewSource(seed))
	points := make([]pointcloud.Pos64, 0, n)
	for i := 0; i < n; i++ {
		offset := r3.Vector{X: rng.Float64()*2 - 1, Y: rng.Float64()*2 - 1, Z: rng.Float64()*2 - 1}
		points = append(points, pointcloud.Pos64{Position: center.Add(offset.Mul(radius))})
	}
	return points
}

// Duplicates returns n copies of the same point.
func Duplicates(n int, at r3.Vector) []pointcloud.Pos64 {
	points := make([]pointcloud.Pos64, n)
	for i := range points {
		points[i].Position = at
	}
	return points
}
