package loader

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/ooc/pointcloud"
)

// View is what the loader needs to know about the camera for one update.
type View struct {
	// ViewProjection is the combined model-view-projection matrix.
	ViewProjection mgl64.Mat4
	CameraPosition r3.Vector
	ViewportHeight int
	// FOV is the vertical field of view in radians.
	FOV float64
}

// NewPerspectiveView builds a View for a camera at eye looking at target.
func NewPerspectiveView(eye, target, up r3.Vector, fov, aspect, near, far float64, viewportHeight int) View {
	proj := mgl64.Perspective(fov, aspect, near, far)
	look := mgl64.LookAtV(toVec3(eye), toVec3(target), toVec3(up))
	return View{
		ViewProjection: proj.Mul4(look),
		CameraPosition: eye,
		ViewportHeight: viewportHeight,
		FOV:            fov,
	}
}

// Validate returns an error if the view cannot be used for culling.
func (v View) Validate() error {
	if v.ViewportHeight <= 0 {
		return errors.Errorf("invalid viewport height %d", v.ViewportHeight)
	}
	if !(v.FOV > 0 && v.FOV < math.Pi) {
		return errors.Errorf("invalid field of view %v", v.FOV)
	}
	if !pointcloud.IsFinite(v.CameraPosition) {
		return errors.Errorf("invalid camera position %v", v.CameraPosition)
	}
	if v.ViewProjection == mgl64.Ident4() || v.ViewProjection == (mgl64.Mat4{}) {
		return errors.New("view projection matrix is not set")
	}
	return nil
}

func toVec3(v r3.Vector) mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}

// A Frustum is six normalized planes (a, b, c, d) whose normals point inwards, in the order left,
// right, bottom, top, near, far.
type Frustum [6]mgl64.Vec4

// NewFrustum extracts the clip planes of a model-view-projection matrix.
func NewFrustum(m mgl64.Mat4) Frustum {
	x, y, z, w := m.Row(0), m.Row(1), m.Row(2), m.Row(3)
	f := Frustum{
		w.Add(x), w.Sub(x),
		w.Add(y), w.Sub(y),
		w.Add(z), w.Sub(z),
	}
	for i, p := range f {
		if l := p.Vec3().Len(); l > 0 {
			f[i] = p.Mul(1 / l)
		}
	}
	return f
}

// IntersectsCube reports whether the axis aligned cube is at least partially inside the frustum.
// The test is conservative: cubes near a frustum corner may be reported as intersecting.
func (f Frustum) IntersectsCube(center r3.Vector, size float64) bool {
	half := size / 2
	for _, p := range f {
		// the cube corner furthest along the plane normal
		v := mgl64.Vec3{
			center.X + math.Copysign(half, p[0]),
			center.Y + math.Copysign(half, p[1]),
			center.Z + math.Copysign(half, p[2]),
		}
		if p.Vec3().Dot(v)+p[3] < 0 {
			return false
		}
	}
	return true
}

// ProjectedSize estimates how many pixels an octant with the given center and side length covers
// on screen. It grows without bound as the camera approaches the center.
func ProjectedSize(v View, center r3.Vector, size float64) float64 {
	distance := v.CameraPosition.Distance(center)
	if distance == 0 {
		return math.Inf(1)
	}
	return float64(v.ViewportHeight) / 2 * size / (math.Tan(v.FOV/2) * distance)
}
