package loader

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/ooc/octree"
	"go.viam.com/ooc/octreefile"
	"go.viam.com/ooc/pointcloud"
)

// fakeSource serves points straight from an in-memory octree.
type fakeSource struct {
	mu       sync.Mutex
	points   map[uuid.UUID][]pointcloud.Pos64Col32
	missing  map[uuid.UUID]bool
	failOnce map[uuid.UUID]bool
	// failLoadOnce fails the next LoadNode only; header peeks still succeed.
	failLoadOnce map[uuid.UUID]bool
	loads        map[uuid.UUID]int
	peeks        map[uuid.UUID]int
	gate         chan struct{}
	totalLoad    int
}

func newFakeSource(tree *octree.Octree[pointcloud.Pos64Col32]) *fakeSource {
	fs := &fakeSource{
		points:       map[uuid.UUID][]pointcloud.Pos64Col32{},
		missing:      map[uuid.UUID]bool{},
		failOnce:     map[uuid.UUID]bool{},
		failLoadOnce: map[uuid.UUID]bool{},
		loads:        map[uuid.UUID]int{},
		peeks:        map[uuid.UUID]int{},
	}
	for _, o := range tree.Octants() {
		fs.points[o.ID] = o.Points()
	}
	return fs
}

func (fs *fakeSource) LoadNode(ctx context.Context, id uuid.UUID) ([]pointcloud.Pos64Col32, error) {
	if fs.gate != nil {
		select {
		case <-fs.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.loads[id]++
	fs.totalLoad++
	if fs.failLoadOnce[id] {
		delete(fs.failLoadOnce, id)
		return nil, errors.New("read interrupted")
	}
	if err := fs.failure(id); err != nil {
		return nil, err
	}
	return fs.points[id], nil
}

func (fs *fakeSource) NodePointCount(ctx context.Context, id uuid.UUID) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.peeks[id]++
	if err := fs.failure(id); err != nil {
		return 0, err
	}
	return len(fs.points[id]), nil
}

func (fs *fakeSource) failure(id uuid.UUID) error {
	if fs.missing[id] {
		return errors.Wrapf(octreefile.ErrNodeMissing, "%s", id)
	}
	if fs.failOnce[id] {
		delete(fs.failOnce, id)
		return errors.New("disk on fire")
	}
	return nil
}

func (fs *fakeSource) loadCount(id uuid.UUID) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.loads[id]
}

func (fs *fakeSource) calls(id uuid.UUID) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.loads[id] + fs.peeks[id]
}

type fakeRenderer struct {
	mu       sync.Mutex
	resident map[uuid.UUID]int
	uploads  int
	releases int
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{resident: map[uuid.UUID]int{}}
}

func (r *fakeRenderer) Upload(id uuid.UUID, points []pointcloud.Pos64Col32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resident[id] = len(points)
	r.uploads++
}

func (r *fakeRenderer) Release(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resident, id)
	r.releases++
}

func (r *fakeRenderer) residentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resident)
}
