package loader

import (
	"context"
	"sync"

	"github.com/google/uuid"
	goutils "go.viam.com/utils"
)

type fetchResult[P any] struct {
	id     uuid.UUID
	points []P
	err    error
}

// fetchWorkers loads node files in the background. Jobs are handed over on a buffered channel
// whose capacity bounds the number of loads in flight, so submit never blocks. Finished loads are
// collected until the render thread drains them.
type fetchWorkers[P any] struct {
	source NodeSource[P]
	jobs   chan uuid.UUID

	cancelCtx  context.Context
	cancelFunc func()
	active     sync.WaitGroup

	mu      sync.Mutex
	results []fetchResult[P]
	stopped bool
}

func newFetchWorkers[P any](source NodeSource[P], workers, capacity int) *fetchWorkers[P] {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	fw := &fetchWorkers[P]{
		source:     source,
		jobs:       make(chan uuid.UUID, capacity),
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	fw.active.Add(workers)
	for i := 0; i < workers; i++ {
		goutils.PanicCapturingGo(func() {
			defer fw.active.Done()
			fw.run()
		})
	}
	return fw
}

func (fw *fetchWorkers[P]) run() {
	for {
		select {
		case <-fw.cancelCtx.Done():
			return
		case id := <-fw.jobs:
			points, err := fw.source.LoadNode(fw.cancelCtx, id)
			if fw.cancelCtx.Err() != nil {
				return
			}
			fw.mu.Lock()
			fw.results = append(fw.results, fetchResult[P]{id: id, points: points, err: err})
			fw.mu.Unlock()
		}
	}
}

// submit queues a load. The caller keeps the number of outstanding jobs within capacity.
func (fw *fetchWorkers[P]) submit(id uuid.UUID) bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.stopped {
		return false
	}
	select {
	case fw.jobs <- id:
		return true
	default:
		return false
	}
}

// drain returns and forgets every finished load.
func (fw *fetchWorkers[P]) drain() []fetchResult[P] {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	out := fw.results
	fw.results = nil
	return out
}

// stop cancels outstanding loads and waits for the workers to exit.
func (fw *fetchWorkers[P]) stop() {
	fw.mu.Lock()
	fw.stopped = true
	fw.mu.Unlock()
	fw.cancelFunc()
	fw.active.Wait()
}
