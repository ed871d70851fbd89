// Package loader streams the points of a persisted octree in and out of memory as the camera
// moves.
//
// Every update walks the topology from the root, always expanding the octant that covers the
// most screen space next. Octants outside the view frustum or too small on screen are skipped,
// and the walk stops once the accepted octants hold more points than the point budget. Points of
// newly visible octants are read from their node files, either right away or by background
// workers that hand them over on a later update, and points of octants that are no longer
// visible are dropped.
package loader

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/ooc/octree"
	"go.viam.com/ooc/octreefile"
)

// NodeSource provides the points of single octants. *octreefile.Dataset is the usual
// implementation.
type NodeSource[P any] interface {
	LoadNode(ctx context.Context, id uuid.UUID) ([]P, error)
	// NodePointCount returns the number of points of an octant without loading them.
	NodePointCount(ctx context.Context, id uuid.UUID) (int, error)
}

// A Renderer is told when the points of an octant become resident and when they are dropped.
// After Release it must no longer use the points it was given.
type Renderer[P any] interface {
	Upload(id uuid.UUID, points []P)
	Release(id uuid.UUID)
}

// Config controls what an update selects and how it loads.
type Config struct {
	// PointBudget stops the walk once the accepted octants hold more points than this.
	PointBudget int
	// MinProjectedSize culls octants that cover fewer pixels. If zero, the threshold is the root's
	// projected size times MinProjectedSizeModifier.
	MinProjectedSize         float64
	MinProjectedSizeModifier float64
	// MaxNodesToLoad caps the number of loads queued per update in async mode, and the number of
	// loads in flight.
	MaxNodesToLoad int
	// UpdateInterval throttles updates. An update that comes sooner returns the previous result.
	UpdateInterval time.Duration
	Async          bool
	FetchWorkers   int
}

// DefaultConfig returns the settings used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		PointBudget:              1000000,
		MinProjectedSizeModifier: 0.1,
		MaxNodesToLoad:           5,
		UpdateInterval:           33 * time.Millisecond,
		FetchWorkers:             2,
	}
}

// Validate returns an error for settings the loader cannot work with.
func (cfg Config) Validate() error {
	if cfg.PointBudget <= 0 {
		return errors.Errorf("invalid point budget %d", cfg.PointBudget)
	}
	if cfg.MinProjectedSize < 0 || cfg.MinProjectedSizeModifier < 0 {
		return errors.New("minimum projected size must not be negative")
	}
	if cfg.UpdateInterval < 0 {
		return errors.Errorf("invalid update interval %v", cfg.UpdateInterval)
	}
	if cfg.Async {
		if cfg.MaxNodesToLoad <= 0 {
			return errors.Errorf("invalid max nodes to load %d", cfg.MaxNodesToLoad)
		}
		if cfg.FetchWorkers <= 0 {
			return errors.Errorf("invalid number of fetch workers %d", cfg.FetchWorkers)
		}
	}
	return nil
}

// Option configures a Loader.
type Option[P any] func(*Loader[P])

// WithClock replaces the wall clock used for throttling.
func WithClock[P any](c clock.Clock) Option[P] {
	return func(l *Loader[P]) {
		l.clock = c
	}
}

// WithRenderer registers a renderer to notify about resident points.
func WithRenderer[P any](r Renderer[P]) Option[P] {
	return func(l *Loader[P]) {
		l.renderer = r
	}
}

// Stats counts what the loader did since it was created.
type Stats struct {
	Updates    int
	Throttled  int
	Loads      int
	Evictions  int
	LoadErrors int
	// Discarded counts async loads that finished after their octant stopped being visible.
	Discarded      int
	Unloadable     int
	ResidentNodes  int
	ResidentPoints int
}

// nodeState is the runtime state of one octant. It lives here rather than on the octant so that
// the topology stays read-only.
type nodeState[P any] struct {
	octant *octree.Octant[P]
	points []P
	loaded bool

	count      int
	countKnown bool
	// empty octants have no node file and nothing to load.
	empty      bool
	unloadable bool
	pending    bool
}

// A Loader keeps the points of the currently visible octants in memory.
type Loader[P any] struct {
	tree     *octree.Octree[P]
	source   NodeSource[P]
	cfg      Config
	logger   golog.Logger
	clock    clock.Clock
	renderer Renderer[P]
	fetcher  *fetchWorkers[P]

	mu            sync.Mutex
	nodes         map[uuid.UUID]*nodeState[P]
	visible       *VisibleSet[P]
	lastTraversal time.Time
	inflight      int
	stats         Stats
	closed        bool
}

// New returns a Loader over the topology in tree, reading points from source.
func New[P any](
	tree *octree.Octree[P],
	source NodeSource[P],
	cfg Config,
	logger golog.Logger,
	opts ...Option[P],
) (*Loader[P], error) {
	if tree == nil || tree.Root == nil {
		return nil, errors.New("loader needs an octree with a root")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Loader[P]{
		tree:   tree,
		source: source,
		cfg:    cfg,
		logger: logger,
		clock:  clock.New(),
		nodes:  make(map[uuid.UUID]*nodeState[P]),
	}
	for _, opt := range opts {
		opt(l)
	}
	if cfg.Async {
		l.fetcher = newFetchWorkers(source, cfg.FetchWorkers, cfg.MaxNodesToLoad)
	}
	return l, nil
}

// NewFromDataset returns a Loader over an index opened with octreefile.Read.
func NewFromDataset[P any](ds *octreefile.Dataset[P], cfg Config, logger golog.Logger, opts ...Option[P]) (*Loader[P], error) {
	return New[P](ds.Tree, ds, cfg, logger, opts...)
}

// Update selects the visible octants for view and brings their points into memory. Per-octant load
// failures never fail the update; they only make fewer points visible.
func (l *Loader[P]) Update(ctx context.Context, view View) (*VisibleSet[P], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := view.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.New("loader is closed")
	}

	now := l.clock.Now()
	if l.cfg.UpdateInterval > 0 && l.visible != nil && now.Sub(l.lastTraversal) < l.cfg.UpdateInterval {
		l.stats.Throttled++
		return l.visible, nil
	}

	ctx, span := trace.StartSpan(ctx, "loader::Loader::Update")
	defer span.End()

	if l.fetcher != nil {
		l.applyFetched()
	}

	accepted, err := l.traverse(ctx, view)
	if err != nil {
		return nil, err
	}
	if l.fetcher != nil {
		l.queueAccepted(accepted)
	}
	for i := range accepted {
		st := l.nodes[accepted[i].ID]
		accepted[i].Loaded = st.loaded
		accepted[i].Points = st.points
	}

	next := newVisibleSet(accepted)
	l.evict(next)
	l.visible = next
	l.lastTraversal = now
	l.stats.Updates++
	return next, nil
}

func (l *Loader[P]) node(o *octree.Octant[P]) *nodeState[P] {
	st, ok := l.nodes[o.ID]
	if !ok {
		st = &nodeState[P]{octant: o}
		l.nodes[o.ID] = st
	}
	return st
}

// traverse picks octants by decreasing projected size until the budget is spent. The root is the
// first candidate. Without fetch workers it also loads every octant it accepts; an octant that
// fails to load is skipped together with its subtree.
func (l *Loader[P]) traverse(ctx context.Context, view View) ([]VisibleNode[P], error) {
	root := l.tree.Root
	frustum := NewFrustum(view.ViewProjection)
	minSize := l.cfg.MinProjectedSize
	if minSize == 0 {
		minSize = ProjectedSize(view, root.Center, root.Size) * l.cfg.MinProjectedSizeModifier
	}

	var queue candidateQueue[P]
	consider := func(o *octree.Octant[P]) {
		if l.node(o).unloadable || !frustum.IntersectsCube(o.Center, o.Size) {
			return
		}
		size := ProjectedSize(view, o.Center, o.Size)
		if size < minSize {
			return
		}
		queue.push(candidate[P]{octant: o, projectedSize: size})
	}
	consider(root)

	var accepted []VisibleNode[P]
	total := 0
	for queue.Len() > 0 && total <= l.cfg.PointBudget {
		c := queue.pop()
		count, ok, err := l.pointCount(ctx, l.node(c.octant))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if l.fetcher == nil {
			// an octant that failed to load is not charged against the budget
			st := l.node(c.octant)
			if !st.loaded && !l.load(ctx, st) {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				continue
			}
			count = len(st.points)
		}
		total += count
		accepted = append(accepted, VisibleNode[P]{
			ID:            c.octant.ID,
			Octant:        c.octant,
			ProjectedSize: c.projectedSize,
			PointCount:    count,
		})
		if c.octant.IsLeaf {
			continue
		}
		for _, child := range c.octant.Children {
			if child != nil {
				consider(child)
			}
		}
	}
	return accepted, nil
}

// pointCount returns what an octant counts against the budget. Unless it is resident, that is the
// count from its node file header, read once. ok is false if the octant must be skipped.
func (l *Loader[P]) pointCount(ctx context.Context, st *nodeState[P]) (int, bool, error) {
	if st.loaded {
		return len(st.points), true, nil
	}
	if st.countKnown {
		return st.count, true, nil
	}
	n, err := l.source.NodePointCount(ctx, st.octant.ID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, false, ctxErr
		}
		l.handleLoadError(st, err)
		return st.count, st.countKnown, nil
	}
	st.count, st.countKnown = n, true
	return n, true, nil
}

// handleLoadError classifies a failed read of an octant's node file. A missing file is expected
// for internal octants without points; for a leaf it, like a corrupt file, means the index is
// damaged and the octant is never tried again. Anything else is retried later.
func (l *Loader[P]) handleLoadError(st *nodeState[P], err error) {
	id := st.octant.ID
	switch {
	case errors.Is(err, octreefile.ErrNodeMissing) && !st.octant.IsLeaf:
		st.empty = true
		st.count, st.countKnown = 0, true
	case errors.Is(err, octreefile.ErrNodeMissing), errors.Is(err, octreefile.ErrFormat):
		st.unloadable = true
		l.stats.Unloadable++
		l.logger.Errorw("octant cannot be loaded and will be skipped", "id", id, "level", st.octant.Level, "error", err)
	default:
		l.stats.LoadErrors++
		l.logger.Warnw("failed to load octant, will retry", "id", id, "error", err)
	}
}

func (l *Loader[P]) load(ctx context.Context, st *nodeState[P]) bool {
	if st.empty {
		st.loaded = true
		return true
	}
	points, err := l.source.LoadNode(ctx, st.octant.ID)
	if err != nil {
		l.handleLoadError(st, err)
		if st.empty {
			st.loaded = true
			return true
		}
		return false
	}
	l.makeResident(st, points)
	return true
}

func (l *Loader[P]) makeResident(st *nodeState[P], points []P) {
	st.points = points
	st.loaded = true
	st.count, st.countKnown = len(points), true
	l.stats.Loads++
	if l.renderer != nil {
		l.renderer.Upload(st.octant.ID, points)
	}
}

// queueAccepted hands octants that are not resident to the fetch workers, largest first.
func (l *Loader[P]) queueAccepted(accepted []VisibleNode[P]) {
	queued := 0
	for _, n := range accepted {
		if queued >= l.cfg.MaxNodesToLoad || l.inflight >= l.cfg.MaxNodesToLoad {
			return
		}
		st := l.nodes[n.ID]
		if st.loaded || st.pending {
			continue
		}
		if st.empty {
			st.loaded = true
			continue
		}
		if !l.fetcher.submit(n.ID) {
			return
		}
		st.pending = true
		l.inflight++
		queued++
	}
}

// applyFetched takes over loads that finished since the last update. Loads for octants that were
// not visible in the last update are thrown away.
func (l *Loader[P]) applyFetched() {
	for _, r := range l.fetcher.drain() {
		l.inflight--
		st, ok := l.nodes[r.id]
		if !ok {
			continue
		}
		st.pending = false
		if r.err != nil {
			l.handleLoadError(st, r.err)
			if st.empty {
				st.loaded = true
			}
			continue
		}
		if l.visible == nil || !l.visible.Contains(r.id) || st.unloadable {
			l.stats.Discarded++
			continue
		}
		l.makeResident(st, r.points)
	}
}

// evict drops the points of every resident octant that is not part of next.
func (l *Loader[P]) evict(next *VisibleSet[P]) {
	for id, st := range l.nodes {
		if !st.loaded || next.Contains(id) {
			continue
		}
		l.release(st)
	}
}

func (l *Loader[P]) release(st *nodeState[P]) {
	hadPoints := !st.empty
	st.points = nil
	st.loaded = false
	if !hadPoints {
		return
	}
	l.stats.Evictions++
	if l.renderer != nil {
		l.renderer.Release(st.octant.ID)
	}
}

// WasLoaded reports whether the octant's points are resident.
func (l *Loader[P]) WasLoaded(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.nodes[id]
	return ok && st.loaded
}

// Visible returns the result of the last update, or nil before the first one.
func (l *Loader[P]) Visible() *VisibleSet[P] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visible
}

// Stats returns counters and the current memory footprint.
func (l *Loader[P]) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	for _, st := range l.nodes {
		if st.loaded && !st.empty {
			s.ResidentNodes++
			s.ResidentPoints += len(st.points)
		}
	}
	return s
}

// Close stops the fetch workers and releases all resident points.
func (l *Loader[P]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.fetcher != nil {
		l.fetcher.stop()
	}
	for _, st := range l.nodes {
		if st.loaded {
			l.release(st)
		}
	}
	l.visible = nil
	return nil
}
