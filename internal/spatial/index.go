// Package spatial implements the bounded 2D index of §4.2: element id ->
// bounds, with nearby-lookup for conflict pruning. Adapted from the teacher's
// spatial.go (rtree.RTree-backed SpatialIndex keyed by stroke id) and
// generalized from strokes to arbitrary elements, plus the LRU-eviction
// ceiling §4.2(c) the teacher's version never had.
package spatial

import (
	"sync"
	"time"

	"github.com/tidwall/rtree"

	"whiteboardcore/internal/model"
)

// entry tracks an indexed element's bounds and last-touch time so the index
// can evict the least-recently-touched entry when over capacity.
type entry struct {
	id         string
	bounds     model.Bounds
	touchedAt  time.Time
}

// Index is a bounded 2D spatial index. Lookup is O(log n + k) via the
// underlying R-tree; nearby may return false positives (anything whose
// bounding box could plausibly overlap) but never misses a true overlap,
// since it widens by a small fixed margin (epsilon) and delegates final filtering
// to the caller.
type Index struct {
	mu       sync.RWMutex
	tree     *rtree.RTree
	byID     map[string]*entry
	capacity int
	lru      []*entry // touch order, oldest first; rebuilt lazily on evict
}

// New creates an index capped at capacity entries (0 = unbounded).
func New(capacity int) *Index {
	return &Index{
		tree:     &rtree.RTree{},
		byID:     make(map[string]*entry),
		capacity: capacity,
	}
}

// Add inserts or replaces the bounds for id.
func (idx *Index) Add(id string, b model.Bounds) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.byID[id]; ok {
		idx.removeLocked(old)
	}

	e := &entry{id: id, bounds: b, touchedAt: time.Now()}
	idx.byID[id] = e
	idx.tree.Insert(minPt(b), maxPt(b), e)
	idx.lru = append(idx.lru, e)

	idx.evictIfNeededLocked()
}

// Remove drops id from the index; a no-op if it is absent. Once removed,
// Nearby never returns stale bounds for this id again.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if e, ok := idx.byID[id]; ok {
		idx.removeLocked(e)
	}
}

func (idx *Index) removeLocked(e *entry) {
	idx.tree.Delete(minPt(e.bounds), maxPt(e.bounds), e)
	delete(idx.byID, e.id)
}

// Nearby returns element ids whose bounds may overlap b (widened slightly to
// guarantee no true overlap is missed by floating point edge cases).
func (idx *Index) Nearby(b model.Bounds) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var ids []string
	widened := model.Bounds{X: b.X - epsilon, Y: b.Y - epsilon, W: b.W + 2*epsilon, H: b.H + 2*epsilon}
	idx.tree.Search(minPt(widened), maxPt(widened), func(_, _ [2]float64, item interface{}) bool {
		e := item.(*entry)
		e.touchedAt = time.Now()
		ids = append(ids, e.id)
		return true
	})
	return ids
}

// Get returns the currently indexed bounds for id, if present.
func (idx *Index) Get(id string) (model.Bounds, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byID[id]
	if !ok {
		return model.Bounds{}, false
	}
	return e.bounds, true
}

// Len returns the number of indexed elements.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byID)
}

// evictIfNeededLocked drops the least-recently-touched entries until the
// index is back within capacity. Caller holds idx.mu.
func (idx *Index) evictIfNeededLocked() {
	if idx.capacity <= 0 || len(idx.byID) <= idx.capacity {
		return
	}
	// Rebuild lru in touch order; lazy rather than kept sorted on every touch.
	sortByTouch(idx.lru)
	for len(idx.byID) > idx.capacity && len(idx.lru) > 0 {
		oldest := idx.lru[0]
		idx.lru = idx.lru[1:]
		if cur, ok := idx.byID[oldest.id]; ok && cur == oldest {
			idx.removeLocked(oldest)
		}
	}
}

func sortByTouch(es []*entry) {
	// Small-n insertion sort; the eviction sweep only runs when over
	// capacity and capacity is sized in the thousands at most, not a hot path.
	for i := 1; i < len(es); i++ {
		for j := i; j > 0 && es[j].touchedAt.Before(es[j-1].touchedAt); j-- {
			es[j], es[j-1] = es[j-1], es[j]
		}
	}
}

const epsilon = 1e-6

func minPt(b model.Bounds) [2]float64 { return [2]float64{b.X, b.Y} }
func maxPt(b model.Bounds) [2]float64 { return [2]float64{b.X2(), b.Y2()} }
