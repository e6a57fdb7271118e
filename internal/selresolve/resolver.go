// Package selresolve implements the Selection Conflict Resolver of §4.10:
// per-element multi-user selection overlap detection, strategy-based
// resolution (priority/timestamp/ownership/shared), automatic resolution
// timeouts, and force-resolution once an element accrues too many active
// conflicts. Grounded in the teacher's room-level user tracking in
// websocket/hub.go (broadcast membership per room), generalized to
// per-element contention records the teacher never modeled.
package selresolve

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"whiteboardcore/internal/config"
	"whiteboardcore/internal/model"
	"whiteboardcore/internal/selection"
)

const (
	StrategyPriority  = "priority"
	StrategyTimestamp = "timestamp"
	StrategyOwnership = "ownership"
	StrategyShared    = "shared"
)

// Resolver tracks active selection conflicts per whiteboard, keyed by
// element id, and resolves them per the configured strategy. The engine's
// per-board queue serializes OnSelectionAccepted/ResolveByID/Active against
// each other, but the Housekeeper's CheckAutoResolve/Sweep run from its own
// ticker goroutine outside that queue, so the exported entry points guard
// Resolver's maps with their own mutex.
type Resolver struct {
	mu     sync.Mutex
	cfg    config.Config
	store  *selection.Store
	active map[string]map[string][]*model.SelectionConflict // whiteboard -> element -> conflicts
	now    func() time.Time
}

func New(cfg config.Config, store *selection.Store) *Resolver {
	return &Resolver{
		cfg:    cfg,
		store:  store,
		active: make(map[string]map[string][]*model.SelectionConflict),
		now:    time.Now,
	}
}

func (r *Resolver) board(whiteboardID string) map[string][]*model.SelectionConflict {
	b, ok := r.active[whiteboardID]
	if !ok {
		b = make(map[string][]*model.SelectionConflict)
		r.active[whiteboardID] = b
	}
	return b
}

// OnSelectionAccepted scans every element id in the just-accepted selection
// against other active selections on the same whiteboard, creating a
// SelectionConflict for any element more than one user currently selects.
// Strategy, defaulting to the configured one, is immediately applied.
func (r *Resolver) OnSelectionAccepted(whiteboardID string, state *model.SelectionState, strategy string) []*model.SelectionConflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strategy == "" {
		strategy = r.cfg.ConflictStrategy
	}
	b := r.board(whiteboardID)
	others := r.store.Active(whiteboardID, state.UserID)

	var created []*model.SelectionConflict
	for _, elementID := range state.ElementIDs {
		var contenders []model.Contender
		contenders = append(contenders, model.Contender{
			UserID: state.UserID, UserName: state.UserName, Priority: state.Priority, Timestamp: state.Timestamp,
		})
		for _, other := range others {
			if containsString(other.ElementIDs, elementID) {
				contenders = append(contenders, model.Contender{
					UserID: other.UserID, UserName: other.UserName, Priority: other.Priority, Timestamp: other.Timestamp,
				})
			}
		}
		if len(contenders) < 2 {
			continue
		}

		rec := &model.SelectionConflict{
			ID:         uuid.NewString(),
			ElementID:  elementID,
			Contenders: contenders,
			CreatedAt:  r.now(),
		}
		r.Resolve(whiteboardID, rec, strategy)
		b[elementID] = append(b[elementID], rec)
		created = append(created, rec)

		r.enforceMaxConflicts(whiteboardID, elementID)
	}
	return created
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// enforceMaxConflicts force-resolves the oldest active conflict for
// elementID with the ownership strategy (an existing owner among the
// contenders keeps the element, otherwise the highest-priority contender
// wins) once the count exceeds max_conflicts_per_element, per §4.10.
func (r *Resolver) enforceMaxConflicts(whiteboardID, elementID string) {
	b := r.board(whiteboardID)
	list := b[elementID]
	activeCount := 0
	var oldest *model.SelectionConflict
	for _, c := range list {
		if !c.IsTerminal() {
			activeCount++
			if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
				oldest = c
			}
		}
	}
	if activeCount > r.cfg.MaxConflictsPerElement && oldest != nil {
		r.Resolve(whiteboardID, oldest, StrategyOwnership)
	}
}

// Resolve applies strategy to rec, granting ownership when the strategy
// selects a single winner, and marks rec terminal in every case ("shared"
// is resolved immediately too, just without an exclusive owner).
func (r *Resolver) Resolve(whiteboardID string, rec *model.SelectionConflict, strategy string) {
	now := r.now()

	switch strategy {
	case StrategyShared:
		rec.Resolution = model.ResShared
		rec.ResolvedAt = &now
		return

	case StrategyTimestamp:
		winner := earliestContender(rec.Contenders)
		r.grant(whiteboardID, rec, winner, now)
		return

	case StrategyOwnership:
		if owner, ok := r.store.Ownership(whiteboardID, rec.ElementID); ok {
			for _, c := range rec.Contenders {
				if c.UserID == owner.OwnerID {
					r.grant(whiteboardID, rec, c, now)
					return
				}
			}
		}
		r.grant(whiteboardID, rec, highestPriorityContender(rec.Contenders), now)
		return

	default: // priority
		r.grant(whiteboardID, rec, highestPriorityContender(rec.Contenders), now)
	}
}

func (r *Resolver) grant(whiteboardID string, rec *model.SelectionConflict, winner model.Contender, now time.Time) {
	rec.ResolvedBy = winner.UserID
	rec.Resolution = model.ResOwnership
	rec.ResolvedAt = &now

	r.store.GrantOwnership(whiteboardID, &model.SelectionOwnership{
		ElementID:  rec.ElementID,
		OwnerID:    winner.UserID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(r.cfg.OwnershipTimeout),
		LockReason: model.LockEditing,
	})
}

func highestPriorityContender(cs []model.Contender) model.Contender {
	sorted := append([]model.Contender(nil), cs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].UserID < sorted[j].UserID
	})
	return sorted[0]
}

func earliestContender(cs []model.Contender) model.Contender {
	sorted := append([]model.Contender(nil), cs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted[0]
}

// ResolveByID implements the external `resolve_conflict` verb of §6: an
// external resolver (a human via the UI, typically) picks the outcome for
// one still-active conflict by id. "cancel" abandons the conflict without
// granting ownership — recorded as a manual resolution since a human, not a
// strategy, made the call.
func (r *Resolver) ResolveByID(whiteboardID, conflictID, resolverID, resolution string) (*model.SelectionConflict, *model.CoreError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.board(whiteboardID)
	for _, list := range b {
		for _, c := range list {
			if c.ID != conflictID {
				continue
			}
			if c.IsTerminal() {
				return c, model.NewTransactionInvalid("conflict already resolved")
			}
			now := r.now()
			switch resolution {
			case "ownership":
				for _, cand := range c.Contenders {
					if cand.UserID == resolverID {
						r.grant(whiteboardID, c, cand, now)
						return c, nil
					}
				}
				return nil, model.NewValidationError("resolver_id", "not_a_contender", "resolver is not a contender on this conflict")
			case "shared":
				c.Resolution = model.ResShared
				c.ResolvedBy = resolverID
				c.ResolvedAt = &now
				return c, nil
			case "cancel":
				c.Resolution = model.ResManual
				c.ResolvedBy = resolverID
				c.ResolvedAt = &now
				return c, nil
			default:
				return nil, model.NewValidationError("resolution", "enum", "unknown resolution kind")
			}
		}
	}
	return nil, model.NewValidationError("conflict_id", "not_found", "no active conflict with that id")
}

// CheckAutoResolve sweeps every whiteboard for conflicts still active past
// conflict_resolution_timeout_ms and force-resolves them with the
// configured default strategy, per §4.10.
func (r *Resolver) CheckAutoResolve() []*model.SelectionConflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var resolved []*model.SelectionConflict
	for whiteboardID, elements := range r.active {
		for _, list := range elements {
			for _, c := range list {
				if !c.IsTerminal() && now.Sub(c.CreatedAt) > r.cfg.ConflictResolutionTimeout {
					r.Resolve(whiteboardID, c, r.cfg.ConflictStrategy)
					resolved = append(resolved, c)
				}
			}
		}
	}
	return resolved
}

// Sweep drops terminal conflict records older than retention.
func (r *Resolver) Sweep(retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for _, elements := range r.active {
		for elementID, list := range elements {
			kept := list[:0]
			for _, c := range list {
				if c.IsTerminal() && now.Sub(*c.ResolvedAt) > retention {
					removed++
					continue
				}
				kept = append(kept, c)
			}
			elements[elementID] = kept
		}
	}
	return removed
}

// Active returns every currently-active conflict on whiteboardID,
// used by get_state.
func (r *Resolver) Active(whiteboardID string) []*model.SelectionConflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.SelectionConflict
	for _, list := range r.board(whiteboardID) {
		for _, c := range list {
			if !c.IsTerminal() {
				out = append(out, c)
			}
		}
	}
	return out
}
