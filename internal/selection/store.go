// Package selection implements the Selection State Store of §4.9: per-user
// selection records, throttled/bounded ingestion, and ownership records with
// expiry. Grounded in the teacher's UserState tracking in ot.go (per-user
// cursor/viewport state keyed by room), generalized to full selection
// records with hard per-whiteboard limits the teacher never enforced.
package selection

import (
	"sync"
	"time"

	"whiteboardcore/internal/config"
	"whiteboardcore/internal/model"
)

// maxQueuedPerUser bounds the per-user ingest buffer; beyond this the
// oldest queued update is dropped (§4.9).
const maxQueuedPerUser = 10

// Update is one inbound selection-update request.
type Update struct {
	UserID       string
	UserName     string
	UserColor    string
	SessionID    string
	ElementIDs   []string
	Bounds       *model.Bounds
	MultiSelect  bool
	Priority     int
	Timestamp    time.Time
}

type boardState struct {
	selections map[string]*model.SelectionState     // user id -> state
	ownerships map[string]*model.SelectionOwnership // element id -> ownership
	lastAccept map[string]time.Time                 // user id -> last accepted update time
	queues     map[string][]Update                  // user id -> buffered updates
}

func newBoardState() *boardState {
	return &boardState{
		selections: make(map[string]*model.SelectionState),
		ownerships: make(map[string]*model.SelectionOwnership),
		lastAccept: make(map[string]time.Time),
		queues:     make(map[string][]Update),
	}
}

// Store holds every whiteboard's selection state. Each whiteboard is
// logically single-writer (§5) for the submit/clear path, which the engine's
// per-board queue already serializes; the Housekeeper's sweep loop runs on
// its own ticker goroutine outside that queue, though, so Store guards its
// maps with its own mutex rather than trusting every caller to serialize.
type Store struct {
	mu     sync.Mutex
	cfg    config.Config
	boards map[string]*boardState
	now    func() time.Time
}

func New(cfg config.Config) *Store {
	return &Store{cfg: cfg, boards: make(map[string]*boardState), now: time.Now}
}

func (s *Store) board(id string) *boardState {
	b, ok := s.boards[id]
	if !ok {
		b = newBoardState()
		s.boards[id] = b
	}
	return b
}

// Submit applies an update if the user's throttle window has elapsed, else
// buffers it (bounded, drop-oldest). Returns the applied state, or nil if
// the update was buffered rather than applied. Hard limits (§4.9) reject the
// update outright with LIMIT_EXCEEDED.
func (s *Store) Submit(whiteboardID string, upd Update) (*model.SelectionState, *model.CoreError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.board(whiteboardID)
	now := s.now()

	if len(upd.ElementIDs) > s.cfg.MaxElementsPerSelection {
		return nil, model.NewLimitExceeded("max_elements_per_selection")
	}
	if _, exists := b.selections[upd.UserID]; !exists {
		if countActive(b) >= s.cfg.MaxConcurrentUsersPerBoard {
			return nil, model.NewLimitExceeded("max_concurrent_users_per_board")
		}
		if len(b.selections) >= s.cfg.MaxSelectionsPerBoard {
			return nil, model.NewLimitExceeded("max_selections_per_board")
		}
	}

	if last, ok := b.lastAccept[upd.UserID]; ok && now.Sub(last) < s.cfg.SelectionThrottle {
		enqueue(b, upd)
		return nil, nil
	}

	state := s.apply(b, upd, now)
	s.drainLatest(b, upd.UserID, now)
	return state, nil
}

func countActive(b *boardState) int {
	n := 0
	for _, st := range b.selections {
		if st.Active {
			n++
		}
	}
	return n
}

func enqueue(b *boardState, upd Update) {
	q := append(b.queues[upd.UserID], upd)
	if len(q) > maxQueuedPerUser {
		q = q[len(q)-maxQueuedPerUser:]
	}
	b.queues[upd.UserID] = q
}

// drainLatest discards all but the most recent buffered update for userID
// and applies it if its own throttle window has since elapsed — older
// buffered updates are stale the moment a newer one has been accepted.
func (s *Store) drainLatest(b *boardState, userID string, now time.Time) {
	q := b.queues[userID]
	if len(q) == 0 {
		return
	}
	latest := q[len(q)-1]
	b.queues[userID] = nil
	if now.Sub(b.lastAccept[userID]) >= s.cfg.SelectionThrottle {
		s.apply(b, latest, now)
	}
}

func (s *Store) apply(b *boardState, upd Update, now time.Time) *model.SelectionState {
	state := &model.SelectionState{
		UserID:       upd.UserID,
		UserName:     upd.UserName,
		UserColor:    upd.UserColor,
		WhiteboardID: "",
		SessionID:    upd.SessionID,
		ElementIDs:   upd.ElementIDs,
		Bounds:       upd.Bounds,
		Timestamp:    now,
		MultiSelect:  upd.MultiSelect,
		Priority:     upd.Priority,
		Active:       true,
		LastSeen:     now,
	}
	b.selections[upd.UserID] = state
	b.lastAccept[upd.UserID] = now
	return state
}

// Clear removes a user's selection and returns whether one existed.
func (s *Store) Clear(whiteboardID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.board(whiteboardID)
	if _, ok := b.selections[userID]; !ok {
		return false
	}
	delete(b.selections, userID)
	delete(b.lastAccept, userID)
	delete(b.queues, userID)
	return true
}

// Active returns every active selection on a whiteboard, other than
// excludeUser when non-empty (useful for conflict scans against "other
// users'" selections).
func (s *Store) Active(whiteboardID, excludeUser string) []*model.SelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.board(whiteboardID)
	var out []*model.SelectionState
	for uid, st := range b.selections {
		if uid == excludeUser || !st.Active {
			continue
		}
		out = append(out, st)
	}
	return out
}

// MarkInactive flips Active=false for any selection unseen for
// selection_timeout_ms, per §4.9's lifecycle rule. Returns how many changed.
func (s *Store) MarkInactive(whiteboardID string, timeout time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.board(whiteboardID)
	now := s.now()
	n := 0
	for _, st := range b.selections {
		if st.Active && now.Sub(st.LastSeen) > timeout {
			st.Active = false
			n++
		}
	}
	return n
}

// EvictStale physically removes selections unseen longer than maxStale, per
// the Housekeeper's responsibility in §4.9/§4.12.
func (s *Store) EvictStale(whiteboardID string, maxStale time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.board(whiteboardID)
	now := s.now()
	n := 0
	for uid, st := range b.selections {
		if now.Sub(st.LastSeen) > maxStale {
			delete(b.selections, uid)
			delete(b.lastAccept, uid)
			delete(b.queues, uid)
			n++
		}
	}
	return n
}

// GrantOwnership records an ownership with an absolute expiry, overwriting
// any prior (expired or not) ownership for the same element — callers are
// responsible for only granting to a winner (§4.10).
func (s *Store) GrantOwnership(whiteboardID string, o *model.SelectionOwnership) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.board(whiteboardID)
	b.ownerships[o.ElementID] = o
}

// Ownership returns the current ownership for elementID, treating expired
// records as absent per §3's read-time expiry rule.
func (s *Store) Ownership(whiteboardID, elementID string) (*model.SelectionOwnership, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.board(whiteboardID)
	o, ok := b.ownerships[elementID]
	if !ok || o.Expired(s.now()) {
		return nil, false
	}
	return o, true
}

// EvictExpiredOwnerships physically drops expired ownership records.
func (s *Store) EvictExpiredOwnerships(whiteboardID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.board(whiteboardID)
	now := s.now()
	n := 0
	for id, o := range b.ownerships {
		if o.Expired(now) {
			delete(b.ownerships, id)
			n++
		}
	}
	return n
}

// BoardIDs returns every whiteboard id the store currently holds state for,
// used by the Housekeeper to drive its per-board sweep without the engine
// having to track board membership twice.
func (s *Store) BoardIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.boards))
	for id := range s.boards {
		ids = append(ids, id)
	}
	return ids
}

// CountActiveUsers reports the number of active selections on a board, used
// by PerformanceMetrics.ActiveUsers.
func (s *Store) CountActiveUsers(whiteboardID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.board(whiteboardID)
	n := 0
	for _, st := range b.selections {
		if st.Active {
			n++
		}
	}
	return n
}
