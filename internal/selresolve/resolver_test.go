package selresolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whiteboardcore/internal/config"
	"whiteboardcore/internal/model"
	"whiteboardcore/internal/selection"
)

func setup() (*selection.Store, *Resolver) {
	cfg := config.Default()
	store := selection.New(cfg)
	return store, New(cfg, store)
}

func TestOnSelectionAcceptedCreatesConflictForSharedElement(t *testing.T) {
	store, r := setup()
	a, _ := store.Submit("wb1", selection.Update{UserID: "a", ElementIDs: []string{"e1"}, Priority: 1})
	r.OnSelectionAccepted("wb1", a, "")

	time.Sleep(time.Millisecond) // b's timestamp lands after a's; the throttle is per user, so b is not throttled by a
	b, _ := store.Submit("wb1", selection.Update{UserID: "b", ElementIDs: []string{"e1"}, Priority: 5})
	require.NotNil(t, b)

	created := r.OnSelectionAccepted("wb1", b, "priority")
	require.Len(t, created, 1)
	require.Len(t, created[0].Contenders, 2)
}

func TestPriorityStrategyGrantsToHighestPriority(t *testing.T) {
	store, r := setup()
	rec := &model.SelectionConflict{
		ID:        "c1",
		ElementID: "e1",
		Contenders: []model.Contender{
			{UserID: "a", Priority: 1},
			{UserID: "b", Priority: 9},
		},
		CreatedAt: time.Now(),
	}
	r.Resolve("wb1", rec, StrategyPriority)
	require.True(t, rec.IsTerminal())
	require.Equal(t, "b", rec.ResolvedBy)

	o, ok := store.Ownership("wb1", "e1")
	require.True(t, ok)
	require.Equal(t, "b", o.OwnerID)
}

func TestTimestampStrategyGrantsToEarliest(t *testing.T) {
	_, r := setup()
	now := time.Now()
	rec := &model.SelectionConflict{
		ElementID: "e1",
		Contenders: []model.Contender{
			{UserID: "a", Timestamp: now.Add(time.Second)},
			{UserID: "b", Timestamp: now},
		},
		CreatedAt: now,
	}
	r.Resolve("wb1", rec, StrategyTimestamp)
	require.Equal(t, "b", rec.ResolvedBy)
}

func TestSharedStrategyResolvesWithNoOwner(t *testing.T) {
	store, r := setup()
	rec := &model.SelectionConflict{ElementID: "e1", Contenders: []model.Contender{{UserID: "a"}, {UserID: "b"}}, CreatedAt: time.Now()}
	r.Resolve("wb1", rec, StrategyShared)
	require.True(t, rec.IsTerminal())
	require.Equal(t, model.ResShared, rec.Resolution)

	_, ok := store.Ownership("wb1", "e1")
	require.False(t, ok)
}

func TestOwnershipStrategyFavorsExistingOwner(t *testing.T) {
	store, r := setup()
	now := time.Now()
	store.GrantOwnership("wb1", &model.SelectionOwnership{ElementID: "e1", OwnerID: "a", ExpiresAt: now.Add(time.Minute)})

	rec := &model.SelectionConflict{
		ElementID: "e1",
		Contenders: []model.Contender{
			{UserID: "a", Priority: 1},
			{UserID: "b", Priority: 9},
		},
		CreatedAt: now,
	}
	r.Resolve("wb1", rec, StrategyOwnership)
	require.Equal(t, "a", rec.ResolvedBy)
}

func TestCheckAutoResolveForcesTimeout(t *testing.T) {
	store, r := setup()
	frozen := time.Now()
	r.now = func() time.Time { return frozen }
	store.GrantOwnership("wb1", &model.SelectionOwnership{ElementID: "e1", ExpiresAt: frozen.Add(time.Hour)})

	_ = r.board("wb1") // ensure board exists
	rec := &model.SelectionConflict{ID: "c1", ElementID: "e1", Contenders: []model.Contender{{UserID: "a"}, {UserID: "b"}}, CreatedAt: frozen}
	r.active["wb1"]["e1"] = append(r.active["wb1"]["e1"], rec)

	r.now = func() time.Time { return frozen.Add(10 * time.Second) }
	resolved := r.CheckAutoResolve()
	require.Len(t, resolved, 1)
	require.True(t, rec.IsTerminal())
}

func TestEnforceMaxConflictsForceResolvesOldest(t *testing.T) {
	cfg := config.Default()
	cfg.MaxConflictsPerElement = 1
	store := selection.New(cfg)
	r := New(cfg, store)

	frozen := time.Now()
	r.now = func() time.Time { return frozen }
	first := &model.SelectionConflict{ID: "c1", ElementID: "e1", Contenders: []model.Contender{{UserID: "a"}, {UserID: "b"}}, CreatedAt: frozen}
	r.board("wb1")["e1"] = append(r.board("wb1")["e1"], first)

	second := &model.SelectionConflict{ID: "c2", ElementID: "e1", Contenders: []model.Contender{{UserID: "a"}, {UserID: "c"}}, CreatedAt: frozen.Add(time.Second)}
	r.board("wb1")["e1"] = append(r.board("wb1")["e1"], second)

	r.enforceMaxConflicts("wb1", "e1")
	require.True(t, first.IsTerminal())
	require.False(t, second.IsTerminal())
}
