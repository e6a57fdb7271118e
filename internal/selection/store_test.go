package selection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whiteboardcore/internal/config"
	"whiteboardcore/internal/model"
)

func TestSubmitAppliesFirstUpdate(t *testing.T) {
	s := New(config.Default())
	state, err := s.Submit("wb1", Update{UserID: "u1", ElementIDs: []string{"e1"}, Timestamp: time.Now()})
	require.Nil(t, err)
	require.NotNil(t, state)
	require.Equal(t, []string{"e1"}, state.ElementIDs)
}

func TestSubmitThrottlesRapidUpdates(t *testing.T) {
	s := New(config.Default())
	_, err := s.Submit("wb1", Update{UserID: "u1", ElementIDs: []string{"e1"}})
	require.Nil(t, err)

	state, err := s.Submit("wb1", Update{UserID: "u1", ElementIDs: []string{"e2"}})
	require.Nil(t, err)
	require.Nil(t, state) // buffered, not applied
}

func TestSubmitRejectsOverMaxElements(t *testing.T) {
	cfg := config.Default()
	cfg.MaxElementsPerSelection = 2
	s := New(cfg)
	_, err := s.Submit("wb1", Update{UserID: "u1", ElementIDs: []string{"e1", "e2", "e3"}})
	require.NotNil(t, err)
	require.Equal(t, model.ErrLimitExceeded, err.Kind)
}

func TestSubmitRejectsOverMaxConcurrentUsers(t *testing.T) {
	cfg := config.Default()
	cfg.MaxConcurrentUsersPerBoard = 1
	s := New(cfg)
	_, err := s.Submit("wb1", Update{UserID: "u1", ElementIDs: []string{"e1"}})
	require.Nil(t, err)

	_, err = s.Submit("wb1", Update{UserID: "u2", ElementIDs: []string{"e1"}})
	require.NotNil(t, err)
	require.Equal(t, model.ErrLimitExceeded, err.Kind)
}

func TestClearRemovesSelection(t *testing.T) {
	s := New(config.Default())
	_, _ = s.Submit("wb1", Update{UserID: "u1", ElementIDs: []string{"e1"}})
	require.True(t, s.Clear("wb1", "u1"))
	require.False(t, s.Clear("wb1", "u1"))
}

func TestMarkInactiveAfterTimeout(t *testing.T) {
	s := New(config.Default())
	frozen := time.Now()
	s.now = func() time.Time { return frozen }
	_, _ = s.Submit("wb1", Update{UserID: "u1", ElementIDs: []string{"e1"}})

	s.now = func() time.Time { return frozen.Add(time.Minute) }
	n := s.MarkInactive("wb1", 30*time.Second)
	require.Equal(t, 1, n)
}

func TestOwnershipExpiresOnRead(t *testing.T) {
	s := New(config.Default())
	frozen := time.Now()
	s.now = func() time.Time { return frozen }
	s.GrantOwnership("wb1", &model.SelectionOwnership{
		ElementID: "e1", OwnerID: "u1", AcquiredAt: frozen, ExpiresAt: frozen.Add(time.Second),
	})

	_, ok := s.Ownership("wb1", "e1")
	require.True(t, ok)

	s.now = func() time.Time { return frozen.Add(2 * time.Second) }
	_, ok = s.Ownership("wb1", "e1")
	require.False(t, ok)
}

func TestEvictExpiredOwnerships(t *testing.T) {
	s := New(config.Default())
	frozen := time.Now()
	s.now = func() time.Time { return frozen }
	s.GrantOwnership("wb1", &model.SelectionOwnership{ElementID: "e1", ExpiresAt: frozen.Add(-time.Second)})

	n := s.EvictExpiredOwnerships("wb1")
	require.Equal(t, 1, n)
}

func TestActiveExcludesGivenUser(t *testing.T) {
	s := New(config.Default())
	_, _ = s.Submit("wb1", Update{UserID: "u1", ElementIDs: []string{"e1"}})
	_, _ = s.Submit("wb1", Update{UserID: "u2", ElementIDs: []string{"e2"}})

	active := s.Active("wb1", "u1")
	require.Len(t, active, 1)
	require.Equal(t, "u2", active[0].UserID)
}
