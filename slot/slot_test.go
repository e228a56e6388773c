package slot_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/authstate"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/slot"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/storage"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/storage/mem"
)

// flakyBackend wraps the in-memory backend with injectable failures.
type flakyBackend struct {
	*mem.Backend
	setErr error
	getErr error
}

func (b *flakyBackend) Set(key string, value []byte) error {
	if b.setErr != nil {
		return b.setErr
	}
	return b.Backend.Set(key, value)
}

func (b *flakyBackend) Get(key string) ([]byte, bool, error) {
	if b.getErr != nil {
		return nil, false, b.getErr
	}
	return b.Backend.Get(key)
}

func validState(now time.Time) *authstate.AuthState {
	return &authstate.AuthState{
		Version:      authstate.SchemaVersion,
		AccessToken:  "access-token-1",
		RefreshToken: "refresh-token-1",
		User: authstate.User{
			ID:             "user-1",
			Email:          "alice@acme.example",
			Name:           "Alice Example",
			Role:           "admin",
			Active:         true,
			OrganizationID: "org-1",
		},
		Tenant: authstate.Tenant{
			ID:               "org-1",
			Name:             "Acme Cinemas",
			Industry:         "cinema",
			SubscriptionPlan: "professional",
		},
		Permissions: []string{"manage_users", "view_reports"},
		ExpiresAt:   now.Add(time.Hour),
		PersistedAt: now,
	}
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
}

func TestCommitLoadRoundTrip(t *testing.T) {
	backend := mem.New()
	s := slot.New(backend, slot.WithClock(fixedNow))

	st := validState(fixedNow())
	require.NoError(t, s.Commit(st))

	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, st, got)
}

func TestLoadAbsent(t *testing.T) {
	s := slot.New(mem.New())

	got, err := s.Load()
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestLoadPurgesExpired(t *testing.T) {
	now := fixedNow()
	backend := mem.New()
	s := slot.New(backend, slot.WithClock(func() time.Time { return now }))

	require.NoError(t, s.Commit(validState(fixedNow())))

	// still valid one second before expiry
	now = fixedNow().Add(time.Hour - time.Second)
	got, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, got)

	now = fixedNow().Add(2 * time.Hour)
	got, err = s.Load()
	require.NoError(t, err)
	require.Nil(t, got)

	_, ok, err := backend.Get(slot.DefaultKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadPurgesStaleVersion(t *testing.T) {
	backend := mem.New()
	s := slot.New(backend, slot.WithClock(fixedNow))

	buf, err := authstate.Encode(validState(fixedNow()))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf, &doc))
	doc["version"] = "marketedge.auth.v0"
	stale, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, backend.Set(slot.DefaultKey, stale))

	got, err := s.Load()
	require.NoError(t, err)
	require.Nil(t, got)

	_, ok, err := backend.Get(slot.DefaultKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadPurgesCorrupt(t *testing.T) {
	backend := mem.New()
	s := slot.New(backend, slot.WithClock(fixedNow))

	require.NoError(t, backend.Set(slot.DefaultKey, []byte("{{{{not json")))

	got, err := s.Load()
	require.NoError(t, err)
	require.Nil(t, got)

	_, ok, err := backend.Get(slot.DefaultKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFailedCommitLeavesSlotUntouched(t *testing.T) {
	backend := &flakyBackend{Backend: mem.New()}
	s := slot.New(backend, slot.WithClock(fixedNow))

	prior := validState(fixedNow())
	require.NoError(t, s.Commit(prior))
	before, ok, err := backend.Get(slot.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)

	next := validState(fixedNow())
	next.AccessToken = "access-token-2"
	backend.setErr = storage.ErrQuotaExceeded
	err = s.Commit(next)
	require.ErrorIs(t, err, storage.ErrQuotaExceeded)

	after, ok, err := backend.Get(slot.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, before, after)

	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, prior, got)
}

func TestFailedCommitOnEmptySlotStaysEmpty(t *testing.T) {
	backend := &flakyBackend{Backend: mem.New(), setErr: storage.ErrUnavailable}
	s := slot.New(backend, slot.WithClock(fixedNow))

	err := s.Commit(validState(fixedNow()))
	require.ErrorIs(t, err, storage.ErrUnavailable)

	_, ok, err := backend.Get(slot.DefaultKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCommitRejectsIncompleteBeforeStorage(t *testing.T) {
	backend := mem.New()
	s := slot.New(backend, slot.WithClock(fixedNow))

	st := validState(fixedNow())
	st.User.ID = ""
	require.ErrorIs(t, s.Commit(st), authstate.ErrIncompleteState)

	_, ok, err := backend.Get(slot.DefaultKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadUnavailableBackend(t *testing.T) {
	backend := &flakyBackend{Backend: mem.New(), getErr: storage.ErrUnavailable}
	s := slot.New(backend)

	got, err := s.Load()
	require.ErrorIs(t, err, storage.ErrUnavailable)
	require.Nil(t, got)
}

func TestClear(t *testing.T) {
	backend := mem.New()
	s := slot.New(backend, slot.WithClock(fixedNow))

	require.NoError(t, s.Commit(validState(fixedNow())))
	require.NoError(t, s.Clear())

	got, err := s.Load()
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCustomKey(t *testing.T) {
	backend := mem.New()
	s := slot.New(backend, slot.WithKey("custom.auth"), slot.WithClock(fixedNow))

	require.NoError(t, s.Commit(validState(fixedNow())))

	_, ok, err := backend.Get("custom.auth")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = backend.Get(slot.DefaultKey)
	require.NoError(t, err)
	require.False(t, ok)
}
