package caselock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/caseworker/internal/caseerr"
	"github.com/c360studio/caseworker/internal/model"
)

// fakeLockStore is an in-memory stand-in for store.Store's lock methods,
// good enough to exercise Manager's token-fencing logic without a real
// database.
type fakeLockStore struct {
	locks map[string]*model.CaseOperationLock // key: caseID|operation
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{locks: make(map[string]*model.CaseOperationLock)}
}

func (f *fakeLockStore) key(caseID, operation string) string { return caseID + "|" + operation }

func (f *fakeLockStore) AcquireLock(ctx context.Context, caseID, operation, token, holderRunID string, ttl time.Duration) (*model.CaseOperationLock, bool, error) {
	k := f.key(caseID, operation)
	if existing, ok := f.locks[k]; ok && existing.ExpiresAt.After(time.Now()) {
		return nil, false, nil
	}
	lock := &model.CaseOperationLock{
		CaseID: caseID, Operation: operation, Token: token,
		HolderRunID: holderRunID, ExpiresAt: time.Now().Add(ttl),
	}
	f.locks[k] = lock
	return lock, true, nil
}

func (f *fakeLockStore) ReleaseLock(ctx context.Context, caseID, operation, token string) (bool, error) {
	k := f.key(caseID, operation)
	existing, ok := f.locks[k]
	if !ok || existing.Token != token {
		return false, nil
	}
	delete(f.locks, k)
	return true, nil
}

func (f *fakeLockStore) RefreshLock(ctx context.Context, caseID, operation, token string, ttl time.Duration) (bool, error) {
	k := f.key(caseID, operation)
	existing, ok := f.locks[k]
	if !ok || existing.Token != token {
		return false, nil
	}
	existing.ExpiresAt = time.Now().Add(ttl)
	return true, nil
}

func TestAcquireRelease(t *testing.T) {
	fs := newFakeLockStore()
	m := NewManager(fs, time.Minute)

	h, err := m.Acquire(context.Background(), "case-1", "inbound_processing", "run-1")
	require.NoError(t, err)
	assert.Equal(t, "case-1", h.CaseID)
	assert.NotEmpty(t, h.Token)

	require.NoError(t, m.Release(context.Background(), h))
}

func TestAcquireConflict(t *testing.T) {
	fs := newFakeLockStore()
	m := NewManager(fs, time.Minute)

	_, err := m.Acquire(context.Background(), "case-1", "inbound_processing", "run-1")
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), "case-1", "inbound_processing", "run-2")
	require.Error(t, err)
	assert.True(t, caseerr.Is(err, caseerr.Conflict))
}

func TestAcquireDifferentOperationsDoNotConflict(t *testing.T) {
	fs := newFakeLockStore()
	m := NewManager(fs, time.Minute)

	_, err := m.Acquire(context.Background(), "case-1", "inbound_processing", "run-1")
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), "case-1", "reset_to_last_inbound", "run-2")
	require.NoError(t, err)
}

func TestReleaseNilHandleIsNoop(t *testing.T) {
	m := NewManager(newFakeLockStore(), time.Minute)
	assert.NoError(t, m.Release(context.Background(), nil))
}

func TestReleaseAlreadyReleasedIsConflict(t *testing.T) {
	fs := newFakeLockStore()
	m := NewManager(fs, time.Minute)

	h, err := m.Acquire(context.Background(), "case-1", "inbound_processing", "run-1")
	require.NoError(t, err)
	require.NoError(t, m.Release(context.Background(), h))

	err = m.Release(context.Background(), h)
	require.Error(t, err)
	assert.True(t, caseerr.Is(err, caseerr.Conflict))
}

func TestRefreshExtendsExpiry(t *testing.T) {
	fs := newFakeLockStore()
	m := NewManager(fs, time.Minute)

	h, err := m.Acquire(context.Background(), "case-1", "inbound_processing", "run-1")
	require.NoError(t, err)

	require.NoError(t, m.Refresh(context.Background(), h, 5*time.Minute))
	assert.True(t, fs.locks[fs.key("case-1", "inbound_processing")].ExpiresAt.After(time.Now().Add(4*time.Minute)))
}

func TestRefreshInvalidTokenIsConflict(t *testing.T) {
	fs := newFakeLockStore()
	m := NewManager(fs, time.Minute)

	h := &Handle{CaseID: "case-1", Operation: "inbound_processing", Token: "not-a-real-token"}
	err := m.Refresh(context.Background(), h, time.Minute)
	require.Error(t, err)
	assert.True(t, caseerr.Is(err, caseerr.Conflict))
}

func TestAcquireAfterExpiryReacquires(t *testing.T) {
	fs := newFakeLockStore()
	m := NewManager(fs, time.Millisecond)

	_, err := m.Acquire(context.Background(), "case-1", "inbound_processing", "run-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = m.Acquire(context.Background(), "case-1", "inbound_processing", "run-2")
	require.NoError(t, err)
}
