package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	return NewStore(NewMemoryBackend(), nil)
}

func TestStoreGetCreatesEmptySession(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", sess.ID)
	require.NotNil(t, sess.Memory)
	require.False(t, sess.Terminal)
}

func TestStoreUpdateMergesAndPersists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Update(ctx, "sess-1", map[string]any{
		"customer": map[string]any{"name": "Ada", "phone": "555-1000"},
	}, nil)
	require.NoError(t, err)

	sess, err := store.Update(ctx, "sess-1", map[string]any{
		"customer": map[string]any{"name": ""},
	}, nil)
	require.NoError(t, err)

	customer := sess.Memory["customer"].(map[string]any)
	require.Equal(t, "Ada", customer["name"], "empty string must not clobber an existing value")
	require.Equal(t, "555-1000", customer["phone"])
}

func TestStoreGetReturnsDefensiveCopy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	sess.Memory["customer"] = map[string]any{"name": "mutated locally"}

	fresh, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, map[string]any{}, fresh.Memory["customer"])
}

func TestStoreAppendHistoryAndSetGoal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.AppendHistory(ctx, "sess-1", "user", "hello")
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	require.Equal(t, "hello", sess.History[0].Text)

	sess, err = store.SetGoal(ctx, "sess-1", "intake")
	require.NoError(t, err)
	require.Equal(t, "intake", sess.CurrentGoal)
	require.Equal(t, []string{"intake"}, sess.EnteredGoals)
}

func TestStoreReadPathsOmitsMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Update(ctx, "sess-1", map[string]any{
		"customer": map[string]any{"name": "Ada"},
	}, nil)
	require.NoError(t, err)

	values, err := store.ReadPaths(ctx, "sess-1", []string{"customer.name", "customer.phone"})
	require.NoError(t, err)
	require.Equal(t, "Ada", values["customer.name"])
	require.NotContains(t, values, "customer.phone")
}

func TestStoreTracksActiveSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.Equal(t, 0, store.ActiveSessions())
	_, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	_, err = store.Get(ctx, "sess-2")
	require.NoError(t, err)
	require.Equal(t, 2, store.ActiveSessions())

	_, err = store.MarkTerminal(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, 1, store.ActiveSessions())

	// Re-reading a known session must not inflate the count.
	_, err = store.Get(ctx, "sess-2")
	require.NoError(t, err)
	require.Equal(t, 1, store.ActiveSessions())
}

func TestStoreWithLockSerializesSameSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := store.WithLock(ctx, "sess-1", func(_ context.Context, s *Session) (*Session, error) {
				s.Counters.Turns++
				return s, nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	sess, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, n, sess.Counters.Turns)
}

func TestStoreWithLockDoesNotSerializeDifferentSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = store.WithLock(ctx, "sess-A", func(_ context.Context, s *Session) (*Session, error) {
			close(started)
			<-release
			return s, nil
		})
	}()

	<-started
	done := make(chan struct{})
	go func() {
		_, _ = store.WithLock(ctx, "sess-B", func(_ context.Context, s *Session) (*Session, error) {
			return s, nil
		})
		close(done)
	}()
	<-done // sess-B's update completes without waiting on sess-A's lock
	close(release)
}
