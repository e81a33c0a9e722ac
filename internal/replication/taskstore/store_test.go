package taskstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func group(u RefUpdate) UriUpdates {
	return UriUpdates{Project: u.Project, Remote: u.Remote, URI: u.URI, Refs: []string{u.Ref}}
}

// P1/P2/P3/P4: create -> start -> finish round trip, with waiting and
// running always disjoint.
func TestStartFinishRoundTrip(t *testing.T) {
	s := newTestStore(t)
	u := RefUpdate{Project: "proj", Ref: "refs/heads/main", URI: "ssh://remote/proj.git", Remote: "foo1"}

	key, err := s.Create(u)
	require.NoError(t, err)
	require.Equal(t, u.Key(), key)

	waiting, err := s.ListWaiting()
	require.NoError(t, err)
	require.Equal(t, []RefUpdate{u}, waiting)

	require.NoError(t, s.Start(group(u)))

	waiting, err = s.ListWaiting()
	require.NoError(t, err)
	require.Empty(t, waiting)

	running, err := s.ListRunning()
	require.NoError(t, err)
	require.Equal(t, []RefUpdate{u}, running)

	require.NoError(t, s.Finish(group(u)))

	waiting, err = s.ListWaiting()
	require.NoError(t, err)
	require.Empty(t, waiting)
	running, err = s.ListRunning()
	require.NoError(t, err)
	require.Empty(t, running)
}

// P5: finish is idempotent, even for a task that never existed.
func TestFinishIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	u := RefUpdate{Project: "proj", Ref: "refs/heads/main", URI: "ssh://remote/proj.git", Remote: "foo1"}

	require.NoError(t, s.Finish(group(u)))

	key, err := s.Create(u)
	require.NoError(t, err)
	require.NoError(t, s.Start(group(u)))
	require.NoError(t, s.Finish(group(u)))
	require.NoError(t, s.Finish(group(u)))

	running, err := s.ListRunning()
	require.NoError(t, err)
	require.Empty(t, running)
	_ = key
}

// P6: reset is the exact inverse of start.
func TestResetInverse(t *testing.T) {
	s := newTestStore(t)
	u := RefUpdate{Project: "proj", Ref: "refs/heads/main", URI: "ssh://remote/proj.git", Remote: "foo1"}
	_, err := s.Create(u)
	require.NoError(t, err)

	require.NoError(t, s.Start(group(u)))
	require.NoError(t, s.Reset(group(u)))

	waiting, err := s.ListWaiting()
	require.NoError(t, err)
	require.Equal(t, []RefUpdate{u}, waiting)

	running, err := s.ListRunning()
	require.NoError(t, err)
	require.Empty(t, running)
}

// P7/P12: resetAll moves every running task back to waiting, modelling
// recovery after a crash that left tasks stuck in running.
func TestResetAllRecoversCrashedTasks(t *testing.T) {
	s := newTestStore(t)
	a := RefUpdate{Project: "proj", Ref: "refs/heads/a", URI: "ssh://remote/proj.git", Remote: "foo1"}
	b := RefUpdate{Project: "proj", Ref: "refs/heads/b", URI: "ssh://remote/proj.git", Remote: "foo1"}

	for _, u := range []RefUpdate{a, b} {
		_, err := s.Create(u)
		require.NoError(t, err)
		require.NoError(t, s.Start(group(u)))
	}

	require.NoError(t, s.ResetAll())

	running, err := s.ListRunning()
	require.NoError(t, err)
	require.Empty(t, running)

	waiting, err := s.ListWaiting()
	require.NoError(t, err)
	require.ElementsMatch(t, []RefUpdate{a, b}, waiting)
}

// Scenario 3: calling create twice with identical fields dedups to one
// waiting entry and returns the same key both times.
func TestCreateDedups(t *testing.T) {
	s := newTestStore(t)
	u := RefUpdate{Project: "proj", Ref: "refs/heads/main", URI: "ssh://remote/proj.git", Remote: "foo1"}

	key1, err := s.Create(u)
	require.NoError(t, err)
	key2, err := s.Create(u)
	require.NoError(t, err)
	require.Equal(t, key1, key2)

	waiting, err := s.ListWaiting()
	require.NoError(t, err)
	require.Len(t, waiting, 1)
}

// Scenario 4: URI scheme is part of task identity, so otherwise-identical
// tasks targeting http:// vs ssh:// are distinct.
func TestSchemeDistinguishesTasks(t *testing.T) {
	s := newTestStore(t)
	http := RefUpdate{Project: "proj", Ref: "refs/heads/main", URI: "http://example.com/p.git", Remote: "foo1"}
	ssh := RefUpdate{Project: "proj", Ref: "refs/heads/main", URI: "ssh://example.com/p.git", Remote: "foo1"}

	keyHTTP, err := s.Create(http)
	require.NoError(t, err)
	keySSH, err := s.Create(ssh)
	require.NoError(t, err)
	require.NotEqual(t, keyHTTP, keySSH)

	waiting, err := s.ListWaiting()
	require.NoError(t, err)
	require.Len(t, waiting, 2)
}

// Scenario 5: resetAll while a task is in flight puts it back in waiting;
// a subsequent start/finish empties the store.
func TestResetAllWhileInFlight(t *testing.T) {
	s := newTestStore(t)
	u := RefUpdate{Project: "proj", Ref: "refs/heads/main", URI: "ssh://remote/proj.git", Remote: "foo1"}
	_, err := s.Create(u)
	require.NoError(t, err)
	require.NoError(t, s.Start(group(u)))

	require.NoError(t, s.ResetAll())

	waiting, err := s.ListWaiting()
	require.NoError(t, err)
	require.Equal(t, []RefUpdate{u}, waiting)
	running, err := s.ListRunning()
	require.NoError(t, err)
	require.Empty(t, running)

	require.NoError(t, s.Start(group(u)))
	require.NoError(t, s.Finish(group(u)))

	waiting, err = s.ListWaiting()
	require.NoError(t, err)
	require.Empty(t, waiting)
	running, err = s.ListRunning()
	require.NoError(t, err)
	require.Empty(t, running)
}

// P8: two store instances over the same directory observe identical
// contents after a mutation.
func TestTwoInstancesSeeSameContents(t *testing.T) {
	dir := t.TempDir()
	s1, err := New(dir, nil)
	require.NoError(t, err)
	s2, err := New(dir, nil)
	require.NoError(t, err)

	u := RefUpdate{Project: "proj", Ref: "refs/heads/main", URI: "ssh://remote/proj.git", Remote: "foo1"}
	_, err = s1.Create(u)
	require.NoError(t, err)

	waiting, err := s2.ListWaiting()
	require.NoError(t, err)
	require.Equal(t, []RefUpdate{u}, waiting)
}

// Start, Reset, and Finish all tolerate a missing source file instead of
// erroring, since the task may have been mutated concurrently by another
// process sharing the store.
func TestMutationsToleranceMissingFiles(t *testing.T) {
	s := newTestStore(t)
	u := RefUpdate{Project: "proj", Ref: "refs/heads/main", URI: "ssh://remote/proj.git", Remote: "foo1"}

	require.NoError(t, s.Start(group(u)))
	require.NoError(t, s.Reset(group(u)))
	require.NoError(t, s.Finish(group(u)))
}
