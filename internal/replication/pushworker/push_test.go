package pushworker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/gerrit-plugins/replication/internal/replication/taskstore"
)

// singleRepoSource is a GitSource that always opens the one repository
// it was constructed with, regardless of the requested project name.
type singleRepoSource struct {
	repo *git.Repository
}

func (s *singleRepoSource) Open(string) (*git.Repository, error) { return s.repo, nil }

func noCreds(string) Credentials { return Credentials{} }

// initWorkingRepo creates a non-bare repository at dir with one commit on
// refs/heads/main and returns the opened repository.
func initWorkingRepo(t *testing.T, dir string) *git.Repository {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	// PlainInit points HEAD at refs/heads/master; repoint it so the commit
	// below lands on refs/heads/main.
	require.NoError(t, repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))))

	wt, err := repo.Worktree()
	require.NoError(t, err)

	fpath := filepath.Join(dir, "README")
	require.NoError(t, os.WriteFile(fpath, []byte("hello\n"), 0644))
	_, err = wt.Add("README")
	require.NoError(t, err)

	sig := &object.Signature{Name: "test", Email: "test@example.com"}
	_, err = wt.Commit("initial", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	return repo
}

func TestIsTransientRecognizesKnownNeedles(t *testing.T) {
	for _, msg := range []string{
		"connection reset by peer",
		"i/o timeout",
		"remote busy, try again",
		"could not read from remote repository",
		"unable to create lock file",
	} {
		require.True(t, isTransient(errors.New(msg)), msg)
	}
}

func TestIsTransientRejectsPermanentErrors(t *testing.T) {
	require.False(t, isTransient(errors.New("non-fast-forward update")))
	require.False(t, isTransient(nil))
}

func TestIsSupersededRefTreatsMissingObjectAsSuccess(t *testing.T) {
	require.True(t, isSupersededRef(errors.New("object not found")))
	require.False(t, isSupersededRef(errors.New("non-fast-forward")))
	require.False(t, isSupersededRef(nil))
}

func TestRefSpecForcePrefix(t *testing.T) {
	require.Equal(t, "refs/heads/main:refs/heads/main", string(refSpec("refs/heads/main", false)))
	require.Equal(t, "+refs/heads/main:refs/heads/main", string(refSpec("refs/heads/main", true)))
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "success", Success.String())
	require.Equal(t, "transient", Transient.String())
	require.Equal(t, "permanent", Permanent.String())
}

// A push of a new branch against a fresh bare repository succeeds and
// lands the local commit at the remote ref.
func TestPushSucceedsAgainstFreshBareRemote(t *testing.T) {
	localDir := t.TempDir()
	bareDir := t.TempDir()

	localRepo := initWorkingRepo(t, localDir)
	_, err := git.PlainInit(bareDir, true)
	require.NoError(t, err)

	w := New(&singleRepoSource{repo: localRepo}, noCreds, nil)
	batch := taskstore.UriUpdates{
		Project: "proj",
		Remote:  "foo1",
		URI:     "file://" + bareDir,
		Refs:    []string{"refs/heads/main"},
	}

	outcome, err := w.Push(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, Success, outcome)

	localHead, err := localRepo.Reference(plumbing.ReferenceName("refs/heads/main"), true)
	require.NoError(t, err)

	bareRepo, err := git.PlainOpen(bareDir)
	require.NoError(t, err)
	remoteHead, err := bareRepo.Reference(plumbing.ReferenceName("refs/heads/main"), true)
	require.NoError(t, err)

	require.Equal(t, localHead.Hash(), remoteHead.Hash())
}

// A push that would rewind the remote's ref (the remote moved ahead
// since the batch's source object was last observed) is classified
// Permanent rather than retried, per the non-fast-forward row of the
// error-kind table.
func TestPushNonFastForwardIsPermanentWithoutForce(t *testing.T) {
	localDir := t.TempDir()
	bareDir := t.TempDir()
	otherDir := t.TempDir()

	localRepo := initWorkingRepo(t, localDir)
	_, err := git.PlainInit(bareDir, true)
	require.NoError(t, err)

	w := New(&singleRepoSource{repo: localRepo}, noCreds, nil)
	batch := taskstore.UriUpdates{
		Project: "proj",
		Remote:  "foo1",
		URI:     "file://" + bareDir,
		Refs:    []string{"refs/heads/main"},
	}

	outcome, err := w.Push(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, Success, outcome)

	// A second clone advances the remote's main past what localRepo
	// knows about, so localRepo's next push of its unchanged main is a
	// rewind from the remote's point of view.
	otherRepo, err := git.PlainClone(otherDir, false, &git.CloneOptions{URL: "file://" + bareDir, ReferenceName: plumbing.NewBranchReferenceName("main")})
	require.NoError(t, err)
	otherWt, err := otherRepo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(otherDir, "OTHER"), []byte("other\n"), 0644))
	_, err = otherWt.Add("OTHER")
	require.NoError(t, err)
	_, err = otherWt.Commit("advance", &git.CommitOptions{Author: &object.Signature{Name: "other", Email: "other@example.com"}})
	require.NoError(t, err)
	require.NoError(t, otherRepo.Push(&git.PushOptions{RemoteName: "origin"}))

	outcome, err = w.Push(context.Background(), batch)
	require.Error(t, err)
	require.Equal(t, Permanent, outcome)
}
