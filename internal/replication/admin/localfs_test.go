package admin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/require"
)

func TestLocalFSCreateProjectCreatesBareRepo(t *testing.T) {
	root := t.TempDir()
	fs := NewLocalFS(root)

	ok := fs.CreateProject(context.Background(), "myproject", "refs/heads/main")
	require.True(t, ok)

	repo, err := git.PlainOpen(filepath.Join(root, "myproject"))
	require.NoError(t, err)

	head, err := repo.Reference(plumbing.HEAD, false)
	require.NoError(t, err)
	require.Equal(t, plumbing.SymbolicReference, head.Type())
	require.Equal(t, plumbing.ReferenceName("refs/heads/main"), head.Target())
}

func TestLocalFSCreateProjectIsIdempotent(t *testing.T) {
	root := t.TempDir()
	fs := NewLocalFS(root)

	require.True(t, fs.CreateProject(context.Background(), "myproject", ""))
	require.True(t, fs.CreateProject(context.Background(), "myproject", ""))
}

func TestLocalFSDeleteProjectRemovesDirectory(t *testing.T) {
	root := t.TempDir()
	fs := NewLocalFS(root)

	require.True(t, fs.CreateProject(context.Background(), "myproject", ""))
	require.True(t, fs.DeleteProject(context.Background(), "myproject"))

	_, err := os.Stat(filepath.Join(root, "myproject"))
	require.True(t, os.IsNotExist(err))
}

func TestLocalFSUpdateHead(t *testing.T) {
	root := t.TempDir()
	fs := NewLocalFS(root)

	require.True(t, fs.CreateProject(context.Background(), "myproject", "refs/heads/main"))
	require.True(t, fs.UpdateHead(context.Background(), "myproject", "refs/heads/develop"))

	repo, err := git.PlainOpen(filepath.Join(root, "myproject"))
	require.NoError(t, err)
	head, err := repo.Reference(plumbing.HEAD, false)
	require.NoError(t, err)
	require.Equal(t, plumbing.ReferenceName("refs/heads/develop"), head.Target())
}

func TestForURLSelectsTransportByScheme(t *testing.T) {
	transport, err := ForURL("file:///tmp/repos", Options{})
	require.NoError(t, err)
	require.IsType(t, &LocalFS{}, transport)

	transport, err = ForURL("ssh://remote/admin", Options{})
	require.NoError(t, err)
	require.IsType(t, &SSH{}, transport)

	transport, err = ForURL("https://remote/admin", Options{})
	require.NoError(t, err)
	require.IsType(t, &REST{}, transport)

	_, err = ForURL("ftp://remote/admin", Options{})
	require.Error(t, err)
}
