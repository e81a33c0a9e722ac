package admin

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/sirupsen/logrus"
)

// LocalFS is the file:// admin transport: it manages bare repositories
// directly on the local filesystem the daemon runs on. Ported from
// original_source/.../LocalFS.java.
type LocalFS struct {
	root string
	log  *logrus.Entry
}

// NewLocalFS returns a LocalFS transport rooted at root (the path
// component of a file:// admin URL).
func NewLocalFS(root string) *LocalFS {
	return &LocalFS{root: root, log: logrus.WithField("admin-transport", "localfs")}
}

func (l *LocalFS) path(name string) string {
	return filepath.Join(l.root, name)
}

// CreateProject is idempotent: it creates a bare repository at name,
// symlinking HEAD if head starts with "refs/", matching LocalFS.java's
// createProject.
func (l *LocalFS) CreateProject(_ context.Context, name, head string) bool {
	path := l.path(name)

	repo, err := git.PlainInit(path, true)
	if err != nil && err != git.ErrRepositoryAlreadyExists {
		l.log.WithField("project", name).WithError(err).Error("failed to create local repository")
		return false
	}

	if head != "" && strings.HasPrefix(head, "refs/") {
		if repo == nil {
			repo, err = git.PlainOpen(path)
			if err != nil {
				l.log.WithField("project", name).WithError(err).Error("failed to reopen repository to set HEAD")
				return false
			}
		}
		if err := setSymbolicHead(repo, head); err != nil {
			l.log.WithField("project", name).WithError(err).Error("failed to set HEAD on new repository")
			return false
		}
	}

	l.log.WithField("project", name).Info("created local repository")
	return true
}

// DeleteProject recursively removes the repository at name, matching
// LocalFS.java's recursivelyDelete.
func (l *LocalFS) DeleteProject(_ context.Context, name string) bool {
	if err := os.RemoveAll(l.path(name)); err != nil {
		l.log.WithField("project", name).WithError(err).Error("failed to delete local repository")
		return false
	}
	l.log.WithField("project", name).Info("deleted local repository")
	return true
}

// UpdateHead atomically repoints the repository's HEAD symref, matching
// LocalFS.java's updateHead.
func (l *LocalFS) UpdateHead(_ context.Context, name, newHead string) bool {
	repo, err := git.PlainOpen(l.path(name))
	if err != nil {
		l.log.WithField("project", name).WithError(err).Error("failed to open repository to update HEAD")
		return false
	}
	if err := setSymbolicHead(repo, newHead); err != nil {
		l.log.WithField("project", name).WithError(err).Error("failed to update HEAD")
		return false
	}
	return true
}

// setSymbolicHead writes HEAD as a symbolic-ref to target via go-git's
// reference storage, which is itself a rename-backed atomic write.
func setSymbolicHead(repo *git.Repository, target string) error {
	ref := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.ReferenceName(target))
	return repo.Storer.SetReference(ref)
}
