package pushworker

import (
	"fmt"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	lru "github.com/hashicorp/golang-lru"
)

// LocalSource is the default GitSource: it opens bare repositories
// rooted at a local directory, the way the primary site itself stores
// them. Repository handles are cached in a bounded LRU so that a busy
// project isn't reopened from disk on every push.
type LocalSource struct {
	root  string
	cache *lru.Cache
}

// NewLocalSource returns a LocalSource rooted at root, caching up to
// cacheSize open repository handles.
func NewLocalSource(root string, cacheSize int) (*LocalSource, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("pushworker: new cache: %w", err)
	}
	return &LocalSource{root: root, cache: cache}, nil
}

// Open implements GitSource.
func (s *LocalSource) Open(project string) (*git.Repository, error) {
	if cached, ok := s.cache.Get(project); ok {
		return cached.(*git.Repository), nil
	}

	repo, err := git.PlainOpen(filepath.Join(s.root, project))
	if err != nil {
		return nil, fmt.Errorf("pushworker: open %s: %w", project, err)
	}

	s.cache.Add(project, repo)
	return repo, nil
}
