// Package pushworker executes a single (remote, uri, refs) push over a
// pluggable git transport and classifies the outcome, per SPEC_FULL.md
// §4.D/§4.E.
package pushworker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/avast/retry-go"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/gerrit-plugins/replication/internal/replication/taskstore"
)

// Outcome classifies the result of a push attempt.
type Outcome int

const (
	// Success means every refspec in the batch was pushed (or was
	// already at the target SHA, or its source object no longer exists
	// locally and is treated as superseded).
	Success Outcome = iota
	// Transient means the push failed for a reason expected to clear up
	// on its own: network error, temporary auth failure, remote
	// unavailable, or lock contention on the remote.
	Transient
	// Permanent means the push failed for a reason retrying won't fix:
	// non-fast-forward with force disabled, permanent auth failure, or a
	// malformed ref.
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Credentials carries whatever the configured auth group resolves to for
// a destination. Resolution itself is out of scope (SPEC_FULL.md §1);
// this is the contract the git transport needs.
type Credentials struct {
	Username string
	Password string
	// SSHPrivateKeyPath is used for ssh:// URIs. Empty means the
	// transport should fall back to the local agent / default key.
	SSHPrivateKeyPath string
}

// GitSource opens the local repository object access the push reads
// from. Object access itself is out of scope (SPEC_FULL.md §1); this is
// the seam the engine needs to reach it.
type GitSource interface {
	// Open returns a go-git repository for project, rooted wherever the
	// primary site keeps its bare repositories.
	Open(project string) (*git.Repository, error)
}

// Pusher is the contract the scheduler dispatches batches to.
type Pusher interface {
	Push(ctx context.Context, batch taskstore.UriUpdates) (Outcome, error)
}

// Worker is the default Pusher, built on go-git's transport layer so that
// ssh://, http(s)://, git://, and file:// URIs are all supported
// (SPEC_FULL.md §6).
type Worker struct {
	source GitSource
	creds  func(remote string) Credentials
	force  map[string]bool // remote name -> force-push
}

// New constructs a push Worker. creds resolves a destination's
// configured auth group to transport credentials; force reports whether
// a given remote pushes with the force flag.
func New(source GitSource, creds func(remote string) Credentials, force map[string]bool) *Worker {
	return &Worker{source: source, creds: creds, force: force}
}

// Push implements Pusher.
func (w *Worker) Push(ctx context.Context, batch taskstore.UriUpdates) (Outcome, error) {
	repo, err := w.source.Open(batch.Project)
	if err != nil {
		return Permanent, fmt.Errorf("pushworker: open %s: %w", batch.Project, err)
	}

	remoteName := remoteNameFor(batch.URI)
	if _, err := repo.CreateRemote(&config.RemoteConfig{Name: remoteName, URLs: []string{batch.URI}}); err != nil && err != git.ErrRemoteExists {
		return Permanent, fmt.Errorf("pushworker: create remote for %s: %w", batch.URI, err)
	}

	force := w.force[batch.Remote]
	specs := make([]config.RefSpec, 0, len(batch.Refs))
	for _, ref := range batch.Refs {
		specs = append(specs, refSpec(ref, force))
	}

	var pushErr error
	retryErr := retry.Do(
		func() error {
			pushErr = repo.PushContext(ctx, &git.PushOptions{
				RemoteName: remoteName,
				RefSpecs:   specs,
				Auth:       authMethod(w.creds(batch.Remote), batch.URI),
				Force:      force,
			})
			if pushErr == nil || pushErr == git.NoErrAlreadyUpToDate {
				return nil
			}
			if !isTransient(pushErr) {
				return retry.Unrecoverable(pushErr)
			}
			return pushErr
		},
		retry.Attempts(3),
		retry.LastErrorOnly(true),
	)

	switch {
	case retryErr == nil:
		return Success, nil
	case pushErr == nil:
		return Transient, retryErr
	case isSupersededRef(pushErr):
		return Success, nil
	case isTransient(pushErr):
		return Transient, pushErr
	default:
		return Permanent, pushErr
	}
}

func refSpec(ref string, force bool) config.RefSpec {
	prefix := ""
	if force {
		prefix = "+"
	}
	return config.RefSpec(fmt.Sprintf("%s%s:%s", prefix, ref, ref))
}

func remoteNameFor(uri string) string {
	return "replication-" + strings.Map(func(r rune) rune {
		if r == '/' || r == ':' {
			return '-'
		}
		return r
	}, uri)
}

func authMethod(creds Credentials, uri string) transport.AuthMethod {
	u, err := url.Parse(uri)
	if err != nil {
		return nil
	}
	switch u.Scheme {
	case "http", "https":
		if creds.Username == "" {
			return nil
		}
		return &basicAuth{username: creds.Username, password: creds.Password}
	case "ssh":
		if creds.SSHPrivateKeyPath == "" {
			return nil
		}
		user := "git"
		if u.User != nil && u.User.Username() != "" {
			user = u.User.Username()
		}
		keys, err := gitssh.NewPublicKeysFromFile(user, creds.SSHPrivateKeyPath, "")
		if err != nil {
			return nil
		}
		return keys
	default:
		return nil
	}
}

// basicAuth adapts Credentials to go-git's transport.AuthMethod without
// pulling in the full http package for the common case of a plain
// username/password pair.
type basicAuth struct {
	username, password string
}

func (b *basicAuth) String() string { return "basic-auth" }
func (b *basicAuth) Name() string   { return "http-basic-auth" }

// SetAuth satisfies go-git's http.AuthMethod, which its http transport
// requires of any AuthMethod it is handed.
func (b *basicAuth) SetAuth(r *http.Request) { r.SetBasicAuth(b.username, b.password) }

// isTransient classifies a push error as retriable: timeouts, network
// resets, an unavailable or busy remote, and remote-side lock contention.
// Authentication failures are not recognised here and count as permanent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, needle := range []string{"connection reset", "i/o timeout", "temporarily unavailable", "remote busy", "could not read from remote", "lock file"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// isSupersededRef reports whether err indicates the push failed only
// because the local source ref's object is gone, meaning a newer update
// has already superseded it. This is treated as success per
// SPEC_FULL.md §4.D step 2: we replicate current truth, not a historical
// object.
func isSupersededRef(err error) bool {
	return err != nil && strings.Contains(err.Error(), "object not found")
}
