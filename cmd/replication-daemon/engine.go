package main

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gerrit-plugins/replication/internal/replication/admin"
	"github.com/gerrit-plugins/replication/internal/replication/control"
	"github.com/gerrit-plugins/replication/internal/replication/destination"
	"github.com/gerrit-plugins/replication/internal/replication/pushworker"
	"github.com/gerrit-plugins/replication/internal/replication/replconfig"
	"github.com/gerrit-plugins/replication/internal/replication/router"
	"github.com/gerrit-plugins/replication/internal/replication/taskstore"
)

// engine is the process-wide wiring the daemon binary holds for its
// lifetime: it owns the currently active set of destinations behind a
// mutex, swapped wholesale on every config reload (SPEC_FULL.md §4.F
// "Transactional swap"), and implements both replconfig.QueueStatus (for
// the reload controller's guard clauses) and control.Handler (for the
// list/start/stop control socket).
type engine struct {
	store  *taskstore.Store
	source pushworker.GitSource
	log    *logrus.Entry

	mu      sync.Mutex
	dests   map[string]*destination.Destination
	stopped bool
}

func newEngine(store *taskstore.Store, source pushworker.GitSource, log *logrus.Entry) *engine {
	return &engine{store: store, source: source, log: log, dests: map[string]*destination.Destination{}}
}

func (e *engine) destinationList() []router.Destinations {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]router.Destinations, 0, len(e.dests))
	for _, d := range e.dests {
		out = append(out, d)
	}
	return out
}

// IsRunning implements replconfig.QueueStatus.
func (e *engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.stopped
}

// IsReplaying implements replconfig.QueueStatus.
func (e *engine) IsReplaying() bool {
	for _, d := range e.snapshotDests() {
		if d.IsReplaying() {
			return true
		}
	}
	return false
}

func (e *engine) snapshotDests() []*destination.Destination {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*destination.Destination, 0, len(e.dests))
	for _, d := range e.dests {
		out = append(out, d)
	}
	return out
}

// rebuild implements replconfig.Subscriber. It is a full rebuild rather
// than an in-place diff: every destination from the outgoing snapshot is
// drained to completion first, and only then is every destination for
// the new snapshot constructed and started, per the spec's "destinations
// removed by the new config are drained and destroyed; new destinations
// are constructed and started" ordering. This is simpler than diffing
// unchanged remotes, at the cost of rebuilding destinations whose config
// didn't actually change and of new work for an unchanged remote waiting
// out the old destination's drain before it starts flowing again.
func (e *engine) rebuild(snap *replconfig.ConfigSnapshot) error {
	e.mu.Lock()
	old := e.dests
	e.mu.Unlock()

	for name, d := range old {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := d.Drain(ctx); err != nil {
			e.log.WithField("remote", name).WithError(err).Warn("destination drain timed out on reload")
		}
		cancel()
	}

	force := make(map[string]bool, len(snap.Remotes))
	for _, r := range snap.Remotes {
		force[r.Name] = r.Force
	}
	pusher := pushworker.New(e.source, noCredentials, force)

	fresh := make(map[string]*destination.Destination, len(snap.Remotes))
	for _, r := range snap.Remotes {
		d := destination.New(r, e.store, pusher, admin.Options{}, e.log)
		if err := d.Start(); err != nil {
			e.log.WithField("remote", r.Name).WithError(err).Error("failed to start destination on reload")
			continue
		}
		fresh[r.Name] = d
	}

	e.mu.Lock()
	e.dests = fresh
	e.mu.Unlock()
	return nil
}

// noCredentials is the out-of-scope credential resolver (SPEC_FULL.md
// §1: "credential lookup" is delegated to the caller); the daemon wires
// this placeholder so it is runnable without one.
func noCredentials(string) pushworker.Credentials { return pushworker.Credentials{} }

func (e *engine) drainAll(ctx context.Context) {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	dests := e.snapshotDests()
	var wg sync.WaitGroup
	for _, d := range dests {
		wg.Add(1)
		go func(d *destination.Destination) {
			defer wg.Done()
			if err := d.Drain(ctx); err != nil {
				e.log.WithError(err).Warn("destination failed to drain before shutdown")
			}
		}(d)
	}
	wg.Wait()
}

// List implements control.Handler.
func (e *engine) List(pattern string, detail bool) []control.DestinationStatus {
	var out []control.DestinationStatus
	for name, d := range e.matchingMap(pattern) {
		remote := d.Remote()
		st := control.DestinationStatus{
			Remote:    name,
			URL:       remote.URLs,
			Running:   d.IsRunning(),
			Replaying: d.IsReplaying(),
		}
		if detail {
			st.AdminURL = remote.AdminURLs
			st.AuthGroup = remote.AuthGroups
			st.Project = remote.Projects
		}
		out = append(out, st)
	}
	return out
}

// Start implements control.Handler: it resumes matching destinations,
// and with now=true additionally fires their pending batches
// immediately, bypassing the replication delay.
func (e *engine) Start(_ context.Context, pattern string, now bool) error {
	for _, d := range e.matching(pattern) {
		d.Resume()
		if now {
			d.Nudge()
		}
	}
	return nil
}

// Stop implements control.Handler: it drains matching destinations.
// wait=false returns immediately, letting the drain continue in the
// background; wait=true blocks until ctx says every drain is done.
func (e *engine) Stop(ctx context.Context, pattern string, wait bool) error {
	dests := e.matching(pattern)
	if !wait {
		for _, d := range dests {
			go d.Drain(context.Background())
		}
		return nil
	}
	for _, d := range dests {
		if err := d.Drain(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) matching(pattern string) []*destination.Destination {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*destination.Destination
	for name, d := range e.dests {
		if matchesPattern(pattern, name) {
			out = append(out, d)
		}
	}
	return out
}

func (e *engine) matchingMap(pattern string) map[string]*destination.Destination {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*destination.Destination)
	for name, d := range e.dests {
		if matchesPattern(pattern, name) {
			out[name] = d
		}
	}
	return out
}

func matchesPattern(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
