// Package router implements the ref-update event router: it receives
// (project, ref, updater) events, resolves the matching destinations from
// the active config snapshot, and fans each out into a persisted task
// plus a scheduler enqueue. See SPEC_FULL.md §4.B.
package router

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gerrit-plugins/replication/internal/replication/replconfig"
	"github.com/gerrit-plugins/replication/internal/replication/taskstore"
)

// EventSource is the pluggable observer of primary-side ref updates.
// Implementing a real one is out of scope (SPEC_FULL.md §1); the daemon
// wires a minimal default (see filesource.go) so it is runnable without
// one.
type EventSource interface {
	// Subscribe delivers events to handler until ctx is cancelled.
	Subscribe(ctx context.Context, handler func(project, ref, updater string)) error
}

// Destinations is the subset of the destination/Destination contract the
// router needs: scheduling a ref for replication and dispatching project
// lifecycle events through the admin transport, without depending on the
// destination package's worker-pool internals, so the router can be
// exercised with a fake destination.
type Destinations interface {
	Name() string
	Remote() replconfig.RemoteConfig
	Schedule(project, uri, ref string)
	CreateProject(ctx context.Context, name, head string) bool
	DeleteProject(ctx context.Context, name string) bool
}

// Router is the B component of SPEC_FULL.md §2: it owns no state beyond
// a reference to the task store and a way to resolve the currently
// active destinations.
type Router struct {
	store        *taskstore.Store
	destinations func() []Destinations
	log          *logrus.Entry
}

// New constructs a Router. destinations is called on every event so the
// router always fans out against the current config snapshot, even
// across a reload.
func New(store *taskstore.Store, destinations func() []Destinations, log *logrus.Entry) *Router {
	return &Router{store: store, destinations: destinations, log: log}
}

// OnEvent implements the router contract of SPEC_FULL.md §4.B: for every
// destination matching FilterAll, it expands that destination's URI
// templates for project, persists a waiting task for each, and enqueues
// it into that destination's scheduler. It performs no I/O beyond the
// task store, so it never blocks on the network.
func (r *Router) OnEvent(ctx context.Context, project, ref, updater string) error {
	return r.dispatch(ctx, project, ref)
}

// OnProjectCreated dispatches a project-creation lifecycle event to
// every destination matching FilterProjectCreation, directly through its
// admin transport. Unlike OnEvent, this never touches the task store:
// project lifecycle is best-effort and outside the retry/persistence
// machinery (SPEC_FULL.md §4.C "Admin operations").
func (r *Router) OnProjectCreated(ctx context.Context, project, head string) error {
	for _, dest := range r.matchingDestinations(project, replconfig.FilterProjectCreation) {
		if !dest.CreateProject(ctx, project, head) {
			r.log.WithField("project", project).WithField("remote", dest.Name()).Error("failed to create project on remote")
		}
	}
	return nil
}

// OnProjectDeleted dispatches a project-deletion lifecycle event to every
// destination matching FilterProjectDeletion, directly through its admin
// transport.
func (r *Router) OnProjectDeleted(ctx context.Context, project string) error {
	for _, dest := range r.matchingDestinations(project, replconfig.FilterProjectDeletion) {
		if !dest.DeleteProject(ctx, project) {
			r.log.WithField("project", project).WithField("remote", dest.Name()).Error("failed to delete project on remote")
		}
	}
	return nil
}

func (r *Router) matchingDestinations(project string, filter replconfig.FilterType) []Destinations {
	var matched []Destinations
	for _, dest := range r.destinations() {
		remote := dest.Remote()
		if !remote.MatchesFilter(filter) || !remote.MatchesProject(project) {
			continue
		}
		matched = append(matched, dest)
	}
	return matched
}

// dispatch implements the ordinary ref-update fan-out: persist a waiting
// task per (destination, uri) and enqueue it into that destination's
// scheduler.
func (r *Router) dispatch(_ context.Context, project, ref string) error {
	var firstErr error

	for _, dest := range r.matchingDestinations(project, replconfig.FilterAll) {
		for _, uri := range dest.Remote().ExpandURLs(project) {
			key, err := r.store.Create(taskstore.RefUpdate{Project: project, Ref: ref, URI: uri, Remote: dest.Name()})
			if err != nil {
				r.log.WithField("project", project).WithField("uri", uri).WithError(err).Error("failed to persist replication task")
				if firstErr == nil {
					firstErr = fmt.Errorf("router: create task for %s: %w", uri, err)
				}
				continue
			}

			dest.Schedule(project, uri, ref)
			r.log.WithField("task-key", key).WithField("remote", dest.Name()).WithField("uri", uri).Debug("scheduled replication task")
		}
	}

	return firstErr
}
