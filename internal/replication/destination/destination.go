// Package destination implements the per-remote control plane: batching
// delay, the bounded worker pool, retry scheduling, and drain/quiesce on
// config reload. See SPEC_FULL.md §4.C/§4.D.
package destination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gerrit-plugins/replication/internal/replication/admin"
	"github.com/gerrit-plugins/replication/internal/replication/metrics"
	"github.com/gerrit-plugins/replication/internal/replication/pushworker"
	"github.com/gerrit-plugins/replication/internal/replication/replconfig"
	"github.com/gerrit-plugins/replication/internal/replication/taskstore"
)

const (
	logKeyRemote = "remote"
	logKeyURI    = "uri"
)

// Destination owns one configured remote: its tuning, its scheduler
// state table keyed by URI, a bounded worker pool, and a reference to the
// shared task store.
type Destination struct {
	remote replconfig.RemoteConfig
	store  *taskstore.Store
	pusher pushworker.Pusher
	admin  []admin.Transport
	log    *logrus.Entry

	slots chan struct{}

	mu      sync.Mutex
	table   map[string]*pushOne
	stopped bool

	inflight sync.WaitGroup
}

// New constructs a Destination for remote, resolving an admin Transport
// for each of its configured admin URLs (a URL that fails to resolve is
// logged and skipped, per the admin transport's best-effort contract).
// Callers must call Start before scheduling any work.
func New(remote replconfig.RemoteConfig, store *taskstore.Store, pusher pushworker.Pusher, adminOpts admin.Options, log *logrus.Entry) *Destination {
	entry := log.WithField(logKeyRemote, remote.Name)

	transports := make([]admin.Transport, 0, len(remote.AdminURLs))
	for _, adminURL := range remote.AdminURLs {
		t, err := admin.ForURL(adminURL, adminOpts)
		if err != nil {
			entry.WithField("admin-url", adminURL).WithError(err).Error("failed to resolve admin transport")
			continue
		}
		transports = append(transports, t)
	}

	return &Destination{
		remote: remote,
		store:  store,
		pusher: pusher,
		admin:  transports,
		log:    entry,
		slots:  make(chan struct{}, remote.Threads),
		table:  make(map[string]*pushOne),
	}
}

// CreateProject dispatches a project-creation lifecycle event to every
// resolved admin transport for this destination, outside the task store
// (SPEC_FULL.md §4.C "Admin operations"). It is best-effort: failure on
// any transport is logged and reflected in the return value, never
// raised.
func (d *Destination) CreateProject(ctx context.Context, name, head string) bool {
	ok := true
	for _, t := range d.admin {
		if !t.CreateProject(ctx, name, head) {
			ok = false
		}
	}
	return ok
}

// DeleteProject dispatches a project-deletion lifecycle event to every
// resolved admin transport for this destination.
func (d *Destination) DeleteProject(ctx context.Context, name string) bool {
	ok := true
	for _, t := range d.admin {
		if !t.DeleteProject(ctx, name) {
			ok = false
		}
	}
	return ok
}

// UpdateHead dispatches a HEAD update to every resolved admin transport
// for this destination.
func (d *Destination) UpdateHead(ctx context.Context, name, newHead string) bool {
	ok := true
	for _, t := range d.admin {
		if !t.UpdateHead(ctx, name, newHead) {
			ok = false
		}
	}
	return ok
}

// Nudge fires every pending or retrying PushOne's timer immediately,
// implementing the "start --now" control-socket command's bypass of the
// batching delay.
func (d *Destination) Nudge() {
	d.mu.Lock()
	uris := make([]string, 0, len(d.table))
	for uri, p := range d.table {
		if p.state == stateScheduled || p.state == stateRetrying {
			p.stopTimer()
			uris = append(uris, uri)
		}
	}
	d.mu.Unlock()

	for _, uri := range uris {
		d.dispatch(uri)
	}
}

// Name returns the configured remote name.
func (d *Destination) Name() string { return d.remote.Name }

// Remote returns the configured remote tuning, for admin/list output.
func (d *Destination) Remote() replconfig.RemoteConfig { return d.remote }

// Start performs crash recovery: it resets every running task back to
// waiting (store-wide; safe to call from every destination since it is
// idempotent after the first caller) and replays this destination's own
// waiting tasks back into the scheduler, per SPEC_FULL.md §4.C
// "Start-up recovery". It must be called exactly once before any
// Schedule call.
func (d *Destination) Start() error {
	if err := d.store.ResetAll(); err != nil {
		return fmt.Errorf("destination %s: resetAll: %w", d.remote.Name, err)
	}

	waiting, err := d.store.ListWaiting()
	if err != nil {
		return fmt.Errorf("destination %s: list waiting: %w", d.remote.Name, err)
	}

	for _, u := range waiting {
		if u.Remote != d.remote.Name {
			continue
		}
		d.Schedule(u.Project, u.URI, u.Ref)
	}

	return nil
}

// Schedule implements the enqueue protocol of SPEC_FULL.md §4.C: it
// coalesces ref into the pending batch for (remote, uri), creating a new
// PushOne and arming its delay timer if none exists, or queuing the ref
// into the running PushOne's successor set if a push for this URI is
// already in flight. Schedule never blocks on I/O beyond the task store.
func (d *Destination) Schedule(project, uri, ref string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.table[uri]; ok {
		existing.addRef(ref)
		return
	}

	p := newPushOne(project, uri, ref, d.remote.ReplicationRetry)
	d.table[uri] = p
	d.armTimer(p, d.remote.ReplicationDelay.Duration())
}

func (d *Destination) armTimer(p *pushOne, delay time.Duration) {
	p.stopTimer()
	p.timer = time.AfterFunc(delay, func() { d.dispatch(p.uri) })
}

// dispatch fires when a PushOne's delay elapses. It marks the PushOne
// Running and hands the batch to runPush on a new goroutine, which waits
// for a free slot in this destination's bounded pool and then moves the
// batch's tasks to Running in the task store.
func (d *Destination) dispatch(uri string) {
	d.mu.Lock()
	p, ok := d.table[uri]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	batch := taskstore.UriUpdates{Project: p.project, Remote: d.remote.Name, URI: p.uri, Refs: p.refs()}
	p.state = stateRunning
	d.mu.Unlock()

	d.inflight.Add(1)
	go d.runPush(batch, p)
}

func (d *Destination) runPush(batch taskstore.UriUpdates, p *pushOne) {
	defer d.inflight.Done()

	d.slots <- struct{}{}
	defer func() { <-d.slots }()

	entry := d.log.WithField(logKeyURI, batch.URI)

	if err := d.store.Start(batch); err != nil {
		entry.WithError(err).Error("failed to mark task running; leaving for next resetAll")
	}

	gauge := metrics.TasksInFlight.WithLabelValues(d.remote.Name)
	gauge.Inc()
	defer gauge.Dec()

	started := time.Now()
	outcome, err := d.pusher.Push(context.Background(), batch)
	metrics.PushLatency.WithLabelValues(d.remote.Name, outcome.String()).Observe(time.Since(started).Seconds())

	d.complete(batch, p, outcome, err)
}

// complete applies the disposition of a finished push: success and
// permanent failure finish the task and release the PushOne; transient
// failure within budget reschedules with backoff; transient failure with
// no budget left is demoted to permanent. See SPEC_FULL.md §4.C
// "Completion".
func (d *Destination) complete(batch taskstore.UriUpdates, p *pushOne, outcome pushworker.Outcome, err error) {
	entry := d.log.WithField(logKeyURI, batch.URI)

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case outcome == pushworker.Success:
		entry.Info("replication succeeded")
		metrics.TasksTotal.WithLabelValues(d.remote.Name, "success").Inc()
		d.finishLocked(batch, p)

	case outcome == pushworker.Transient && p.retriesLeft > 0:
		p.retriesLeft--
		if resetErr := d.store.Reset(batch); resetErr != nil {
			entry.WithError(resetErr).Error("failed to reset task to waiting")
		}
		if d.stopped {
			entry.WithError(err).Warn("transient replication failure after drain; leaving task waiting for the next run")
			delete(d.table, p.uri)
			return
		}
		entry.WithError(err).WithField("retries-left", p.retriesLeft).Warn("transient replication failure, retrying")
		p.state = stateRetrying
		backoff := retryBackoff(d.remote.ReplicationDelay.Duration(), d.remote.ReplicationRetry-p.retriesLeft)
		d.armTimer(p, backoff)

	default:
		entry.WithError(err).Error("permanent replication failure")
		metrics.TasksTotal.WithLabelValues(d.remote.Name, "permanent").Inc()
		d.finishLocked(batch, p)
	}
}

// finishLocked removes the task from the store and promotes any successor
// batch that arrived while the push was running, per the successor
// pattern in SPEC_FULL.md §4.C. Callers must hold d.mu.
func (d *Destination) finishLocked(batch taskstore.UriUpdates, p *pushOne) {
	if err := d.store.Finish(batch); err != nil {
		d.log.WithField(logKeyURI, batch.URI).WithError(err).Error("failed to finish task")
	}

	delete(d.table, p.uri)

	if len(p.successor) == 0 {
		return
	}

	successor := newPushOneFromRefs(p.project, p.uri, p.successor, d.remote.ReplicationRetry)
	d.table[p.uri] = successor
	d.armTimer(successor, d.remote.ReplicationDelay.Duration())
}

// retryBackoff computes the delay before retry attempt n: the
// destination's configured replication delay, doubled per attempt and
// capped at five minutes. It is a timer the scheduler can cancel on
// drain, which rules out handing the whole wait off to a library retry
// loop (see pushworker, which does use avast/retry-go, for the
// transport-level retries that don't need to survive a process restart).
func retryBackoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < 5*time.Minute; i++ {
		d *= 2
	}
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

// IsRunning reports whether this destination is currently accepting new
// Schedule calls.
func (d *Destination) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.stopped
}

// IsReplaying reports whether any PushOne for this destination is
// currently Running or Retrying.
func (d *Destination) IsReplaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.table {
		if p.state == stateRunning || p.state == stateRetrying {
			return true
		}
	}
	return false
}

// Drain stops accepting new Schedule calls, cancels all pending retry
// timers (leaving their tasks Waiting in the store for the next run to
// resume), and waits for in-flight pushes to finish naturally or for ctx
// to expire.
func (d *Destination) Drain(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	for uri, p := range d.table {
		if p.state == stateScheduled || p.state == stateRetrying {
			p.stopTimer()
			delete(d.table, uri)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume re-enables Schedule after a Drain, used by the control socket's
// start command.
func (d *Destination) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = false
}
