package replconfig

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// QueueStatus is the subset of the replication queue the reload
// controller needs to decide whether a reload is safe, per SPEC_FULL.md
// §4.F's guard clauses.
type QueueStatus interface {
	// IsRunning reports whether the queue is currently accepting work.
	// A stopped queue is never reloaded out from under a drain in
	// progress.
	IsRunning() bool
	// IsReplaying reports whether any destination still has in-flight
	// or retrying pushes.
	IsReplaying() bool
}

// Subscriber is notified with the newly loaded snapshot whenever a
// reload succeeds. Implementations rebuild their destinations from it;
// an error is logged but never aborts the reload (SPEC_FULL.md §7,
// "Event-handler exception").
type Subscriber func(*ConfigSnapshot) error

// Controller watches a config file on disk and publishes a new
// ConfigSnapshot whenever its version fingerprint changes, gated by the
// queue's running/replaying state. It implements the "shared snapshot
// reference behind an atomic pointer" resolution of SPEC_FULL.md §9's
// dependency-injection design note.
type Controller struct {
	path  string
	queue QueueStatus
	log   *logrus.Entry

	poll time.Duration

	current atomic.Pointer[ConfigSnapshot]

	mu                sync.Mutex
	loadedVersion     string
	lastFailedVersion string
	subscribers       []Subscriber

	cancel context.CancelFunc
	done   chan struct{}
}

// NewController constructs a Controller for the config file at path. It
// does not load anything until Start is called.
func NewController(path string, queue QueueStatus, log *logrus.Entry) *Controller {
	return &Controller{
		path:  path,
		queue: queue,
		log:   log,
		poll:  time.Second,
	}
}

// Subscribe registers fn to be called with every successfully loaded
// snapshot, including the first one loaded by Start.
func (c *Controller) Subscribe(fn Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Snapshot returns the most recently published ConfigSnapshot, or nil if
// Start has not yet completed its first load.
func (c *Controller) Snapshot() *ConfigSnapshot {
	return c.current.Load()
}

// Start performs the initial load and, if the snapshot says autoReload
// is enabled, begins watching the config file: an fsnotify watch fires an
// immediate tick, and a fallback ticker covers filesystems where
// inotify doesn't reach (network mounts), per SPEC_FULL.md §4.F.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.reload(); err != nil {
		return err
	}

	if !c.current.Load().AutoReload {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.log.WithError(err).Warn("replconfig: could not start fsnotify watcher, relying on poll ticker")
		watcher = nil
	} else if err := watcher.Add(c.path); err != nil {
		c.log.WithError(err).Warn("replconfig: could not watch config file, relying on poll ticker")
		watcher.Close()
		watcher = nil
	}

	go c.run(ctx, watcher)
	return nil
}

// Stop cancels the watch loop and waits for it to exit.
func (c *Controller) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Controller) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(c.done)
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		case <-events:
			c.tick()
		}
	}
}

// tick implements the four guard clauses of SPEC_FULL.md §4.F /
// spec.md §4.F: skip if the on-disk version hasn't changed, skip if it
// already failed to parse once, skip if the queue isn't running, and
// skip if it is still replaying.
func (c *Controller) tick() {
	version, err := fingerprintFile(c.path)
	if err != nil {
		c.log.WithError(err).Error("replconfig: failed to fingerprint config file")
		return
	}

	c.mu.Lock()
	loaded, failed := c.loadedVersion, c.lastFailedVersion
	c.mu.Unlock()

	if version == loaded || version == failed {
		return
	}
	if c.queue != nil && (!c.queue.IsRunning() || c.queue.IsReplaying()) {
		return
	}

	if err := c.reload(); err != nil {
		c.log.WithError(err).Error("replconfig: reload failed")
	}
}

// reload parses the config file, and on success publishes it to every
// subscriber and records loadedVersion; on failure it records
// lastFailedVersion so the same broken file isn't retried every tick.
func (c *Controller) reload() error {
	snap, err := FromFile(c.path)
	if err != nil {
		version, fErr := fingerprintFile(c.path)
		if fErr == nil {
			c.mu.Lock()
			c.lastFailedVersion = version
			c.mu.Unlock()
		}
		return err
	}

	c.mu.Lock()
	subscribers := append([]Subscriber(nil), c.subscribers...)
	c.mu.Unlock()

	for _, fn := range subscribers {
		if err := fn(snap); err != nil {
			c.log.WithError(err).Error("replconfig: subscriber rejected new snapshot")
		}
	}

	c.current.Store(snap)
	c.mu.Lock()
	c.loadedVersion = snap.Version
	c.lastFailedVersion = ""
	c.mu.Unlock()

	return nil
}
