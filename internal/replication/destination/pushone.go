package destination

import (
	"sort"
	"time"
)

// pushState is the lifecycle of a single PushOne scheduling record.
type pushState int

const (
	statePending pushState = iota
	stateScheduled
	stateRunning
	stateRetrying
)

func (s pushState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateScheduled:
		return "scheduled"
	case stateRunning:
		return "running"
	case stateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// pushOne is the scheduler's per-URI state: the set of refs coalesced
// since the last dispatch, when the batch is due, and how many transient
// retries remain. See SPEC_FULL.md §4.C.
type pushOne struct {
	project string
	uri     string

	pendingRefs map[string]struct{}
	retriesLeft int
	state       pushState
	timer       *time.Timer

	// successor holds refs that arrived while this pushOne was Running.
	// It is promoted into a fresh pushOne at completion rather than
	// mutating the in-flight refspec set, per the "successor pattern"
	// resolution of the coalescing ambiguity flagged in SPEC_FULL.md §9.
	successor map[string]struct{}
}

func newPushOne(project, uri, ref string, retryBudget int) *pushOne {
	return &pushOne{
		project:     project,
		uri:         uri,
		pendingRefs: map[string]struct{}{ref: {}},
		retriesLeft: retryBudget,
		state:       stateScheduled,
	}
}

func newPushOneFromRefs(project, uri string, refs map[string]struct{}, retryBudget int) *pushOne {
	return &pushOne{
		project:     project,
		uri:         uri,
		pendingRefs: refs,
		retriesLeft: retryBudget,
		state:       stateScheduled,
	}
}

func (p *pushOne) addRef(ref string) {
	switch p.state {
	case stateRunning:
		if p.successor == nil {
			p.successor = map[string]struct{}{}
		}
		p.successor[ref] = struct{}{}
	default:
		p.pendingRefs[ref] = struct{}{}
	}
}

func (p *pushOne) refs() []string {
	out := make([]string, 0, len(p.pendingRefs))
	for ref := range p.pendingRefs {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}

func (p *pushOne) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
