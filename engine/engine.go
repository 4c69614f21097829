package engine

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"taskmirror/domain"
)

// Store performs point queries and mutations against the authoritative task
// store. Every call is a single request/response unit of work; retries are
// the caller's responsibility.
type Store interface {
	QueryTasks(ctx context.Context, owner string) ([]domain.Task, error)
	InsertTask(ctx context.Context, owner string, draft domain.Draft) (domain.Task, error)
	SetTaskDone(ctx context.Context, owner, id string, done bool) error
	DeleteTask(ctx context.Context, owner, id string) error
}

// Subscription is a live change event stream. Close releases it; the Events
// channel is closed afterwards.
type Subscription interface {
	Events() <-chan domain.ChangeEvent
	Close() error
}

// Feed establishes change event subscriptions for an owner's collection.
type Feed interface {
	Subscribe(ctx context.Context, owner string) (Subscription, error)
}

// IdentitySource reports the signed-in user and identity transitions. An
// empty owner means no user is signed in.
type IdentitySource interface {
	Current() string
	Changes() <-chan string
}

// State tracks the engine lifecycle.
type State int32

const (
	StateInactive State = iota
	StateBootstrapping
	StateLive
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateLive:
		return "live"
	default:
		return "inactive"
	}
}

type bootResult struct {
	gen   uint64
	owner string
	tasks []domain.Task
	err   error
}

// Engine reconciles the local task mirror. The collection is owned
// exclusively by the Run loop goroutine; all other goroutines read immutable
// snapshots published after each merge.
type Engine struct {
	store Store
	feed  Feed
	ids   IdentitySource
	log   *log.Logger

	state  atomic.Int32
	view   atomic.Value // domain.Collection
	broker *broker
	boots  chan bootResult

	mu      sync.Mutex
	lastErr error
}

func New(store Store, feed Feed, ids IdentitySource, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e := &Engine{
		store:  store,
		feed:   feed,
		ids:    ids,
		log:    logger,
		broker: newBroker(),
		boots:  make(chan bootResult, 1),
	}
	e.view.Store(domain.Collection{})
	return e
}

// Run drives the engine until ctx is cancelled. Identity transitions,
// bootstrap results and change events are all drained on this one goroutine,
// so merge handlers never race with each other.
func (e *Engine) Run(ctx context.Context) error {
	var (
		gen    uint64
		col    domain.Collection
		sub    Subscription
		events <-chan domain.ChangeEvent
	)

	teardown := func() {
		if sub != nil {
			if err := sub.Close(); err != nil {
				e.log.WithError(err).Warn("closing feed subscription")
			}
			sub = nil
			events = nil
		}
	}
	defer teardown()

	activate := func(owner string) {
		teardown()
		gen++
		col = nil
		e.publish(domain.Collection{})
		if owner == "" {
			e.setState(StateInactive)
			return
		}
		e.setState(StateBootstrapping)
		go e.bootstrap(ctx, gen, owner)
	}

	activate(e.ids.Current())

	for {
		select {
		case <-ctx.Done():
			e.setState(StateInactive)
			return ctx.Err()
		case owner := <-e.ids.Changes():
			e.log.WithField("owner", owner).Debug("identity transition")
			activate(owner)
		case res := <-e.boots:
			if res.gen != gen {
				e.log.WithField("owner", res.owner).Debug("discarding stale bootstrap result")
				continue
			}
			if res.err != nil {
				e.setErr(res.err)
				e.setState(StateInactive)
				e.log.WithError(res.err).WithField("owner", res.owner).Error("bootstrap failed, mirror stays empty")
				continue
			}
			col = domain.NewCollection(res.tasks)
			e.publish(col)
			s, err := e.feed.Subscribe(ctx, res.owner)
			if err != nil {
				e.setErr(err)
				e.setState(StateInactive)
				e.log.WithError(err).Error("feed subscribe failed")
				continue
			}
			sub = s
			events = s.Events()
			e.setErr(nil)
			e.setState(StateLive)
			e.log.WithFields(log.Fields{"owner": res.owner, "tasks": len(col)}).Info("mirror live")
		case ev, ok := <-events:
			if !ok {
				// The feed stopped silently. The mirror keeps serving its
				// last known-good view until the next identity transition.
				events = nil
				e.log.Warn("change feed closed")
				continue
			}
			col = e.apply(col, ev)
			e.publish(col)
		}
	}
}

func (e *Engine) bootstrap(ctx context.Context, gen uint64, owner string) {
	tasks, err := e.store.QueryTasks(ctx, owner)
	select {
	case e.boots <- bootResult{gen: gen, owner: owner, tasks: tasks, err: err}:
	case <-ctx.Done():
	}
}

func (e *Engine) apply(col domain.Collection, ev domain.ChangeEvent) domain.Collection {
	switch ev.Type {
	case domain.TaskInserted:
		t, err := ev.DecodeTask()
		if err != nil {
			e.log.WithError(err).WithField("event", ev.ID).Warn("dropping malformed insert event")
			return col
		}
		return col.Insert(t)
	case domain.TaskUpdated:
		t, err := ev.DecodeTask()
		if err != nil {
			e.log.WithError(err).WithField("event", ev.ID).Warn("dropping malformed update event")
			return col
		}
		return col.Update(t)
	case domain.TaskDeleted:
		return col.Remove(ev.EntityID)
	default:
		e.log.WithField("type", ev.Type).Debug("ignoring unknown change event")
		return col
	}
}

func (e *Engine) publish(col domain.Collection) {
	snap := make(domain.Collection, len(col))
	copy(snap, col)
	e.view.Store(snap)
	e.broker.notify()
}

// Snapshot returns the current immutable view of the collection.
func (e *Engine) Snapshot() domain.Collection {
	return e.view.Load().(domain.Collection)
}

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) Live() bool { return e.State() == StateLive }

// Watch returns a channel signalled after every merge, plus a cancel func
// releasing it.
func (e *Engine) Watch() (<-chan struct{}, func()) {
	ch := e.broker.subscribe()
	return ch, func() { e.broker.unsubscribe(ch) }
}

// LastError reports the most recent bootstrap or subscribe failure, nil once
// the mirror goes live again.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

func (e *Engine) setErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}
