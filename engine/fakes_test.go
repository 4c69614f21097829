package engine

import (
	"context"
	"fmt"
	"sync"

	"taskmirror/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	tasks     map[string][]domain.Task
	gates     map[string]chan struct{}
	queryErr  error
	insertErr error
	updateErr error
	deleteErr error
	inserted  []domain.Task
	updates   []string
	deletes   []string
	nextID    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string][]domain.Task{}, gates: map[string]chan struct{}{}}
}

func (f *fakeStore) gate(owner string, ch chan struct{}) {
	f.mu.Lock()
	f.gates[owner] = ch
	f.mu.Unlock()
}

func (f *fakeStore) QueryTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	f.mu.Lock()
	gate := f.gates[owner]
	err := f.queryErr
	tasks := append([]domain.Task(nil), f.tasks[owner]...)
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, owner string, draft domain.Draft) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return domain.Task{}, f.insertErr
	}
	f.nextID++
	task := domain.Task{
		ID:        fmt.Sprintf("t%d", f.nextID),
		Owner:     owner,
		Content:   draft.Content,
		CreatedAt: int64(f.nextID) * 10,
	}
	f.inserted = append(f.inserted, task)
	return task, nil
}

func (f *fakeStore) SetTaskDone(ctx context.Context, owner, id string, done bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, owner+"/"+id)
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, owner, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, owner+"/"+id)
	return nil
}

func (f *fakeStore) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

func (f *fakeStore) lastInserted() domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserted[len(f.inserted)-1]
}

type fakeSub struct {
	owner  string
	events chan domain.ChangeEvent
	once   sync.Once
	closed chan struct{}
}

func (s *fakeSub) Events() <-chan domain.ChangeEvent { return s.events }

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		close(s.closed)
		close(s.events)
	})
	return nil
}

func (s *fakeSub) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSub
}

func (f *fakeFeed) Subscribe(ctx context.Context, owner string) (Subscription, error) {
	sub := &fakeSub{
		owner:  owner,
		events: make(chan domain.ChangeEvent, 16),
		closed: make(chan struct{}),
	}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub, nil
}

func (f *fakeFeed) lastSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

// emit delivers an event on the most recent subscription.
func (f *fakeFeed) emit(ev domain.ChangeEvent) {
	f.lastSub().events <- ev
}

type fakeIdentity struct {
	mu      sync.Mutex
	current string
	changes chan string
}

func newFakeIdentity(owner string) *fakeIdentity {
	return &fakeIdentity{current: owner, changes: make(chan string, 8)}
}

func (f *fakeIdentity) Current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeIdentity) Changes() <-chan string { return f.changes }

func (f *fakeIdentity) set(owner string) {
	f.mu.Lock()
	f.current = owner
	f.mu.Unlock()
	f.changes <- owner
}
