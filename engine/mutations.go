package engine

import (
	"context"

	"taskmirror/domain"
)

// CreateTask validates content and issues the insert against the remote
// store. No optimistic local insert happens here: the mirror picks the task
// up when its insert event echoes back on the change feed.
func (e *Engine) CreateTask(ctx context.Context, content string) error {
	draft, err := domain.NewDraft(content)
	if err != nil {
		return err
	}
	owner := e.ids.Current()
	if owner == "" {
		return domain.ErrUnauthenticated
	}
	task, err := e.store.InsertTask(ctx, owner, draft)
	if err != nil {
		return &domain.RemoteError{Op: "insert", Err: err}
	}
	e.log.WithField("task", task.ID).Debug("insert accepted by store")
	return nil
}

// SetDone flags or unflags a task as completed. The local view updates when
// the update event arrives.
func (e *Engine) SetDone(ctx context.Context, id string, done bool) error {
	owner := e.ids.Current()
	if owner == "" {
		return domain.ErrUnauthenticated
	}
	if err := e.store.SetTaskDone(ctx, owner, id, done); err != nil {
		return &domain.RemoteError{Op: "update", Err: err}
	}
	return nil
}

// DeleteTask removes a task from the remote collection. Local removal occurs
// via the feed's delete event.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	owner := e.ids.Current()
	if owner == "" {
		return domain.ErrUnauthenticated
	}
	if err := e.store.DeleteTask(ctx, owner, id); err != nil {
		return &domain.RemoteError{Op: "delete", Err: err}
	}
	return nil
}
