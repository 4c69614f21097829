package api

import (
	"context"

	"taskmirror/domain"
	"taskmirror/engine"
)

// Mirror is the local reconciled view the handlers serve from.
type Mirror interface {
	Snapshot() domain.Collection
	State() engine.State
	Live() bool
	LastError() error
	Watch() (<-chan struct{}, func())
	CreateTask(ctx context.Context, content string) error
	SetDone(ctx context.Context, id string, done bool) error
	DeleteTask(ctx context.Context, id string) error
}

// Session controls the signed-in identity behind the mirror.
type Session interface {
	Set(token string) (string, error)
	Clear()
}

type createTaskRequest struct {
	Content string `json:"content"`
}

type setDoneRequest struct {
	Done bool `json:"done"`
}

type sessionRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Owner string `json:"owner"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type healthResponse struct {
	State string `json:"state"`
	Live  bool   `json:"live"`
	Error string `json:"error,omitempty"`
}
