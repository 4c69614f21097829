package domain

import "strings"

// Task represents a single mirrored item in the local read model. ID and
// CreatedAt are assigned by the remote store and never change afterwards.
type Task struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Content   string `json:"content"`
	Done      bool   `json:"done,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// Draft carries the validated payload of a task creation request.
type Draft struct {
	Content string
}

// NewDraft validates user supplied content for a new task.
func NewDraft(content string) (Draft, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Draft{}, ErrEmptyContent
	}
	return Draft{Content: trimmed}, nil
}
