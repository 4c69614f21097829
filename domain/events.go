package domain

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

const (
	TaskInserted = "task-inserted"
	TaskUpdated  = "task-updated"
	TaskDeleted  = "task-deleted"
)

// ChangeEvent is the envelope broadcast on the change feed channel. Insert
// and update events carry the full post-mutation record in Data; delete
// events carry only the entity key. Delivery is unordered and at-least-once.
type ChangeEvent struct {
	ID       string          `json:"Id"`
	EntityID string          `json:"EntityId"`
	Type     string          `json:"Type"`
	Data     json.RawMessage `json:"Data,omitempty"`
	Time     int64           `json:"Time"`
	OwnerID  string          `json:"OwnerId"`
}

// DecodeTask unmarshals the record carried by insert and update events.
func (ev ChangeEvent) DecodeTask() (Task, error) {
	var t Task
	if err := sonic.Unmarshal(ev.Data, &t); err != nil {
		return Task{}, fmt.Errorf("decode %s payload: %w", ev.Type, err)
	}
	if t.ID == "" {
		t.ID = ev.EntityID
	}
	if t.Owner == "" {
		t.Owner = ev.OwnerID
	}
	return t, nil
}
