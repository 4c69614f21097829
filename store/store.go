package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmirror/domain"
)

const edmInt64 = "Edm.Int64"

// entity carries the base table keys.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// Store is the remote store client. Tasks live in a shared table partitioned
// by owner; every mutation also broadcasts its change event on the feed
// channel so all mirrors, this one included, observe it.
type Store struct {
	table   *aztables.Client
	redis   *redis.Client
	channel string
	log     *log.Logger

	now   func() time.Time
	newID func() string
}

// New creates a Store from the given connection string.
func New(connStr, tasksTable string, rc *redis.Client, channel string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Store{
		table:   svc.NewClient(tasksTable),
		redis:   rc,
		channel: channel,
		log:     logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

type taskEntity struct {
	entity
	Content       string `json:"Content"`
	Done          bool   `json:"Done"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

func newTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		entity:        entity{PartitionKey: t.Owner, RowKey: t.ID},
		Content:       t.Content,
		Done:          t.Done,
		CreatedAt:     t.CreatedAt,
		CreatedAtType: edmInt64,
	}
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:        ent.RowKey,
		Owner:     ent.PartitionKey,
		Content:   ent.Content,
		Done:      ent.Done,
		CreatedAt: ent.CreatedAt,
	}, nil
}

// EnsureTable creates the tasks table when it does not exist yet.
func (s *Store) EnsureTable(ctx context.Context) error {
	if _, err := s.table.CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
			return err
		}
	}
	return nil
}

// QueryTasks retrieves the full collection for the provided owner, ordered
// newest first. An empty partition yields an empty result.
func (s *Store) QueryTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + owner + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			task, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	return domain.NewCollection(tasks), nil
}

// InsertTask assigns the task identity at the storage boundary, persists the
// entity and broadcasts the insert event.
func (s *Store) InsertTask(ctx context.Context, owner string, draft domain.Draft) (domain.Task, error) {
	task := domain.Task{
		ID:        s.newID(),
		Owner:     owner,
		Content:   draft.Content,
		CreatedAt: s.now().UnixNano(),
	}
	payload, err := json.Marshal(newTaskEntity(task))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	s.publish(ctx, s.taskEvent(domain.TaskInserted, task))
	return task, nil
}

// SetTaskDone flips the completion flag and broadcasts the update event with
// the full post-mutation record.
func (s *Store) SetTaskDone(ctx context.Context, owner, id string, done bool) error {
	resp, err := s.table.GetEntity(ctx, owner, id, nil)
	if err != nil {
		return err
	}
	task, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return err
	}
	task.Done = done
	payload, err := json.Marshal(map[string]any{
		"PartitionKey": owner,
		"RowKey":       id,
		"Done":         done,
	})
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	if _, err := s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return err
	}
	s.publish(ctx, s.taskEvent(domain.TaskUpdated, task))
	return nil
}

// DeleteTask removes the entity and broadcasts the delete event. A missing
// entity is tolerated so repeated deletes stay idempotent.
func (s *Store) DeleteTask(ctx context.Context, owner, id string) error {
	if _, err := s.table.DeleteEntity(ctx, owner, id, nil); err != nil {
		var respErr *azcore.ResponseError
		if !errors.As(err, &respErr) || respErr.StatusCode != 404 {
			return err
		}
	}
	s.publish(ctx, s.deleteEvent(owner, id))
	return nil
}
