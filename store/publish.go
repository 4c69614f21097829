package store

import (
	"context"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskmirror/domain"
)

func (s *Store) taskEvent(kind string, t domain.Task) domain.ChangeEvent {
	data, err := sonic.Marshal(t)
	if err != nil {
		// domain.Task marshals from plain fields; treat failure as a bug.
		panic(err)
	}
	return domain.ChangeEvent{
		ID:       s.newID(),
		EntityID: t.ID,
		Type:     kind,
		Data:     data,
		Time:     s.now().UnixNano(),
		OwnerID:  t.Owner,
	}
}

func (s *Store) deleteEvent(owner, id string) domain.ChangeEvent {
	return domain.ChangeEvent{
		ID:       s.newID(),
		EntityID: id,
		Type:     domain.TaskDeleted,
		Time:     s.now().UnixNano(),
		OwnerID:  owner,
	}
}

// publish broadcasts the event on the shared feed channel. The mutation is
// already durable at this point; a lost broadcast degrades to a feed delivery
// gap, so the failure is logged rather than returned.
func (s *Store) publish(ctx context.Context, ev domain.ChangeEvent) {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		s.log.WithError(err).WithField("event", ev.ID).Error("unable to marshal change event")
		return
	}
	if err := s.redis.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.log.WithError(err).WithFields(log.Fields{"event": ev.ID, "type": ev.Type}).Error("unable to publish change event")
		return
	}
	s.log.WithFields(log.Fields{"event": ev.ID, "type": ev.Type, "task": ev.EntityID}).Debug("change event published")
}
