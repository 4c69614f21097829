package feed

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmirror/domain"
)

// Feed attaches mirrors to the shared change event channel. Every client's
// store adapter publishes its mutations there, so a subscription observes the
// whole collection's changes, this client's included.
type Feed struct {
	redis   *redis.Client
	channel string
	log     *log.Logger
}

func New(rc *redis.Client, channel string, logger *log.Logger) *Feed {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Feed{redis: rc, channel: channel, log: logger}
}

// Subscription delivers decoded change events for one owner until closed.
type Subscription struct {
	events chan domain.ChangeEvent
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Events is closed once the subscription terminates.
func (s *Subscription) Events() <-chan domain.ChangeEvent { return s.events }

// Close stops delivery and waits for the receive loop to exit.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

// Subscribe starts delivering change events addressed to the given owner.
// Events for other owners on the shared channel are dropped. The receive
// loop reconnects with a delay when the pub/sub stream breaks.
func (f *Feed) Subscribe(ctx context.Context, owner string) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		events: make(chan domain.ChangeEvent, 64),
		cancel: cancel,
	}
	s.wg.Add(1)
	go f.receive(ctx, s, owner)
	return s, nil
}

func (f *Feed) receive(ctx context.Context, s *Subscription, owner string) {
	defer s.wg.Done()
	defer close(s.events)
	for {
		sub := f.redis.Subscribe(ctx, f.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev domain.ChangeEvent
				if err := sonic.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					f.log.WithError(err).Error("unable to parse change event")
					continue
				}
				if ev.OwnerID != owner {
					continue
				}
				select {
				case s.events <- ev:
				case <-ctx.Done():
					sub.Close()
					return
				}
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		f.log.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
