package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/fetchvault/api/internal/model"
)

func updatesChannel(jobID string) string {
	return fmt.Sprintf("job:%s:updates", jobID)
}

// Publisher fans job state transitions out over Redis pub/sub, one channel
// per job id. Events are supplementary: a subscriber that misses one can
// always re-derive the state by polling the job store.
type Publisher struct {
	redis *redis.Client
}

func NewPublisher(redisClient *redis.Client) *Publisher {
	return &Publisher{redis: redisClient}
}

// Publish fires an event on the job's channel. Best effort: delivery is not
// acknowledged and a failure is logged, not returned, since the store
// snapshot remains authoritative.
func (p *Publisher) Publish(ctx context.Context, jobID string, kind model.EventKind, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("[pubsub] failed to marshal %s event for job %s: %v", kind, jobID, err)
		return
	}
	msg, err := json.Marshal(model.Event{Kind: kind, Data: raw})
	if err != nil {
		log.Printf("[pubsub] failed to marshal event envelope for job %s: %v", jobID, err)
		return
	}
	if err := p.redis.Publish(ctx, updatesChannel(jobID), msg).Err(); err != nil {
		log.Printf("[pubsub] failed to publish %s event for job %s: %v", kind, jobID, err)
	}
}

// Subscribe opens a scoped subscription to a job's update channel. The
// caller drains Events and must Close the subscription to release the
// underlying Redis connection. A new subscription starts from "now"; it is
// not replayable.
func (p *Publisher) Subscribe(ctx context.Context, jobID string) (*Subscription, error) {
	ps := p.redis.Subscribe(ctx, updatesChannel(jobID))
	// Force the SUBSCRIBE round trip so a broken connection surfaces here
	// instead of as a silently empty stream.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to job %s: %w", jobID, err)
	}

	sub := &Subscription{
		pubsub: ps,
		events: make(chan model.Event, 16),
		done:   make(chan struct{}),
	}
	go sub.pump(jobID)
	return sub, nil
}

// Subscription is a pull-based view of one job's event channel.
type Subscription struct {
	pubsub    *redis.PubSub
	events    chan model.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events returns the channel of decoded events. It is closed when the
// subscription is closed or the connection drops.
func (s *Subscription) Events() <-chan model.Event {
	return s.events
}

// Close releases the underlying pub/sub connection and stops the pump,
// even when the consumer walked away with events still pending.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.pubsub.Close()
}

func (s *Subscription) pump(jobID string) {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var ev model.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("[pubsub] dropping malformed event for job %s: %v", jobID, err)
			continue
		}
		// The consumer may have stopped reading before Close; never block
		// on a full buffer past the subscription's lifetime.
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
