/**
 * @description
 * Event publishing strategies. `EventSink` is the single surface the
 * StatusEngine talks to; which implementation sits behind it is decided once
 * at startup:
 *
 * - QueuedSink persists each event as a durable delivery job so the queue
 *   worker can deliver it with retries (at-least-once).
 * - DirectSink bypasses the queue and emits synchronously to the realtime
 *   gateway. Best effort, no retry, no persistence: the degraded mode used
 *   when no queue backend is configured.
 *
 * QueuedSink degrades to its embedded DirectSink when the enqueue INSERT
 * fails, so a queue outage is never surfaced to the business operation.
 */

package app

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/refundly/refund-service/internal/domain"
	"github.com/refundly/refund-service/internal/store"
)

// EventSink accepts a validated domain event for eventual delivery. Publish
// must not block on delivery; it returns an error only when the event itself
// is malformed.
type EventSink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Emitter relays one event envelope to a gateway room. Implementations are
// fire-and-forget toward individual sockets; the returned error covers the
// relay hop only, never per-socket delivery.
type Emitter interface {
	Emit(room string, eventType string, payload json.RawMessage) error
}

// DirectSink emits events synchronously from the caller's control flow.
type DirectSink struct {
	emitter Emitter
}

// NewDirectSink creates the degraded direct-dispatch sink.
func NewDirectSink(emitter Emitter) *DirectSink {
	return &DirectSink{emitter: emitter}
}

// Publish resolves the target rooms and emits immediately. Emission failures
// are logged and swallowed: there is nothing durable to retry from.
func (s *DirectSink) Publish(ctx context.Context, event domain.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	for _, room := range event.Target.Rooms() {
		if err := s.emitter.Emit(room, string(event.Type), event.Payload); err != nil {
			log.Printf("level=warn component=direct_sink msg=\"emit failed\" room=%s type=%s err=%v", room, event.Type, err)
		}
	}
	return nil
}

// QueuedSink persists events as durable delivery jobs.
type QueuedSink struct {
	queue    store.QueueRepository
	fallback *DirectSink
}

// NewQueuedSink creates the durable sink. fallback handles events the queue
// backend rejects and may be nil when no gateway is wired locally.
func NewQueuedSink(queue store.QueueRepository, fallback *DirectSink) *QueuedSink {
	return &QueuedSink{queue: queue, fallback: fallback}
}

// Publish validates the event and enqueues one job carrying its type, payload
// and target descriptor under a generated job key. A failed INSERT degrades
// to direct dispatch for this event; the caller never sees the queue error.
func (s *QueuedSink) Publish(ctx context.Context, event domain.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	job := &store.Job{
		JobKey:    uuid.New(),
		EventType: string(event.Type),
		Payload:   event.Payload,
		Target:    event.Target.Descriptor(),
	}
	if err := s.queue.EnqueueJob(ctx, job); err != nil {
		log.Printf("level=warn component=queued_sink msg=\"enqueue failed; dispatching directly\" type=%s target=%s err=%v", event.Type, job.Target, err)
		if s.fallback != nil {
			return s.fallback.Publish(ctx, event)
		}
		return nil
	}
	return nil
}
