/**
 * @description
 * Cross-instance relay wiring for the realtime gateway. RelayEmitter wraps
 * the local gateway: every emission is delivered to local rooms and, when the
 * broker is reachable, re-published so sibling instances can reach their own
 * sockets. Foreign frames received from the broker are replayed locally;
 * frames this instance originated are skipped to prevent loops.
 *
 * The relay is optional infrastructure. A broker outage downgrades the
 * deployment to single-instance delivery and is logged, never surfaced.
 */

package gateway

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"github.com/refundly/refund-service/pkg/rabbitmq"
)

// RelayEmitter fans local emissions out to sibling instances.
type RelayEmitter struct {
	local      *Gateway
	producer   *rabbitmq.RelayProducer
	instanceID string
}

// NewRelayEmitter wraps the gateway with broker fan-out. producer may be nil,
// which leaves the emitter purely local.
func NewRelayEmitter(local *Gateway, producer *rabbitmq.RelayProducer) *RelayEmitter {
	return &RelayEmitter{
		local:      local,
		producer:   producer,
		instanceID: uuid.NewString(),
	}
}

// InstanceID identifies this process on the relay exchange.
func (e *RelayEmitter) InstanceID() string {
	return e.instanceID
}

// Emit delivers to local rooms first, then relays to the broker.
func (e *RelayEmitter) Emit(room string, eventType string, payload json.RawMessage) error {
	if err := e.local.Emit(room, eventType, payload); err != nil {
		return err
	}
	if e.producer == nil {
		return nil
	}

	err := e.producer.Publish(context.Background(), rabbitmq.RelayFrame{
		Origin:  e.instanceID,
		Room:    room,
		Type:    eventType,
		Payload: payload,
	})
	if err != nil {
		log.Printf("level=warn component=relay msg=\"relay publish failed\" room=%s type=%s err=%v", room, eventType, err)
	}
	return nil
}

// HandleFrame replays a foreign relay frame into the local gateway. Frames
// are never re-published from here.
func (e *RelayEmitter) HandleFrame(frame rabbitmq.RelayFrame) {
	if frame.Origin == e.instanceID {
		return
	}
	if err := e.local.Emit(frame.Room, frame.Type, frame.Payload); err != nil {
		log.Printf("level=warn component=relay msg=\"relay replay failed\" room=%s type=%s err=%v", frame.Room, frame.Type, err)
	}
}
