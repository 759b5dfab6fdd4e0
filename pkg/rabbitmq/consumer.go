/**
 * @description
 * The consumer half of the realtime relay. Each refund-service instance binds
 * its own auto-deleted queue to the events exchange with a wildcard realtime
 * routing key and replays every foreign frame into the local gateway.
 *
 * @dependencies
 * - encoding/json: To decode relay frames.
 * - log: For logging consumer status and errors.
 * - github.com/rabbitmq/amqp091-go: The official Go client for RabbitMQ.
 */
package rabbitmq

import (
	"encoding/json"
	"log"

	"github.com/rabbitmq/amqp091-go"
)

// RelayHandler processes one decoded relay frame.
type RelayHandler func(frame RelayFrame)

// RelayConsumer receives relay frames published by other instances.
type RelayConsumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NewRelayConsumer creates a new relay consumer.
func NewRelayConsumer(amqpURL string) (*RelayConsumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &RelayConsumer{
		conn:    conn,
		channel: channel,
	}, nil
}

// Consume binds a per-instance queue to the exchange and hands every frame to
// the handler. Frames are always acked: relay delivery is best effort and the
// durable queue upstream already owns retries.
func (c *RelayConsumer) Consume(exchange, queueName string, handler RelayHandler) error {
	err := c.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return err
	}

	// The queue is per instance and disappears with it; relay frames are only
	// useful to live sockets.
	q, err := c.channel.QueueDeclare(
		queueName, // name
		false,     // durable
		true,      // delete when unused
		true,      // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return err
	}

	err = c.channel.QueueBind(
		q.Name,       // queue name
		"realtime.#", // routing key
		exchange,     // exchange
		false,
		nil,
	)
	if err != nil {
		return err
	}

	msgs, err := c.channel.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			var frame RelayFrame
			if err := json.Unmarshal(d.Body, &frame); err != nil {
				log.Printf("level=warn component=relay_consumer msg=\"undecodable relay frame\" routing_key=%s err=%v", d.RoutingKey, err)
				continue
			}
			handler(frame)
		}
	}()

	return nil
}

// Close gracefully closes the channel and connection.
func (c *RelayConsumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
