/**
 * @description
 * This package provides the RabbitMQ relay used to fan realtime event
 * envelopes out across refund-service instances. Each instance publishes the
 * envelopes it emits locally; every other instance consumes them and replays
 * them into its own gateway rooms, so a client is reachable no matter which
 * instance its socket landed on.
 *
 * Key features:
 * - Manages the AMQP connection and channel.
 * - Declares a topic exchange so envelopes route per room.
 * - Publishes relay frames tagged with the origin instance to prevent loops.
 *
 * @dependencies
 * - context: For managing request-scoped deadlines and cancellations.
 * - encoding/json: To serialize relay frames.
 * - github.com/rabbitmq/amqp091-go: The official Go client for RabbitMQ.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/rabbitmq/amqp091-go"
)

// RelayFrame is the cross-instance wire format for one room emission.
type RelayFrame struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RelayProducer publishes relay frames to the events exchange.
type RelayProducer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewRelayProducer connects and declares the topic exchange.
func NewRelayProducer(amqpURL, exchange string) (*RelayProducer, error) {
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

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	return &RelayProducer{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
	}, nil
}

// Publish sends one relay frame, routed as "realtime.<room>".
func (p *RelayProducer) Publish(ctx context.Context, frame RelayFrame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	return p.channel.PublishWithContext(ctx,
		p.exchange,              // exchange
		"realtime."+frame.Room,  // routing key
		false,                   // mandatory
		false,                   // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
}

// Close gracefully closes the channel and connection.
func (p *RelayProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
