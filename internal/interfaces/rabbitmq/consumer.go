// Package rabbitmq consumes scraped listings from the ingest queue and
// feeds them to the board.
package rabbitmq

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/blatr/idealista-notify-bot/internal/application/lifecycle"
	"github.com/blatr/idealista-notify-bot/internal/contracts"
	"github.com/blatr/idealista-notify-bot/internal/domain"
)

type ConsumerConfig struct {
	URL      string
	Queue    string
	Tag      string
	Prefetch int
}

// Consumer pulls RawListing messages off the queue and ingests them.
// Messages that fail their contract are dropped; transient storage failures
// requeue so the broker redelivers.
type Consumer struct {
	cfg     ConsumerConfig
	service *lifecycle.Service
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewConsumer(cfg ConsumerConfig, service *lifecycle.Service) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := channel.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 8
	}
	if err := channel.Qos(prefetch, 0, false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Consumer{cfg: cfg, service: service, conn: conn, channel: channel}, nil
}

// Start consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	log.Info().Str("queue", c.cfg.Queue).Msg("Ingest consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	eventType, _ := msg.Headers["event-type"].(string)
	eventVersion, _ := msg.Headers["event-version"].(string)
	if eventType == "" {
		eventType = contracts.RawListingType
	}
	if eventVersion == "" {
		eventVersion = contracts.RawListingVersion
	}

	if err := contracts.ValidateEvent(eventType, eventVersion, msg.Body); err != nil {
		log.Warn().Err(err).
			Str("event_type", eventType).
			Str("event_version", eventVersion).
			Msg("Dropping message that fails its contract")
		_ = msg.Nack(false, false)
		return
	}

	var raw domain.RawListing
	if err := json.Unmarshal(msg.Body, &raw); err != nil {
		log.Warn().Err(err).Msg("Dropping undecodable message")
		_ = msg.Nack(false, false)
		return
	}
	if raw.Source == "" {
		raw.Source = domain.SourceScraper
	}

	listing, outcome, err := c.service.Ingest(ctx, raw)
	if err != nil {
		log.Error().Err(err).Str("url", raw.URL).Msg("Ingest failed, requeueing")
		_ = msg.Nack(false, true)
		return
	}

	log.Info().
		Uint("listing_id", listing.ID).
		Str("outcome", string(outcome)).
		Msg("Ingested listing from queue")
	_ = msg.Ack(false)
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
