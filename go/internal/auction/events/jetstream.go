package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	URL             string        `yaml:"url"`
	StreamName      string        `yaml:"stream_name"`
	EventPrefix     string        `yaml:"event_prefix"`
	PushPrefix      string        `yaml:"push_prefix"`
	MaxReconnects   int           `yaml:"max_reconnects"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait"`
	MaxAge          time.Duration `yaml:"max_age"` // How long to keep messages
	Replicas        int           `yaml:"replicas"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "AUCTION_EVENTS",
		EventPrefix:     "auction.events",
		PushPrefix:      "auction.push",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
	}
}

// JetStreamPublisher publishes domain events on
// <EventPrefix>.<auctionId>.<eventType> and push notifications on
// <PushPrefix>.<userId>.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamPublisher(ctx context.Context, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{nc: nc, js: js, config: cfg}
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return p, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Auction domain events and push notifications",
		Subjects: []string{
			p.config.EventPrefix + ".>",
			p.config.PushPrefix + ".>",
		},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     p.config.MaxAge,
		Storage:    jetstream.FileStorage,
		Replicas:   p.config.Replicas,
		Duplicates: p.config.DuplicateWindow,
	}

	if _, err := p.js.CreateOrUpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("create or update stream: %w", err)
	}
	log.Info().Str("stream", p.config.StreamName).Msg("JetStream stream ready")
	return nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, event Event) error {
	subject := fmt.Sprintf("%s.%s.%s", p.config.EventPrefix, event.AuctionID, event.Type)
	return p.publish(ctx, subject, event.ID.String(), event)
}

func (p *JetStreamPublisher) Push(ctx context.Context, userID uuid.UUID, event Event) error {
	subject := fmt.Sprintf("%s.%s", p.config.PushPrefix, userID)
	return p.publish(ctx, subject, event.ID.String()+":"+userID.String(), event)
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject, msgID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_type", string(event.Type)).
		Uint64("seq", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("published to JetStream")
	return nil
}

// Close drains the NATS connection.
func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
