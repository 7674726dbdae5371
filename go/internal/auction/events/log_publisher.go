package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LogPublisher writes events to the log. It stands in for JetStream when no
// NATS server is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event Event) error {
	log.Debug().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("auction_id", event.AuctionID.String()).
		RawJSON("payload", event.Payload).
		Msg("auction event")
	return nil
}

func (LogPublisher) Push(ctx context.Context, userID uuid.UUID, event Event) error {
	log.Debug().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("auction_id", event.AuctionID.String()).
		Str("user_id", userID.String()).
		Msg("push notification")
	return nil
}
