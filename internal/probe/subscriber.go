package probe

import (
	"context"
	"fmt"

	"Go2NetStats/internal/config"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/model"

	"github.com/nats-io/nats.go"
)

// subscription is the part of *nats.Subscription the subscriber needs.
type subscription interface {
	NextMsgWithContext(ctx context.Context) (*nats.Msg, error)
	Dropped() (int, error)
	Unsubscribe() error
}

// Subscriber receives packet records from a NATS subject. It implements
// model.Source: Run returns once the end-of-stream marker arrives.
type Subscriber struct {
	nc      *nats.Conn
	subject string
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.ProbeConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("ns-engine"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logging.WithComponent("subscriber").Infof("Connected to NATS server at %s", cfg.NATSURL)
	return &Subscriber{nc: nc, subject: cfg.Subject}, nil
}

func (s *Subscriber) Name() string { return "nats:" + s.subject }

// Run subscribes and feeds decoded records to obs until the end-of-stream
// marker or cancellation. Messages the client dropped as a slow consumer
// make Run return an error wrapping model.ErrIncomplete.
func (s *Subscriber) Run(ctx context.Context, obs model.Observer) error {
	sub, err := s.nc.SubscribeSync(s.subject)
	if err != nil {
		return fmt.Errorf("failed to subscribe to '%s': %w", s.subject, err)
	}
	// Negative limits disable slow-consumer dropping on the client side.
	if err := sub.SetPendingLimits(-1, -1); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("failed to lift pending limits on '%s': %w", s.subject, err)
	}
	logging.WithComponent("subscriber").Infof("Subscribed to '%s'. Waiting for messages...", s.subject)
	return consume(ctx, s.subject, sub, obs)
}

func consume(ctx context.Context, subject string, sub subscription, obs model.Observer) error {
	log := logging.WithComponent("subscriber")
	defer sub.Unsubscribe()

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to receive from '%s': %w", subject, err)
		}
		if !handleMessage(msg.Data, obs) {
			continue
		}

		log.Infof("End of stream received on '%s'", subject)
		dropped, err := sub.Dropped()
		if err != nil {
			return fmt.Errorf("failed to read dropped count of '%s': %w", subject, err)
		}
		if dropped > 0 {
			return fmt.Errorf("%w: %d messages dropped on '%s'", model.ErrIncomplete, dropped, subject)
		}
		return nil
	}
}

// handleMessage applies one payload to obs and reports whether it was the
// end-of-stream marker.
func handleMessage(data []byte, obs model.Observer) bool {
	if len(data) == 0 {
		return true
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		logging.WithComponent("subscriber").Debugf("Dropping undecodable record: %v", err)
		obs.RecordParseError()
		return false
	}
	obs.Observe(rec)
	return false
}

// Close closes the NATS connection.
func (s *Subscriber) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
