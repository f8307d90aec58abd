package probe

import (
	"fmt"
	"sync"

	"Go2NetStats/internal/config"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/atomic"
)

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	Flush() error
	Drain() error
}

// Publisher is responsible for publishing packet records to a NATS subject.
// It implements model.Observer, so a capture source can feed it directly.
type Publisher struct {
	nc      conn
	subject string

	published   atomic.Uint64
	parseErrors atomic.Uint64
	skipped     atomic.Uint64

	mu  sync.Mutex
	err error
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.ProbeConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("ns-probe"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logging.WithComponent("probe").Infof("Connected to NATS server at %s", cfg.NATSURL)
	return newPublisher(nc, cfg.Subject), nil
}

func newPublisher(nc conn, subject string) *Publisher {
	return &Publisher{nc: nc, subject: subject}
}

// Publish serializes a record and publishes it to the configured subject.
func (p *Publisher) Publish(rec *model.PacketRecord) error {
	if err := p.nc.Publish(p.subject, EncodeRecord(rec)); err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}
	p.published.Inc()
	return nil
}

// Observe publishes rec. The first publish error is kept and reported by Err.
func (p *Publisher) Observe(rec *model.PacketRecord) {
	if err := p.Publish(rec); err != nil {
		p.mu.Lock()
		if p.err == nil {
			p.err = err
			logging.WithComponent("probe").Errorf("Publishing failed: %v", err)
		}
		p.mu.Unlock()
	}
}

// RecordParseError counts a packet that the probe could not decode.
func (p *Publisher) RecordParseError() { p.parseErrors.Inc() }

// RecordSkipped counts a frame without an IP packet.
func (p *Publisher) RecordSkipped() { p.skipped.Inc() }

// Err returns the first publish error, if any.
func (p *Publisher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns the published, parse error and skipped counts.
func (p *Publisher) Stats() (published, parseErrors, skipped uint64) {
	return p.published.Load(), p.parseErrors.Load(), p.skipped.Load()
}

// Finish publishes the end-of-stream marker and flushes the connection.
func (p *Publisher) Finish() error {
	if err := p.nc.Publish(p.subject, nil); err != nil {
		return fmt.Errorf("failed to publish end of stream: %w", err)
	}
	if err := p.nc.Flush(); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	logging.WithComponent("probe").Info("NATS connection drained and closed.")
	return nil
}
