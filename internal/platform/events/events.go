package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Publisher delivers domain events to subscribers outside the process.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

// Noop drops every event. It is used when no NATS URL is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, interface{}) error { return nil }

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher publishes JSON events on "<prefix>.<subject>".
type NATSPublisher struct {
	conn   msgPublisher
	nc     *nats.Conn
	prefix string
}

// Connect dials url and returns a publisher that reconnects indefinitely.
func Connect(url, prefix string, logger zerolog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("jhe-server"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("nats async error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{conn: nc, nc: nc, prefix: prefix}, nil
}

func (p *NATSPublisher) subject(s string) string {
	if p.prefix == "" {
		return s
	}
	return p.prefix + "." + s
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", subject, err)
	}
	msg := nats.NewMsg(p.subject(subject))
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	msg.Data = data
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
