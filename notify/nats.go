package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/goliatone/go-ingest/core"
)

// PublishConn is the slice of the NATS connection the publisher needs.
// *nats.Conn satisfies it.
type PublishConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher sends one JSON message per event transition.
type NATSPublisher struct {
	Conn PublishConn
}

// Connect dials a NATS server and wraps the connection. The caller owns
// the connection lifecycle via Close on the returned conn.
func Connect(url string, options ...nats.Option) (*NATSPublisher, *nats.Conn, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, nil, fmt.Errorf("notify: connect %s: %w", url, err)
	}
	return &NATSPublisher{Conn: conn}, conn, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, notification core.Notification) error {
	if p == nil || p.Conn == nil {
		return fmt.Errorf("notify: publisher has no connection")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("notify: subject is required")
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("notify: encode notification: %w", err)
	}
	if err := p.Conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("notify: publish %s: %w", subject, err)
	}
	return nil
}

var _ core.Notifier = (*NATSPublisher)(nil)
