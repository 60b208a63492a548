package notify

import (
	"context"
	"sync"

	"github.com/goliatone/go-ingest/core"
)

// Published is one captured notification.
type Published struct {
	Subject      string
	Notification core.Notification
}

// Capture is an in-process Notifier for tests and local wiring. Safe
// for concurrent use.
type Capture struct {
	mu        sync.Mutex
	published []Published
	fail      error
}

func NewCapture() *Capture {
	return &Capture{}
}

// FailWith makes every subsequent Publish return err.
func (c *Capture) FailWith(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

func (c *Capture) Publish(ctx context.Context, subject string, notification core.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.published = append(c.published, Published{Subject: subject, Notification: notification})
	return nil
}

// Published returns a copy of everything captured so far.
func (c *Capture) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Published, len(c.published))
	copy(out, c.published)
	return out
}

var _ core.Notifier = (*Capture)(nil)
