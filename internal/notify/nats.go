// Package notify publishes import lifecycle events to NATS.
//
// Each event is sent as JSON on <prefix>.<module>.<event>, for example
// importer.users.job.completed. Subscribers can follow one module with
// importer.users.> or every terminal job with importer.*.job.completed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/JonMunkholm/importer/internal/core"
)

// Publisher sends a message on a subject. Satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS is a core.Notifier that publishes events to NATS.
type NATS struct {
	pub    Publisher
	prefix string

	// progress controls whether job.progress events are published.
	progress bool
}

// Option configures a NATS notifier.
type Option func(*NATS)

// WithoutProgress skips job.progress events, which are sent once per batch.
func WithoutProgress() Option {
	return func(n *NATS) { n.progress = false }
}

// New creates a notifier that publishes through pub.
func New(pub Publisher, prefix string, opts ...Option) *NATS {
	n := &NATS{
		pub:      pub,
		prefix:   strings.Trim(prefix, "."),
		progress: true,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Connect dials the NATS server with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("importer"),
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject an event is published on.
func (n *NATS) Subject(ev core.Event) string {
	parts := make([]string, 0, 3)
	if n.prefix != "" {
		parts = append(parts, n.prefix)
	}
	module := ev.Module
	if module == "" {
		module = "_"
	}
	parts = append(parts, module, string(ev.Type))
	return strings.Join(parts, ".")
}

// Notify implements core.Notifier.
func (n *NATS) Notify(_ context.Context, ev core.Event) error {
	if ev.Type == core.EventJobProgress && !n.progress {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}

	subject := n.Subject(ev)
	if err := n.pub.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}
