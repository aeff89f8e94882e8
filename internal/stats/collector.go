// Package stats counts delivery and presence activity from the event bus.
package stats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/matheus3301/pigeon/internal/bus"
	"go.uber.org/zap"
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Since            time.Time `json:"since"`
	MessagesSent     uint64    `json:"messagesSent"`
	Delivered        uint64    `json:"delivered"`
	Read             uint64    `json:"read"`
	Rejected         uint64    `json:"rejected"`
	Connects         uint64    `json:"connects"`
	Disconnects      uint64    `json:"disconnects"`
	StatusUpdates    uint64    `json:"statusUpdates"`
	BusEventsDropped uint64    `json:"busEventsDropped"`
}

// Collector subscribes to "message." and "presence." events and counts them.
type Collector struct {
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	since  time.Time

	sent, delivered, read, rejected atomic.Uint64
	connects, disconnects, statuses atomic.Uint64
}

// NewCollector creates a collector. Nothing is counted until Start.
func NewCollector(b *bus.Bus, logger *zap.Logger) *Collector {
	return &Collector{bus: b, logger: logger}
}

// Start subscribes to the bus and counts events until ctx ends or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.since = time.Now()
	messages, unsubMessages := c.bus.Subscribe("message.", 1024)
	presence, unsubPresence := c.bus.Subscribe("presence.", 256)

	go func() {
		defer unsubMessages()
		defer unsubPresence()
		for {
			select {
			case evt := <-messages:
				c.count(evt)
			case evt := <-presence:
				c.count(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops counting.
func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Collector) count(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageSent:
		c.sent.Add(1)
	case bus.KindMessageDelivered:
		c.delivered.Add(1)
	case bus.KindMessageRead:
		c.read.Add(1)
	case bus.KindMessageRejected:
		c.rejected.Add(1)
	case bus.KindPresenceOnline:
		c.connects.Add(1)
	case bus.KindPresenceOffline:
		c.disconnects.Add(1)
	case bus.KindPresenceStatus:
		c.statuses.Add(1)
	default:
		c.logger.Debug("uncounted event", zap.String("kind", evt.Kind))
	}
}

// Snapshot returns the current counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Since:            c.since,
		MessagesSent:     c.sent.Load(),
		Delivered:        c.delivered.Load(),
		Read:             c.read.Load(),
		Rejected:         c.rejected.Load(),
		Connects:         c.connects.Load(),
		Disconnects:      c.disconnects.Load(),
		StatusUpdates:    c.statuses.Load(),
		BusEventsDropped: c.bus.Dropped(),
	}
}
