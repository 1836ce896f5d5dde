// Package mq implements the DM reliability layer: every outbound DM is
// tracked by MessageId until the matching ACK arrives, with bounded
// retransmission driven by a periodic watcher. Receive-side duplicate
// suppression lives in the peer store; ACKs themselves are idempotent.
package mq

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/petervdpas/lsnp/internal/logger"
)

const (
	// DefaultAckTimeout is how long a transmission waits for its ACK
	// before the watcher retransmits.
	DefaultAckTimeout = 2 * time.Second

	// DefaultMaxAttempts bounds total transmissions (initial send
	// included) before the DM is dropped.
	DefaultMaxAttempts = 3

	// tickInterval is the watcher cadence.
	tickInterval = 500 * time.Millisecond
)

// SendFunc transmits a raw frame to a peer address.
type SendFunc func(frame []byte, addr *net.UDPAddr) error

type pendingAck struct {
	frame       []byte
	addr        *net.UDPAddr
	firstSentAt time.Time
	lastSentAt  time.Time
	attempts    int
}

// Tracker owns the pending-ACK table and the retransmission watcher.
type Tracker struct {
	clock       clock.Clock
	send        SendFunc
	log         *logger.Logger
	ackTimeout  time.Duration
	maxAttempts int
	pending     *xsync.Map[string, *pendingAck]
}

func NewTracker(clk clock.Clock, send SendFunc, log *logger.Logger, ackTimeout time.Duration, maxAttempts int) *Tracker {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Tracker{
		clock:       clk,
		send:        send,
		log:         log,
		ackTimeout:  ackTimeout,
		maxAttempts: maxAttempts,
		pending:     xsync.NewMap[string, *pendingAck](),
	}
}

// Track registers an outbound DM that was just transmitted once. At most
// one entry exists per MessageId: re-invoking the same send while it is
// still in flight reports false and changes nothing.
func (t *Tracker) Track(messageID string, frame []byte, addr *net.UDPAddr) bool {
	now := t.clock.Now()
	entry := &pendingAck{
		frame:       frame,
		addr:        addr,
		firstSentAt: now,
		lastSentAt:  now,
		attempts:    1,
	}
	_, loaded := t.pending.LoadOrStore(messageID, entry)
	return !loaded
}

// Ack resolves a pending entry. Reports whether one was outstanding, so
// duplicate ACKs are harmless.
func (t *Tracker) Ack(messageID string) bool {
	_, loaded := t.pending.LoadAndDelete(messageID)
	return loaded
}

// PendingCount returns the number of DMs still awaiting an ACK.
func (t *Tracker) PendingCount() int { return t.pending.Size() }

// Run drives the watcher until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := t.clock.Ticker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

// sweep retransmits every overdue entry and drops the ones out of
// attempts. Entries are copied out of the table first; the network send
// never runs while iterating shared state.
func (t *Tracker) sweep() {
	now := t.clock.Now()

	type due struct {
		id    string
		entry *pendingAck
	}
	var overdue []due
	t.pending.Range(func(id string, entry *pendingAck) bool {
		if now.Sub(entry.lastSentAt) > t.ackTimeout {
			overdue = append(overdue, due{id: id, entry: entry})
		}
		return true
	})

	for _, d := range overdue {
		if d.entry.attempts >= t.maxAttempts {
			t.pending.Delete(d.id)
			if t.log != nil {
				t.log.LogDrop("DM", d.entry.addr.String(), "no ACK after "+strconv.Itoa(d.entry.attempts)+" attempts")
			}
			continue
		}
		d.entry.attempts++
		d.entry.lastSentAt = now
		if t.log != nil {
			t.log.LogRetry(d.id, d.entry.addr.String(), d.entry.attempts)
		}
		if err := t.send(d.entry.frame, d.entry.addr); err != nil && t.log != nil {
			t.log.LogError("mq", err)
		}
	}
}
