// Package presence runs the periodic presence announcement: once the own
// profile exists, a PROFILE frame goes to the broadcast address every
// period. PROFILE doubles as the presence signal; peers that miss it only
// lose freshness, never correctness.
package presence

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/petervdpas/lsnp/internal/logger"
	"github.com/petervdpas/lsnp/internal/state"
)

// DefaultPeriod is the announcement interval.
const DefaultPeriod = 30 * time.Second

// Announcer is the outbound side the broadcaster drives.
type Announcer interface {
	SendProfile() error
}

// Broadcaster emits the periodic announcement. It never blocks anything
// but its own ticker.
type Broadcaster struct {
	clock  clock.Clock
	period time.Duration
	store  *state.Store
	out    Announcer
	log    *logger.Logger
}

func New(clk clock.Clock, period time.Duration, store *state.Store, out Announcer, log *logger.Logger) *Broadcaster {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Broadcaster{clock: clk, period: period, store: store, out: out, log: log}
}

// Run announces on every tick until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := b.clock.Ticker(b.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.announce()
		}
	}
}

func (b *Broadcaster) announce() {
	if _, ok := b.store.OwnProfile(); !ok {
		return
	}
	if err := b.out.SendProfile(); err != nil && b.log != nil {
		b.log.LogError("presence", err)
	}
}
