package domains

import (
	"context"
	"time"

	"github.com/ignite/inbound-gateway/internal/pkg/logger"
)

// Poller periodically re-drives verification for domains stuck in pending
// or dns_verified. DNS propagation and SES's own verification sweep both
// take unbounded wall time, so user-triggered checks alone leave domains
// stranded until the user happens to revisit.
type Poller struct {
	orch     *Orchestrator
	store    Storage
	interval time.Duration
}

// NewPoller creates a verification poller.
func NewPoller(orch *Orchestrator, store Storage, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{orch: orch, store: store, interval: interval}
}

// Run blocks until ctx is cancelled, executing one pass per interval.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logger.Info("verification poller started", "interval", p.interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("verification poller stopped")
			return
		case <-ticker.C:
			p.pass(ctx)
		}
	}
}

func (p *Poller) pass(ctx context.Context) {
	pending, err := p.store.ListUnverified(ctx)
	if err != nil {
		logger.Error("poller: listing unverified domains", "error", err.Error())
		return
	}
	for _, d := range pending {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.orch.InitiateVerification(ctx, d.UserID, d.ID); err != nil {
			logger.Warn("poller: verification pass failed", "domain", d.DomainName, "error", err.Error())
		}
	}
	if len(pending) > 0 {
		logger.Debug("poller pass complete", "domains", len(pending))
	}
}
