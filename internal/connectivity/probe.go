package connectivity

import (
	"context"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/logging"
)

// DefaultProbeInterval is used when NewProbe gets a non-positive interval.
const DefaultProbeInterval = 30 * time.Second

// Pinger checks that the remote API answers.
type Pinger interface {
	Ping(ctx context.Context, path string) error
}

// Probe polls the remote health endpoint.
type Probe struct {
	*state
	pinger   Pinger
	path     string
	interval time.Duration
	timeout  time.Duration
	logger   *logging.Logger
}

// NewProbe creates a Probe that starts offline until the first check.
func NewProbe(p Pinger, path string, interval time.Duration, logger *logging.Logger) *Probe {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if logger == nil {
		logger = logging.Get()
	}
	return &Probe{
		state:    newState(false),
		pinger:   p,
		path:     path,
		interval: interval,
		timeout:  interval / 2,
		logger:   logger.Component("connectivity"),
	}
}

// Check pings once and records the result.
func (p *Probe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx, p.path)
	online := err == nil
	if p.set(online) {
		fields := map[string]interface{}{"online": online, "path": p.path}
		if err != nil {
			fields["error"] = err.Error()
		}
		p.logger.Info("Connectivity changed", fields)
	}
	return online
}

// Run checks immediately and then every interval until ctx is done.
func (p *Probe) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
