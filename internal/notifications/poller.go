package notifications

import (
	"context"
	"time"

	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// Fetcher is the read side of the notification service, narrowed for the
// poller so tests can substitute a fake.
type Fetcher interface {
	Unread(ctx context.Context, cred upstream.Credential) ([]Notification, error)
}

// Poller fetches unread notifications on a fixed cadence. When the
// backend is unreachable it keeps trying, but after a run of consecutive
// failures it stretches the interval so a dead backend is not hammered.
// The first success snaps the cadence back.
type Poller struct {
	fetch  Fetcher
	cred   upstream.Credential
	sink   func([]Notification)
	logger *logging.Logger

	interval        time.Duration
	backoffAfter    int
	backoffInterval time.Duration
	callTimeout     time.Duration

	failures int
}

func NewPoller(fetch Fetcher, cred upstream.Credential, sink func([]Notification), logger *logging.Logger) *Poller {
	return &Poller{
		fetch:  fetch,
		cred:   cred,
		sink:   sink,
		logger: logger.Component("notify-poller"),

		interval:        time.Minute,
		backoffAfter:    3,
		backoffInterval: 5 * time.Minute,
		callTimeout:     5 * time.Second,
	}
}

func (p *Poller) WithInterval(d time.Duration) *Poller {
	if d > 0 {
		p.interval = d
	}
	return p
}

func (p *Poller) WithBackoff(after int, interval time.Duration) *Poller {
	if after > 0 {
		p.backoffAfter = after
	}
	if interval > 0 {
		p.backoffInterval = interval
	}
	return p
}

func (p *Poller) WithCallTimeout(d time.Duration) *Poller {
	if d > 0 {
		p.callTimeout = d
	}
	return p
}

// Run polls until ctx is cancelled. An immediate poll happens on entry so
// a fresh session sees its notifications without waiting a full interval.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)
	timer := time.NewTimer(p.currentInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.poll(ctx)
			timer.Reset(p.currentInterval())
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	items, err := p.fetch.Unread(callCtx, p.cred)
	if err != nil {
		// A shutdown mid-call is not a backend failure.
		if ctx.Err() != nil {
			return
		}
		p.failures++
		if p.failures == p.backoffAfter {
			p.logger.Warn("notification polling degraded",
				"failures", p.failures, "interval", p.backoffInterval)
		} else {
			p.logger.Debug("notification poll failed", "failures", p.failures, "error", err)
		}
		return
	}

	if p.failures >= p.backoffAfter {
		p.logger.Info("notification polling recovered", "interval", p.interval)
	}
	p.failures = 0
	if p.sink != nil {
		p.sink(items)
	}
}

func (p *Poller) currentInterval() time.Duration {
	if p.failures >= p.backoffAfter {
		return p.backoffInterval
	}
	return p.interval
}
