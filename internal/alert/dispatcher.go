package alert

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []AlertConfig
	limiter *rate.Limiter
	sender  *Sender
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from cfg.
// Returns nil if there are no webhooks (callers should nil-check).
func NewDispatcher(cfg Config, logger *zap.Logger) *Dispatcher {
	if len(cfg.Webhooks) == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.Throttle.PerSecond > 0 {
		limit = rate.Limit(cfg.Throttle.PerSecond)
	}
	burst := cfg.Throttle.Burst
	if burst < 1 {
		burst = 1
	}
	return &Dispatcher{
		configs: cfg.Webhooks,
		limiter: rate.NewLimiter(limit, burst),
		sender:  NewSender(cfg.Timeout),
		logger:  logger.Named("alert"),
	}
}

// Dispatch sends the event to all webhooks whose Events list matches its
// Type. It never blocks; events over the throttle are dropped and Dispatch
// returns false.
func (d *Dispatcher) Dispatch(event AlertEvent) bool {
	var targets []AlertConfig
	for _, cfg := range d.configs {
		if matches(cfg.Events, event) {
			targets = append(targets, cfg)
		}
	}
	if len(targets) == 0 {
		return true
	}
	if !d.limiter.Allow() {
		d.logger.Warn("alert throttled", zap.String("type", event.Type), zap.String("slot", event.Slot))
		return false
	}
	for _, cfg := range targets {
		d.wg.Add(1)
		go func(cfg AlertConfig) {
			defer d.wg.Done()
			if err := d.sender.Send(context.Background(), cfg, event); err != nil {
				d.logger.Warn("alert delivery failed", zap.String("url", cfg.URL), zap.Error(err))
			}
		}(cfg)
	}
	return true
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func matches(events []string, event AlertEvent) bool {
	for _, e := range events {
		if e == "*" || e == event.Type {
			return true
		}
	}
	return false
}
