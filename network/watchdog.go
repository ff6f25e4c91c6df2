package network

import (
	"context"
	"log/slog"
	"time"
)

// Watchdog reconnects a wanted connection that stayed down, for example
// because the single reactivation after a network drop failed.
type Watchdog struct {
	network  *Network
	interval time.Duration
	logger   *slog.Logger
}

// NewWatchdog checks n every interval.
func NewWatchdog(n *Network, interval time.Duration, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watchdog{network: n, interval: interval, logger: logger}
}

// Run checks the connection until ctx is done and returns ctx.Err().
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !w.needsReconnect() {
				continue
			}
			w.logger.Info("connection down, reconnecting")
			if err := w.network.Reconnect(ctx); err != nil {
				w.logger.Warn("reconnect failed", "error", err)
			}
		}
	}
}

func (w *Watchdog) needsReconnect() bool {
	n := w.network
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == Disconnected && n.wanted && n.autoReconnect && !n.closed
}
