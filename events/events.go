// Package events publishes network state changes on NATS subjects.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"i4.energy/across/cellnet/network"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "cellnet"

// Subject suffixes below the prefix.
const (
	SubjectNetwork     = "network"
	SubjectTime        = "time"
	SubjectInformation = "info"
)

// Source is the notification surface of a network.
type Source interface {
	OnNetworkChange(fn func(network.NetworkEvent)) (cancel func())
	OnDateTime(fn func(time.Time)) (cancel func())
}

// DateTimeEvent carries the time reported by the cellular network.
type DateTimeEvent struct {
	Time time.Time `json:"time"`
}

// Publisher encodes events as JSON and publishes them below a subject
// prefix.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewPublisher returns a publisher on nc. An empty prefix selects
// DefaultPrefix.
func NewPublisher(nc *nats.Conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns the full subject for suffix.
func (p *Publisher) Subject(suffix string) string {
	return p.prefix + "." + suffix
}

// PublishNetworkEvent publishes a connection change.
func (p *Publisher) PublishNetworkEvent(ev network.NetworkEvent) error {
	return p.publish(SubjectNetwork, ev)
}

// PublishDateTime publishes a network time update.
func (p *Publisher) PublishDateTime(t time.Time) error {
	return p.publish(SubjectTime, DateTimeEvent{Time: t})
}

// PublishInformation publishes a network snapshot.
func (p *Publisher) PublishInformation(info network.Information) error {
	return p.publish(SubjectInformation, info)
}

func (p *Publisher) publish(suffix string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", suffix, err)
	}
	if err := p.nc.Publish(p.Subject(suffix), data); err != nil {
		return fmt.Errorf("events: publish %s: %w", suffix, err)
	}
	return nil
}

// Attach forwards every notification of src until cancel is called.
// Publish failures are logged, never returned to the network.
func (p *Publisher) Attach(src Source) (cancel func()) {
	cancelChange := src.OnNetworkChange(func(ev network.NetworkEvent) {
		if err := p.PublishNetworkEvent(ev); err != nil {
			p.logger.Warn("Failed to publish network event", "error", err)
		}
	})
	cancelTime := src.OnDateTime(func(t time.Time) {
		if err := p.PublishDateTime(t); err != nil {
			p.logger.Warn("Failed to publish network time", "error", err)
		}
	})
	return func() {
		cancelChange()
		cancelTime()
	}
}

// Reporter periodically publishes the network information.
type Reporter struct {
	pub      *Publisher
	query    func(context.Context) (network.Information, error)
	interval time.Duration
}

// NewReporter returns a reporter that calls query every interval.
func NewReporter(pub *Publisher, query func(context.Context) (network.Information, error), interval time.Duration) *Reporter {
	return &Reporter{pub: pub, query: query, interval: interval}
}

// Run publishes until ctx is done. Query errors are logged and the partial
// snapshot is still published.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		info, err := r.query(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.pub.logger.Warn("Network information incomplete", "error", err)
		}
		if err := r.pub.PublishInformation(info); err != nil {
			r.pub.logger.Warn("Failed to publish network information", "error", err)
		}
	}
}

// ErrServerNotReady is returned when an embedded server does not accept
// connections in time.
var ErrServerNotReady = errors.New("events: NATS server not ready")

// StartServer runs an in-process NATS server on host:port. Port -1 picks a
// random free port. The caller owns Shutdown.
func StartServer(host string, port int) (*server.Server, error) {
	opts := server.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := server.NewServer(&opts)
	if err != nil {
		return nil, fmt.Errorf("events: create NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, ErrServerNotReady
	}
	return ns, nil
}

// Connect dials url with the reconnect behaviour used by long running
// services.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("cellnet"),
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect %s: %w", url, err)
	}
	return nc, nil
}
