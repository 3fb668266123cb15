// Package natsbridge mirrors published market snapshots onto a NATS
// subject for any other process instance to pick up, adapted from
// go-server/pkg/nats/client.go's Client and go-server/internal/server/server.go's
// setupNATSSubscriptions wiring. Best-effort: a NATS outage never blocks
// the cache or broadcast hub.
package natsbridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/thichuong/Web-server-Report-sub002/internal/market"
	"github.com/thichuong/Web-server-Report-sub002/internal/metrics"
)

const snapshotSubject = "market.snapshot.updated"

// Config mirrors the connection tuning go-server/pkg/nats/client.go exposes.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

func defaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: time.Second,
		MaxPingsOut:     3,
		PingInterval:    20 * time.Second,
	}
}

// Receiver is implemented by internal/broadcast.Hub: messages arriving
// from a peer instance's NATS publish are re-broadcast to this
// instance's local WebSocket subscribers.
type Receiver interface {
	Publish(message interface{})
}

// Bridge wraps a NATS connection, publishing local snapshots out and
// forwarding peer snapshots into a local Receiver.
type Bridge struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	metrics *metrics.Registry
	logger  *zap.Logger
}

// Connect dials NATS with defaultConfig(url)'s reconnect policy. Returns
// an error so callers can decide whether to treat NATS as optional.
func Connect(url string, reg *metrics.Registry, logger *zap.Logger) (*Bridge, error) {
	return ConnectWithConfig(defaultConfig(url), reg, logger)
}

// ConnectWithConfig dials NATS with an explicit Config.
func ConnectWithConfig(cfg Config, reg *metrics.Registry, logger *zap.Logger) (*Bridge, error) {
	b := &Bridge{metrics: reg, logger: logger}

	opts := []nats.Option{
		// Without NoEcho the server delivers this connection's own
		// publishes back to its subscription.
		nats.NoEcho(),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(func(c *nats.Conn) {
			logger.Info("nats connected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			logger.Warn("nats error", zap.Error(err))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	b.conn = conn
	return b, nil
}

// PublishSnapshot mirrors an accepted snapshot onto snapshotSubject.
// Failures are logged, never returned as fatal: the NATS bridge exists
// purely as a best-effort fan-out convenience for multi-instance
// deployments, not a strong cross-process consistency guarantee.
func (b *Bridge) PublishSnapshot(snap market.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		b.logger.Warn("marshal snapshot for nats publish", zap.Error(err))
		return
	}
	if err := b.conn.Publish(snapshotSubject, data); err != nil {
		b.logger.Warn("nats publish failed", zap.Error(err))
	}
}

// SubscribeInto forwards every snapshot this instance receives on
// snapshotSubject from a peer into recv, so peers' writes still reach
// this instance's local WebSocket sessions.
func (b *Bridge) SubscribeInto(recv Receiver) error {
	sub, err := b.conn.Subscribe(snapshotSubject, func(msg *nats.Msg) {
		var snap market.Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			b.logger.Warn("unmarshal peer snapshot", zap.Error(err))
			return
		}
		recv.Publish(snap)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", snapshotSubject, err)
	}
	b.sub = sub
	return nil
}

// IsConnected reports whether the underlying NATS connection is up.
func (b *Bridge) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Close unsubscribes and closes the connection.
func (b *Bridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}
