package wsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thichuong/Web-server-Report-sub002/internal/apperr"
	"github.com/thichuong/Web-server-Report-sub002/internal/broadcast"
	"github.com/thichuong/Web-server-Report-sub002/internal/cache"
	"github.com/thichuong/Web-server-Report-sub002/internal/clock"
	"github.com/thichuong/Web-server-Report-sub002/internal/market"
	"github.com/thichuong/Web-server-Report-sub002/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Refresher is the narrow slice of the market adapter the session needs
// for request_update: force a refresh. The adapter returns an error
// instead of refreshing while a forced refresh is already in flight.
type Refresher interface {
	ForceRefresh(ctx context.Context) (market.Snapshot, error)
}

// Config tunes heartbeat timing.
type Config struct {
	HeartbeatInterval time.Duration // default 25s
	HeartbeatTimeout  time.Duration // default 30s
}

// Session is one WebSocket session, one per upgraded connection.
type Session struct {
	conn      *websocket.Conn
	hub       *broadcast.Hub
	cacheRef  *cache.Cache
	refresher Refresher
	cfg       Config
	clock     clock.Clock
	metrics   *metrics.Registry
	logger    *zap.Logger
}

// NewSession wraps an upgraded connection.
func NewSession(conn *websocket.Conn, hub *broadcast.Hub, c *cache.Cache, refresher Refresher, cfg Config,
	clk clock.Clock, reg *metrics.Registry, logger *zap.Logger) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	return &Session{conn: conn, hub: hub, cacheRef: c, refresher: refresher, cfg: cfg, clock: clk, metrics: reg, logger: logger}
}

// Upgrade upgrades an HTTP request to a Session, returning apperr
// KindValidation if the request cannot be upgraded.
func Upgrade(w http.ResponseWriter, r *http.Request, hub *broadcast.Hub, c *cache.Cache, refresher Refresher,
	cfg Config, clk clock.Clock, reg *metrics.Registry, logger *zap.Logger) (*Session, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "websocket upgrade failed", err)
	}
	return NewSession(conn, hub, c, refresher, cfg, clk, reg, logger), nil
}

// Run drives the session's event loop until the connection closes. It
// owns the read pump as a goroutine and the write/select loop on the
// calling goroutine, following go-server/pkg/websocket/client.go's split.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	// Socket deadlines use the real clock: the network stack compares them
	// with wall time, not with the injected clock.
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
		return nil
	})

	if err := s.sendWelcome(ctx); err != nil {
		s.logger.Debug("welcome send failed", zap.Error(err))
		return
	}

	receiver := s.hub.Subscribe()
	defer receiver.Close()

	inbound := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go s.readPump(inbound, readErr)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case raw, ok := <-inbound:
			if !ok {
				return
			}
			s.handleClientMessage(ctx, raw)

		case msg, ok := <-receiver.C():
			if !ok {
				// Closed: broadcast hub tore down this receiver.
				return
			}
			if receiver.Lagged() {
				s.logger.Debug("broadcast receiver lagged, dropped messages in its favor")
			}
			if err := s.send(msg); err != nil {
				s.logger.Debug("broadcast forward failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := s.ping(); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				return
			}

		case err := <-readErr:
			if err != nil {
				s.logger.Debug("read pump ended", zap.Error(err))
			}
			return
		}
	}
}

func (s *Session) readPump(out chan<- []byte, errCh chan<- error) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			errCh <- err
			close(out)
			return
		}
		select {
		case out <- raw:
		default:
			// Slow consumer of its own inbound queue: drop, never block
			// the socket read loop.
		}
	}
}

func (s *Session) sendWelcome(ctx context.Context) error {
	var data *market.Snapshot
	if snap, ok, err := cache.GetJSON[market.Snapshot](ctx, s.cacheRef, "market:latest"); err == nil && ok {
		data = &snap
	}
	return s.send(WelcomeMessage{
		Type:      TypeWelcome,
		Data:      data,
		Timestamp: stamp(s.clock.Now()),
		Message:   "connected",
	})
}

func (s *Session) ping() error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *Session) send(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		if s.metrics != nil {
			s.metrics.WSMessagesDropped.Inc()
		}
		return err
	}
	return nil
}

func (s *Session) handleClientMessage(ctx context.Context, raw []byte) {
	trimmed := trimASCIISpace(raw)
	if string(trimmed) == "ping" {
		s.replyPong()
		return
	}

	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.replyError("malformed message", nil)
		return
	}

	switch msg.Type {
	case TypePing:
		s.replyPong()
	case TypeRequestUpdate:
		s.handleRequestUpdate(ctx)
	case TypeSubscribe, TypeStatus:
		_ = s.send(InfoMessage{Type: TypeInfo, Message: "already subscribed", Timestamp: stamp(s.clock.Now())})
	default:
		s.replyError("unknown message type", nil)
	}
}

func (s *Session) replyPong() {
	_ = s.send(PongMessage{Type: TypePong, Timestamp: stamp(s.clock.Now())})
}

func (s *Session) replyError(message string, retryAfter *int) {
	_ = s.send(ErrorMessage{Type: TypeError, Error: message, Timestamp: stamp(s.clock.Now()), RetryAfter: retryAfter})
}

func (s *Session) handleRequestUpdate(ctx context.Context) {
	_, err := s.refresher.ForceRefresh(ctx)
	if err != nil {
		retrySec := int(apperr.RetryAfterOf(err).Seconds())
		if retrySec == 0 {
			s.replyError("refresh unavailable", nil)
			return
		}
		s.replyError("refresh unavailable", &retrySec)
	}
	// On success the adapter itself publishes dashboard_update to the
	// broadcast hub; this session receives it through its own
	// subscription like every other subscriber.
}

func trimASCIISpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
