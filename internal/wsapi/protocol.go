// Package wsapi implements the per-connection WebSocket session lifecycle,
// adapted from go-server/pkg/websocket's Client read-pump/write-loop split
// (client.go) onto gorilla/websocket, along with the JSON message
// protocol exchanged over it.
package wsapi

import (
	"time"

	"github.com/thichuong/Web-server-Report-sub002/internal/market"
)

// Inbound message types, client→server.
const (
	TypePing          = "ping"
	TypeRequestUpdate = "request_update"
	TypeSubscribe     = "subscribe"
	TypeStatus        = "status"
)

// Outbound message types, server→client.
const (
	TypeWelcome         = "welcome"
	TypeDashboardUpdate = "dashboard_update"
	TypePong            = "pong"
	TypeError           = "error"
	TypeInfo            = "info"
)

// ClientMessage is the shape of any inbound JSON frame.
type ClientMessage struct {
	Type string `json:"type"`
}

// WelcomeMessage is the server→client welcome frame.
type WelcomeMessage struct {
	Type      string           `json:"type"`
	Data      *market.Snapshot `json:"data"`
	Timestamp string           `json:"timestamp"`
	Message   string           `json:"message"`
}

// DashboardUpdateMessage is the server→client dashboard_update frame.
type DashboardUpdateMessage struct {
	Type      string          `json:"type"`
	Data      market.Snapshot `json:"data"`
	Timestamp string          `json:"timestamp"`
	Source    string          `json:"source"`
}

// PongMessage replies to a client ping.
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// ErrorMessage reports a protocol or processing error to the client.
type ErrorMessage struct {
	Type       string `json:"type"`
	Error      string `json:"error"`
	Timestamp  string `json:"timestamp"`
	RetryAfter *int   `json:"retry_after,omitempty"`
}

// InfoMessage answers informational client requests (subscribe/status).
type InfoMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }
