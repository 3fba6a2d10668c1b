package stdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
)

// The connection state machine: lifecycle from connect through
// authentication, normal operation, disconnect, and backoff-governed
// reconnect. A single consumer drives it; none of the state here is
// locked.

var (
	ErrNotConnected     = errors.New("connection: not connected")
	ErrHandshakeFailed  = errors.New("connection: handshake failed")
	ErrConnectionFailed = errors.New("connection: connection failed")
	ErrTransportError   = errors.New("connection: transport error")
)

type ConnectionState uint8

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateAuthenticated
	StateClosing
)

func (self ConnectionState) String() string {
	switch self {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", uint8(self))
	}
}

type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionBrotli
	CompressionGzip
)

// String spells the value exactly as the subscribe url query parameter
// requires.
func (self Compression) String() string {
	switch self {
	case CompressionBrotli:
		return "Brotli"
	case CompressionGzip:
		return "Gzip"
	default:
		return "None"
	}
}

type ConnectionSettings struct {
	Host     string
	Database string
	// bearer token, sent when not empty
	Token       string
	Compression Compression

	BackoffBase          time.Duration
	BackoffMax           time.Duration
	MaxReconnectAttempts int

	TransportSettings *WebSocketTransportSettings
}

func DefaultConnectionSettings() *ConnectionSettings {
	return &ConnectionSettings{
		Compression:          CompressionNone,
		BackoffBase:          1 * time.Second,
		BackoffMax:           30 * time.Second,
		MaxReconnectAttempts: 16,
		TransportSettings:    DefaultWebSocketTransportSettings(),
	}
}

type Connection struct {
	settings *ConnectionSettings

	state     ConnectionState
	transport Transport

	identity     Identity
	connectionId ConnectionId
	token        string

	// both counters start at 1 and never wrap within a connection
	nextRequestId  uint32
	nextQuerySetId uint32

	reconnectAttempts int
	closed            bool
}

func NewConnection(settings *ConnectionSettings) *Connection {
	return &Connection{
		settings:       settings,
		state:          StateDisconnected,
		nextRequestId:  1,
		nextQuerySetId: 1,
	}
}

// SubscribeUrl builds the websocket endpoint for this connection.
func (self *Connection) SubscribeUrl() string {
	return fmt.Sprintf(
		"ws://%s/v1/database/%s/subscribe?compression=%s",
		self.settings.Host,
		self.settings.Database,
		self.settings.Compression,
	)
}

func (self *Connection) State() ConnectionState {
	return self.state
}

func (self *Connection) Identity() Identity {
	return self.identity
}

func (self *Connection) ConnectionId() ConnectionId {
	return self.connectionId
}

func (self *Connection) Token() string {
	return self.token
}

// NextRequestId allocates a request id. Ids are strictly increasing and
// begin at 1.
func (self *Connection) NextRequestId() uint32 {
	requestId := self.nextRequestId
	self.nextRequestId += 1
	return requestId
}

// NextQuerySetId allocates a query set id, same discipline as request
// ids.
func (self *Connection) NextQuerySetId() uint32 {
	querySetId := self.nextQuerySetId
	self.nextQuerySetId += 1
	return querySetId
}

// RecordConnecting marks the dial in progress.
func (self *Connection) RecordConnecting() {
	self.state = StateConnecting
}

// Attach binds an open transport and moves to connected. The reconnect
// counter resets on a successful connect.
func (self *Connection) Attach(transport Transport) {
	self.transport = transport
	self.state = StateConnected
	self.reconnectAttempts = 0
	self.closed = false
	glog.V(2).Infof("[c]connected %s\n", self.settings.Database)
}

// RecordAuthenticated stores the credentials from the initial connection
// message and moves to authenticated.
func (self *Connection) RecordAuthenticated(identity Identity, connectionId ConnectionId, token string) {
	self.identity = identity
	self.connectionId = connectionId
	self.token = token
	self.state = StateAuthenticated
	glog.V(2).Infof("[c]authenticated %s\n", identity)
}

// RecordDisconnect moves to disconnected and counts the attempt toward
// the reconnect budget. While closing it only settles the state at
// disconnected and counts nothing.
func (self *Connection) RecordDisconnect() {
	if self.state == StateClosing {
		self.state = StateDisconnected
		return
	}
	self.state = StateDisconnected
	self.transport = nil
	self.reconnectAttempts += 1
	glog.Infof("[c]disconnected %s attempt=%d\n", self.settings.Database, self.reconnectAttempts)
}

// BackoffDelay is the delay before reconnect attempt n:
// min(base * (n + 1), max).
func (self *Connection) BackoffDelay(attempt int) time.Duration {
	delay := self.settings.BackoffBase * time.Duration(attempt+1)
	if self.settings.BackoffMax < delay {
		return self.settings.BackoffMax
	}
	return delay
}

// ShouldReconnect reports whether the attempt budget allows another
// connect.
func (self *Connection) ShouldReconnect() bool {
	return !self.closed &&
		self.state == StateDisconnected &&
		self.reconnectAttempts < self.settings.MaxReconnectAttempts
}

// Closed reports whether Close was called. After a close no events are
// delivered and no reconnect is attempted.
func (self *Connection) Closed() bool {
	return self.closed
}

func (self *Connection) ReconnectAttempts() int {
	return self.reconnectAttempts
}

// Send serializes and sends one client message.
func (self *Connection) Send(message ClientMessage) error {
	if self.state != StateConnected && self.state != StateAuthenticated {
		return ErrNotConnected
	}
	frame := EncodeClientMessage(message)
	if err := self.transport.Send(frame); err != nil {
		return err
	}
	glog.V(2).Infof("[cs]-> %T\n", message)
	return nil
}

// Close transitions to closing, closes the transport, and settles at
// disconnected. No further events are emitted after a close.
func (self *Connection) Close() {
	self.closed = true
	if self.state == StateDisconnected || self.state == StateClosing {
		self.state = StateDisconnected
		return
	}
	self.state = StateClosing
	if self.transport != nil {
		self.transport.Close()
		self.transport = nil
	}
	self.state = StateDisconnected
}
