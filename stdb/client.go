package stdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

// Client orchestrates the connection, the protocol, and the cache, and
// delivers events to the application through an EventHandler.
//
// The client is single consumer: exactly one goroutine drives FrameTick
// or the owned RunThreaded loop. The cache and the subscription map are
// touched only from that consumer. Cross thread readers snapshot via
// GetAll and friends, which return fresh copies.

// EventHandler is the capability set the application provides. Every
// callback is optional.
type EventHandler struct {
	OnConnect            func(identity Identity, connectionId ConnectionId, token string)
	OnDisconnect         func(reason error)
	OnSubscribeApplied   func(table string, count int)
	OnInsert             func(table string, row Row)
	OnDelete             func(table string, row Row)
	OnUpdate             func(table string, oldRow Row, newRow Row)
	OnReducerResult      func(requestId uint32, outcome ReducerOutcome)
	OnProcedureResult    func(requestId uint32, result *ProcedureResult)
	OnUnsubscribeApplied func(querySetId uint32, rows []QueryRows)
	OnQueryResult        func(requestId uint32, result *OneOffQueryResult)
	OnError              func(err error)
}

type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	schema  *Schema
	cache   *Cache
	conn    *Connection
	handler *EventHandler

	// query set id -> queries, the active subscriptions
	subscriptions map[uint32][]string

	// set when ConnectReal created the transport; only an owned transport
	// is redialed on reconnect. Close closes whichever transport is
	// attached, owned or caller supplied
	ownsTransport bool
}

func NewClient(ctx context.Context, schema *Schema, handler *EventHandler, settings *ConnectionSettings) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)
	if handler == nil {
		handler = &EventHandler{}
	}
	return &Client{
		ctx:           cancelCtx,
		cancel:        cancel,
		schema:        schema,
		cache:         NewCache(schema),
		conn:          NewConnection(settings),
		handler:       handler,
		subscriptions: map[uint32][]string{},
	}
}

func (self *Client) Connection() *Connection {
	return self.conn
}

func (self *Client) Schema() *Schema {
	return self.schema
}

// Connect attaches an already open transport.
func (self *Client) Connect(transport Transport) {
	self.ownsTransport = false
	self.conn.Attach(transport)
}

// ConnectReal dials the subscribe endpoint and attaches the resulting
// transport, which the client then owns.
func (self *Client) ConnectReal() error {
	self.conn.RecordConnecting()
	transport, err := DialWebSocket(
		self.ctx,
		self.conn.SubscribeUrl(),
		self.conn.settings.Token,
		self.conn.settings.TransportSettings,
	)
	if err != nil {
		self.conn.RecordDisconnect()
		return err
	}
	self.ownsTransport = true
	self.conn.Attach(transport)
	return nil
}

// Subscribe registers a query set and returns its id.
func (self *Client) Subscribe(queries []string) (uint32, error) {
	requestId := self.conn.NextRequestId()
	querySetId := self.conn.NextQuerySetId()
	err := self.conn.Send(&SubscribeMessage{
		RequestId:  requestId,
		QuerySetId: querySetId,
		Queries:    queries,
	})
	if err != nil {
		return 0, err
	}
	self.subscriptions[querySetId] = queries
	return querySetId, nil
}

// Unsubscribe drops a query set. With sendDroppedRows the server echoes
// the rows leaving the subscription.
func (self *Client) Unsubscribe(querySetId uint32, sendDroppedRows bool) (uint32, error) {
	var flags uint8
	if sendDroppedRows {
		flags |= UnsubscribeFlagSendDroppedRows
	}
	requestId := self.conn.NextRequestId()
	err := self.conn.Send(&UnsubscribeMessage{
		RequestId:  requestId,
		QuerySetId: querySetId,
		Flags:      flags,
	})
	if err != nil {
		return 0, err
	}
	return requestId, nil
}

// CallReducerRaw invokes a reducer with pre-encoded bsatn args.
func (self *Client) CallReducerRaw(reducer string, args []byte) (uint32, error) {
	requestId := self.conn.NextRequestId()
	err := self.conn.Send(&CallReducerMessage{
		RequestId: requestId,
		Reducer:   reducer,
		Args:      args,
	})
	if err != nil {
		return 0, err
	}
	return requestId, nil
}

// CallReducer encodes fields against the reducer's parameter columns and
// invokes it. An unknown reducer is an error synchronously.
func (self *Client) CallReducer(reducer string, fields []Field) (uint32, error) {
	if self.schema == nil {
		return 0, errors.New("client: no schema loaded")
	}
	reducerDef := self.schema.Reducer(reducer)
	if reducerDef == nil {
		return 0, fmt.Errorf("client: unknown reducer %q", reducer)
	}
	args, err := EncodeReducerArgs(reducerDef, fields)
	if err != nil {
		return 0, err
	}
	return self.CallReducerRaw(reducer, args)
}

// CallProcedure invokes a server procedure with pre-encoded bsatn args.
func (self *Client) CallProcedure(procedure string, args []byte) (uint32, error) {
	requestId := self.conn.NextRequestId()
	err := self.conn.Send(&CallProcedureMessage{
		RequestId: requestId,
		Procedure: procedure,
		Args:      args,
	})
	if err != nil {
		return 0, err
	}
	return requestId, nil
}

// OneOffQuery runs a single query outside any subscription.
func (self *Client) OneOffQuery(sql string) (uint32, error) {
	requestId := self.conn.NextRequestId()
	err := self.conn.Send(&OneOffQueryMessage{
		RequestId: requestId,
		Query:     sql,
	})
	if err != nil {
		return 0, err
	}
	return requestId, nil
}

// Subscriptions returns a snapshot of the active query sets.
func (self *Client) Subscriptions() map[uint32][]string {
	return maps.Clone(self.subscriptions)
}

// GetAll returns an owned snapshot of a table's cached rows.
func (self *Client) GetAll(table string) []Row {
	return self.cache.GetAll(table)
}

// Count returns the number of cached rows in a table.
func (self *Client) Count(table string) int {
	return self.cache.Count(table)
}

// Find looks one row up by primary key.
func (self *Client) Find(table string, pkValues ...AlgebraicValue) (Row, bool) {
	return self.cache.Find(table, pkValues...)
}

// RowAccessor is implemented by generated accessor structs whose fields
// positionally match a table's column order.
type RowAccessor interface {
	FromRow(row Row) error
}

// GetTyped snapshots a table into generated accessor values.
func GetTyped[T any, PT interface {
	*T
	RowAccessor
}](client *Client, table string) ([]T, error) {
	rows := client.GetAll(table)
	out := make([]T, len(rows))
	for i := range rows {
		if err := PT(&out[i]).FromRow(rows[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindTyped looks one row up by primary key into a generated accessor
// value.
func FindTyped[T any, PT interface {
	*T
	RowAccessor
}](client *Client, table string, pkValues ...AlgebraicValue) (*T, error) {
	row, ok := client.Find(table, pkValues...)
	if !ok {
		return nil, nil
	}
	var out T
	if err := PT(&out).FromRow(row); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessFrame drives one received frame through decode, the state
// machine, the cache, and the handler callbacks. Decode and apply
// failures are reported through OnError and returned; the connection
// stays authenticated and the frame is dropped.
func (self *Client) ProcessFrame(frame []byte) error {
	message, err := DecodeServerMessage(frame)
	if err != nil {
		glog.Infof("[cr]decode error = %s\n", err)
		self.emitError(err)
		return err
	}
	switch v := message.(type) {
	case *InitialConnection:
		self.conn.RecordAuthenticated(v.Identity, v.ConnectionId, v.Token)
		if self.handler.OnConnect != nil {
			self.handler.OnConnect(v.Identity, v.ConnectionId, v.Token)
		}
	case *SubscribeApplied:
		changes, err := self.cache.ApplySubscribeApplied(v.Rows)
		if err != nil {
			self.emitError(err)
			return err
		}
		self.dispatchChanges(changes)
		if self.handler.OnSubscribeApplied != nil {
			for i := range v.Rows {
				self.handler.OnSubscribeApplied(v.Rows[i].TableName, v.Rows[i].Rows.Count())
			}
		}
	case *UnsubscribeApplied:
		delete(self.subscriptions, v.QuerySetId)
		if self.handler.OnUnsubscribeApplied != nil {
			var rows []QueryRows
			if v.HasRows {
				rows = v.Rows
			}
			self.handler.OnUnsubscribeApplied(v.QuerySetId, rows)
		}
	case *SubscriptionError:
		// server reported, does not close the connection
		self.emitError(fmt.Errorf("subscription error (query set %d): %s", v.QuerySetId, v.Message))
	case *TransactionUpdate:
		changes, err := self.cache.ApplyTransactionUpdate(v.Updates)
		if err != nil {
			self.emitError(err)
			return err
		}
		self.dispatchChanges(changes)
	case *OneOffQueryResult:
		if self.handler.OnQueryResult != nil {
			self.handler.OnQueryResult(v.RequestId, v)
		}
	case *ReducerResult:
		// row callbacks for an embedded transaction fire before the
		// reducer result callback
		if v.Outcome.Kind == ReducerOutcomeOk && 0 < len(v.Outcome.Transaction) {
			changes, err := self.cache.ApplyTransactionUpdate(v.Outcome.Transaction)
			if err != nil {
				self.emitError(err)
				return err
			}
			self.dispatchChanges(changes)
		}
		if self.handler.OnReducerResult != nil {
			self.handler.OnReducerResult(v.RequestId, v.Outcome)
		}
	case *ProcedureResult:
		if self.handler.OnProcedureResult != nil {
			self.handler.OnProcedureResult(v.RequestId, v)
		}
	default:
		err := fmt.Errorf("%w: %T", ErrUnknownMessageTag, message)
		self.emitError(err)
		return err
	}
	return nil
}

func (self *Client) dispatchChanges(changes ChangeList) {
	for i := range changes {
		change := &changes[i]
		switch change.Kind {
		case ChangeInsert:
			if self.handler.OnInsert != nil {
				self.handler.OnInsert(change.Table, change.Row)
			}
		case ChangeDelete:
			if self.handler.OnDelete != nil {
				self.handler.OnDelete(change.Table, change.Row)
			}
		case ChangeUpdate:
			if self.handler.OnUpdate != nil {
				self.handler.OnUpdate(change.Table, change.OldRow, change.Row)
			}
		}
	}
}

func (self *Client) emitError(err error) {
	if self.conn.Closed() {
		return
	}
	if self.handler.OnError != nil {
		self.handler.OnError(err)
	}
}

// FrameTick awaits one frame and processes it. Returns io.EOF once the
// connection is down and nil otherwise, including when the transport had
// nothing yet (pings) and when ProcessFrame failed: such errors reach the
// application only through OnError, so decode errors do not end the
// loop.
func (self *Client) FrameTick() error {
	transport := self.conn.transport
	if transport == nil {
		return io.EOF
	}
	frame, err := transport.Receive()
	if err != nil {
		wasClosing := self.conn.Closed()
		self.conn.RecordDisconnect()
		if !wasClosing && self.handler.OnDisconnect != nil {
			self.handler.OnDisconnect(err)
		}
		return io.EOF
	}
	if frame == nil {
		// heartbeat
		return nil
	}
	if err := self.ProcessFrame(frame); err != nil {
		// reported via OnError, frame dropped, loop continues
		return nil
	}
	return nil
}

// RunThreaded owns the receive loop on a dedicated goroutine. When the
// client owns its transport the loop redials with linear backoff while
// the attempt budget allows; resubscribing after a reconnect is the
// application's move, from its OnConnect callback.
func (self *Client) RunThreaded() {
	go self.run()
}

func (self *Client) run() {
	for {
		for {
			select {
			case <-self.ctx.Done():
				return
			default:
			}
			if err := self.FrameTick(); err != nil {
				break
			}
		}
		if !self.ownsTransport || !self.conn.ShouldReconnect() {
			return
		}
		delay := self.conn.BackoffDelay(self.conn.ReconnectAttempts() - 1)
		glog.Infof("[c]reconnect in %s\n", delay)
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := self.ConnectReal(); err != nil {
			if !self.conn.ShouldReconnect() {
				return
			}
		}
	}
}

// Close ends the connection. No events are delivered after a close.
func (self *Client) Close() {
	self.conn.Close()
	self.cancel()
}
