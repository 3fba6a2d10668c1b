package stdb

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/go-playground/assert/v2"
)

type fakeTransport struct {
	sent [][]byte
	// nil entries are delivered as no-frame-yet (pings)
	queue  [][]byte
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (self *fakeTransport) push(frame []byte) {
	self.queue = append(self.queue, frame)
}

func (self *fakeTransport) Send(frame []byte) error {
	if self.closed {
		return ErrTransportError
	}
	self.sent = append(self.sent, frame)
	return nil
}

func (self *fakeTransport) Receive() ([]byte, error) {
	if self.closed || len(self.queue) == 0 {
		return nil, io.EOF
	}
	frame := self.queue[0]
	self.queue = self.queue[1:]
	return frame, nil
}

func (self *fakeTransport) Close() error {
	self.closed = true
	return nil
}

func testClient(t *testing.T, handler *EventHandler) (*Client, *fakeTransport) {
	client := NewClient(context.Background(), testSchema(t), handler, testConnectionSettings())
	transport := newFakeTransport()
	client.Connect(transport)
	return client, transport
}

func initialConnectionFrame(identity Identity, connectionId ConnectionId, token string) []byte {
	e := NewEncoder()
	e.AppendU8(0)
	e.AppendRaw(identity.Bytes())
	e.AppendRaw(connectionId.Bytes())
	e.AppendString(token)
	return serverFrame(e.Take())
}

func TestInitialConnectionAuthenticates(t *testing.T) {
	connectCount := 0
	var gotIdentity Identity
	var gotToken string
	client, _ := testClient(t, &EventHandler{
		OnConnect: func(identity Identity, connectionId ConnectionId, token string) {
			connectCount += 1
			gotIdentity = identity
			gotToken = token
		},
	})

	var identity Identity
	for i := range identity {
		identity[i] = byte(255 - i)
	}
	err := client.ProcessFrame(initialConnectionFrame(identity, NewConnectionId(), "tok-1"))
	assert.Equal(t, err, nil)
	assert.Equal(t, connectCount, 1)
	assert.Equal(t, gotIdentity, identity)
	assert.Equal(t, gotToken, "tok-1")
	assert.Equal(t, client.Connection().State(), StateAuthenticated)
}

func TestSubscribeSendsWireFormat(t *testing.T) {
	client, transport := testClient(t, nil)

	querySetId, err := client.Subscribe([]string{"SELECT * FROM users"})
	assert.Equal(t, err, nil)
	assert.Equal(t, querySetId, uint32(1))
	assert.Equal(t, len(transport.sent), 1)

	e := NewEncoder()
	e.AppendU8(0)
	e.AppendU32(1)
	e.AppendU32(1)
	e.AppendU32(1)
	e.AppendString("SELECT * FROM users")
	assert.Equal(t, transport.sent[0], e.Take())

	assert.Equal(t, client.Subscriptions()[querySetId], []string{"SELECT * FROM users"})
}

func TestRequestIdsAcrossOperations(t *testing.T) {
	client, _ := testClient(t, nil)

	_, err := client.Subscribe([]string{"SELECT * FROM users"})
	assert.Equal(t, err, nil)
	requestId, err := client.OneOffQuery("SELECT 1")
	assert.Equal(t, err, nil)
	assert.Equal(t, requestId, uint32(2))
	requestId, err = client.CallReducerRaw("create_user", []byte{})
	assert.Equal(t, err, nil)
	assert.Equal(t, requestId, uint32(3))
}

func TestCallReducerEncodesAgainstSchema(t *testing.T) {
	client, transport := testClient(t, nil)

	_, err := client.CallReducer("create_user", []Field{
		NamedField("name", StringValue("Ann")),
		NamedField("id", U32Value(4)),
	})
	assert.Equal(t, err, nil)

	argsEncoder := NewEncoder()
	argsEncoder.AppendU32(4)
	argsEncoder.AppendString("Ann")

	e := NewEncoder()
	e.AppendU8(3)
	e.AppendU32(1)
	e.AppendU8(0)
	e.AppendString("create_user")
	e.AppendBytes(argsEncoder.Take())
	assert.Equal(t, transport.sent[0], e.Take())
}

func TestCallReducerUnknownIsSynchronousError(t *testing.T) {
	client, transport := testClient(t, nil)
	_, err := client.CallReducer("no_such_reducer", nil)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, len(transport.sent), 0)
}

func subscribeAppliedFrame(rows []QueryRows, requestId uint32, querySetId uint32) []byte {
	e := NewEncoder()
	e.AppendU8(1)
	e.AppendU32(requestId)
	e.AppendU32(querySetId)
	e.AppendU32(uint32(len(rows)))
	for i := range rows {
		e.AppendString(rows[i].TableName)
		encodeRowList(e, &rows[i].Rows)
	}
	return serverFrame(e.Take())
}

func transactionUpdateFrame(updates []QuerySetUpdate) []byte {
	e := NewEncoder()
	e.AppendU8(4)
	e.AppendU32(uint32(len(updates)))
	for i := range updates {
		e.AppendU32(updates[i].QuerySetId)
		e.AppendU32(uint32(len(updates[i].Tables)))
		for j := range updates[i].Tables {
			table := &updates[i].Tables[j]
			e.AppendString(table.TableName)
			e.AppendU32(uint32(len(table.Rows)))
			for k := range table.Rows {
				rows := &table.Rows[k]
				e.AppendU8(uint8(rows.Kind))
				switch rows.Kind {
				case TableUpdatePersistent:
					encodeRowList(e, &rows.Inserts)
					encodeRowList(e, &rows.Deletes)
				case TableUpdateEvent:
					encodeRowList(e, &rows.Event)
				}
			}
		}
	}
	return serverFrame(e.Take())
}

func TestSubscribeAppliedCallbacks(t *testing.T) {
	events := []string{}
	client, _ := testClient(t, &EventHandler{
		OnInsert: func(table string, row Row) {
			events = append(events, fmt.Sprintf("insert %s %d", table, row[0].Value.U32))
		},
		OnSubscribeApplied: func(table string, count int) {
			events = append(events, fmt.Sprintf("applied %s %d", table, count))
		},
	})

	err := client.ProcessFrame(subscribeAppliedFrame(userQueryRows(
		userRow(1, "Alice"),
		userRow(2, "Bob"),
	), 1, 1))
	assert.Equal(t, err, nil)
	assert.Equal(t, events, []string{
		"insert users 1",
		"insert users 2",
		"applied users 2",
	})
	assert.Equal(t, client.Count("users"), 2)
}

func TestTransactionUpdateCallbackOrder(t *testing.T) {
	events := []string{}
	client, _ := testClient(t, &EventHandler{
		OnInsert: func(table string, row Row) {
			events = append(events, "insert "+row[1].Value.Str)
		},
		OnDelete: func(table string, row Row) {
			events = append(events, "delete "+row[1].Value.Str)
		},
		OnUpdate: func(table string, oldRow Row, newRow Row) {
			events = append(events, fmt.Sprintf("update %s->%s", oldRow[1].Value.Str, newRow[1].Value.Str))
		},
	})

	err := client.ProcessFrame(subscribeAppliedFrame(userQueryRows(
		userRow(1, "Alice"),
		userRow(2, "Bob"),
	), 1, 1))
	assert.Equal(t, err, nil)
	events = events[:0]

	err = client.ProcessFrame(transactionUpdateFrame(userTransaction(
		[]Row{userRow(1, "Alice"), userRow(2, "Bob")},
		[]Row{userRow(1, "Alicia")},
	)))
	assert.Equal(t, err, nil)
	assert.Equal(t, events, []string{
		"update Alice->Alicia",
		"delete Bob",
	})
}

func TestReducerResultAfterEmbeddedTransaction(t *testing.T) {
	events := []string{}
	client, _ := testClient(t, &EventHandler{
		OnInsert: func(table string, row Row) {
			events = append(events, "insert "+row[1].Value.Str)
		},
		OnReducerResult: func(requestId uint32, outcome ReducerOutcome) {
			events = append(events, fmt.Sprintf("result %d %d", requestId, outcome.Kind))
		},
	})

	transaction := userTransaction(nil, []Row{userRow(5, "Eve")})

	e := NewEncoder()
	e.AppendU8(6)
	e.AppendU32(8)
	e.AppendI64(1700000000)
	e.AppendU8(uint8(ReducerOutcomeOk))
	e.AppendBytes([]byte{})
	e.AppendU32(uint32(len(transaction)))
	e.AppendU32(transaction[0].QuerySetId)
	e.AppendU32(1)
	e.AppendString("users")
	e.AppendU32(1)
	e.AppendU8(uint8(TableUpdatePersistent))
	encodeRowList(e, &transaction[0].Tables[0].Rows[0].Inserts)
	encodeRowList(e, &transaction[0].Tables[0].Rows[0].Deletes)

	err := client.ProcessFrame(serverFrame(e.Take()))
	assert.Equal(t, err, nil)
	// row callbacks fire before the reducer result
	assert.Equal(t, events, []string{
		"insert Eve",
		fmt.Sprintf("result 8 %d", ReducerOutcomeOk),
	})
	assert.Equal(t, client.Count("users"), 1)
}

func TestSubscriptionErrorReportsWithoutClosing(t *testing.T) {
	errorCount := 0
	client, _ := testClient(t, &EventHandler{
		OnError: func(err error) {
			errorCount += 1
		},
	})
	client.ProcessFrame(initialConnectionFrame(Identity{}, NewConnectionId(), "t"))

	e := NewEncoder()
	e.AppendU8(3)
	e.AppendU8(1)
	e.AppendU32(2)
	e.AppendString("bad query")
	err := client.ProcessFrame(serverFrame(e.Take()))
	assert.Equal(t, err, nil)
	assert.Equal(t, errorCount, 1)
	assert.Equal(t, client.Connection().State(), StateAuthenticated)
}

func TestDecodeErrorKeepsConnection(t *testing.T) {
	errorCount := 0
	client, _ := testClient(t, &EventHandler{
		OnError: func(err error) {
			errorCount += 1
		},
	})
	client.ProcessFrame(initialConnectionFrame(Identity{}, NewConnectionId(), "t"))

	err := client.ProcessFrame(serverFrame([]byte{0xEE}))
	assert.NotEqual(t, err, nil)
	assert.Equal(t, errorCount, 1)
	assert.Equal(t, client.Connection().State(), StateAuthenticated)
}

func TestFrameTick(t *testing.T) {
	disconnects := 0
	inserts := 0
	client, transport := testClient(t, &EventHandler{
		OnInsert: func(table string, row Row) {
			inserts += 1
		},
		OnDisconnect: func(reason error) {
			disconnects += 1
		},
	})

	transport.push(nil) // ping
	transport.push(subscribeAppliedFrame(userQueryRows(userRow(1, "Alice")), 1, 1))

	assert.Equal(t, client.FrameTick(), nil)
	assert.Equal(t, inserts, 0)
	assert.Equal(t, client.FrameTick(), nil)
	assert.Equal(t, inserts, 1)

	// drained queue reads as closed
	assert.Equal(t, client.FrameTick(), io.EOF)
	assert.Equal(t, disconnects, 1)
	assert.Equal(t, client.Connection().State(), StateDisconnected)
}

func TestCloseSuppressesEvents(t *testing.T) {
	disconnects := 0
	client, _ := testClient(t, &EventHandler{
		OnDisconnect: func(reason error) {
			disconnects += 1
		},
	})

	client.Close()
	assert.Equal(t, client.FrameTick(), io.EOF)
	assert.Equal(t, disconnects, 0)
}

func TestUnsubscribeAppliedDropsSubscription(t *testing.T) {
	var droppedQuerySet uint32
	client, _ := testClient(t, &EventHandler{
		OnUnsubscribeApplied: func(querySetId uint32, rows []QueryRows) {
			droppedQuerySet = querySetId
		},
	})
	querySetId, err := client.Subscribe([]string{"SELECT * FROM users"})
	assert.Equal(t, err, nil)

	e := NewEncoder()
	e.AppendU8(2)
	e.AppendU32(2)
	e.AppendU32(querySetId)
	e.AppendU8(1)
	err = client.ProcessFrame(serverFrame(e.Take()))
	assert.Equal(t, err, nil)
	assert.Equal(t, droppedQuerySet, querySetId)
	assert.Equal(t, len(client.Subscriptions()), 0)
}

type userAccessor struct {
	Id   uint32
	Name string
}

func (self *userAccessor) FromRow(row Row) error {
	if len(row) != 2 {
		return fmt.Errorf("userAccessor: row has %d fields", len(row))
	}
	self.Id = row[0].Value.U32
	self.Name = row[1].Value.Str
	return nil
}

func TestTypedAccessors(t *testing.T) {
	client, _ := testClient(t, nil)
	err := client.ProcessFrame(subscribeAppliedFrame(userQueryRows(
		userRow(1, "Alice"),
		userRow(2, "Bob"),
	), 1, 1))
	assert.Equal(t, err, nil)

	users, err := GetTyped[userAccessor](client, "users")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(users), 2)

	found, err := FindTyped[userAccessor](client, "users", U32Value(2))
	assert.Equal(t, err, nil)
	assert.Equal(t, found.Id, uint32(2))
	assert.Equal(t, found.Name, "Bob")

	missing, err := FindTyped[userAccessor](client, "users", U32Value(99))
	assert.Equal(t, err, nil)
	assert.Equal(t, missing, nil)
}
