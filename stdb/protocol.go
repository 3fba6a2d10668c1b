package stdb

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Wire protocol framing. Client messages are a tagged sum with no
// compression envelope. Server messages carry a one-byte compression
// envelope (none/brotli/gzip) over the remainder of the frame; the
// decompressed payload starts with a one-byte message tag.
//
// Decoded server messages may borrow leaf bytes (rows data, reducer and
// procedure return or error bytes) from the received frame; strings are
// copied. Callers treat them as invalid after the next
// receive unless documented as copied.

var (
	ErrUnknownCompression    = errors.New("protocol: unknown compression")
	ErrEmptyFrame            = errors.New("protocol: empty frame")
	ErrUnknownMessageTag     = errors.New("protocol: unknown message tag")
	ErrUnknownTableUpdateTag = errors.New("protocol: unknown table update tag")
	ErrUnknownReducerOutcome = errors.New("protocol: unknown reducer outcome")
	ErrUnknownOneOffResult   = errors.New("protocol: unknown one-off query result")
	ErrUnknownProcedureStatus = errors.New("protocol: unknown procedure status")
	ErrDecompressionFailed   = errors.New("protocol: decompression failed")
)

const (
	clientMessageSubscribe     = 0
	clientMessageUnsubscribe   = 1
	clientMessageOneOffQuery   = 2
	clientMessageCallReducer   = 3
	clientMessageCallProcedure = 4
)

const (
	serverMessageInitialConnection  = 0
	serverMessageSubscribeApplied   = 1
	serverMessageUnsubscribeApplied = 2
	serverMessageSubscriptionError  = 3
	serverMessageTransactionUpdate  = 4
	serverMessageOneOffQueryResult  = 5
	serverMessageReducerResult      = 6
	serverMessageProcedureResult    = 7
)

const (
	compressionTagNone   = 0x00
	compressionTagBrotli = 0x01
	compressionTagGzip   = 0x02
)

// unsubscribe flags
const UnsubscribeFlagSendDroppedRows = uint8(1 << 0)

// ClientMessage is the closed family of messages the client sends.
type ClientMessage interface {
	appendTo(e *Encoder)
}

type SubscribeMessage struct {
	RequestId  uint32
	QuerySetId uint32
	Queries    []string
}

func (self *SubscribeMessage) appendTo(e *Encoder) {
	e.AppendU8(clientMessageSubscribe)
	e.AppendU32(self.RequestId)
	e.AppendU32(self.QuerySetId)
	e.AppendU32(uint32(len(self.Queries)))
	for _, query := range self.Queries {
		e.AppendString(query)
	}
}

type UnsubscribeMessage struct {
	RequestId  uint32
	QuerySetId uint32
	Flags      uint8
}

func (self *UnsubscribeMessage) appendTo(e *Encoder) {
	e.AppendU8(clientMessageUnsubscribe)
	e.AppendU32(self.RequestId)
	e.AppendU32(self.QuerySetId)
	e.AppendU8(self.Flags)
}

type OneOffQueryMessage struct {
	RequestId uint32
	Query     string
}

func (self *OneOffQueryMessage) appendTo(e *Encoder) {
	e.AppendU8(clientMessageOneOffQuery)
	e.AppendU32(self.RequestId)
	e.AppendString(self.Query)
}

type CallReducerMessage struct {
	RequestId uint32
	Reducer   string
	// bsatn product of the reducer's parameter types
	Args []byte
}

func (self *CallReducerMessage) appendTo(e *Encoder) {
	e.AppendU8(clientMessageCallReducer)
	e.AppendU32(self.RequestId)
	// flags, always 0
	e.AppendU8(0)
	e.AppendString(self.Reducer)
	e.AppendBytes(self.Args)
}

type CallProcedureMessage struct {
	RequestId uint32
	Procedure string
	Args      []byte
}

func (self *CallProcedureMessage) appendTo(e *Encoder) {
	e.AppendU8(clientMessageCallProcedure)
	e.AppendU32(self.RequestId)
	// flags, always 0, matching call_reducer
	e.AppendU8(0)
	e.AppendString(self.Procedure)
	e.AppendBytes(self.Args)
}

// EncodeClientMessage serializes a client message. No envelope.
func EncodeClientMessage(message ClientMessage) []byte {
	e := NewEncoder()
	message.appendTo(e)
	return e.Take()
}

// ServerMessage is the closed family of messages the server sends.
type ServerMessage interface {
	isServerMessage()
}

type InitialConnection struct {
	Identity     Identity
	ConnectionId ConnectionId
	Token        string
}

type QueryRows struct {
	TableName string
	Rows      RowList
}

type SubscribeApplied struct {
	RequestId  uint32
	QuerySetId uint32
	Rows       []QueryRows
}

type UnsubscribeApplied struct {
	RequestId  uint32
	QuerySetId uint32
	// dropped rows, present only when requested on unsubscribe
	HasRows bool
	Rows    []QueryRows
}

type SubscriptionError struct {
	// nil when the error is not tied to a request
	RequestId  *uint32
	QuerySetId uint32
	Message    string
}

type TableUpdateKind uint8

const (
	TableUpdatePersistent TableUpdateKind = 0
	TableUpdateEvent      TableUpdateKind = 1
)

type TableUpdateRows struct {
	Kind TableUpdateKind

	// persistent
	Inserts RowList
	Deletes RowList

	// event: transient rows, never cached
	Event RowList
}

type TableUpdate struct {
	TableName string
	Rows      []TableUpdateRows
}

type QuerySetUpdate struct {
	QuerySetId uint32
	Tables     []TableUpdate
}

type TransactionUpdate struct {
	Updates []QuerySetUpdate
}

type OneOffQueryResult struct {
	RequestId uint32
	Ok        bool
	Rows      []QueryRows
	ErrorText string
}

type ReducerOutcomeKind uint8

const (
	ReducerOutcomeOk            ReducerOutcomeKind = 0
	ReducerOutcomeOkEmpty       ReducerOutcomeKind = 1
	ReducerOutcomeErr           ReducerOutcomeKind = 2
	ReducerOutcomeInternalError ReducerOutcomeKind = 3
)

type ReducerOutcome struct {
	Kind ReducerOutcomeKind

	// ok
	ReturnValue []byte
	Transaction []QuerySetUpdate

	// err
	ErrValue []byte

	// internal_error
	InternalError string
}

type ReducerResult struct {
	RequestId uint32
	Timestamp int64
	Outcome   ReducerOutcome
}

type ProcedureStatusKind uint8

const (
	ProcedureStatusReturned      ProcedureStatusKind = 0
	ProcedureStatusErr           ProcedureStatusKind = 1
	ProcedureStatusInternalError ProcedureStatusKind = 2
)

type ProcedureStatus struct {
	Kind ProcedureStatusKind

	ReturnValue   []byte
	ErrValue      []byte
	InternalError string
}

type ProcedureResult struct {
	Status       ProcedureStatus
	Timestamp    int64
	HostDuration int64
	RequestId    uint32
}

func (*InitialConnection) isServerMessage()  {}
func (*SubscribeApplied) isServerMessage()   {}
func (*UnsubscribeApplied) isServerMessage() {}
func (*SubscriptionError) isServerMessage()  {}
func (*TransactionUpdate) isServerMessage()  {}
func (*OneOffQueryResult) isServerMessage()  {}
func (*ReducerResult) isServerMessage()      {}
func (*ProcedureResult) isServerMessage()    {}

// Decompress strips the one-byte compression envelope. Tag 0x00 returns
// the remaining payload without a copy.
func Decompress(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	payload := frame[1:]
	switch frame[0] {
	case compressionTagNone:
		return payload, nil
	case compressionTagBrotli:
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		return out, nil
	case compressionTagGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		return out, nil
	default:
		return nil, ErrUnknownCompression
	}
}

// DecodeServerMessage strips the envelope and decodes one server message.
// The result borrows leaf bytes from the (decompressed) frame.
func DecodeServerMessage(frame []byte) (ServerMessage, error) {
	payload, err := Decompress(frame)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, ErrEmptyFrame
	}
	d := NewDecoder(payload[1:])
	switch payload[0] {
	case serverMessageInitialConnection:
		return decodeInitialConnection(d)
	case serverMessageSubscribeApplied:
		return decodeSubscribeApplied(d)
	case serverMessageUnsubscribeApplied:
		return decodeUnsubscribeApplied(d)
	case serverMessageSubscriptionError:
		return decodeSubscriptionError(d)
	case serverMessageTransactionUpdate:
		updates, err := decodeQuerySetUpdates(d)
		if err != nil {
			return nil, err
		}
		return &TransactionUpdate{Updates: updates}, nil
	case serverMessageOneOffQueryResult:
		return decodeOneOffQueryResult(d)
	case serverMessageReducerResult:
		return decodeReducerResult(d)
	case serverMessageProcedureResult:
		return decodeProcedureResult(d)
	default:
		return nil, ErrUnknownMessageTag
	}
}

func decodeInitialConnection(d *Decoder) (*InitialConnection, error) {
	identityBytes, err := d.Raw(32)
	if err != nil {
		return nil, err
	}
	connectionIdBytes, err := d.Raw(16)
	if err != nil {
		return nil, err
	}
	token, err := d.String()
	if err != nil {
		return nil, err
	}
	return &InitialConnection{
		Identity:     Identity(identityBytes),
		ConnectionId: ConnectionId(connectionIdBytes),
		Token:        token,
	}, nil
}

func decodeQueryRows(d *Decoder) ([]QueryRows, error) {
	count, err := d.U32()
	if err != nil {
		return nil, err
	}
	rows := make([]QueryRows, 0, minInt(int(count), d.Remaining()+1))
	for i := uint32(0); i < count; i += 1 {
		tableName, err := d.String()
		if err != nil {
			return nil, err
		}
		list, err := decodeRowList(d)
		if err != nil {
			return nil, err
		}
		rows = append(rows, QueryRows{
			TableName: tableName,
			Rows:      list,
		})
	}
	return rows, nil
}

func decodeSubscribeApplied(d *Decoder) (*SubscribeApplied, error) {
	requestId, err := d.U32()
	if err != nil {
		return nil, err
	}
	querySetId, err := d.U32()
	if err != nil {
		return nil, err
	}
	rows, err := decodeQueryRows(d)
	if err != nil {
		return nil, err
	}
	return &SubscribeApplied{
		RequestId:  requestId,
		QuerySetId: querySetId,
		Rows:       rows,
	}, nil
}

func decodeUnsubscribeApplied(d *Decoder) (*UnsubscribeApplied, error) {
	requestId, err := d.U32()
	if err != nil {
		return nil, err
	}
	querySetId, err := d.U32()
	if err != nil {
		return nil, err
	}
	message := &UnsubscribeApplied{
		RequestId:  requestId,
		QuerySetId: querySetId,
	}
	tag, err := d.U8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		rows, err := decodeQueryRows(d)
		if err != nil {
			return nil, err
		}
		message.HasRows = true
		message.Rows = rows
	case 1:
	default:
		return nil, ErrInvalidOptionTag
	}
	return message, nil
}

func decodeSubscriptionError(d *Decoder) (*SubscriptionError, error) {
	message := &SubscriptionError{}
	tag, err := d.U8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		requestId, err := d.U32()
		if err != nil {
			return nil, err
		}
		message.RequestId = &requestId
	case 1:
	default:
		return nil, ErrInvalidOptionTag
	}
	querySetId, err := d.U32()
	if err != nil {
		return nil, err
	}
	message.QuerySetId = querySetId
	errorText, err := d.String()
	if err != nil {
		return nil, err
	}
	message.Message = errorText
	return message, nil
}

func decodeQuerySetUpdates(d *Decoder) ([]QuerySetUpdate, error) {
	count, err := d.U32()
	if err != nil {
		return nil, err
	}
	updates := make([]QuerySetUpdate, 0, minInt(int(count), d.Remaining()+1))
	for i := uint32(0); i < count; i += 1 {
		update, err := decodeQuerySetUpdate(d)
		if err != nil {
			return nil, err
		}
		updates = append(updates, update)
	}
	return updates, nil
}

func decodeQuerySetUpdate(d *Decoder) (QuerySetUpdate, error) {
	querySetId, err := d.U32()
	if err != nil {
		return QuerySetUpdate{}, err
	}
	tableCount, err := d.U32()
	if err != nil {
		return QuerySetUpdate{}, err
	}
	tables := make([]TableUpdate, 0, minInt(int(tableCount), d.Remaining()+1))
	for i := uint32(0); i < tableCount; i += 1 {
		table, err := decodeTableUpdate(d)
		if err != nil {
			return QuerySetUpdate{}, err
		}
		tables = append(tables, table)
	}
	return QuerySetUpdate{
		QuerySetId: querySetId,
		Tables:     tables,
	}, nil
}

func decodeTableUpdate(d *Decoder) (TableUpdate, error) {
	tableName, err := d.String()
	if err != nil {
		return TableUpdate{}, err
	}
	count, err := d.U32()
	if err != nil {
		return TableUpdate{}, err
	}
	rows := make([]TableUpdateRows, 0, minInt(int(count), d.Remaining()+1))
	for i := uint32(0); i < count; i += 1 {
		tag, err := d.U8()
		if err != nil {
			return TableUpdate{}, err
		}
		switch TableUpdateKind(tag) {
		case TableUpdatePersistent:
			inserts, err := decodeRowList(d)
			if err != nil {
				return TableUpdate{}, err
			}
			deletes, err := decodeRowList(d)
			if err != nil {
				return TableUpdate{}, err
			}
			rows = append(rows, TableUpdateRows{
				Kind:    TableUpdatePersistent,
				Inserts: inserts,
				Deletes: deletes,
			})
		case TableUpdateEvent:
			event, err := decodeRowList(d)
			if err != nil {
				return TableUpdate{}, err
			}
			rows = append(rows, TableUpdateRows{
				Kind:  TableUpdateEvent,
				Event: event,
			})
		default:
			return TableUpdate{}, ErrUnknownTableUpdateTag
		}
	}
	return TableUpdate{
		TableName: tableName,
		Rows:      rows,
	}, nil
}

func decodeOneOffQueryResult(d *Decoder) (*OneOffQueryResult, error) {
	requestId, err := d.U32()
	if err != nil {
		return nil, err
	}
	tag, err := d.U8()
	if err != nil {
		return nil, err
	}
	result := &OneOffQueryResult{RequestId: requestId}
	switch tag {
	case 0:
		rows, err := decodeQueryRows(d)
		if err != nil {
			return nil, err
		}
		result.Ok = true
		result.Rows = rows
	case 1:
		errorText, err := d.String()
		if err != nil {
			return nil, err
		}
		result.ErrorText = errorText
	default:
		return nil, ErrUnknownOneOffResult
	}
	return result, nil
}

func decodeReducerResult(d *Decoder) (*ReducerResult, error) {
	requestId, err := d.U32()
	if err != nil {
		return nil, err
	}
	timestamp, err := d.I64()
	if err != nil {
		return nil, err
	}
	outcome, err := decodeReducerOutcome(d)
	if err != nil {
		return nil, err
	}
	return &ReducerResult{
		RequestId: requestId,
		Timestamp: timestamp,
		Outcome:   outcome,
	}, nil
}

func decodeReducerOutcome(d *Decoder) (ReducerOutcome, error) {
	tag, err := d.U8()
	if err != nil {
		return ReducerOutcome{}, err
	}
	switch ReducerOutcomeKind(tag) {
	case ReducerOutcomeOk:
		returnValue, err := d.ByteSlice()
		if err != nil {
			return ReducerOutcome{}, err
		}
		transaction, err := decodeQuerySetUpdates(d)
		if err != nil {
			return ReducerOutcome{}, err
		}
		return ReducerOutcome{
			Kind:        ReducerOutcomeOk,
			ReturnValue: returnValue,
			Transaction: transaction,
		}, nil
	case ReducerOutcomeOkEmpty:
		return ReducerOutcome{Kind: ReducerOutcomeOkEmpty}, nil
	case ReducerOutcomeErr:
		errValue, err := d.ByteSlice()
		if err != nil {
			return ReducerOutcome{}, err
		}
		return ReducerOutcome{
			Kind:     ReducerOutcomeErr,
			ErrValue: errValue,
		}, nil
	case ReducerOutcomeInternalError:
		message, err := d.String()
		if err != nil {
			return ReducerOutcome{}, err
		}
		return ReducerOutcome{
			Kind:          ReducerOutcomeInternalError,
			InternalError: message,
		}, nil
	default:
		return ReducerOutcome{}, ErrUnknownReducerOutcome
	}
}

func decodeProcedureResult(d *Decoder) (*ProcedureResult, error) {
	status, err := decodeProcedureStatus(d)
	if err != nil {
		return nil, err
	}
	timestamp, err := d.I64()
	if err != nil {
		return nil, err
	}
	hostDuration, err := d.I64()
	if err != nil {
		return nil, err
	}
	requestId, err := d.U32()
	if err != nil {
		return nil, err
	}
	return &ProcedureResult{
		Status:       status,
		Timestamp:    timestamp,
		HostDuration: hostDuration,
		RequestId:    requestId,
	}, nil
}

func decodeProcedureStatus(d *Decoder) (ProcedureStatus, error) {
	tag, err := d.U8()
	if err != nil {
		return ProcedureStatus{}, err
	}
	switch ProcedureStatusKind(tag) {
	case ProcedureStatusReturned:
		returnValue, err := d.ByteSlice()
		if err != nil {
			return ProcedureStatus{}, err
		}
		return ProcedureStatus{
			Kind:        ProcedureStatusReturned,
			ReturnValue: returnValue,
		}, nil
	case ProcedureStatusErr:
		errValue, err := d.ByteSlice()
		if err != nil {
			return ProcedureStatus{}, err
		}
		return ProcedureStatus{
			Kind:     ProcedureStatusErr,
			ErrValue: errValue,
		}, nil
	case ProcedureStatusInternalError:
		message, err := d.String()
		if err != nil {
			return ProcedureStatus{}, err
		}
		return ProcedureStatus{
			Kind:          ProcedureStatusInternalError,
			InternalError: message,
		}, nil
	default:
		return ProcedureStatus{}, ErrUnknownProcedureStatus
	}
}
