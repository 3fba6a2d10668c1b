package stdb

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func userRow(id uint32, name string) Row {
	return Row{
		NamedField("id", U32Value(id)),
		NamedField("name", StringValue(name)),
	}
}

func userQueryRows(rows ...Row) []QueryRows {
	rowBytes := make([][]byte, len(rows))
	for i := range rows {
		e := NewEncoder()
		e.AppendU32(rows[i][0].Value.U32)
		e.AppendString(rows[i][1].Value.Str)
		rowBytes[i] = e.Take()
	}
	return []QueryRows{
		{
			TableName: "users",
			Rows:      OffsetRowList(rowBytes...),
		},
	}
}

func userTransaction(deletes []Row, inserts []Row) []QuerySetUpdate {
	encode := func(rows []Row) RowList {
		rowBytes := make([][]byte, len(rows))
		for i := range rows {
			e := NewEncoder()
			e.AppendU32(rows[i][0].Value.U32)
			e.AppendString(rows[i][1].Value.Str)
			rowBytes[i] = e.Take()
		}
		return OffsetRowList(rowBytes...)
	}
	return []QuerySetUpdate{
		{
			QuerySetId: 1,
			Tables: []TableUpdate{
				{
					TableName: "users",
					Rows: []TableUpdateRows{
						{
							Kind:    TableUpdatePersistent,
							Inserts: encode(inserts),
							Deletes: encode(deletes),
						},
					},
				},
			},
		},
	}
}

func TestSubscribeAppliedInsertsAll(t *testing.T) {
	cache := NewCache(testSchema(t))
	changes, err := cache.ApplySubscribeApplied(userQueryRows(
		userRow(1, "Alice"),
		userRow(2, "Bob"),
		userRow(3, "Carol"),
	))
	assert.Equal(t, err, nil)
	// one insert change per inserted row
	assert.Equal(t, len(changes), 3)
	for _, change := range changes {
		assert.Equal(t, change.Kind, ChangeInsert)
		assert.Equal(t, change.Table, "users")
	}
	assert.Equal(t, cache.Count("users"), 3)
}

func TestSubscribeAppliedUnknownTableIsNoop(t *testing.T) {
	cache := NewCache(testSchema(t))
	changes, err := cache.ApplySubscribeApplied([]QueryRows{
		{
			TableName: "not_in_schema",
			Rows:      OffsetRowList([]byte{1, 2, 3}),
		},
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, len(changes), 0)
}

func TestUpdateDetection(t *testing.T) {
	cache := NewCache(testSchema(t))
	_, err := cache.ApplySubscribeApplied(userQueryRows(
		userRow(1, "Alice"),
		userRow(2, "Bob"),
	))
	assert.Equal(t, err, nil)

	// delete both, insert a renamed row 1
	changes, err := cache.ApplyTransactionUpdate(userTransaction(
		[]Row{userRow(1, "Alice"), userRow(2, "Bob")},
		[]Row{userRow(1, "Alicia")},
	))
	assert.Equal(t, err, nil)

	// exactly one update then one delete, in that order
	assert.Equal(t, len(changes), 2)
	assert.Equal(t, changes[0].Kind, ChangeUpdate)
	assert.Equal(t, changes[0].OldRow.Equal(userRow(1, "Alice")), true)
	assert.Equal(t, changes[0].Row.Equal(userRow(1, "Alicia")), true)
	assert.Equal(t, changes[1].Kind, ChangeDelete)
	assert.Equal(t, changes[1].Row.Equal(userRow(2, "Bob")), true)

	// the cache holds exactly the inserted row
	assert.Equal(t, cache.Count("users"), 1)
	row, ok := cache.Find("users", U32Value(1))
	assert.Equal(t, ok, true)
	assert.Equal(t, row.Equal(userRow(1, "Alicia")), true)
	_, ok = cache.Find("users", U32Value(2))
	assert.Equal(t, ok, false)
}

func TestEqualDeleteInsertIsUpdate(t *testing.T) {
	cache := NewCache(testSchema(t))
	_, err := cache.ApplySubscribeApplied(userQueryRows(userRow(1, "Alice")))
	assert.Equal(t, err, nil)

	changes, err := cache.ApplyTransactionUpdate(userTransaction(
		[]Row{userRow(1, "Alice")},
		[]Row{userRow(1, "Alice")},
	))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(changes), 1)
	assert.Equal(t, changes[0].Kind, ChangeUpdate)
	assert.Equal(t, changes[0].OldRow.Equal(changes[0].Row), true)
	assert.Equal(t, cache.Count("users"), 1)
}

func TestEmptyTransactionIsIdempotent(t *testing.T) {
	cache := NewCache(testSchema(t))
	_, err := cache.ApplySubscribeApplied(userQueryRows(userRow(1, "Alice")))
	assert.Equal(t, err, nil)

	changes, err := cache.ApplyTransactionUpdate([]QuerySetUpdate{})
	assert.Equal(t, err, nil)
	assert.Equal(t, len(changes), 0)
	assert.Equal(t, cache.Count("users"), 1)

	changes, err = cache.ApplyTransactionUpdate(userTransaction(nil, nil))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(changes), 0)
	assert.Equal(t, cache.Count("users"), 1)
}

func TestUnmatchedDeleteDegeneratesToDelete(t *testing.T) {
	cache := NewCache(testSchema(t))

	changes, err := cache.ApplyTransactionUpdate(userTransaction(
		[]Row{userRow(9, "Ghost")},
		nil,
	))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(changes), 1)
	assert.Equal(t, changes[0].Kind, ChangeDelete)
	assert.Equal(t, changes[0].Row.Equal(userRow(9, "Ghost")), true)
	assert.Equal(t, cache.Count("users"), 0)
}

func TestEventRowsAreTransient(t *testing.T) {
	cache := NewCache(testSchema(t))
	e := NewEncoder()
	e.AppendU32(1)
	e.AppendString("x")
	changes, err := cache.ApplyTransactionUpdate([]QuerySetUpdate{
		{
			QuerySetId: 1,
			Tables: []TableUpdate{
				{
					TableName: "users",
					Rows: []TableUpdateRows{
						{
							Kind:  TableUpdateEvent,
							Event: OffsetRowList(e.Take()),
						},
					},
				},
			},
		},
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, len(changes), 0)
	assert.Equal(t, cache.Count("users"), 0)
}

func TestNoPrimaryKeyTableBehavesAsSet(t *testing.T) {
	cache := NewCache(testSchema(t))
	payload := func(b byte) []byte {
		e := NewEncoder()
		e.AppendBytes([]byte{b})
		return e.Take()
	}
	changes, err := cache.ApplySubscribeApplied([]QueryRows{
		{
			TableName: "events",
			Rows:      OffsetRowList(payload(1), payload(2), payload(1)),
		},
	})
	assert.Equal(t, err, nil)
	// duplicate whole-row keys collapse
	assert.Equal(t, len(changes), 3)
	assert.Equal(t, cache.Count("events"), 2)
}

func TestApplyAbortsOnDecodeError(t *testing.T) {
	cache := NewCache(testSchema(t))
	_, err := cache.ApplySubscribeApplied(userQueryRows(userRow(1, "Alice")))
	assert.Equal(t, err, nil)

	// valid first table update, then a corrupt row
	good := userTransaction([]Row{}, []Row{userRow(2, "Bob")})
	bad := userTransaction(nil, nil)
	bad[0].Tables[0].Rows[0].Inserts = OffsetRowList([]byte{0xFF})
	updates := append(good, bad...)

	changes, err := cache.ApplyTransactionUpdate(updates)
	assert.Equal(t, changes, nil)
	assert.NotEqual(t, err, nil)

	// the completed table update stays applied, the failed one left no trace
	assert.Equal(t, cache.Count("users"), 2)
}

func TestGetAllReturnsOwnedSnapshot(t *testing.T) {
	cache := NewCache(testSchema(t))
	_, err := cache.ApplySubscribeApplied(userQueryRows(userRow(1, "Alice")))
	assert.Equal(t, err, nil)

	rows := cache.GetAll("users")
	assert.Equal(t, len(rows), 1)

	// mutating the snapshot does not reach the cache
	rows[0][1].Value = StringValue("Mallory")
	cached, ok := cache.Find("users", U32Value(1))
	assert.Equal(t, ok, true)
	assert.Equal(t, cached[1].Value.Str, "Alice")
}
