package stdb

import (
	"fmt"

	"github.com/golang/glog"

	"golang.org/x/exp/slices"
)

// The client cache mirrors the subscribed view of the database: one
// keyed store per table, keyed by the bsatn encoding of the row's
// primary key columns in declaration order. Tables with no declared
// primary key are keyed by the encoding of the whole row and behave as
// a set.
//
// The cache exclusively owns its stored rows. Change lists emitted from
// an apply own their old rows and reference inserted rows that live in
// the cache.

type ChangeKind uint8

const (
	ChangeInsert ChangeKind = iota
	ChangeDelete
	ChangeUpdate
)

func (self ChangeKind) String() string {
	switch self {
	case ChangeInsert:
		return "insert"
	case ChangeDelete:
		return "delete"
	case ChangeUpdate:
		return "update"
	default:
		return fmt.Sprintf("change(%d)", uint8(self))
	}
}

type Change struct {
	Kind  ChangeKind
	Table string
	// the inserted or new row for insert/update, the removed row for delete
	Row Row
	// the replaced row for update
	OldRow Row
}

type ChangeList []Change

type tableStore struct {
	columns   []Column
	pkIndices []int
	rows      map[string]Row
}

type Cache struct {
	schema *Schema
	tables map[string]*tableStore
}

func NewCache(schema *Schema) *Cache {
	return &Cache{
		schema: schema,
		tables: map[string]*tableStore{},
	}
}

// store returns the table's store, creating it on first touch. Tables
// the schema does not know are nil and tolerated as no-ops upstream.
func (self *Cache) store(tableName string) *tableStore {
	if store, ok := self.tables[tableName]; ok {
		return store
	}
	table := self.schema.Table(tableName)
	if table == nil {
		return nil
	}
	store := &tableStore{
		columns:   table.Columns,
		pkIndices: table.PrimaryKey,
		rows:      map[string]Row{},
	}
	self.tables[tableName] = store
	return store
}

// rowKey encodes the primary key columns of row in declaration order,
// concatenated with no separator. With no declared primary key the whole
// row is the key.
func (self *tableStore) rowKey(row Row) (string, error) {
	e := NewEncoder()
	if len(self.pkIndices) == 0 {
		if err := EncodeRow(e, row); err != nil {
			return "", err
		}
		return string(e.Take()), nil
	}
	for _, pkIndex := range self.pkIndices {
		if err := e.EncodeValue(&row[pkIndex].Value); err != nil {
			return "", err
		}
	}
	return string(e.Take()), nil
}

// ApplySubscribeApplied inserts the initial rows of a subscription and
// emits one insert change per row. A decode failure aborts with the
// already completed tables applied and nothing from the failed table.
func (self *Cache) ApplySubscribeApplied(queryRows []QueryRows) (ChangeList, error) {
	changes := ChangeList{}
	for i := range queryRows {
		store := self.store(queryRows[i].TableName)
		if store == nil {
			continue
		}
		rows, err := DecodeRows(&queryRows[i].Rows, store.columns)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", queryRows[i].TableName, err)
		}
		keys := make([]string, len(rows))
		for j := range rows {
			key, err := store.rowKey(rows[j])
			if err != nil {
				return nil, err
			}
			keys[j] = key
		}
		for j := range rows {
			store.rows[keys[j]] = rows[j]
			changes = append(changes, Change{
				Kind:  ChangeInsert,
				Table: queryRows[i].TableName,
				Row:   rows[j],
			})
		}
		glog.V(2).Infof("[ca]subscribe applied %s +%d\n", queryRows[i].TableName, len(rows))
	}
	return changes, nil
}

// ApplyTransactionUpdate applies one server transaction. A delete and an
// insert under the same primary key collapse into a single update
// change. Within one persistent update, changes are emitted as inserts
// and updates in the server's insert order, then the unmatched deletes
// in delete order.
//
// Both row lists of a persistent update are fully decoded and keyed
// before the store is touched, so a decode failure leaves the cache
// consistent with applying only the completed table updates.
func (self *Cache) ApplyTransactionUpdate(updates []QuerySetUpdate) (ChangeList, error) {
	changes := ChangeList{}
	for i := range updates {
		for j := range updates[i].Tables {
			tableUpdate := &updates[i].Tables[j]
			store := self.store(tableUpdate.TableName)
			if store == nil {
				continue
			}
			// decode every persistent row set of this table update up
			// front, so a corrupt one fails before any set is applied
			for k := range tableUpdate.Rows {
				rows := &tableUpdate.Rows[k]
				if rows.Kind == TableUpdateEvent {
					continue
				}
				if _, err := DecodeRows(&rows.Deletes, store.columns); err != nil {
					return nil, fmt.Errorf("table %s: %w", tableUpdate.TableName, err)
				}
				if _, err := DecodeRows(&rows.Inserts, store.columns); err != nil {
					return nil, fmt.Errorf("table %s: %w", tableUpdate.TableName, err)
				}
			}
			for k := range tableUpdate.Rows {
				tableChanges, err := self.applyTableUpdateRows(store, tableUpdate.TableName, &tableUpdate.Rows[k])
				if err != nil {
					return nil, fmt.Errorf("table %s: %w", tableUpdate.TableName, err)
				}
				changes = append(changes, tableChanges...)
			}
		}
	}
	return changes, nil
}

func (self *Cache) applyTableUpdateRows(store *tableStore, tableName string, update *TableUpdateRows) (ChangeList, error) {
	if update.Kind == TableUpdateEvent {
		// transient rows are not cached and emit no change
		return nil, nil
	}

	deleteRows, err := DecodeRows(&update.Deletes, store.columns)
	if err != nil {
		return nil, err
	}
	insertRows, err := DecodeRows(&update.Inserts, store.columns)
	if err != nil {
		return nil, err
	}
	deleteKeys := make([]string, len(deleteRows))
	for i := range deleteRows {
		if deleteKeys[i], err = store.rowKey(deleteRows[i]); err != nil {
			return nil, err
		}
	}
	insertKeys := make([]string, len(insertRows))
	for i := range insertRows {
		if insertKeys[i], err = store.rowKey(insertRows[i]); err != nil {
			return nil, err
		}
	}

	// map each deleted key to the row that was cached under it, or the
	// decoded delete row when no entry matched. unmatched deletes
	// degenerate to pure delete events.
	scratch := map[string]Row{}
	scratchOrder := []string{}
	for i, key := range deleteKeys {
		old, ok := store.rows[key]
		if !ok {
			old = deleteRows[i]
		} else {
			delete(store.rows, key)
		}
		if _, seen := scratch[key]; !seen {
			scratchOrder = append(scratchOrder, key)
		}
		scratch[key] = old
	}

	changes := ChangeList{}
	for i, key := range insertKeys {
		row := insertRows[i]
		if old, ok := scratch[key]; ok {
			delete(scratch, key)
			store.rows[key] = row
			changes = append(changes, Change{
				Kind:   ChangeUpdate,
				Table:  tableName,
				Row:    row,
				OldRow: old,
			})
		} else {
			store.rows[key] = row
			changes = append(changes, Change{
				Kind:  ChangeInsert,
				Table: tableName,
				Row:   row,
			})
		}
	}
	for _, key := range scratchOrder {
		old, ok := scratch[key]
		if !ok {
			// consumed by an update
			continue
		}
		changes = append(changes, Change{
			Kind:  ChangeDelete,
			Table: tableName,
			Row:   old,
		})
	}

	glog.V(2).Infof("[ca]%s -%d +%d = %d changes\n", tableName, len(deleteRows), len(insertRows), len(changes))
	return changes, nil
}

// GetAll returns a freshly allocated snapshot of the table's rows, safe
// to hand across threads.
func (self *Cache) GetAll(tableName string) []Row {
	store, ok := self.tables[tableName]
	if !ok {
		return nil
	}
	rows := make([]Row, 0, len(store.rows))
	for _, row := range store.rows {
		rows = append(rows, slices.Clone(row))
	}
	return rows
}

// Count returns the number of cached rows in a table.
func (self *Cache) Count(tableName string) int {
	store, ok := self.tables[tableName]
	if !ok {
		return 0
	}
	return len(store.rows)
}

// Find looks a row up by its primary key values in declaration order.
// For tables without a declared primary key the values are the whole
// row.
func (self *Cache) Find(tableName string, pkValues ...AlgebraicValue) (Row, bool) {
	store := self.store(tableName)
	if store == nil {
		return nil, false
	}
	e := NewEncoder()
	for i := range pkValues {
		if err := e.EncodeValue(&pkValues[i]); err != nil {
			return nil, false
		}
	}
	row, ok := store.rows[string(e.Take())]
	if !ok {
		return nil, false
	}
	return slices.Clone(row), true
}
