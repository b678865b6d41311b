// Package capture implements the CTCP capture streamer: encoding ordered
// transaction log records into one or more length-bounded
// CAPTURED_DATA_RESULT frames.
package capture

import "sync/atomic"

// StmtType tags a LogItem's statement kind.
type StmtType uint32

const (
	StmtInsert StmtType = 1
	StmtUpdate StmtType = 2
	StmtDelete StmtType = 3
)

func (s StmtType) String() string {
	switch s {
	case StmtInsert:
		return "INSERT"
	case StmtUpdate:
		return "UPDATE"
	case StmtDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Column is one (name, type, value) tuple carried by a LogItem. name_len and
// val_len are u32 length prefixes on the wire; Column stores the decoded
// bytes directly.
type Column struct {
	Name  []byte
	Type  uint32
	Value []byte
}

// wireSize returns the encoded byte length of c: u32 name_len + name +
// u32 type + u32 val_len + val.
func (c Column) wireSize() int {
	return 4 + len(c.Name) + 4 + 4 + len(c.Value)
}

// LogItem is one row mutation within a transaction, tagged by StmtType.
// INSERT carries only SetColumns; UPDATE carries both KeyColumn and
// SetColumns; DELETE carries only KeyColumn. Row-to-column value encoding
// is opaque to this package — Column.Value is passed through unexamined.
type LogItem struct {
	TableName  string
	StmtType   StmtType
	KeyColumn  Column // UPDATE, DELETE only
	SetColumns []Column
}

// wireSize returns the byte length LogItem would occupy once encoded. The
// streamer does not consult it: it detects an item that does not fit from
// the buffer overflow of the write itself.
func (li LogItem) wireSize() int {
	size := 4 + len(li.TableName) + 4 // table_name_len + table_name + stmt_type
	switch li.StmtType {
	case StmtInsert:
		size += 4 // set_col_cnt
		for _, c := range li.SetColumns {
			size += c.wireSize()
		}
	case StmtUpdate:
		size += li.KeyColumn.wireSize()
		size += 4
		for _, c := range li.SetColumns {
			size += c.wireSize()
		}
	case StmtDelete:
		size += li.KeyColumn.wireSize()
	}
	return size
}

// TransactionLogList is an ordered batch of LogItems belonging to one
// transaction, produced by a captor.ChangeSource and retained until RefCnt
// reaches zero. The streamer decrements RefCnt exactly once per
// successfully emitted list (possibly after multiple fragmented sends).
type TransactionLogList struct {
	TID      uint32
	ItemNum  uint32
	Items    []LogItem
	refCnt   atomic.Int32
}

// NewTransactionLogList wraps items under tid with an initial ref count of 1.
func NewTransactionLogList(tid uint32, items []LogItem) *TransactionLogList {
	tl := &TransactionLogList{
		TID:     tid,
		ItemNum: uint32(len(items)),
		Items:   items,
	}
	tl.refCnt.Store(1)
	return tl
}

// RefCnt returns the current reference count.
func (tl *TransactionLogList) RefCnt() int32 {
	return tl.refCnt.Load()
}

// Release decrements the reference count, called by the streamer after a
// list has been fully emitted (all fragments sent with the final
// RC_SUCCESS frame).
func (tl *TransactionLogList) Release() int32 {
	return tl.refCnt.Add(-1)
}
