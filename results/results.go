// Package results accumulates column metadata and row data for one or more
// result sets produced by a single query, and exposes one-shot row
// iteration plus snapshot accessors for callers.
package results

import "github.com/vasflam/go-mysql-core/protocol"

// NullString is a text-protocol column value. Valid is false for SQL NULL,
// distinct from an empty string.
type NullString struct {
	String string
	Valid  bool
}

// Row is a single result row, ordered the same way as its result set's
// column list.
type Row []NullString

type resultSet struct {
	columns []protocol.ColumnDef
	rows    []Row
	cursor  int
}

// Results holds every result set produced by one query (more than one only
// when multi-statements are enabled), plus terminal metadata and, on
// failure, the server's error fields.
type Results struct {
	sets       []resultSet
	current    int
	AffectedRowsValue uint64
	LastInsertIDValue uint64
	WarningsCountValue uint16
	ErrorCodeValue     uint16
	SQLStateValue      string
	ErrorMessageValue  string
}

// New returns an empty Results ready to be populated by a Connection's
// handler callbacks.
func New() *Results {
	return &Results{}
}

// AddColumns starts a new result set with the given column definitions,
// called from Connection's OnFields handler.
func (r *Results) AddColumns(cols []protocol.ColumnDef) {
	r.sets = append(r.sets, resultSet{columns: cols})
}

// AddRow appends row to the most recently started result set, called from
// Connection's OnRow handler.
func (r *Results) AddRow(row Row) {
	if len(r.sets) == 0 {
		r.sets = append(r.sets, resultSet{})
	}
	i := len(r.sets) - 1
	r.sets[i].rows = append(r.sets[i].rows, row)
}

// SetTerminal copies OK-packet metadata, called from Connection's OnEnd
// handler.
func (r *Results) SetTerminal(affectedRows, lastInsertID uint64, warnings uint16) {
	r.AffectedRowsValue = affectedRows
	r.LastInsertIDValue = lastInsertID
	r.WarningsCountValue = warnings
}

// SetError copies ERR-packet metadata, called from Connection's OnError
// handler.
func (r *Results) SetError(code uint16, sqlState, message string) {
	r.ErrorCodeValue = code
	r.SQLStateValue = sqlState
	r.ErrorMessageValue = message
}

func (r *Results) resultSetIndex(idx []int) int {
	if len(idx) > 0 {
		return idx[0]
	}
	return r.current
}

// Columns returns the column name list for the idx-th result set (default:
// the current one, or 0 if none selected yet).
func (r *Results) Columns(idx ...int) []string {
	i := r.resultSetIndex(idx)
	if i < 0 || i >= len(r.sets) {
		return nil
	}
	names := make([]string, len(r.sets[i].columns))
	for j, c := range r.sets[i].columns {
		names[j] = c.Name
	}
	return names
}

// Rows returns the row count of the current result set.
func (r *Results) Rows() int {
	if r.current < 0 || r.current >= len(r.sets) {
		return 0
	}
	return len(r.sets[r.current].rows)
}

// NextResultSet advances the read cursor to the next result set (relevant
// under multi-statements), resetting the one-shot row cursor. It returns
// false once there are no more result sets.
func (r *Results) NextResultSet() bool {
	if r.current+1 >= len(r.sets) {
		return false
	}
	r.current++
	return true
}

// Array consumes and returns the next row of the current result set as an
// ordered NullString slice. The second return value is false once the
// result set is exhausted.
func (r *Results) Array() (Row, bool) {
	if r.current < 0 || r.current >= len(r.sets) {
		return nil, false
	}
	s := &r.sets[r.current]
	if s.cursor >= len(s.rows) {
		return nil, false
	}
	row := s.rows[s.cursor]
	s.cursor++
	return row, true
}

// Arrays returns every row of the current result set without consuming the
// one-shot cursor.
func (r *Results) Arrays() []Row {
	if r.current < 0 || r.current >= len(r.sets) {
		return nil
	}
	out := make([]Row, len(r.sets[r.current].rows))
	copy(out, r.sets[r.current].rows)
	return out
}

// Hash consumes and returns the next row of the current result set as a
// column-name-keyed map. On duplicate column names the last column wins.
func (r *Results) Hash() (map[string]NullString, bool) {
	row, ok := r.Array()
	if !ok {
		return nil, false
	}
	return r.rowToHash(row), true
}

// Hashes returns every row of the current result set as column-name-keyed
// maps, without consuming the one-shot cursor.
func (r *Results) Hashes() []map[string]NullString {
	if r.current < 0 || r.current >= len(r.sets) {
		return nil
	}
	rows := r.sets[r.current].rows
	out := make([]map[string]NullString, len(rows))
	for i, row := range rows {
		out[i] = r.rowToHash(row)
	}
	return out
}

func (r *Results) rowToHash(row Row) map[string]NullString {
	names := r.Columns()
	h := make(map[string]NullString, len(names))
	for i, name := range names {
		if i < len(row) {
			h[name] = row[i]
		}
	}
	return h
}

func (r *Results) AffectedRows() uint64    { return r.AffectedRowsValue }
func (r *Results) LastInsertID() uint64    { return r.LastInsertIDValue }
func (r *Results) WarningsCount() uint16   { return r.WarningsCountValue }
func (r *Results) ErrorCode() uint16       { return r.ErrorCodeValue }
func (r *Results) SQLState() string        { return r.SQLStateValue }
func (r *Results) ErrorMessage() string    { return r.ErrorMessageValue }

// HasError reports whether SetError was ever called for this Results.
func (r *Results) HasError() bool {
	return r.ErrorCodeValue != 0 || r.SQLStateValue != "" || r.ErrorMessageValue != ""
}
