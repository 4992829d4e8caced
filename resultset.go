package mdriver

import (
	"database/sql/driver"
	"io"
	"time"

	"github.com/lordbasex/mdriver/internal/resultset"
)

// ResultSet is the JDBC-shaped cursor over a SELECT-shaped result,
// delegating all buffering/streaming and scroll semantics to
// internal/resultset and exposing the typed getters and metadata
// lookup spec.md §2 H2/§4.4/§4.5 describe.
type ResultSet struct {
	rs *resultset.ResultSet
}

func newResultSet(rs *resultset.ResultSet) *ResultSet { return &ResultSet{rs: rs} }

// Next advances the cursor by one row.
func (r *ResultSet) Next() (bool, error) { return r.rs.Next() }

// Previous moves the cursor back one row (scrollable result sets only).
func (r *ResultSet) Previous() (bool, error) { return r.rs.Previous() }

// BeforeFirst repositions the cursor before the first row.
func (r *ResultSet) BeforeFirst() error { return r.rs.BeforeFirst() }

// AfterLast repositions the cursor after the last row.
func (r *ResultSet) AfterLast() error { return r.rs.AfterLast() }

// First moves the cursor to the first row.
func (r *ResultSet) First() (bool, error) { return r.rs.First() }

// Last moves the cursor to the last row.
func (r *ResultSet) Last() (bool, error) { return r.rs.Last() }

// Absolute moves the cursor to the n'th row, JDBC-style (negative n
// counts from the end).
func (r *ResultSet) Absolute(n int) (bool, error) { return r.rs.Absolute(n) }

// Relative moves the cursor k rows from its current position.
func (r *ResultSet) Relative(k int) (bool, error) { return r.rs.Relative(k) }

func (r *ResultSet) IsBeforeFirst() bool { return r.rs.IsBeforeFirst() }
func (r *ResultSet) IsAfterLast() bool   { return r.rs.IsAfterLast() }
func (r *ResultSet) IsFirst() bool       { return r.rs.IsFirst() }
func (r *ResultSet) IsLast() bool        { return r.rs.IsLast() }

// GetRow returns the 1-based current row number, or 0 off a row.
func (r *ResultSet) GetRow() int { return r.rs.GetRow() }

// WasNull reports whether the last Get* call returned SQL NULL. It
// fails with a closed-result-set SQLException once Close has been
// called, per spec.md §8 invariant 2, matching every typed getter.
func (r *ResultSet) WasNull() (bool, error) { return r.rs.WasNull() }

func (r *ResultSet) GetString(col int) (string, error)    { return r.rs.GetString(col) }
func (r *ResultSet) GetInt64(col int) (int64, error)      { return r.rs.GetInt64(col) }
func (r *ResultSet) GetFloat64(col int) (float64, error)  { return r.rs.GetFloat64(col) }
func (r *ResultSet) GetBool(col int) (bool, error)        { return r.rs.GetBool(col) }
func (r *ResultSet) GetBytes(col int) ([]byte, error)     { return r.rs.GetBytes(col) }
func (r *ResultSet) GetTime(col int) (time.Time, error)   { return r.rs.GetTime(col) }

// FindColumn resolves a column label to its 1-based index.
func (r *ResultSet) FindColumn(name string) (int, error) { return r.rs.FindColumn(name) }

// GetMetaData returns the column descriptor set for this result set.
func (r *ResultSet) GetMetaData() *ResultSetMetaData {
	return &ResultSetMetaData{columns: r.rs.Columns()}
}

// Close releases the result set's buffered/streaming state.
func (r *ResultSet) Close() error { return r.rs.Close() }

// Closed reports whether Close has been called.
func (r *ResultSet) Closed() bool { return r.rs.Closed() }

// ResultSetMetaData exposes per-column descriptors, per spec.md §4.5 and
// the ColumnInformation record in §4.
type ResultSetMetaData struct {
	columns []resultset.ColumnInfo
}

func (m *ResultSetMetaData) ColumnCount() int { return len(m.columns) }

func (m *ResultSetMetaData) column(idx int) resultset.ColumnInfo {
	return m.columns[idx-1]
}

func (m *ResultSetMetaData) ColumnName(idx int) string   { return m.column(idx).Name }
func (m *ResultSetMetaData) ColumnLabel(idx int) string  { return m.column(idx).Name }
func (m *ResultSetMetaData) TableName(idx int) string    { return m.column(idx).Table }
func (m *ResultSetMetaData) SchemaName(idx int) string   { return m.column(idx).Schema }
func (m *ResultSetMetaData) ColumnTypeName(idx int) string {
	return m.column(idx).ColumnType
}
func (m *ResultSetMetaData) ColumnDisplaySize(idx int) int { return m.column(idx).DisplaySize }
func (m *ResultSetMetaData) Precision(idx int) int         { return m.column(idx).Precision }
func (m *ResultSetMetaData) Scale(idx int) int             { return m.column(idx).Scale }

// IsNullable reports whether the column's NOT NULL flag is absent, per
// the flag bitset internal/resultset derives from the wire column
// definition.
func (m *ResultSetMetaData) IsNullable(idx int) bool {
	return m.column(idx).Flags&resultset.ColFlagNotNull == 0
}

func (m *ResultSetMetaData) IsSigned(idx int) bool {
	return m.column(idx).Flags&resultset.ColFlagSigned != 0
}

func (m *ResultSetMetaData) IsAutoIncrement(idx int) bool {
	return false
}

// driverRowsAdapter adapts a ResultSet to database/sql/driver.Rows and,
// where the underlying source supports it, driver.RowsNextResultSet,
// for callers using database/sql directly.
type driverRowsAdapter struct {
	rs      *ResultSet
	visited bool
}

func (a *driverRowsAdapter) Columns() []string {
	cols := a.rs.rs.Columns()
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func (a *driverRowsAdapter) Close() error { return a.rs.Close() }

func (a *driverRowsAdapter) Next(dest []driver.Value) error {
	ok, err := a.rs.Next()
	if err != nil {
		return err
	}
	if !ok {
		return io.EOF
	}
	for i := range dest {
		v, err := a.rs.rs.GetBytes(i + 1)
		if err != nil {
			return err
		}
		wasNull, err := a.rs.rs.WasNull()
		if err != nil {
			return err
		}
		if wasNull {
			dest[i] = nil
			continue
		}
		dest[i] = v
	}
	return nil
}
