package mdriver

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"

	"github.com/lordbasex/mdriver/internal/param"
	"github.com/lordbasex/mdriver/internal/protocol"
	"github.com/lordbasex/mdriver/internal/sqlparse"
	"github.com/lordbasex/mdriver/internal/xerrors"
)

// PreparedStatement implements spec.md §4.6 paths 2/3: a SQL template
// parsed once (internal/sqlparse), bound with typed internal/param
// values, and executed either client-side (parameters rendered as SQL
// literals) or server-side (through internal/prepare's cache),
// according to opts.UseServerPrepStmts.
type PreparedStatement struct {
	conn   *Connection
	sql    string
	parsed *sqlparse.Parsed
	params []param.Parameter

	batchRows     [][]param.Parameter
	generatesKeys bool

	fetchSize           int
	maxRows             int64
	queryTimeoutSeconds int

	currentRS   *ResultSet
	lastResults *protocol.Results
	updateCount int64
	closed      bool
}

func newPreparedStatement(conn *Connection, sql string) (*PreparedStatement, error) {
	parsed := sqlparse.Parse(sql)
	return &PreparedStatement{
		conn:   conn,
		sql:    sql,
		parsed: parsed,
		params: make([]param.Parameter, parsed.ParamCount),
	}, nil
}

func (s *PreparedStatement) checkIndex(idx int) error {
	if idx < 1 || idx > len(s.params) {
		return xerrors.New(xerrors.KindInvalidArgument, "parameter index out of range")
	}
	return nil
}

func (s *PreparedStatement) database() string { return s.conn.opts.Database }

// --- setters (spec.md §4.3) ---

func (s *PreparedStatement) SetNull(idx int, colType param.Type) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Null{ColType: colType}
	return nil
}

func (s *PreparedStatement) SetInt64(idx int, v int64) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Int64{V: v}
	return nil
}

func (s *PreparedStatement) SetUint64(idx int, v uint64) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Uint64{V: v}
	return nil
}

func (s *PreparedStatement) SetFloat64(idx int, v float64) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Float64{V: v}
	return nil
}

func (s *PreparedStatement) SetBool(idx int, v bool) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Bool{V: v}
	return nil
}

func (s *PreparedStatement) SetString(idx int, v string) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.String{S: v}
	return nil
}

func (s *PreparedStatement) SetBytes(idx int, v []byte) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Bytes{B: v, Owned: true}
	return nil
}

func (s *PreparedStatement) SetBigDecimal(idx int, text string) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Decimal{Text: text}
	return nil
}

func (s *PreparedStatement) SetDate(idx int, text string) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Date{Text: text}
	return nil
}

func (s *PreparedStatement) SetTime(idx int, text string, negative bool) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Time{Text: text, Negative: negative}
	return nil
}

func (s *PreparedStatement) SetTimestamp(idx int, text string) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Timestamp{Text: text}
	return nil
}

// SetLongData binds a stream parameter, uploaded before execute per
// spec.md §4.3's isLongData()/SEND_LONG_DATA contract (see DESIGN.md's
// note on how this transport capability handles long-data streaming).
func (s *PreparedStatement) SetLongData(idx int, r io.Reader) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.LongData{R: r}
	return nil
}

// SetGeneratesKeys marks this statement as requesting auto-generated
// keys, which spec.md §4.1/§4.6 disqualifies from the two rewrite-based
// batch strategies.
func (s *PreparedStatement) SetGeneratesKeys(v bool) { s.generatesKeys = v }

// SetFetchSize sets the streaming fetch size; 0 is fully buffered.
func (s *PreparedStatement) SetFetchSize(n int) { s.fetchSize = n }

// SetMaxRows sets the JDBC max-rows cap, trimmed client-side on the
// result set returned by the next execute; 0 means unlimited.
func (s *PreparedStatement) SetMaxRows(n int64) { s.maxRows = n }

// SetQueryTimeout sets the soft client-prepared query timeout, per
// spec.md §4.6's max_statement_time mapping.
func (s *PreparedStatement) SetQueryTimeout(seconds int) { s.queryTimeoutSeconds = seconds }

func (s *PreparedStatement) boundParams() []param.Parameter {
	out := make([]param.Parameter, len(s.params))
	for i, p := range s.params {
		if p == nil {
			out[i] = param.Null{}
			continue
		}
		out[i] = p
	}
	return out
}

// --- execution ---

func (s *PreparedStatement) runLocked(ctx context.Context) (*protocol.Results, error) {
	if s.closed {
		return nil, xerrors.New(xerrors.KindInvalidArgument, "prepared statement is closed")
	}
	params := s.boundParams()
	res, err := s.conn.proxyInvoke(ctx, "query", s.sql, func(ctx context.Context, p *protocol.Protocol) (*protocol.Results, error) {
		if s.conn.opts.UseServerPrepStmts {
			return p.ExecutePreparedQuery(ctx, s.database(), s.sql, params, s.fetchSize)
		}
		return p.ExecuteClientPrepared(ctx, s.parsed, params, s.queryTimeoutSeconds, s.fetchSize)
	})
	if err != nil {
		return nil, err
	}
	if res.ResultSet != nil && s.maxRows > 0 {
		res.ResultSet.SetRowLimit(s.maxRows)
	}
	s.lastResults = res
	return res, nil
}

// ExecuteQuery runs the bound statement and returns its result set.
func (s *PreparedStatement) ExecuteQuery(ctx context.Context) (*ResultSet, error) {
	res, err := s.runLocked(ctx)
	if err != nil {
		return nil, err
	}
	if res.ResultSet == nil {
		return nil, xerrors.New(xerrors.KindInvalidArgument, "executeQuery: statement did not return a result set")
	}
	s.closeCurrentRS()
	rs := newResultSet(res.ResultSet)
	s.currentRS = rs
	return rs, nil
}

// ExecuteUpdate runs the bound statement and returns its affected-row
// count and, where applicable, its auto-generated key via GetGeneratedKey.
func (s *PreparedStatement) ExecuteUpdate(ctx context.Context) (int64, error) {
	res, err := s.runLocked(ctx)
	if err != nil {
		return 0, err
	}
	if res.ResultSet != nil {
		res.ResultSet.Close()
		return 0, xerrors.New(xerrors.KindInvalidArgument, "executeUpdate: statement returned a result set")
	}
	s.updateCount = res.UpdateCount
	return res.UpdateCount, nil
}

// Execute runs the bound statement and reports whether the result is a
// result set, per JDBC's PreparedStatement.execute contract.
func (s *PreparedStatement) Execute(ctx context.Context) (bool, error) {
	res, err := s.runLocked(ctx)
	if err != nil {
		return false, err
	}
	s.closeCurrentRS()
	if res.ResultSet != nil {
		s.currentRS = newResultSet(res.ResultSet)
		return true, nil
	}
	s.updateCount = res.UpdateCount
	return false, nil
}

// GetGeneratedKey returns the last insert ID from the most recent
// execute.
func (s *PreparedStatement) GetGeneratedKey() int64 {
	if s.lastResults == nil {
		return 0
	}
	return s.lastResults.InsertID
}

// GetResultSet returns the result set from the most recent execute.
func (s *PreparedStatement) GetResultSet() *ResultSet { return s.currentRS }

// GetUpdateCount returns -1 iff the current holder is a result set.
func (s *PreparedStatement) GetUpdateCount() int64 {
	if s.currentRS != nil {
		return -1
	}
	return s.updateCount
}

// AddBatch snapshots the currently bound parameters as one batch row
// and clears the binding, requiring the caller to rebind before the
// next AddBatch, per the S3/S4 usage shown in spec.md §8.
func (s *PreparedStatement) AddBatch() {
	s.batchRows = append(s.batchRows, s.boundParams())
	s.params = make([]param.Parameter, len(s.params))
}

// ClearBatch discards any queued batch rows.
func (s *PreparedStatement) ClearBatch() { s.batchRows = nil }

// ExecuteBatch runs the queued rows through spec.md §4.6's batch
// strategy selection (rewrite-multi-values, bulk-prepared, rewrite-
// semicolon, multi-send/continue, sequential, in that priority order).
func (s *PreparedStatement) ExecuteBatch(ctx context.Context) ([]int64, error) {
	if len(s.batchRows) == 0 {
		return nil, nil
	}
	if s.closed {
		return nil, xerrors.New(xerrors.KindInvalidArgument, "prepared statement is closed")
	}
	rows := s.batchRows
	res, err := s.conn.proxyInvokeBatch(ctx, "batch", s.sql, func(ctx context.Context, p *protocol.Protocol) (*protocol.BatchResult, error) {
		return p.ExecuteBatch(ctx, s.database(), s.sql, rows, s.generatesKeys)
	})
	s.batchRows = nil
	if res == nil {
		return nil, err
	}
	if res.FirstError != nil {
		return res.UpdateCounts, xerrors.NewBatchUpdateException(firstSQLException(res.FirstError), res.UpdateCounts)
	}
	return res.UpdateCounts, err
}

// Close releases this statement's current result set (and, if server-
// prepared, lets the PS cache reclaim its share once no other holder
// references it — internal/prepare's reference counting handles that
// transparently on the next cache eviction).
func (s *PreparedStatement) Close() error {
	s.closed = true
	return s.closeCurrentRS()
}

func (s *PreparedStatement) closeCurrentRS() error {
	if s.currentRS == nil {
		return nil
	}
	err := s.currentRS.Close()
	s.currentRS = nil
	return err
}

// driverStmt adapts PreparedStatement to database/sql/driver.Stmt for
// callers using database/sql directly (sql.Open("mdriver", ...)).
type driverStmt struct {
	ps *PreparedStatement
}

func (d *driverStmt) Close() error  { return d.ps.Close() }
func (d *driverStmt) NumInput() int { return d.ps.parsed.ParamCount }

func (d *driverStmt) bind(args []driver.Value) error {
	for i, v := range args {
		if err := bindDriverValue(d.ps, i+1, v); err != nil {
			return err
		}
	}
	return nil
}

func (d *driverStmt) Exec(args []driver.Value) (driver.Result, error) {
	if err := d.bind(args); err != nil {
		return nil, err
	}
	n, err := d.ps.ExecuteUpdate(context.Background())
	if err != nil {
		return nil, err
	}
	return execResult{rowsAffected: n, lastInsertID: d.ps.GetGeneratedKey()}, nil
}

func (d *driverStmt) Query(args []driver.Value) (driver.Rows, error) {
	if err := d.bind(args); err != nil {
		return nil, err
	}
	rs, err := d.ps.ExecuteQuery(context.Background())
	if err != nil {
		return nil, err
	}
	return &driverRowsAdapter{rs: rs}, nil
}

type execResult struct {
	rowsAffected int64
	lastInsertID int64
}

func (r execResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r execResult) RowsAffected() (int64, error)  { return r.rowsAffected, nil }

func bindDriverValue(ps *PreparedStatement, idx int, v driver.Value) error {
	switch t := v.(type) {
	case nil:
		return ps.SetNull(idx, param.TypeNull)
	case int64:
		return ps.SetInt64(idx, t)
	case float64:
		return ps.SetFloat64(idx, t)
	case bool:
		return ps.SetBool(idx, t)
	case []byte:
		return ps.SetBytes(idx, t)
	case string:
		return ps.SetString(idx, t)
	default:
		return ps.SetString(idx, fmt.Sprintf("%v", t))
	}
}
