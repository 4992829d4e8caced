package mdriver

import (
	"context"
	"database/sql/driver"

	"github.com/lordbasex/mdriver/internal/protocol"
	"github.com/lordbasex/mdriver/internal/xerrors"
)

// Statement implements spec.md §2 H2's plain (non-prepared) JDBC
// statement: text queries only, no parameter binding, batch execution
// of independent SQL strings via the sequential strategy.
type Statement struct {
	conn *Connection

	fetchSize           int
	maxRows             int64
	queryTimeoutSeconds int

	currentRS      *ResultSet
	lastResults    *protocol.Results
	updateCount    int64

	batch  []string
	closed bool
}

// ExecuteQuery runs sql as a COM_QUERY-shaped text statement and
// returns its result set, per spec.md §4.6 path 1.
func (s *Statement) ExecuteQuery(ctx context.Context, sql string) (*ResultSet, error) {
	res, err := s.execute(ctx, sql)
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

// ExecuteUpdate runs sql and returns its affected-row count.
func (s *Statement) ExecuteUpdate(ctx context.Context, sql string) (int64, error) {
	res, err := s.execute(ctx, sql)
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

// Execute runs sql and reports whether the first result is a result set
// (JDBC's Statement.execute contract).
func (s *Statement) Execute(ctx context.Context, sql string) (bool, error) {
	res, err := s.execute(ctx, sql)
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

func (s *Statement) execute(ctx context.Context, sql string) (*protocol.Results, error) {
	if s.closed {
		return nil, xerrors.New(xerrors.KindInvalidArgument, "statement is closed")
	}
	res, err := s.conn.proxyInvoke(ctx, "query", sql, func(ctx context.Context, p *protocol.Protocol) (*protocol.Results, error) {
		return p.ExecuteQuery(ctx, withTimeoutPrefix(sql, s.queryTimeoutSeconds), s.fetchSize)
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

func withTimeoutPrefix(sql string, queryTimeoutSeconds int) string {
	if queryTimeoutSeconds <= 0 {
		return sql
	}
	return "SET STATEMENT max_statement_time=" + itoa(queryTimeoutSeconds) + " FOR " + sql
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// GetResultSet returns the result set from the most recent execute, or
// nil if the most recent result was an update count.
func (s *Statement) GetResultSet() *ResultSet { return s.currentRS }

// GetUpdateCount returns -1 iff the current holder is a result set or
// there is none, per spec.md §4.4's multi-result pipeline rule.
func (s *Statement) GetUpdateCount() int64 {
	if s.currentRS != nil || s.lastResults == nil {
		return -1
	}
	return s.updateCount
}

// GetMoreResults drives spec.md §4.6's getMoreResults: discards the
// current result set and advances to the next buffered result, if any.
func (s *Statement) GetMoreResults(ctx context.Context) (bool, error) {
	if s.lastResults == nil || s.lastResults.ResultSet == nil {
		s.lastResults = nil
		return false, nil
	}
	src := s.lastResults.ResultSet.Source()
	rows, ok := src.(driver.Rows)
	if !ok {
		s.closeCurrentRS()
		s.lastResults = nil
		return false, nil
	}
	s.closeCurrentRS()
	res, more, err := s.conn.listener.Current().GetMoreResults(ctx, rows, s.fetchSize)
	if err != nil {
		return false, err
	}
	if !more {
		s.lastResults = nil
		return false, nil
	}
	s.lastResults = res
	s.currentRS = newResultSet(res.ResultSet)
	return true, nil
}

// AddBatch queues sql for a subsequent ExecuteBatch, per JDBC's plain
// Statement batch contract (independent SQL strings, no parameters).
func (s *Statement) AddBatch(sql string) { s.batch = append(s.batch, sql) }

// ClearBatch discards any queued batch entries.
func (s *Statement) ClearBatch() { s.batch = nil }

// ExecuteBatch runs the queued statements sequentially inside one
// transaction (spec.md §4.6's final fallback strategy — plain
// Statement batches carry no shared parameterized template to rewrite
// or bulk-prepare), aborting on first failure unless
// continueBatchOnError is set.
func (s *Statement) ExecuteBatch(ctx context.Context) ([]int64, error) {
	if len(s.batch) == 0 {
		return nil, nil
	}
	counts := make([]int64, 0, len(s.batch))
	if _, err := s.execute(ctx, "START TRANSACTION"); err != nil {
		return nil, err
	}
	var firstErr error
	for _, sql := range s.batch {
		res, err := s.execute(ctx, sql)
		if err != nil {
			counts = append(counts, xerrors.ExecuteFailed)
			firstErr = err
			if !s.conn.opts.ContinueBatchOnError {
				s.execute(ctx, "ROLLBACK")
				return counts, xerrors.NewBatchUpdateException(firstSQLException(firstErr), counts)
			}
			continue
		}
		counts = append(counts, res.UpdateCount)
	}
	if firstErr == nil {
		if _, err := s.execute(ctx, "COMMIT"); err != nil {
			return counts, err
		}
		return counts, nil
	}
	s.execute(ctx, "COMMIT")
	return counts, xerrors.NewBatchUpdateException(firstSQLException(firstErr), counts)
}

func firstSQLException(err error) *xerrors.SQLException {
	if se, ok := xerrors.AsSQLException(err); ok {
		return se
	}
	return xerrors.Wrap(xerrors.KindBatchUpdate, err, "batch execution failed")
}

// Cancel opens a side-channel KILL QUERY against the connection's
// currently active protocol, per spec.md §4.6/§5.
func (s *Statement) Cancel(ctx context.Context) error {
	p := s.conn.listener.Current()
	if p == nil {
		return nil
	}
	return p.CancelCurrentQuery(ctx)
}

// SetQueryTimeout sets the soft query timeout mapped to "SET STATEMENT
// max_statement_time=N FOR ..." for the next execute, per spec.md §4.6.
func (s *Statement) SetQueryTimeout(seconds int) { s.queryTimeoutSeconds = seconds }

// SetFetchSize sets the streaming fetch size; 0 means fully buffered,
// per spec.md §4.4's fetch policy.
func (s *Statement) SetFetchSize(n int) { s.fetchSize = n }

// SetMaxRows sets the JDBC max-rows cap (enforced client-side by
// trimming the buffered/streamed result set once reached); 0 means
// unlimited.
func (s *Statement) SetMaxRows(n int64) { s.maxRows = n }

// Close releases the statement's current result set. Re-executing a
// Statement, or closing its owning Connection, also closes any open
// ResultSet, per spec.md §4.4's lifecycle rule.
func (s *Statement) Close() error {
	s.closed = true
	return s.closeCurrentRS()
}

func (s *Statement) closeCurrentRS() error {
	if s.currentRS == nil {
		return nil
	}
	err := s.currentRS.Close()
	s.currentRS = nil
	return err
}
