package mdriver

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/lordbasex/mdriver/internal/escape"
	"github.com/lordbasex/mdriver/internal/param"
	"github.com/lordbasex/mdriver/internal/protocol"
	"github.com/lordbasex/mdriver/internal/resultset"
	"github.com/lordbasex/mdriver/internal/sqlparse"
	"github.com/lordbasex/mdriver/internal/xerrors"
)

// CallableStatement implements spec.md §4.2's JDBC escape call forms:
// `{call proc(?,?)}` and `{? = call func(?)}`. Neither go-sql-driver/mysql
// nor the text protocol expose a native OUT/INOUT parameter channel, so
// spec.md's two forms are realized the way JDBC-to-MySQL bridges
// classically do it: a stored function's `{?=call}` becomes a `SELECT
// func(args)` and its single output column is the return value; a
// stored procedure's OUT/INOUT parameters are relayed through session
// user variables (`SET @p=literal`, `CALL proc(@p,...)`, then
// `SELECT @p,...` to read them back).
type CallableStatement struct {
	conn *Connection

	callExpr   string // e.g. "proc(?,?)", "call" prefix and ?= marker stripped
	callParsed *sqlparse.Parsed

	hasReturnValue bool
	paramCount     int // number of ? inside callExpr's parens

	params   []param.Parameter // logical index 1..logicalCount
	outTypes map[int]param.Type

	funcResult *resultset.ResultSet // kept open for the {?=call} single-row return value

	outRow    *resultset.ResultSet // kept open for the "SELECT @var,..." OUT readback row
	outRowIdx []int                // logical param index for each column of outRow, in order

	currentRS   *ResultSet
	lastResults *protocol.Results
	updateCount int64
	maxRows     int64
	closed      bool
}

func newCallableStatement(conn *Connection, sql string) (*CallableStatement, error) {
	rewritten, err := escape.Rewrite(sql, true)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalidArgument, err, "prepareCall")
	}
	text := strings.TrimSpace(rewritten)
	hasReturnValue := false
	if strings.HasPrefix(text, "?") {
		rest := strings.TrimSpace(text[1:])
		if strings.HasPrefix(rest, "=") {
			hasReturnValue = true
			text = strings.TrimSpace(rest[1:])
		}
	} else if strings.HasPrefix(text, "=") {
		// escape.Rewrite already dropped the "{?" of a "{? = call ...}".
		hasReturnValue = true
		text = strings.TrimSpace(text[1:])
	}
	lower := strings.ToLower(text)
	if !strings.HasPrefix(lower, "call") {
		return nil, xerrors.New(xerrors.KindInvalidArgument, "prepareCall: sql is not a {call ...} escape")
	}
	callExpr := strings.TrimSpace(text[len("call"):])
	parsed := sqlparse.Parse(callExpr)

	logicalCount := parsed.ParamCount
	if hasReturnValue {
		logicalCount++
	}

	return &CallableStatement{
		conn:           conn,
		callExpr:       callExpr,
		callParsed:     parsed,
		hasReturnValue: hasReturnValue,
		paramCount:     parsed.ParamCount,
		params:         make([]param.Parameter, logicalCount),
		outTypes:       make(map[int]param.Type),
	}, nil
}

func (s *CallableStatement) checkIndex(idx int) error {
	if idx < 1 || idx > len(s.params) {
		return xerrors.New(xerrors.KindInvalidArgument, "parameter index out of range")
	}
	return nil
}

// RegisterOutParameter marks a logical parameter position as OUT or
// INOUT, per spec.md §4.2. Position 1 is the function return value when
// this statement was built from a `{? = call ...}` escape.
func (s *CallableStatement) RegisterOutParameter(idx int, sqlType param.Type) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.outTypes[idx] = sqlType
	return nil
}

// --- IN/INOUT setters, mirroring PreparedStatement's ---

func (s *CallableStatement) SetNull(idx int, colType param.Type) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Null{ColType: colType}
	return nil
}

func (s *CallableStatement) SetInt64(idx int, v int64) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Int64{V: v}
	return nil
}

func (s *CallableStatement) SetFloat64(idx int, v float64) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Float64{V: v}
	return nil
}

func (s *CallableStatement) SetBool(idx int, v bool) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Bool{V: v}
	return nil
}

func (s *CallableStatement) SetString(idx int, v string) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.String{S: v}
	return nil
}

func (s *CallableStatement) SetBytes(idx int, v []byte) error {
	if err := s.checkIndex(idx); err != nil {
		return err
	}
	s.params[idx-1] = param.Bytes{B: v, Owned: true}
	return nil
}

// SetMaxRows sets the JDBC max-rows cap applied to the result set
// produced by a stored procedure call; 0 means unlimited.
func (s *CallableStatement) SetMaxRows(n int64) { s.maxRows = n }

// --- execution ---

// Execute runs the call and reports whether a result set is available
// (stored procedures may return one; stored functions never do, their
// value is retrieved through the GetOut* accessors instead).
func (s *CallableStatement) Execute(ctx context.Context) (bool, error) {
	if s.closed {
		return false, xerrors.New(xerrors.KindInvalidArgument, "callable statement is closed")
	}
	s.closeCurrentRS()
	if s.hasReturnValue {
		return false, s.executeFunction(ctx)
	}
	return s.executeProcedure(ctx)
}

func renderLiteral(p param.Parameter) string {
	if p == nil {
		p = param.Null{}
	}
	var b strings.Builder
	param.Render(p, &b, false)
	return b.String()
}

func renderWithValues(parsed *sqlparse.Parsed, values []string) string {
	var b strings.Builder
	for i, part := range parsed.Parts {
		b.WriteString(part)
		if i < len(values) {
			b.WriteString(values[i])
		}
	}
	return b.String()
}

func (s *CallableStatement) executeFunction(ctx context.Context) error {
	literals := make([]string, s.paramCount)
	for j := 1; j <= s.paramCount; j++ {
		li := j + 1 // position 1 is the reserved return-value slot
		literals[j-1] = renderLiteral(s.params[li-1])
	}
	sql := "SELECT " + renderWithValues(s.callParsed, literals)

	if s.funcResult != nil {
		s.funcResult.Close()
		s.funcResult = nil
	}
	res, err := s.conn.proxyInvoke(ctx, "call", sql, func(ctx context.Context, p *protocol.Protocol) (*protocol.Results, error) {
		return p.ExecuteQuery(ctx, sql, 0)
	})
	if err != nil {
		return err
	}
	s.lastResults = res
	if res.ResultSet == nil {
		return xerrors.New(xerrors.KindData, "callable function did not return its value")
	}
	if _, err := res.ResultSet.Next(); err != nil {
		res.ResultSet.Close()
		return err
	}
	s.funcResult = res.ResultSet
	return nil
}

func (s *CallableStatement) executeProcedure(ctx context.Context) (bool, error) {
	if s.outRow != nil {
		s.outRow.Close()
		s.outRow = nil
		s.outRowIdx = nil
	}
	varNames := make([]string, s.paramCount)
	for j := 1; j <= s.paramCount; j++ {
		varNames[j-1] = "@mdriver_cs_" + strconv.Itoa(j)
		setSQL := "SET " + varNames[j-1] + " = " + renderLiteral(s.params[j-1])
		if err := s.conn.execInternal(ctx, "call", setSQL); err != nil {
			return false, err
		}
	}
	callSQL := "CALL " + renderWithValues(s.callParsed, varNames)
	res, err := s.conn.proxyInvoke(ctx, "call", callSQL, func(ctx context.Context, p *protocol.Protocol) (*protocol.Results, error) {
		return p.ExecuteQuery(ctx, callSQL, 0)
	})
	if err != nil {
		return false, err
	}
	s.lastResults = res

	if len(s.outTypes) > 0 {
		var sel strings.Builder
		sel.WriteString("SELECT ")
		first := true
		outIdx := make([]int, 0, len(s.outTypes))
		for j := range s.outTypes {
			outIdx = append(outIdx, j)
		}
		for _, j := range outIdx {
			if j < 1 || j > s.paramCount {
				continue
			}
			if !first {
				sel.WriteString(", ")
			}
			sel.WriteString(varNames[j-1])
			first = false
		}
		if !first {
			outRes, err := s.conn.proxyInvoke(ctx, "call", sel.String(), func(ctx context.Context, p *protocol.Protocol) (*protocol.Results, error) {
				return p.ExecuteQuery(ctx, sel.String(), 0)
			})
			if err != nil {
				return false, err
			}
			if ok, err := outRes.ResultSet.Next(); err == nil && ok {
				s.outRow = outRes.ResultSet
				s.outRowIdx = outIdx
			}
		}
	}

	if res.ResultSet != nil {
		if s.maxRows > 0 {
			res.ResultSet.SetRowLimit(s.maxRows)
		}
		s.currentRS = newResultSet(res.ResultSet)
		return true, nil
	}
	s.updateCount = res.UpdateCount
	return false, nil
}

// GetOutString, GetOutInt64, GetOutFloat64, and GetOutTime read a
// registered OUT/INOUT parameter's value from the most recent Execute.
func (s *CallableStatement) GetOutString(idx int) (string, error) {
	if s.hasReturnValue && idx == 1 {
		if s.funcResult == nil {
			return "", xerrors.New(xerrors.KindInvalidArgument, "no function result available")
		}
		return s.funcResult.GetString(1)
	}
	col, err := s.outColumn(idx)
	if err != nil {
		return "", err
	}
	return s.outRow.GetString(col)
}

func (s *CallableStatement) GetOutInt64(idx int) (int64, error) {
	if s.hasReturnValue && idx == 1 {
		if s.funcResult == nil {
			return 0, xerrors.New(xerrors.KindInvalidArgument, "no function result available")
		}
		return s.funcResult.GetInt64(1)
	}
	col, err := s.outColumn(idx)
	if err != nil {
		return 0, err
	}
	return s.outRow.GetInt64(col)
}

func (s *CallableStatement) GetOutFloat64(idx int) (float64, error) {
	if s.hasReturnValue && idx == 1 {
		if s.funcResult == nil {
			return 0, xerrors.New(xerrors.KindInvalidArgument, "no function result available")
		}
		return s.funcResult.GetFloat64(1)
	}
	col, err := s.outColumn(idx)
	if err != nil {
		return 0, err
	}
	return s.outRow.GetFloat64(col)
}

func (s *CallableStatement) GetOutTime(idx int) (time.Time, error) {
	if s.hasReturnValue && idx == 1 {
		if s.funcResult == nil {
			return time.Time{}, xerrors.New(xerrors.KindInvalidArgument, "no function result available")
		}
		return s.funcResult.GetTime(1)
	}
	col, err := s.outColumn(idx)
	if err != nil {
		return time.Time{}, err
	}
	return s.outRow.GetTime(col)
}

func (s *CallableStatement) outColumn(idx int) (int, error) {
	if s.outRow == nil {
		return 0, xerrors.New(xerrors.KindInvalidArgument, "no OUT parameters available")
	}
	for pos, j := range s.outRowIdx {
		if j == idx {
			return pos + 1, nil
		}
	}
	return 0, xerrors.New(xerrors.KindInvalidArgument, "parameter was not registered as OUT")
}

// GetResultSet returns the result set produced by the most recent
// procedure call, if any.
func (s *CallableStatement) GetResultSet() *ResultSet { return s.currentRS }

// GetUpdateCount returns -1 iff the current holder is a result set.
func (s *CallableStatement) GetUpdateCount() int64 {
	if s.currentRS != nil {
		return -1
	}
	return s.updateCount
}

// Close releases this statement's result sets.
func (s *CallableStatement) Close() error {
	s.closed = true
	if s.funcResult != nil {
		s.funcResult.Close()
		s.funcResult = nil
	}
	if s.outRow != nil {
		s.outRow.Close()
		s.outRow = nil
	}
	return s.closeCurrentRS()
}

func (s *CallableStatement) closeCurrentRS() error {
	if s.currentRS == nil {
		return nil
	}
	err := s.currentRS.Close()
	s.currentRS = nil
	return err
}
