// Package protocol implements the query execution engine and connect
// procedure from spec.md §4.6/§4.7 (M3/M4): execute paths, batch
// strategy selection, multi-result/OUT-parameter handling, LOCAL
// INFILE, the state-change tracker, cmdPrologue, and the connect/
// reconnect sequence, all driven against internal/transport.
package protocol

import "github.com/lordbasex/mdriver/internal/resultset"

// ServerStatus mirrors the bitset the wire protocol's OK/EOF packets
// carry, named per spec.md §3/§5's "SERVER_STATUS_*" fields. The
// transport capability (go-sql-driver/mysql) does not expose these bits
// through database/sql/driver, and Protocol does not reconstruct them:
// no execute path sets Results.ServerStatus, so it stays zero. The
// session state that is tracked lives in StateTracker — see item 3 of
// "Transport-boundary tradeoffs" in DESIGN.md.
type ServerStatus uint16

const (
	StatusAutocommit          ServerStatus = 1 << 0
	StatusInTrans             ServerStatus = 1 << 1
	StatusMoreResultsExists   ServerStatus = 1 << 2
	StatusPSOutParams         ServerStatus = 1 << 3
	StatusSessionStateChanged ServerStatus = 1 << 4
	StatusCursorExists        ServerStatus = 1 << 5
)

func (s ServerStatus) Has(bit ServerStatus) bool { return s&bit != 0 }

// IsolationLevel mirrors java.sql.Connection's TRANSACTION_* constants,
// per spec.md §3's transactionIsolationLevel protocol-state field.
type IsolationLevel int

const (
	IsolationDefault IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

func (l IsolationLevel) sql() string {
	switch l {
	case IsolationReadUncommitted:
		return "READ UNCOMMITTED"
	case IsolationReadCommitted:
		return "READ COMMITTED"
	case IsolationRepeatableRead:
		return "REPEATABLE READ"
	case IsolationSerializable:
		return "SERIALIZABLE"
	default:
		return ""
	}
}

// Results is the outcome of one execute: either an update count (and
// optional generated key) or a result set, plus the session-state
// snapshot taken immediately after, per spec.md §4.6's OK-packet
// parsing description.
type Results struct {
	UpdateCount  int64
	InsertID     int64
	Warnings     int
	ServerStatus ServerStatus
	MoreResults  bool

	// ResultSet is non-nil for a SELECT-shaped response.
	ResultSet *resultset.ResultSet

	// OutParameterRow is the slot for the OUT/INOUT pseudo-row of
	// spec.md §4.6. No execute path in this package fills it;
	// CallableStatement reads OUT values back through session user
	// variables instead.
	OutParameterRow []any
}

// StateTracker mirrors spec.md §4.6's "state-change tracker": it
// updates the connection's cached schema and auto_increment_increment
// whenever the session reports a change, the same role
// SESSION_TRACK_SCHEMA / SESSION_TRACK_SYSTEM_VARIABLES play on the
// wire. Since go-sql-driver/mysql does not surface SESSION_TRACK
// payloads through database/sql/driver, Protocol drives this by
// explicitly re-querying `SELECT DATABASE()` after any statement whose
// text top-level-starts with "USE " or "CREATE DATABASE", and
// `SELECT @@auto_increment_increment` once at connect and again after
// any `SET` touching it — see connect.go and execute.go.
type StateTracker struct {
	Database               string
	AutoIncrementIncrement int64
}

// Apply updates the tracker from an observed schema/auto-increment
// change, returning whether anything actually changed. Callers in this
// package ignore the result; no change is stamped onto Results.
func (t *StateTracker) Apply(database string, autoIncrementIncrement int64) (changed bool) {
	if database != "" && database != t.Database {
		t.Database = database
		changed = true
	}
	if autoIncrementIncrement > 0 && autoIncrementIncrement != t.AutoIncrementIncrement {
		t.AutoIncrementIncrement = autoIncrementIncrement
		changed = true
	}
	return changed
}
