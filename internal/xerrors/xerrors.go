// Package xerrors implements the SQL exception hierarchy used throughout
// mdriver: every error that crosses a public API boundary carries a
// SQLState and a vendor error code, in the tradition of JDBC's
// SQLException family.
package xerrors

import (
	"fmt"
	"strings"
)

// Kind classifies an error the way spec.md's error taxonomy table does.
// It drives default SQLState selection and lets callers do coarse
// recovery decisions (is this worth a failover retry?) without parsing
// SQLState strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindSyntax
	KindFeatureNotSupported
	KindFeatureNotImplemented
	KindInvalidArgument
	KindData
	KindIntegrity
	KindAuthorization
	KindTransientConnection
	KindNonTransientConnection
	KindTransient
	KindTransactionRollback
	KindTimeout
	KindParse
	KindMaxAllowedPacket
	KindBatchUpdate
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindFeatureNotSupported:
		return "feature-not-supported"
	case KindFeatureNotImplemented:
		return "feature-not-implemented"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindData:
		return "data"
	case KindIntegrity:
		return "integrity"
	case KindAuthorization:
		return "authorization"
	case KindTransientConnection:
		return "transient-connection"
	case KindNonTransientConnection:
		return "non-transient-connection"
	case KindTransient:
		return "transient"
	case KindTransactionRollback:
		return "transaction-rollback"
	case KindTimeout:
		return "timeout"
	case KindParse:
		return "parse"
	case KindMaxAllowedPacket:
		return "max-allowed-packet"
	case KindBatchUpdate:
		return "batch-update"
	default:
		return "unknown"
	}
}

// SQLException is the single error type mdriver raises across its public
// surface. It plays the role spec.md's exception hierarchy plays in the
// original: one struct, tagged by Kind, carrying SQLState + vendor code,
// an optional wrapped cause, and an optional chain link for batch errors.
type SQLException struct {
	Kind       Kind
	Message    string
	SQLState   string
	VendorCode int
	Position   int // set by Parse errors; byte offset into the SQL text
	Cause      error
	Next       *SQLException // batch error chain, see BatchUpdateException
}

func (e *SQLException) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.SQLState != "" {
		fmt.Fprintf(&b, " (SQLState %s", e.SQLState)
		if e.VendorCode != 0 {
			fmt.Fprintf(&b, ", error %d", e.VendorCode)
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *SQLException) Unwrap() error { return e.Cause }

// WithHost decorates the message with host identity, matching spec.md
// §7's "\non <HostAddress>, master=<bool>" decoration rule applied when
// a connection-class error is surfaced after a failed failover retry.
func (e *SQLException) WithHost(host string, isMaster bool) *SQLException {
	clone := *e
	clone.Message = fmt.Sprintf("%s\non %s, master=%t", e.Message, host, isMaster)
	return &clone
}

// Chain appends next as the tail of e's batch-error chain (JDBC's
// getNextException()). It walks to the end so repeated calls build an
// ordered list in append order.
func (e *SQLException) Chain(next *SQLException) *SQLException {
	cur := e
	for cur.Next != nil {
		cur = cur.Next
	}
	cur.Next = next
	return e
}

// New builds a SQLException of the given kind with a default SQLState
// selected from the table in spec.md §4.10. Use NewWithState to override.
func New(kind Kind, message string) *SQLException {
	return &SQLException{Kind: kind, Message: message, SQLState: defaultState(kind)}
}

// NewWithState builds a SQLException with an explicit SQLState and vendor
// code, for call sites that parsed a real server ERR_Packet.
func NewWithState(kind Kind, message, sqlState string, vendorCode int) *SQLException {
	return &SQLException{Kind: kind, Message: message, SQLState: sqlState, VendorCode: vendorCode}
}

// Wrap mirrors the teacher's fmt.Errorf("...: %w", err) idiom but returns
// a typed SQLException so callers further up the stack can still inspect
// Kind/SQLState after wrapping.
func Wrap(kind Kind, cause error, format string, args ...any) *SQLException {
	return &SQLException{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		SQLState: defaultState(kind),
		Cause:    cause,
	}
}

func defaultState(kind Kind) string {
	switch kind {
	case KindSyntax:
		return "42000"
	case KindFeatureNotSupported, KindFeatureNotImplemented:
		return "0A000"
	case KindInvalidArgument:
		return "HY000"
	case KindData:
		return "22000"
	case KindIntegrity:
		return "23000"
	case KindAuthorization:
		return "28000"
	case KindTransientConnection, KindNonTransientConnection:
		return "08000"
	case KindTransient, KindTransactionRollback:
		return "40001"
	case KindTimeout:
		return "HY000"
	case KindParse:
		return "HY000"
	case KindMaxAllowedPacket:
		return "HY000"
	case KindBatchUpdate:
		return "HY000"
	default:
		return "HY000"
	}
}

// IsConnectionClass reports whether e should be treated as a connection-
// class error for failover purposes: SQLState starting with "08", or the
// specific "read-only target" vendor condition 1290/70100 spec.md §4.8
// names explicitly.
func IsConnectionClass(err error) bool {
	se, ok := AsSQLException(err)
	if !ok {
		return false
	}
	if strings.HasPrefix(se.SQLState, "08") {
		return true
	}
	if se.SQLState == "70100" || se.VendorCode == 1927 || se.VendorCode == 1290 {
		return true
	}
	return false
}

// AsSQLException unwraps err looking for a *SQLException, the way
// errors.As would, without requiring callers to import errors for the
// common case.
func AsSQLException(err error) (*SQLException, bool) {
	for err != nil {
		if se, ok := err.(*SQLException); ok {
			return se, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// ClosedConnection is the fixed error spec.md invariant 1 requires: any
// operation on a closed connection raises SQLState 08000.
func ClosedConnection(op string) *SQLException {
	return NewWithState(KindNonTransientConnection, op+"() is called on closed connection", "08000", 0)
}

// BatchUpdateException carries the partial update-count vector spec.md
// §7 describes: counts up to and including the first failure (or all of
// them, with EXECUTE_FAILED markers, when continueBatchOnError is set).
type BatchUpdateException struct {
	*SQLException
	UpdateCounts []int64
}

func NewBatchUpdateException(first *SQLException, counts []int64) *BatchUpdateException {
	return &BatchUpdateException{SQLException: first, UpdateCounts: counts}
}

const (
	// SuccessNoInfo is returned for a batch row when the server reported
	// one OK for multiple rows (e.g. rewritten multi-values insert).
	SuccessNoInfo int64 = -2
	// ExecuteFailed marks a row that failed under continueBatchOnError.
	ExecuteFailed int64 = -3
)
