package mdriver

import (
	"database/sql/driver"
	"testing"

	"github.com/lordbasex/mdriver/internal/param"
	"github.com/lordbasex/mdriver/internal/resultset"
)

func TestItoa(t *testing.T) {
	cases := map[int]string{0: "0", 7: "7", 42: "42", -5: "-5", -100: "-100"}
	for in, want := range cases {
		if got := itoa(in); got != want {
			t.Errorf("itoa(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestWithTimeoutPrefix(t *testing.T) {
	if got := withTimeoutPrefix("SELECT 1", 0); got != "SELECT 1" {
		t.Fatalf("expected no prefix for a zero timeout, got %q", got)
	}
	got := withTimeoutPrefix("SELECT 1", 30)
	want := "SET STATEMENT max_statement_time=30 FOR SELECT 1"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNewPreparedStatementCountsPlaceholders(t *testing.T) {
	ps, err := newPreparedStatement(nil, "INSERT INTO t (a,b,c) VALUES (?,?,?)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ps.params) != 3 {
		t.Fatalf("expected 3 parameter slots, got %d", len(ps.params))
	}
	if err := ps.SetInt64(1, 7); err != nil {
		t.Fatalf("SetInt64: %v", err)
	}
	if err := ps.SetInt64(4, 1); err == nil {
		t.Fatal("expected an out-of-range index to be rejected")
	}
}

func TestNewCallableStatementPlainCallForm(t *testing.T) {
	cs, err := newCallableStatement(nil, "{call sp_transfer(?, ?, ?)}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.hasReturnValue {
		t.Fatal("expected hasReturnValue=false for a plain {call ...} escape")
	}
	if cs.paramCount != 3 {
		t.Fatalf("expected 3 call parameters, got %d", cs.paramCount)
	}
	if len(cs.params) != 3 {
		t.Fatalf("expected 3 logical parameter slots, got %d", len(cs.params))
	}
	if err := cs.RegisterOutParameter(3, param.TypeNull); err != nil {
		t.Fatalf("RegisterOutParameter: %v", err)
	}
}

func TestNewCallableStatementReturnValueForm(t *testing.T) {
	cs, err := newCallableStatement(nil, "{? = call fn_total(?, ?)}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cs.hasReturnValue {
		t.Fatal("expected hasReturnValue=true for a {?=call ...} escape")
	}
	if cs.paramCount != 2 {
		t.Fatalf("expected 2 call parameters, got %d", cs.paramCount)
	}
	// +1 for the reserved return-value slot at logical index 1.
	if len(cs.params) != 3 {
		t.Fatalf("expected 3 logical parameter slots, got %d", len(cs.params))
	}
}

func TestNewCallableStatementRejectsNonCallEscape(t *testing.T) {
	if _, err := newCallableStatement(nil, "{fn NOW()}"); err == nil {
		t.Fatal("expected an error for a non-call escape passed to prepareCall")
	}
}

func TestResultSetMetaDataNullableFlag(t *testing.T) {
	cols := []resultset.ColumnInfo{
		{Name: "id", Flags: resultset.ColFlagNotNull | resultset.ColFlagSigned},
		{Name: "nickname"},
	}
	rows := [][]driver.Value{{int64(1), nil}}
	rs := newResultSet(resultset.NewVirtual(cols, rows))
	meta := rs.GetMetaData()

	if meta.ColumnCount() != 2 {
		t.Fatalf("expected 2 columns, got %d", meta.ColumnCount())
	}
	if meta.IsNullable(1) {
		t.Fatal("expected column 1 (NOT NULL) to report non-nullable")
	}
	if !meta.IsNullable(2) {
		t.Fatal("expected column 2 (no NOT NULL flag) to report nullable")
	}
	if !meta.IsSigned(1) {
		t.Fatal("expected column 1 to report signed")
	}
}

func TestResultSetScrollsOverVirtualRows(t *testing.T) {
	cols := []resultset.ColumnInfo{{Name: "n"}}
	rows := [][]driver.Value{{int64(1)}, {int64(2)}, {int64(3)}}
	rs := newResultSet(resultset.NewVirtual(cols, rows))
	defer rs.Close()

	var got []int64
	for {
		ok, err := rs.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		v, err := rs.GetInt64(1)
		if err != nil {
			t.Fatalf("GetInt64: %v", err)
		}
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected scan results: %v", got)
	}
	if !rs.IsAfterLast() {
		t.Fatal("expected cursor to be positioned after the last row")
	}
}
