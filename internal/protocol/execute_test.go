package protocol

import (
	"strings"
	"testing"

	"github.com/lordbasex/mdriver/internal/dsn"
	"github.com/lordbasex/mdriver/internal/param"
	"github.com/lordbasex/mdriver/internal/sqlparse"
	"github.com/lordbasex/mdriver/internal/xerrors"
)

func TestRenderClientPreparedInterpolatesParams(t *testing.T) {
	parsed := sqlparse.Parse("SELECT * FROM t WHERE a=? AND b=?")
	got := renderClientPrepared(parsed, []param.Parameter{param.Int64{V: 5}, param.String{S: "x"}}, 0)
	want := "SELECT * FROM t WHERE a=5 AND b='x'"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRenderClientPreparedWrapsTimeout(t *testing.T) {
	parsed := sqlparse.Parse("SELECT 1")
	got := renderClientPrepared(parsed, nil, 30)
	want := "SET STATEMENT max_statement_time=30 FOR SELECT 1"
	if got != want {
		t.Fatalf("got %q", got)
	}
}

func TestIsQueryRecognizesSelectShapedStatements(t *testing.T) {
	for _, sql := range []string{"SELECT 1", "  select * from t", "SHOW TABLES", "CALL p()", "VALUES (1)"} {
		if !isQuery(sql) {
			t.Fatalf("expected %q to be classified as a query", sql)
		}
	}
	for _, sql := range []string{"INSERT INTO t VALUES (1)", "UPDATE t SET a=1", "DELETE FROM t"} {
		if isQuery(sql) {
			t.Fatalf("expected %q not to be classified as a query", sql)
		}
	}
}

func TestSplitSuccessNoInfoSingleRow(t *testing.T) {
	got := splitSuccessNoInfo(3, 1)
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("got %v", got)
	}
}

func TestSplitSuccessNoInfoMultiRow(t *testing.T) {
	got := splitSuccessNoInfo(5, 3)
	if len(got) != 3 {
		t.Fatalf("got %v", got)
	}
	for _, v := range got {
		if v != -2 {
			t.Fatalf("expected SUCCESS_NO_INFO (-2), got %d", v)
		}
	}
}

func TestExtractMySQLNumberParsesStandardForm(t *testing.T) {
	err := fakeMySQLError{msg: "Error 1062: Duplicate entry '1' for key 'PRIMARY'"}
	n, ok := extractMySQLNumber(err)
	if !ok || n != 1062 {
		t.Fatalf("got n=%d ok=%v", n, ok)
	}
}

func TestExtractMySQLNumberNoMatch(t *testing.T) {
	err := fakeMySQLError{msg: "connection refused"}
	if _, ok := extractMySQLNumber(err); ok {
		t.Fatal("expected no match for a non-MySQL-shaped error")
	}
}

func TestClassifyServerErrorMapsDuplicateKey(t *testing.T) {
	err := classifyServerError(fakeMySQLError{msg: "Error 1062: Duplicate entry"})
	se, ok := xerrors.AsSQLException(err)
	if !ok {
		t.Fatalf("expected a SQLException, got %v", err)
	}
	if se.SQLState != "23000" {
		t.Fatalf("got SQLState %q", se.SQLState)
	}
}

func TestLocalInfileRegexMatchesQuotedFileName(t *testing.T) {
	sql := "LOAD DATA LOCAL INFILE '/tmp/data.csv' INTO TABLE t"
	m := localInfileRe.FindStringSubmatch(sql)
	if m == nil || m[3] != "/tmp/data.csv" {
		t.Fatalf("got %v", m)
	}
}

func TestLocalInfileRegexMatchesLowPriorityConcurrent(t *testing.T) {
	sql := "LOAD DATA LOW_PRIORITY LOCAL INFILE 'a.csv' INTO TABLE t"
	if !localInfileRe.MatchString(sql) {
		t.Fatal("expected match with LOW_PRIORITY modifier")
	}
	sql = "LOAD DATA CONCURRENT LOCAL INFILE 'a.csv' INTO TABLE t"
	if !localInfileRe.MatchString(sql) {
		t.Fatal("expected match with CONCURRENT modifier")
	}
}

func TestNativeValueRendersEachVariant(t *testing.T) {
	cases := []param.Parameter{
		param.Null{},
		param.Int64{V: 1},
		param.Uint64{V: 2},
		param.Float64{V: 1.5},
		param.Bool{V: true},
		param.Bytes{B: []byte("x")},
		param.String{S: "y"},
		param.Decimal{Text: "1.50"},
		param.Date{Text: "2024-01-01"},
		param.Time{Text: "01:02:03"},
		param.Timestamp{Text: "2024-01-01 00:00:00"},
	}
	for _, c := range cases {
		if _, err := nativeValue(c); err != nil {
			t.Fatalf("nativeValue(%T): %v", c, err)
		}
	}
}

func TestBuildSessionInitStatementIncludesAutocommitAndSessionVariables(t *testing.T) {
	p := &Protocol{opts: &dsn.Options{Autocommit: true, SessionVariables: "time_zone='+00:00'"}}
	got := p.buildSessionInitStatement()
	if !strings.Contains(got, "autocommit=1") || !strings.Contains(got, "time_zone='+00:00'") {
		t.Fatalf("got %q", got)
	}
}

func TestSetServerVersionStripsMariaDBCompatPrefix(t *testing.T) {
	p := &Protocol{}
	p.setServerVersion("5.5.5-10.6.12-MariaDB")
	if p.serverVersion != "10.6.12-MariaDB" || !p.serverMariaDB {
		t.Fatalf("got version=%q mariadb=%v", p.serverVersion, p.serverMariaDB)
	}
}

func TestSetServerVersionLeavesPlainMySQLVersionAlone(t *testing.T) {
	p := &Protocol{}
	p.setServerVersion("8.0.34")
	if p.serverVersion != "8.0.34" || p.serverMariaDB {
		t.Fatalf("got version=%q mariadb=%v", p.serverVersion, p.serverMariaDB)
	}
}

type fakeMySQLError struct{ msg string }

func (e fakeMySQLError) Error() string { return e.msg }
