package sqlparse

import "testing"

func TestSplitPlaceholdersOutsideQuotes(t *testing.T) {
	sql := `SELECT * FROM t WHERE a = ? AND b = 'literal ? not a param' AND c = ?`
	p := Parse(sql)
	if p.ParamCount != 2 {
		t.Fatalf("expected 2 placeholders, got %d (%v)", p.ParamCount, p.Parts)
	}
	if len(p.Parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(p.Parts))
	}
	if Join(p.Parts, "?") != sql {
		t.Fatalf("join(parts, '?') != sql:\n got: %q\nwant: %q", Join(p.Parts, "?"), sql)
	}
}

func TestSplitPlaceholdersSkipsComments(t *testing.T) {
	sql := "SELECT ? /* a ? inside a comment */ FROM t -- trailing ? comment\nWHERE x = ?"
	p := Parse(sql)
	if p.ParamCount != 2 {
		t.Fatalf("expected 2 placeholders, got %d", p.ParamCount)
	}
}

func TestSplitPlaceholdersSkipsBacktickIdentifiers(t *testing.T) {
	sql := "SELECT `weird?col` FROM t WHERE x = ?"
	p := Parse(sql)
	if p.ParamCount != 1 {
		t.Fatalf("expected 1 placeholder, got %d", p.ParamCount)
	}
}

func TestSplitPlaceholdersHandlesEscapedQuote(t *testing.T) {
	sql := `SELECT * FROM t WHERE a = 'it\'s a ? test' AND b = ?`
	p := Parse(sql)
	if p.ParamCount != 1 {
		t.Fatalf("expected 1 placeholder, got %d", p.ParamCount)
	}
}

func TestMultiValuesRewriteEligible(t *testing.T) {
	sql := "INSERT INTO t (a,b,c) VALUES (?,?,?)"
	p := Parse(sql)
	if p.Rewrite == nil {
		t.Fatal("expected rewrite eligibility")
	}
	if p.Rewrite.ValueGroup != "?,?,?" {
		t.Fatalf("got ValueGroup=%q", p.Rewrite.ValueGroup)
	}
	if p.Rewrite.Prefix != "INSERT INTO t (a,b,c) VALUES (" {
		t.Fatalf("got Prefix=%q", p.Rewrite.Prefix)
	}
}

func TestMultiValuesRewriteRejectsOnDuplicateKey(t *testing.T) {
	sql := "INSERT INTO t (a,b) VALUES (?,?) ON DUPLICATE KEY UPDATE a=VALUES(a)"
	p := Parse(sql)
	if p.Rewrite != nil {
		t.Fatalf("expected no rewrite eligibility, got %+v", p.Rewrite)
	}
}

func TestMultiValuesRewriteRejectsSelect(t *testing.T) {
	sql := "INSERT INTO t (a,b) SELECT x, y FROM other"
	p := Parse(sql)
	if p.Rewrite != nil {
		t.Fatal("expected no rewrite eligibility for INSERT...SELECT")
	}
}

func TestMultiValuesRewriteRejectsNonInsert(t *testing.T) {
	sql := "UPDATE t SET a = ? WHERE b = ?"
	p := Parse(sql)
	if p.Rewrite != nil {
		t.Fatal("expected no rewrite eligibility for UPDATE")
	}
}

func TestSemicolonAggregatableSimple(t *testing.T) {
	sql := "UPDATE t SET a=1; UPDATE t SET b=2"
	p := Parse(sql)
	if !p.SemicolonAggregatable {
		t.Fatal("expected semicolon-aggregatable")
	}
}

func TestSemicolonAggregatableFalseOnUnterminatedString(t *testing.T) {
	sql := "UPDATE t SET a = 'unterminated"
	p := Parse(sql)
	if p.SemicolonAggregatable {
		t.Fatal("expected not semicolon-aggregatable for unterminated string")
	}
}

func TestNoPlaceholders(t *testing.T) {
	sql := "SELECT 1"
	p := Parse(sql)
	if p.ParamCount != 0 {
		t.Fatalf("expected 0 placeholders, got %d", p.ParamCount)
	}
	if len(p.Parts) != 1 || p.Parts[0] != sql {
		t.Fatalf("got parts=%v", p.Parts)
	}
}
