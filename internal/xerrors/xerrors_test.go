package xerrors

import (
	"errors"
	"testing"
)

func TestClosedConnectionSQLState(t *testing.T) {
	err := ClosedConnection("execute")
	if err.SQLState[:2] != "08" {
		t.Fatalf("expected SQLState to start with 08, got %s", err.SQLState)
	}
	if err.Error() == "" {
		t.Fatal("expected non-empty message")
	}
}

func TestIsConnectionClass(t *testing.T) {
	cases := []struct {
		err  *SQLException
		want bool
	}{
		{NewWithState(KindTransientConnection, "eof", "08S01", 0), true},
		{NewWithState(KindSyntax, "bad sql", "42000", 1064), false},
		{NewWithState(KindUnknown, "read only", "70100", 1927), true},
		{NewWithState(KindUnknown, "ro target", "HY000", 1290), true},
	}
	for _, c := range cases {
		if got := IsConnectionClass(c.err); got != c.want {
			t.Errorf("IsConnectionClass(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("socket reset")
	wrapped := Wrap(KindTransientConnection, cause, "read failed")
	if !errors.Is(wrapped, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	se, ok := AsSQLException(wrapped)
	if !ok || se.Kind != KindTransientConnection {
		t.Fatalf("expected to recover SQLException, got %v", se)
	}
}

func TestChainOrdersAppend(t *testing.T) {
	first := New(KindIntegrity, "dup key row 1")
	first.Chain(New(KindIntegrity, "dup key row 2"))
	first.Chain(New(KindIntegrity, "dup key row 3"))

	var msgs []string
	for e := first; e != nil; e = e.Next {
		msgs = append(msgs, e.Message)
	}
	want := []string{"dup key row 1", "dup key row 2", "dup key row 3"}
	if len(msgs) != len(want) {
		t.Fatalf("got %v, want %v", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Fatalf("got %v, want %v", msgs, want)
		}
	}
}

func TestWithHostDecoration(t *testing.T) {
	base := NewWithState(KindTransientConnection, "connection refused", "08S01", 0)
	decorated := base.WithHost("10.0.0.5:3306", true)
	if decorated == base {
		t.Fatal("expected WithHost to return a clone, not mutate in place")
	}
	want := "connection refused\non 10.0.0.5:3306, master=true"
	if decorated.Message != want {
		t.Fatalf("got %q, want %q", decorated.Message, want)
	}
	if base.Message == decorated.Message {
		t.Fatal("original exception must not be mutated")
	}
}
