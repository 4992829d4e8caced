package resultset

import (
	"database/sql/driver"
	"io"
	"testing"
)

type fakeSource struct {
	cols   []string
	rows   [][]driver.Value
	pos    int
	closed bool
}

func (f *fakeSource) Columns() []string { return f.cols }
func (f *fakeSource) Next(dest []driver.Value) error {
	if f.pos >= len(f.rows) {
		return io.EOF
	}
	copy(dest, f.rows[f.pos])
	f.pos++
	return nil
}
func (f *fakeSource) Close() error { f.closed = true; return nil }

func cols() []ColumnInfo {
	return []ColumnInfo{
		{Name: "id", OriginalName: "id", Table: "t", OriginalTable: "t"},
		{Name: "name", OriginalName: "name", Table: "t", OriginalTable: "t"},
	}
}

func TestBufferedFetchAndNavigate(t *testing.T) {
	src := &fakeSource{rows: [][]driver.Value{
		{int64(1), "alice"},
		{int64(2), "bob"},
		{int64(3), "carol"},
	}}
	rs, err := New(src, cols(), TypeScrollInsensitive, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rs.dataSize != 3 {
		t.Fatalf("expected dataSize 3, got %d", rs.dataSize)
	}
	ok, err := rs.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	name, err := rs.GetString(2)
	if err != nil || name != "alice" {
		t.Fatalf("GetString: %q, %v", name, err)
	}
	ok, _ = rs.Next()
	ok, _ = rs.Next()
	if !rs.IsLast() {
		t.Fatal("expected IsLast at row 3")
	}
	ok, err = rs.Next()
	if ok || err != nil {
		t.Fatalf("expected Next to return false at afterLast, got ok=%v err=%v", ok, err)
	}
	if !rs.IsAfterLast() {
		t.Fatal("expected IsAfterLast")
	}
}

func TestFindColumnAliasAndOriginal(t *testing.T) {
	src := &fakeSource{rows: [][]driver.Value{{int64(1), "alice"}}}
	rs, _ := New(src, cols(), TypeScrollInsensitive, 0)
	idx, err := rs.FindColumn("name")
	if err != nil || idx != 2 {
		t.Fatalf("got idx=%d err=%v", idx, err)
	}
	idx, err = rs.FindColumn("t.id")
	if err != nil || idx != 1 {
		t.Fatalf("got idx=%d err=%v", idx, err)
	}
	if _, err := rs.FindColumn("nope"); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestForwardOnlyRejectsBackwardMotion(t *testing.T) {
	src := &fakeSource{rows: [][]driver.Value{{int64(1), "a"}, {int64(2), "b"}}}
	rs, _ := New(src, cols(), TypeForwardOnly, 0)
	rs.Next()
	rs.Next()
	if _, err := rs.Previous(); err == nil {
		t.Fatal("expected forward-only error on Previous")
	}
	if _, err := rs.Absolute(1); err == nil {
		t.Fatal("expected forward-only error on Absolute")
	}
}

func TestAbsoluteFromEnd(t *testing.T) {
	src := &fakeSource{rows: [][]driver.Value{{int64(1)}, {int64(2)}, {int64(3)}}}
	rs, _ := New(src, []ColumnInfo{{Name: "id"}}, TypeScrollInsensitive, 0)
	ok, err := rs.Absolute(-1)
	if err != nil || !ok {
		t.Fatalf("Absolute(-1): ok=%v err=%v", ok, err)
	}
	v, _ := rs.GetInt64(1)
	if v != 3 {
		t.Fatalf("expected last row value 3, got %d", v)
	}
}

func TestStreamingFetchBatches(t *testing.T) {
	src := &fakeSource{rows: [][]driver.Value{
		{int64(1)}, {int64(2)}, {int64(3)}, {int64(4)}, {int64(5)},
	}}
	rs, err := New(src, []ColumnInfo{{Name: "id"}}, TypeForwardOnly, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rs.dataSize != 2 {
		t.Fatalf("expected first batch of 2, got %d", rs.dataSize)
	}
	count := 0
	for {
		ok, err := rs.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 5 {
		t.Fatalf("expected to iterate all 5 rows, got %d", count)
	}
}

func TestWasNullTracksLastFetch(t *testing.T) {
	src := &fakeSource{rows: [][]driver.Value{{int64(1), nil}}}
	rs, _ := New(src, cols(), TypeScrollInsensitive, 0)
	rs.Next()
	if _, err := rs.GetString(2); err != nil {
		t.Fatalf("GetString: %v", err)
	}
	wasNull, err := rs.WasNull()
	if err != nil || !wasNull {
		t.Fatalf("expected WasNull() true after fetching a NULL column, got %v, %v", wasNull, err)
	}
	if _, err := rs.GetInt64(1); err != nil {
		t.Fatalf("GetInt64: %v", err)
	}
	wasNull, err = rs.WasNull()
	if err != nil || wasNull {
		t.Fatalf("expected WasNull() false after fetching a non-NULL column, got %v, %v", wasNull, err)
	}
}

// TestGettersRejectedAfterClose exercises spec.md §8 invariant 2: once
// Close has run, every getter on that ResultSet raises a SQLException
// instead of returning stale or zero-value data.
func TestGettersRejectedAfterClose(t *testing.T) {
	src := &fakeSource{rows: [][]driver.Value{{int64(1), "alice"}}}
	rs, err := New(src, cols(), TypeScrollInsensitive, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ok, err := rs.Next(); err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if name, err := rs.GetString(2); err != nil || name != "alice" {
		t.Fatalf("GetString before close: %q, %v", name, err)
	}

	if err := rs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !src.closed {
		t.Fatal("expected Close to close the underlying source")
	}

	if _, err := rs.GetString(2); err == nil {
		t.Fatal("expected GetString to fail after Close")
	}
	if _, err := rs.GetInt64(1); err == nil {
		t.Fatal("expected GetInt64 to fail after Close")
	}
	if _, err := rs.GetFloat64(1); err == nil {
		t.Fatal("expected GetFloat64 to fail after Close")
	}
	if _, err := rs.GetBool(1); err == nil {
		t.Fatal("expected GetBool to fail after Close")
	}
	if _, err := rs.GetBytes(1); err == nil {
		t.Fatal("expected GetBytes to fail after Close")
	}
	if _, err := rs.GetTime(1); err == nil {
		t.Fatal("expected GetTime to fail after Close")
	}
	if _, err := rs.WasNull(); err == nil {
		t.Fatal("expected WasNull to fail after Close")
	}
}

func TestBoolCoercionFromString(t *testing.T) {
	src := &fakeSource{rows: [][]driver.Value{{"true"}, {"0"}, {"maybe"}}}
	rs, _ := New(src, []ColumnInfo{{Name: "flag"}}, TypeScrollInsensitive, 0)
	rs.Next()
	b, err := rs.GetBool(1)
	if err != nil || !b {
		t.Fatalf("got b=%v err=%v", b, err)
	}
	rs.Next()
	b, err = rs.GetBool(1)
	if err != nil || b {
		t.Fatalf("got b=%v err=%v", b, err)
	}
	rs.Next()
	if _, err := rs.GetBool(1); err == nil {
		t.Fatal("expected error converting 'maybe' to bool")
	}
}
