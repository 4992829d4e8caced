package protocol

import (
	"database/sql/driver"
	"io"
	"testing"
)

type fakeRowsWithTypes struct {
	cols []string
}

func (f *fakeRowsWithTypes) Columns() []string              { return f.cols }
func (f *fakeRowsWithTypes) Close() error                    { return nil }
func (f *fakeRowsWithTypes) Next(dest []driver.Value) error { return io.EOF }
func (f *fakeRowsWithTypes) ColumnTypeDatabaseTypeName(index int) string {
	return "VARCHAR"
}
func (f *fakeRowsWithTypes) ColumnTypeLength(index int) (int64, bool) { return 255, true }
func (f *fakeRowsWithTypes) ColumnTypePrecisionScale(index int) (int64, int64, bool) {
	return 10, 2, true
}

func TestColumnInfoFromRowsUsesOptionalInterfaces(t *testing.T) {
	rows := &fakeRowsWithTypes{cols: []string{"id", "amount"}}
	cols := columnInfoFromRows(rows)
	if len(cols) != 2 {
		t.Fatalf("got %d columns", len(cols))
	}
	if cols[0].Name != "id" || cols[0].ColumnType != "VARCHAR" {
		t.Fatalf("got %+v", cols[0])
	}
	if cols[1].OctetLength != 255 || cols[1].Precision != 10 || cols[1].Scale != 2 {
		t.Fatalf("got %+v", cols[1])
	}
}

type fakeRowsNoTypes struct {
	cols []string
}

func (f *fakeRowsNoTypes) Columns() []string              { return f.cols }
func (f *fakeRowsNoTypes) Close() error                    { return nil }
func (f *fakeRowsNoTypes) Next(dest []driver.Value) error { return io.EOF }

func TestColumnInfoFromRowsFallsBackWithoutOptionalInterfaces(t *testing.T) {
	rows := &fakeRowsNoTypes{cols: []string{"x"}}
	cols := columnInfoFromRows(rows)
	if len(cols) != 1 || cols[0].Name != "x" || cols[0].ColumnType != "" {
		t.Fatalf("got %+v", cols)
	}
}
