package param

import (
	"strings"
	"testing"
)

func renderText(p Parameter, noBackslashEscapes bool) string {
	var b strings.Builder
	p.WriteText(&b, noBackslashEscapes)
	return b.String()
}

func TestStringEscaping(t *testing.T) {
	cases := []struct {
		name               string
		in                 string
		noBackslashEscapes bool
		want               string
	}{
		{"quote doubling", `O'Brien`, false, `'O''Brien'`},
		{"backslash escaped", `a\b`, false, `'a\\b'`},
		{"backslash literal when disabled", `a\b`, true, `'a\b'`},
		{"nul escaped", "a\x00b", false, `'a\0b'`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := renderText(String{S: c.in}, c.noBackslashEscapes)
			if got != c.want {
				t.Fatalf("got %q, want %q", got, c.want)
			}
		})
	}
}

func TestNullWriteText(t *testing.T) {
	if got := renderText(Null{ColType: TypeInt64}, false); got != "NULL" {
		t.Fatalf("got %q, want NULL", got)
	}
}

func TestBoolRendering(t *testing.T) {
	if got := renderText(Bool{V: true}, false); got != "1" {
		t.Fatalf("got %q, want 1", got)
	}
	if got := renderText(Bool{V: false}, false); got != "0" {
		t.Fatalf("got %q, want 0", got)
	}
}

func TestIntegerRendering(t *testing.T) {
	if got := renderText(Int64{V: -42}, false); got != "-42" {
		t.Fatalf("got %q, want -42", got)
	}
	if got := renderText(Uint64{V: 18446744073709551615}, false); got != "18446744073709551615" {
		t.Fatalf("got %q", got)
	}
}

func TestLongDataIsLongData(t *testing.T) {
	if !(LongData{}).IsLongData() {
		t.Fatal("expected LongData.IsLongData() == true")
	}
	for _, p := range []Parameter{Null{}, Int64{}, String{}, Bytes{}, Bool{}} {
		if p.IsLongData() {
			t.Fatalf("%T unexpectedly reported IsLongData() == true", p)
		}
	}
}

func TestAppendLenEncIntBoundaries(t *testing.T) {
	cases := []struct {
		n    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{250, []byte{0xFA}},
		{251, []byte{0xFC, 0xFB, 0x00}},
		{65535, []byte{0xFC, 0xFF, 0xFF}},
		{65536, []byte{0xFD, 0x00, 0x00, 0x01}},
		{16777216, []byte{0xFE, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}},
	}
	for _, c := range cases {
		got := AppendLenEncInt(nil, c.n)
		if len(got) != len(c.want) {
			t.Fatalf("n=%d: got %v, want %v", c.n, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("n=%d: got %v, want %v", c.n, got, c.want)
			}
		}
	}
}

func TestTimeNegativeRendering(t *testing.T) {
	got := renderText(Time{Text: "10:00:00", Negative: true}, false)
	if got != "'-10:00:00'" {
		t.Fatalf("got %q", got)
	}
}

func TestDecimalPreservesExactText(t *testing.T) {
	got := renderText(Decimal{Text: "100.000"}, false)
	if got != "100.000" {
		t.Fatalf("got %q, want unquoted exact decimal text", got)
	}
}
