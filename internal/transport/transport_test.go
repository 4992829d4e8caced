package transport

import (
	"fmt"
	"testing"
	"time"

	"github.com/lordbasex/mdriver/internal/dsn"
)

// Dial itself needs a live server to exercise meaningfully, so these
// tests stick to the pure address-formatting convention Dial relies on,
// matching the teacher's pattern of unit-testing config translation
// separately from live I/O.

func TestHostAddressFormatting(t *testing.T) {
	h := dsn.HostAddress{Host: "db1.internal", Port: 3306}
	addr := fmt.Sprintf("%s:%d", h.Host, h.Port)
	if addr != "db1.internal:3306" {
		t.Fatalf("got %q", addr)
	}
}

func TestDialTimeoutDefault(t *testing.T) {
	if DialTimeout != 10*time.Second {
		t.Fatalf("expected 10s default dial timeout, got %v", DialTimeout)
	}
}
