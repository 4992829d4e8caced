package failover

import (
	"testing"

	"github.com/lordbasex/mdriver/internal/dsn"
	"github.com/lordbasex/mdriver/internal/xerrors"
)

func TestCandidateOrderPrefersMasterInReplicationMode(t *testing.T) {
	l := &Listener{opts: &dsn.Options{
		HAMode: dsn.HAReplication,
		Hosts: []dsn.HostAddress{
			{Host: "replica1", Type: "replica"},
			{Host: "master1", Type: "master"},
			{Host: "replica2", Type: "replica"},
		},
	}}
	order := l.candidateOrder()
	if order[0] != 1 {
		t.Fatalf("expected master host index first, got order=%v", order)
	}
}

func TestCandidateOrderKeepsListedOrderOutsideReplication(t *testing.T) {
	l := &Listener{opts: &dsn.Options{
		HAMode: dsn.HALoadBalance,
		Hosts: []dsn.HostAddress{{Host: "a"}, {Host: "b"}, {Host: "c"}},
	}}
	order := l.candidateOrder()
	if order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("got %v", order)
	}
}

func TestRotateStartsAtGivenIndex(t *testing.T) {
	got := rotate([]int{0, 1, 2, 3}, 2)
	want := []int{2, 3, 0, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestNextIndexWrapsAround(t *testing.T) {
	if n := nextIndex([]int{0, 1, 2}, 2); n != 0 {
		t.Fatalf("expected wraparound to 0, got %d", n)
	}
	if n := nextIndex([]int{0, 1, 2}, 0); n != 1 {
		t.Fatalf("got %d", n)
	}
}

func TestHasToHandleFailoverRecognizesConnectionClass(t *testing.T) {
	err := xerrors.NewWithState(xerrors.KindTransientConnection, "lost connection", "08S01", 0)
	if !hasToHandleFailover(err) {
		t.Fatal("expected 08xxx SQLState to be connection-class")
	}
}

func TestHasToHandleFailoverRecognizesReadOnlyTarget(t *testing.T) {
	err := xerrors.NewWithState(xerrors.KindTransientConnection, "read-only", "70100", 1927)
	if !hasToHandleFailover(err) {
		t.Fatal("expected 70100/1927 to be connection-class")
	}
}

func TestHasToHandleFailoverRejectsOrdinarySyntaxError(t *testing.T) {
	err := xerrors.New(xerrors.KindSyntax, "bad SQL")
	if hasToHandleFailover(err) {
		t.Fatal("expected a syntax error not to trigger failover")
	}
}
