package prepare

import "testing"

type fakeHandle struct {
	closed *bool
}

func (h *fakeHandle) Close() error {
	*h.closed = true
	return nil
}

func newEntry(key string) (*ServerPrepareResult, *bool) {
	closed := new(bool)
	return &ServerPrepareResult{Key: key, Handle: &fakeHandle{closed: closed}}, closed
}

func TestPutThenGetSharesEntry(t *testing.T) {
	c := NewCache(10, 0, nil)
	entry, _ := newEntry("db-SELECT 1")
	stored, err := c.Put("db-SELECT 1", entry)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := c.Get("db-SELECT 1")
	if !ok || got != stored {
		t.Fatalf("expected cache hit returning same entry, got ok=%v", ok)
	}
}

func TestEvictionReleasesWhenShareCountZero(t *testing.T) {
	c := NewCache(1, 0, nil)
	e1, closed1 := newEntry("db-stmt1")
	c.Put("db-stmt1", e1)
	got1, _ := c.Get("db-stmt1")
	got1.Unshare() // release the borrower's share; cache's own share (1) remains

	e2, _ := newEntry("db-stmt2")
	c.Put("db-stmt2", e2) // evicts stmt1's tail entry

	if !*closed1 {
		t.Fatal("expected stmt1's handle to be released on eviction")
	}
}

func TestEvictionDefersReleaseUntilLastSharerUnshares(t *testing.T) {
	c := NewCache(1, 0, nil)
	e1, closed1 := newEntry("db-stmt1")
	c.Put("db-stmt1", e1)
	got1, _ := c.Get("db-stmt1") // extra sharer beyond the cache's own reference

	e2, _ := newEntry("db-stmt2")
	c.Put("db-stmt2", e2) // evicts stmt1, but got1 still holds a share

	if *closed1 {
		t.Fatal("expected release to be deferred while a sharer still holds it")
	}
	got1.Unshare()
	if !*closed1 {
		t.Fatal("expected release once the last sharer unshares")
	}
}

func TestOversizeKeyNotCached(t *testing.T) {
	c := NewCache(10, 5, nil)
	entry, _ := newEntry("this-key-is-too-long")
	_, err := c.Put("this-key-is-too-long", entry)
	if err == nil {
		t.Fatal("expected error for oversize key")
	}
	if _, ok := c.Get("this-key-is-too-long"); ok {
		t.Fatal("expected oversize key not to be cached")
	}
}

func TestPendingReleaseQueuedWhenLockUnavailable(t *testing.T) {
	c := NewCache(1, 0, func() (func(), bool) { return nil, false })
	e1, closed1 := newEntry("db-stmt1")
	c.Put("db-stmt1", e1)

	e2, _ := newEntry("db-stmt2")
	c.Put("db-stmt2", e2) // evicts stmt1; lock unavailable, should queue

	if *closed1 {
		t.Fatal("expected release to be deferred to pending queue")
	}
	pending := c.DrainPending()
	if len(pending) != 1 || pending[0].Key != "db-stmt1" {
		t.Fatalf("got pending=%+v", pending)
	}
}

func TestKeyFormat(t *testing.T) {
	if got := Key("mydb", "SELECT 1"); got != "mydb-SELECT 1" {
		t.Fatalf("got %q", got)
	}
}
