package dsn

import "testing"

func TestParseConventionalSingleHost(t *testing.T) {
	o, err := Parse("alice:secret@db1.example.com:3307/orders?useTls=true&connectTimeout=2s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.User != "alice" || o.Password != "secret" {
		t.Fatalf("got user=%q password=%q", o.User, o.Password)
	}
	if o.Database != "orders" {
		t.Fatalf("got database=%q", o.Database)
	}
	if len(o.Hosts) != 1 || o.Hosts[0].Host != "db1.example.com" || o.Hosts[0].Port != 3307 {
		t.Fatalf("got hosts=%+v", o.Hosts)
	}
	if !o.UseTLS {
		t.Fatal("expected useTls=true")
	}
	if o.ConnectTimeout.String() != "2s" {
		t.Fatalf("got connectTimeout=%v", o.ConnectTimeout)
	}
	if o.HAMode != HANone {
		t.Fatalf("expected single host to default to HANone, got %v", o.HAMode)
	}
}

func TestParseMultiHostDefaultsToLoadBalance(t *testing.T) {
	o, err := Parse("root@h1:3306,h2:3306,h3:3306/app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(o.Hosts) != 3 {
		t.Fatalf("expected 3 hosts, got %d", len(o.Hosts))
	}
	if o.HAMode != HALoadBalance {
		t.Fatalf("expected default HAMode LOADBALANCE for multi-host DSN, got %v", o.HAMode)
	}
}

func TestParseExplicitHAMode(t *testing.T) {
	o, err := Parse("root@primary:3306,replica:3306/app?haMode=replication")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.HAMode != HAReplication {
		t.Fatalf("got %v", o.HAMode)
	}
}

func TestParseFlatDSN(t *testing.T) {
	o, err := Parse("host=127.0.0.1&port=3306&user=root&password=pw&database=test&useServerPrepStmts=false")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(o.Hosts) != 1 || o.Hosts[0].Host != "127.0.0.1" || o.Hosts[0].Port != 3306 {
		t.Fatalf("got hosts=%+v", o.Hosts)
	}
	if o.User != "root" || o.Password != "pw" || o.Database != "test" {
		t.Fatalf("got user=%q password=%q database=%q", o.User, o.Password, o.Database)
	}
	if o.UseServerPrepStmts {
		t.Fatal("expected useServerPrepStmts=false to override the true default")
	}
}

func TestParseMissingHostErrors(t *testing.T) {
	if _, err := Parse("user=root&password=pw"); err == nil {
		t.Fatal("expected error for DSN with no host/localSocket/pipe")
	}
}

func TestParseLocalSocket(t *testing.T) {
	o, err := Parse("root@/app?localSocket=/var/run/mysqld/mysqld.sock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.LocalSocket != "/var/run/mysqld/mysqld.sock" {
		t.Fatalf("got localSocket=%q", o.LocalSocket)
	}
}

func TestParseInvalidDurationErrors(t *testing.T) {
	if _, err := Parse("root@h1:3306/app?connectTimeout=notaduration"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestParseDefaultsApplied(t *testing.T) {
	o, err := Parse("root@h1:3306/app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.PrepStmtCacheSize != 250 {
		t.Fatalf("got prepStmtCacheSize=%d", o.PrepStmtCacheSize)
	}
	if !o.CachePrepStmts || !o.UseServerPrepStmts {
		t.Fatal("expected cachePrepStmts and useServerPrepStmts defaults to be true")
	}
	if !o.Autocommit {
		t.Fatal("expected autocommit default true")
	}
}
