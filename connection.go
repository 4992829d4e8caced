package mdriver

import (
	"context"
	"database/sql/driver"
	"sync"
	"time"

	"github.com/lordbasex/mdriver/internal/dsn"
	"github.com/lordbasex/mdriver/internal/failover"
	"github.com/lordbasex/mdriver/internal/logproxy"
	"github.com/lordbasex/mdriver/internal/protocol"
	"github.com/lordbasex/mdriver/internal/xerrors"
)

// Connection is the JDBC-shaped facade from spec.md §4.8/H2: it owns a
// failover.Proxy wrapping one failover.Listener, and serializes its own
// open/close bookkeeping behind mu while every wire exchange is
// serialized one level down inside the active protocol.Protocol's own
// mutex (spec.md §5).
type Connection struct {
	mu sync.Mutex

	opts     *dsn.Options
	listener *failover.Listener
	proxy    *failover.Proxy

	closed         bool
	explicitClosed bool
	autocommit     bool

	logProxy *logproxy.Proxy
}

func openWithOptions(ctx context.Context, opts *dsn.Options) (*Connection, error) {
	listener, err := failover.NewListener(ctx, opts)
	if err != nil {
		return nil, err
	}
	proxy := failover.NewProxy(listener)
	return &Connection{
		opts:     opts,
		listener: listener,
		proxy:    proxy,
		autocommit: opts.Autocommit,
		logProxy: logProxyFromOptions(opts),
	}, nil
}

// logProxyFromOptions builds the optional logging/metrics wrapper from
// spec.md's observability property set (`profileSql`,
// `slowQueryThresholdNanos`, `maxQuerySizeToLog`,
// `dumpQueriesOnException`), or nil when profiling is off.
func logProxyFromOptions(opts *dsn.Options) *logproxy.Proxy {
	if !opts.ProfileSQL {
		return nil
	}
	lp := logproxy.NewProxy(nil)
	if opts.SlowQueryThresholdNanos > 0 {
		lp.SlowQueryThreshold = time.Duration(opts.SlowQueryThresholdNanos) * time.Nanosecond
	}
	lp.MaxQuerySizeToLog = opts.MaxQuerySizeToLog
	lp.DumpOnException = opts.DumpQueriesOnException
	return lp
}

// --- database/sql/driver.Conn and friends ---

// Prepare implements driver.Conn for callers using database/sql
// directly (sql.Open("mdriver", dsn)).
func (c *Connection) Prepare(query string) (driver.Stmt, error) {
	ps, err := c.PrepareStatement(query)
	if err != nil {
		return nil, err
	}
	return &driverStmt{ps: ps}, nil
}

// PrepareContext implements driver.ConnPrepareContext.
func (c *Connection) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	return c.Prepare(query)
}

// Begin implements driver.Conn.
func (c *Connection) Begin() (driver.Tx, error) {
	if err := c.SetAutoCommit(context.Background(), false); err != nil {
		return nil, err
	}
	return &driverTx{conn: c}, nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *Connection) BeginTx(ctx context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if err := c.SetAutoCommit(ctx, false); err != nil {
		return nil, err
	}
	return &driverTx{conn: c}, nil
}

// Ping implements driver.Pinger via IsValid.
func (c *Connection) Ping(ctx context.Context) error {
	if !c.isValidLocked(ctx, 5) {
		return driver.ErrBadConn
	}
	return nil
}

type driverTx struct{ conn *Connection }

func (t *driverTx) Commit() error   { return t.conn.Commit(context.Background()) }
func (t *driverTx) Rollback() error { return t.conn.Rollback(context.Background()) }

// --- JDBC-shaped surface (spec.md §2 H2) ---

// CreateStatement returns a new Statement bound to this connection.
func (c *Connection) CreateStatement() (*Statement, error) {
	if c.IsClosed() {
		return nil, xerrors.ClosedConnection("createStatement")
	}
	return &Statement{conn: c}, nil
}

// PrepareStatement parses sql and returns a PreparedStatement, using
// client-side or server-side prepare according to
// opts.UseServerPrepStmts, per spec.md §4.6 paths 2/3.
func (c *Connection) PrepareStatement(sql string) (*PreparedStatement, error) {
	if c.IsClosed() {
		return nil, xerrors.ClosedConnection("prepareStatement")
	}
	return newPreparedStatement(c, sql)
}

// PrepareCall parses a JDBC {call ...}/{?= call ...} escape and returns
// a CallableStatement, per spec.md §4.2/§4.6's OUT-parameter handling.
func (c *Connection) PrepareCall(sql string) (*CallableStatement, error) {
	if c.IsClosed() {
		return nil, xerrors.ClosedConnection("prepareCall")
	}
	return newCallableStatement(c, sql)
}

// Close implements spec.md invariant 1: after Close, IsClosed is true
// and any subsequent operation raises a SQLException with SQLState 08.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.explicitClosed = true
	c.mu.Unlock()
	return c.listener.Close()
}

// Abort proceeds even without the owning lock, per spec.md §5: it opens
// a side channel, issues KILL QUERY on the currently active protocol's
// thread, then closes that protocol.
func (c *Connection) Abort(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	p := c.listener.Current()
	if p == nil {
		return nil
	}
	return p.Abort(ctx)
}

// IsClosed reports whether Close/Abort has been called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// IsValid runs "SELECT 1" with the given timeout and reports whether it
// succeeded, per JDBC's Connection.isValid(timeout).
func (c *Connection) IsValid(timeoutSeconds int) bool {
	ctx := context.Background()
	return c.isValidLocked(ctx, timeoutSeconds)
}

func (c *Connection) isValidLocked(ctx context.Context, timeoutSeconds int) bool {
	if c.IsClosed() {
		return false
	}
	if timeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		defer cancel()
	}
	_, err := c.proxyInvoke(ctx, "ping", "SELECT 1", func(ctx context.Context, p *protocol.Protocol) (*protocol.Results, error) {
		return p.ExecuteQuery(ctx, "SELECT 1", 0)
	})
	return err == nil
}

// SetAutoCommit toggles session autocommit, per spec.md's ConnectionOptions
// autocommit field and §4.8's in-transaction tracking for the failover
// proxy's read-only-target special case.
func (c *Connection) SetAutoCommit(ctx context.Context, v bool) error {
	if err := c.execInternal(ctx, "setAutoCommit", autocommitSQL(v)); err != nil {
		return err
	}
	c.mu.Lock()
	c.autocommit = v
	c.mu.Unlock()
	c.proxy.SetInTransaction(!v)
	return nil
}

func autocommitSQL(v bool) string {
	if v {
		return "SET autocommit=1"
	}
	return "SET autocommit=0"
}

// GetAutoCommit reports the last autocommit value this Connection set.
func (c *Connection) GetAutoCommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autocommit
}

// SetTransactionIsolation issues SET SESSION TRANSACTION ISOLATION
// LEVEL against the currently active protocol, per spec.md §3's
// transactionIsolationLevel protocol-state field.
func (c *Connection) SetTransactionIsolation(ctx context.Context, level protocol.IsolationLevel) error {
	_, err := c.proxyInvoke(ctx, "setTransactionIsolation", "SET SESSION TRANSACTION ISOLATION LEVEL ...",
		func(ctx context.Context, p *protocol.Protocol) (*protocol.Results, error) {
			if err := p.SetTransactionIsolation(ctx, level); err != nil {
				return nil, err
			}
			return &protocol.Results{}, nil
		})
	return err
}

// GetTransactionIsolation reports the level last set through
// SetTransactionIsolation on the currently active protocol.
func (c *Connection) GetTransactionIsolation() protocol.IsolationLevel {
	p := c.listener.Current()
	if p == nil {
		return protocol.IsolationDefault
	}
	return p.TransactionIsolationLevel()
}

// Commit issues COMMIT and clears the proxy's in-transaction flag.
func (c *Connection) Commit(ctx context.Context) error {
	if err := c.execInternal(ctx, "commit", "COMMIT"); err != nil {
		return err
	}
	c.proxy.SetInTransaction(false)
	return nil
}

// Rollback issues ROLLBACK and clears the proxy's in-transaction flag.
func (c *Connection) Rollback(ctx context.Context) error {
	if err := c.execInternal(ctx, "rollback", "ROLLBACK"); err != nil {
		return err
	}
	c.proxy.SetInTransaction(false)
	return nil
}

// ResetSession implements the pool's borrow/return contract (spec.md
// §4.9): best-effort ROLLBACK + SET autocommit=1, since this transport
// capability does not expose a raw COM_RESET_CONNECTION one level below
// database/sql/driver (see DESIGN.md's transport-boundary notes). The
// prepared-statement cache is left intact across borrows: spec.md's
// "cleared on the server side" describes the effect of the wire-level
// COM_RESET_CONNECTION this Go port does not have access to, not a
// requirement to drop cache entries this port can still reuse safely.
func (c *Connection) ResetSession(ctx context.Context) error {
	c.execInternal(ctx, "resetSession", "ROLLBACK")
	return c.SetAutoCommit(ctx, true)
}

// Host reports "host:port" of the currently active underlying protocol,
// used by pool/logproxy for per-host diagnostics.
func (c *Connection) Host() string {
	p := c.listener.Current()
	if p == nil {
		return ""
	}
	return p.Host()
}

func (c *Connection) execInternal(ctx context.Context, op, sql string) error {
	if c.IsClosed() {
		return xerrors.ClosedConnection("execInternal")
	}
	return c.aroundLogProxy(ctx, op, sql, func(ctx context.Context) error {
		_, err := failover.Invoke(ctx, c.proxy, func(ctx context.Context, p *protocol.Protocol) (*protocol.Results, error) {
			return p.ExecuteQuery(ctx, sql, 0)
		})
		return err
	})
}

// proxyInvoke exposes failover.Invoke to statement.go/prepared_statement.go
// without those files needing to import internal/failover directly for
// every call site. op and sql label the optional logProxy observation
// (spec.md's `profileSql` property); sql may be truncated in logs per
// `maxQuerySizeToLog`.
func (c *Connection) proxyInvoke(ctx context.Context, op, sql string, fn func(ctx context.Context, p *protocol.Protocol) (*protocol.Results, error)) (*protocol.Results, error) {
	if c.IsClosed() {
		return nil, xerrors.ClosedConnection("execute")
	}
	var res *protocol.Results
	err := c.aroundLogProxy(ctx, op, sql, func(ctx context.Context) error {
		var err error
		res, err = failover.Invoke(ctx, c.proxy, fn)
		return err
	})
	return res, err
}

func (c *Connection) proxyInvokeBatch(ctx context.Context, op, sql string, fn func(ctx context.Context, p *protocol.Protocol) (*protocol.BatchResult, error)) (*protocol.BatchResult, error) {
	if c.IsClosed() {
		return nil, xerrors.ClosedConnection("executeBatch")
	}
	var res *protocol.BatchResult
	err := c.aroundLogProxy(ctx, op, sql, func(ctx context.Context) error {
		var err error
		res, err = failover.Invoke(ctx, c.proxy, fn)
		return err
	})
	return res, err
}

// aroundLogProxy runs fn directly when no logProxy is configured
// (profileSql unset), or through it for timing/slow-query logging and
// Prometheus observation otherwise.
func (c *Connection) aroundLogProxy(ctx context.Context, op, sql string, fn func(ctx context.Context) error) error {
	if c.logProxy == nil {
		return fn(ctx)
	}
	return c.logProxy.Around(ctx, op, sql, fn)
}
