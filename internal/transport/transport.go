// Package transport adapts github.com/go-sql-driver/mysql's low-level
// database/sql/driver connector as the native MariaDB/MySQL wire
// transport that spec.md §1 names as an assumed-available external
// collaborator (SPEC_FULL.md §0/§6.1). Everything above this package —
// parsing, escaping, parameter typing, PS caching, batch strategy
// selection, result decoding, failover — is mdriver's own engineering;
// this package only opens sockets and moves already-framed commands
// across them.
package transport

import (
	"context"
	"crypto/tls"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/lordbasex/mdriver/internal/dsn"
	"github.com/lordbasex/mdriver/internal/xerrors"
)

// Conn wraps a single go-sql-driver/mysql driver.Conn, exposing exactly
// the primitives internal/protocol needs: raw query/exec against the
// server, access to the underlying driver.Conn for Stmt preparation, and
// a Ping/Reconnect pair the failover and pool layers drive.
type Conn struct {
	connector driver.Connector
	raw       driver.Conn
	host      string // "host:port" this Conn is attached to, for error decoration
}

// Dial opens a transport connection to the host described by host/opts,
// translating spec.md §4.7's connect-procedure options (TLS posture,
// timeouts, capability flags) into go-sql-driver/mysql's mysql.Config
// fields. Session variables are not set here; internal/protocol applies
// them in its post-connect SET statement.
func Dial(ctx context.Context, host dsn.HostAddress, opts *dsn.Options) (*Conn, error) {
	cfg := mysql.NewConfig()
	cfg.User = opts.User
	cfg.Passwd = opts.Password
	cfg.DBName = opts.Database
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host.Host, host.Port)
	if opts.LocalSocket != "" {
		cfg.Net = "unix"
		cfg.Addr = opts.LocalSocket
	}

	cfg.Timeout = opts.ConnectTimeout
	cfg.ReadTimeout = opts.SocketTimeout
	cfg.WriteTimeout = opts.SocketTimeout
	cfg.AllowNativePasswords = true
	cfg.CheckConnLiveness = true
	cfg.InterpolateParams = false
	cfg.MultiStatements = opts.AllowMultiQueries
	cfg.AllowAllFiles = opts.AllowLocalInfile
	cfg.ClientFoundRows = !opts.UseAffectedRows
	cfg.ParseTime = true

	if opts.UseTLS {
		tlsName := fmt.Sprintf("mdriver-%s-%d", host.Host, host.Port)
		tlsConfig := &tls.Config{
			ServerName:         host.Host,
			InsecureSkipVerify: opts.TrustServerCertificate || opts.DisableSSLHostnameVerification,
		}
		if err := mysql.RegisterTLSConfig(tlsName, tlsConfig); err != nil {
			return nil, xerrors.Wrap(xerrors.KindNonTransientConnection, err, "registering TLS config")
		}
		cfg.TLSConfig = tlsName
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, xerrors.NewWithState(xerrors.KindNonTransientConnection, err.Error(), "08001", 0)
	}

	dialCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	raw, err := connector.Connect(dialCtx)
	if err != nil {
		return nil, xerrors.NewWithState(xerrors.KindTransientConnection, err.Error(), "08001", 0)
	}

	return &Conn{connector: connector, raw: raw, host: cfg.Addr}, nil
}

// Host returns the "host:port" this connection is attached to.
func (c *Conn) Host() string { return c.host }

// Raw exposes the underlying driver.Conn for internal/protocol to issue
// Prepare/Exec/Query calls and type-assert for ExecerContext/
// QueryerContext/ConnPrepareContext as go-sql-driver/mysql implements.
func (c *Conn) Raw() driver.Conn { return c.raw }

// Ping verifies liveness; go-sql-driver/mysql's driver.Conn implements
// driver.Pinger.
func (c *Conn) Ping(ctx context.Context) error {
	if pinger, ok := c.raw.(driver.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return xerrors.Wrap(xerrors.KindTransientConnection, err, "ping failed")
		}
		return nil
	}
	return nil
}

// Reconnect closes the stale underlying connection (best-effort) and
// opens a fresh one via the same connector, per spec.md §4.7's
// reconnect primitive.
func (c *Conn) Reconnect(ctx context.Context) error {
	if c.raw != nil {
		_ = c.raw.Close()
	}
	raw, err := c.connector.Connect(ctx)
	if err != nil {
		return xerrors.NewWithState(xerrors.KindTransientConnection, err.Error(), "08001", 0)
	}
	c.raw = raw
	return nil
}

// Close tears down the underlying connection.
func (c *Conn) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

// ExecContext runs sql with args using the raw driver.Conn, preferring
// driver.ExecerContext when available (go-sql-driver/mysql implements
// it) and falling back to Prepare+Exec otherwise.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if execer, ok := c.raw.(driver.ExecerContext); ok {
		return execer.ExecContext(ctx, query, args)
	}
	stmt, err := c.raw.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	return stmt.Exec(vals)
}

// QueryContext runs sql with args using the raw driver.Conn, preferring
// driver.QueryerContext when available.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if queryer, ok := c.raw.(driver.QueryerContext); ok {
		return queryer.QueryContext(ctx, query, args)
	}
	stmt, err := c.raw.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	return stmt.Query(vals)
}

// PrepareContext prepares query on the raw driver.Conn, preferring
// driver.ConnPrepareContext when available.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if prep, ok := c.raw.(driver.ConnPrepareContext); ok {
		return prep.PrepareContext(ctx, query)
	}
	return c.raw.Prepare(query)
}

// BeginTx starts a transaction, preferring driver.ConnBeginTx.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if beginner, ok := c.raw.(driver.ConnBeginTx); ok {
		return beginner.BeginTx(ctx, opts)
	}
	return c.raw.Begin()
}

// KillQuery opens a short-lived side-channel connection and issues KILL
// QUERY <threadID>, per spec.md §4.6's cancelCurrentQuery: it always
// opens its own connection rather than reusing the (possibly busy) owning
// connection's lock.
func KillQuery(ctx context.Context, host dsn.HostAddress, opts *dsn.Options, threadID uint32) error {
	side, err := Dial(ctx, host, opts)
	if err != nil {
		return err
	}
	defer side.Close()
	_, err = side.ExecContext(ctx, fmt.Sprintf("KILL QUERY %d", threadID), nil)
	return err
}

// ThreadID attempts to recover the server's connection/thread ID from
// the underlying go-sql-driver/mysql connection for use by KillQuery,
// via the optional interface it exposes on recent versions; 0 if
// unavailable.
func (c *Conn) ThreadID() uint32 {
	type threadIDer interface {
		ThreadID() uint32
	}
	if t, ok := c.raw.(threadIDer); ok {
		return t.ThreadID()
	}
	return 0
}

// DialTimeout is the default socket-level dial timeout applied when an
// Options value leaves ConnectTimeout at zero.
const DialTimeout = 10 * time.Second
