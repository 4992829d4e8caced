package protocol

import (
	"context"
	"database/sql/driver"
	"strconv"
	"strings"
	"sync"

	"github.com/lordbasex/mdriver/internal/dsn"
	"github.com/lordbasex/mdriver/internal/prepare"
	"github.com/lordbasex/mdriver/internal/resultset"
	"github.com/lordbasex/mdriver/internal/transport"
	"github.com/lordbasex/mdriver/internal/xerrors"
)

// Protocol is the per-connection state machine from spec.md §4.6/§4.7:
// one mutex-guarded wire connection, its session-state snapshot, its
// prepared-statement cache, and the active streaming result, if any.
// Exactly one goroutine holds lock for the duration of a wire exchange,
// per spec.md §5.
type Protocol struct {
	mu sync.Mutex

	opts    *dsn.Options
	hostIdx int
	conn    *transport.Conn

	connected  bool
	hostFailed bool
	interrupted bool

	tracker StateTracker

	transactionIsolationLevel IsolationLevel

	serverVersion    string
	serverMariaDB    bool
	maxAllowedPacket int64
	systemTimeZone   string
	timeZone         string
	isMaster         bool // Aurora writer identification, §4.7 step 6

	activeStreamingResult *resultset.ResultSet
	psCache               *prepare.Cache
}

// New builds a Protocol for opts, not yet connected.
func New(opts *dsn.Options) *Protocol {
	p := &Protocol{opts: opts}
	p.psCache = prepare.NewCache(opts.PrepStmtCacheSize, opts.PrepStmtCacheSQLLimit, p.tryLockNonBlocking)
	return p
}

// tryLockNonBlocking offers the prepared-statement cache a non-blocking
// lock acquisition for forceReleasePrepareStatement, per spec.md §4.5
// step 3 / §5.
func (p *Protocol) tryLockNonBlocking() (func(), bool) {
	if !p.mu.TryLock() {
		return nil, false
	}
	return p.mu.Unlock, true
}

// Connect runs the ordered connect procedure from spec.md §4.7. On any
// failure it destroys the socket and leaves Protocol connectable again,
// raising a SQLException whose SQLState starts with 08.
func (p *Protocol) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked(ctx)
}

func (p *Protocol) connectLocked(ctx context.Context) error {
	if len(p.opts.Hosts) == 0 {
		return xerrors.NewWithState(xerrors.KindNonTransientConnection, "no host configured", "08001", 0)
	}

	var lastErr error
	for i, host := range p.opts.Hosts {
		// Step 1: socket creation, timeouts, TCP tuning — internal/transport
		// translates these opts fields into mysql.Config directly.
		conn, err := transport.Dial(ctx, host, p.opts)
		if err != nil {
			lastErr = err
			continue
		}

		// Steps 2-5 (charset selection, capability computation, TLS
		// handshake, authentication) are delegated wholesale to
		// go-sql-driver/mysql inside transport.Dial: the transport
		// capability spec.md names as externally supplied owns the wire
		// handshake itself, per SPEC_FULL.md §0.
		if err := p.postConnectBootstrap(ctx, conn); err != nil {
			conn.Close()
			lastErr = err
			continue
		}

		p.conn = conn
		p.hostIdx = i
		p.connected = true
		p.hostFailed = false
		p.interrupted = false
		p.activeStreamingResult = nil
		p.transactionIsolationLevel = IsolationDefault
		return nil
	}

	if lastErr == nil {
		lastErr = xerrors.NewWithState(xerrors.KindNonTransientConnection, "unable to connect to any configured host", "08001", 0)
	}
	se, ok := xerrors.AsSQLException(lastErr)
	if !ok {
		return xerrors.Wrap(xerrors.KindNonTransientConnection, lastErr, "connect failed")
	}
	return se
}

// postConnectBootstrap implements spec.md §4.7 step 6-7: session init,
// variable round trip, Aurora writer check, version parsing.
func (p *Protocol) postConnectBootstrap(ctx context.Context, conn *transport.Conn) error {
	setStmt := p.buildSessionInitStatement()
	if setStmt != "" {
		if _, err := conn.ExecContext(ctx, setStmt, nil); err != nil {
			return xerrors.Wrap(xerrors.KindNonTransientConnection, err, "session init failed")
		}
	}

	if p.opts.CreateDatabaseIfNotExist && p.opts.Database != "" {
		create := "CREATE DATABASE IF NOT EXISTS `" + p.opts.Database + "`"
		if _, err := conn.ExecContext(ctx, create, nil); err != nil {
			return xerrors.Wrap(xerrors.KindNonTransientConnection, err, "create database failed")
		}
		if _, err := conn.ExecContext(ctx, "USE `"+p.opts.Database+"`", nil); err != nil {
			return xerrors.Wrap(xerrors.KindNonTransientConnection, err, "use database failed")
		}
	}

	vars, err := queryScalarRow(ctx, conn,
		"SELECT @@max_allowed_packet, @@system_time_zone, @@time_zone, @@auto_increment_increment, @@version")
	if err != nil {
		return xerrors.Wrap(xerrors.KindNonTransientConnection, err, "session variable round trip failed")
	}
	if len(vars) == 5 {
		p.maxAllowedPacket = toInt64(vars[0])
		p.systemTimeZone = toString(vars[1])
		p.timeZone = toString(vars[2])
		p.tracker.AutoIncrementIncrement = toInt64(vars[3])
		p.setServerVersion(toString(vars[4]))
	}

	if p.opts.HAMode == dsn.HAAurora {
		row, err := queryScalarRow(ctx, conn, "SELECT @@innodb_read_only")
		if err == nil && len(row) == 1 {
			p.isMaster = toInt64(row[0]) == 0
		}
	}

	p.tracker.Database = p.opts.Database
	return nil
}

// buildSessionInitStatement composes the single SET statement spec.md
// §4.7 step 6 describes, folding autocommit, session tracking (best
// effort — see state.go's note on SESSION_TRACK unavailability through
// database/sql/driver, kept here only as a documented intent the server
// is still told about) and the STRICT_TRANS_TABLES sql_mode addition.
func (p *Protocol) buildSessionInitStatement() string {
	var parts []string
	if p.opts.Autocommit {
		parts = append(parts, "autocommit=1")
	} else {
		parts = append(parts, "autocommit=0")
	}
	parts = append(parts,
		"session_track_schema=1",
		"session_track_system_variables='auto_increment_increment'",
		"sql_mode=concat(@@sql_mode,',STRICT_TRANS_TABLES')",
	)
	if p.opts.SessionVariables != "" {
		parts = append(parts, p.opts.SessionVariables)
	}
	return "SET " + strings.Join(parts, ", ")
}

// setServerVersion strips the "5.5.5-" MariaDB-through-replication
// prefix per spec.md §4.7 step 7 and records serverMariaDB accordingly.
func (p *Protocol) setServerVersion(version string) {
	const compatPrefix = "5.5.5-"
	if strings.HasPrefix(version, compatPrefix) {
		version = version[len(compatPrefix):]
	}
	p.serverVersion = version
	p.serverMariaDB = strings.Contains(strings.ToLower(version), "mariadb")
}

// Reconnect implements spec.md §4.7's "reconnect": holds the lock,
// invokes the transport's reconnect primitive, repeats the session
// bootstrap, and transitions connected back to true.
func (p *Protocol) Reconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconnectLocked(ctx)
}

func (p *Protocol) reconnectLocked(ctx context.Context) error {
	if p.conn != nil {
		if err := p.conn.Reconnect(ctx); err == nil {
			if err := p.postConnectBootstrap(ctx, p.conn); err == nil {
				p.connected = true
				p.hostFailed = false
				p.activeStreamingResult = nil
				p.transactionIsolationLevel = IsolationDefault
				return nil
			}
		}
	}
	// Fall through to a fresh connect attempt against the configured
	// host list (covers both "no existing conn" and "resume failed").
	return p.connectLocked(ctx)
}

// Close tears down the connection for good.
func (p *Protocol) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.psCache.Close()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// Abort reads the thread id even without the lock, opens a side channel
// and issues KILL QUERY <threadId>, then closes the connection (Close
// waits for the lock, which the killed exchange releases), per
// spec.md §5's try_lock semantics for abort().
func (p *Protocol) Abort(ctx context.Context) error {
	threadID, host := p.snapshotForSideChannel()
	if threadID == 0 {
		return p.Close()
	}
	if err := transport.KillQuery(ctx, host, p.opts, threadID); err != nil {
		return err
	}
	return p.Close()
}

// CancelCurrentQuery always opens its own secondary connection and
// issues KILL QUERY <serverThreadId> — it does not need the owning
// lock, per spec.md §4.6/§5.
func (p *Protocol) CancelCurrentQuery(ctx context.Context) error {
	threadID, host := p.snapshotForSideChannel()
	if threadID == 0 {
		return xerrors.New(xerrors.KindInvalidArgument, "cancelCurrentQuery: no active connection")
	}
	return transport.KillQuery(ctx, host, p.opts, threadID)
}

func (p *Protocol) snapshotForSideChannel() (uint32, dsn.HostAddress) {
	// An in-flight exchange holds p.mu until it finishes, so the lock is
	// only taken when it is free; otherwise the fields are read without it.
	if p.mu.TryLock() {
		defer p.mu.Unlock()
	}
	if p.conn == nil {
		return 0, dsn.HostAddress{}
	}
	var host dsn.HostAddress
	if p.hostIdx < len(p.opts.Hosts) {
		host = p.opts.Hosts[p.hostIdx]
	}
	return p.conn.ThreadID(), host
}

// Interrupt sets the flag the next I/O call honors by raising
// SQLTimeoutException, per spec.md §4.6's interrupt().
func (p *Protocol) Interrupt() {
	p.mu.Lock()
	p.interrupted = true
	p.mu.Unlock()
}

// IsMaster reports the Aurora writer identification from connect, used
// by the failover proxy's read-only-target detection (spec.md §4.8).
func (p *Protocol) IsMaster() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isMaster
}

// Connected reports whether this Protocol believes it holds a live
// connection.
func (p *Protocol) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Host returns the "host:port" of the currently connected host.
func (p *Protocol) Host() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return ""
	}
	return p.conn.Host()
}

// queryScalarRow runs a single-row SELECT and returns its column values,
// used for the connect-time variable round trip. It bypasses
// internal/resultset (no scrolling/coercion needed for this internal
// bootstrap query) and reads directly off driver.Rows.
func queryScalarRow(ctx context.Context, conn *transport.Conn, query string) ([]driver.Value, error) {
	rows, err := conn.QueryContext(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dest := make([]driver.Value, len(rows.Columns()))
	if err := rows.Next(dest); err != nil {
		return nil, err
	}
	return dest, nil
}

func toInt64(v driver.Value) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case []byte:
		n, _ := strconv.ParseInt(string(t), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func toString(v driver.Value) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}
