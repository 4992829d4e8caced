// Package mdriver is a JDBC-shaped MariaDB/MySQL client library: a
// Driver/Connection/Statement/PreparedStatement/CallableStatement/
// ResultSet surface built over go-sql-driver/mysql's low-level
// database/sql/driver connector (internal/transport), with its own
// connection lifecycle, query execution engine, prepared-statement
// cache, failover proxy, and error taxonomy (see SPEC_FULL.md).
//
// mdriver also registers itself as a database/sql/driver.Driver under
// the name "mdriver" so callers that only need database/sql ergonomics
// can do sql.Open("mdriver", dsn); callers that want the richer surface
// (scroll cursors, batch strategy selection, OUT parameters) use
// mdriver.Open directly.
package mdriver

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/lordbasex/mdriver/internal/dsn"
)

func init() {
	sql.Register("mdriver", &Driver{})
}

// Driver implements database/sql/driver.Driver and driver.DriverContext.
type Driver struct{}

// Open parses name as an mdriver DSN (spec.md §6.2) and returns a
// database/sql/driver.Conn backed by a fully bootstrapped Connection.
func (d *Driver) Open(name string) (driver.Conn, error) {
	conn, err := Open(name)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// OpenConnector implements driver.DriverContext so database/sql can
// defer DSN parsing errors to Connect time and reuse the parsed Options
// across pooled connections without re-parsing the DSN string.
func (d *Driver) OpenConnector(name string) (driver.Connector, error) {
	opts, err := dsn.Parse(name)
	if err != nil {
		return nil, err
	}
	return &connector{opts: opts}, nil
}

type connector struct {
	opts *dsn.Options
}

func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	return openWithOptions(ctx, c.opts)
}

func (c *connector) Driver() driver.Driver { return &Driver{} }

// Open parses dsnString (spec.md §6.2 URL form, bare "host[:port][/db]
// [?opts]" accepted and normalized) and runs the full connect procedure
// from spec.md §4.7, returning a ready-to-use Connection.
func Open(dsnString string) (*Connection, error) {
	opts, err := dsn.Parse(dsnString)
	if err != nil {
		return nil, err
	}
	return openWithOptions(context.Background(), opts)
}

// OpenContext is Open with an explicit context governing the connect
// procedure's timeouts.
func OpenContext(ctx context.Context, dsnString string) (*Connection, error) {
	opts, err := dsn.Parse(dsnString)
	if err != nil {
		return nil, err
	}
	return openWithOptions(ctx, opts)
}
