package pool

import (
	"context"
)

// DataSource is the JDBC javax.sql.DataSource analogue from spec.md
// §4.9/H3: a named, pooled connection factory applications hold for the
// lifetime of the process rather than dialing per request.
type DataSource struct {
	name string
	pool *Pool
}

// NewDataSource creates a DataSource backed by a freshly constructed
// Pool.
func NewDataSource(name string, cfg Config) *DataSource {
	if cfg.Name == "" {
		cfg.Name = name
	}
	return &DataSource{name: name, pool: New(cfg)}
}

// Name returns the DataSource's configured name, used as the registry
// key and as a label by internal/logproxy's pool metrics.
func (ds *DataSource) Name() string { return ds.name }

// GetConnection borrows a pooled connection, blocking up to the pool's
// AcquireTimeout (or ctx's own deadline, if earlier).
func (ds *DataSource) GetConnection(ctx context.Context) (*PooledConnection, error) {
	return ds.pool.Get(ctx)
}

// Stats reports current pool occupancy.
func (ds *DataSource) Stats() Stats { return ds.pool.Stats() }

// WarmUp eagerly opens the pool's configured minimum connections.
func (ds *DataSource) WarmUp(ctx context.Context) error { return ds.pool.WarmUp(ctx) }

// Close shuts the DataSource's pool down, closing every idle connection.
func (ds *DataSource) Close() error { return ds.pool.Close() }
