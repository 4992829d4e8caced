// Package pool implements spec.md §4.9/H3's thread-safe connection
// pool: a LIFO idle queue, min/max sizing, an idle reaper goroutine,
// and borrow/return semantics that call back into mdriver.Connection's
// ResetSession instead of tearing the connection down.
//
// The LIFO idle reuse, sync.Cond-guarded wait-for-release loop, and
// ticker-driven reaper are grounded on
// JeelKantaria-db-bouncer/internal/pool/pool.go's TenantPool.
package pool

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/lordbasex/mdriver"
	"github.com/lordbasex/mdriver/internal/logproxy"
)

// Config describes one pool's sizing and lifetime policy, the Go
// analogue of spec.md §4.9's pool configuration fields.
type Config struct {
	DSN string

	MinSize        int
	MaxSize        int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration

	// Name labels this pool's occupancy gauges in Metrics; defaults to
	// DSN when empty. Metrics is optional — nil disables reporting.
	Name    string
	Metrics *logproxy.Metrics
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 10
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	return c
}

type entry struct {
	conn      *mdriver.Connection
	createdAt time.Time
	idleSince time.Time
}

// Pool is a thread-safe pool of mdriver.Connection, borrowed as
// *PooledConnection and returned via its overridden Close.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg Config
	log *log.Logger

	idle   []*entry
	active map[*PooledConnection]struct{}
	total  int

	closed bool
	stopCh chan struct{}
}

// New creates a pool and starts its idle reaper. It does not pre-warm
// connections synchronously; callers wanting MinSize ready up front
// should call WarmUp.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	if cfg.Name == "" {
		cfg.Name = cfg.DSN
	}
	p := &Pool{
		cfg:    cfg,
		log:    log.New(os.Stderr, "[mdriver:pool] ", log.LstdFlags),
		active: make(map[*PooledConnection]struct{}),
		stopCh: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.reapLoop()
	return p
}

// reportStats pushes current occupancy to cfg.Metrics, if configured,
// per spec.md §H4's pool gauges. Safe to call with p.mu unheld.
func (p *Pool) reportStats() {
	if p.cfg.Metrics == nil {
		return
	}
	s := p.Stats()
	p.cfg.Metrics.SetPoolStats(p.cfg.Name, s.Active, s.Idle, s.Total)
}

// WarmUp opens up to cfg.MinSize idle connections synchronously.
func (p *Pool) WarmUp(ctx context.Context) error {
	defer p.reportStats()
	p.mu.Lock()
	need := p.cfg.MinSize - p.total
	p.mu.Unlock()
	for i := 0; i < need; i++ {
		conn, err := mdriver.OpenContext(ctx, p.cfg.DSN)
		if err != nil {
			return fmt.Errorf("pool warm-up: %w", err)
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return nil
		}
		p.total++
		p.idle = append(p.idle, &entry{conn: conn, createdAt: time.Now(), idleSince: time.Now()})
		p.mu.Unlock()
	}
	return nil
}

// Get borrows a connection, creating one if the pool is under MaxSize,
// or waiting for one to be returned otherwise, per spec.md §4.9.
func (p *Pool) Get(ctx context.Context) (*PooledConnection, error) {
	defer p.reportStats()
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: closed")
		}

		for len(p.idle) > 0 {
			e := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if p.cfg.MaxLifetime > 0 && time.Since(e.createdAt) > p.cfg.MaxLifetime {
				p.total--
				p.mu.Unlock()
				e.conn.Close()
				p.mu.Lock()
				continue
			}

			pc := &PooledConnection{Connection: e.conn, pool: p, entry: e}
			p.active[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		if p.total < p.cfg.MaxSize {
			p.total++
			p.mu.Unlock()

			conn, err := mdriver.OpenContext(ctx, p.cfg.DSN)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, fmt.Errorf("pool: dial %s: %w", p.cfg.DSN, err)
			}

			e := &entry{conn: conn, createdAt: time.Now()}
			pc := &PooledConnection{Connection: conn, pool: p, entry: e}
			p.mu.Lock()
			p.active[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: acquire timeout after %s", p.cfg.AcquireTimeout)
		}
		timer := time.AfterFunc(remaining, p.cond.Broadcast)
		p.cond.Wait()
		timer.Stop()
	}
}

func (p *Pool) release(pc *PooledConnection) error {
	defer p.reportStats()
	p.mu.Lock()
	delete(p.active, pc)
	if p.closed {
		p.total--
		p.mu.Unlock()
		return pc.Connection.Close()
	}
	p.mu.Unlock()

	if err := pc.Connection.ResetSession(context.Background()); err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		pc.Connection.Close()
		p.cond.Signal()
		return err
	}

	pc.entry.idleSince = time.Now()
	p.mu.Lock()
	if p.closed {
		p.total--
		p.mu.Unlock()
		return pc.Connection.Close()
	}
	p.idle = append(p.idle, pc.entry)
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// Stats reports the pool's current occupancy, consumed by
// internal/logproxy's pool gauges.
type Stats struct {
	Active int
	Idle   int
	Total  int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Active: len(p.active), Idle: len(p.idle), Total: p.total}
}

// Close closes every idle connection and marks the pool closed; any
// connection still checked out is closed as it is returned.
func (p *Pool) Close() error {
	defer p.reportStats()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	p.mu.Unlock()
	p.cond.Broadcast()

	var firstErr error
	for _, e := range idle {
		if err := e.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pool) reapLoop() {
	interval := p.cfg.IdleTimeout / 4
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	defer p.reportStats()
	p.mu.Lock()
	keep := p.idle[:0]
	var expired []*entry
	now := time.Now()
	for _, e := range p.idle {
		if p.total-len(expired) <= p.cfg.MinSize {
			keep = append(keep, e)
			continue
		}
		if now.Sub(e.idleSince) > p.cfg.IdleTimeout {
			expired = append(expired, e)
			continue
		}
		keep = append(keep, e)
	}
	p.idle = keep
	p.total -= len(expired)
	p.mu.Unlock()

	for _, e := range expired {
		if err := e.conn.Close(); err != nil {
			p.log.Printf("closing reaped idle connection: %v", err)
		}
	}
}

// PooledConnection wraps a borrowed *mdriver.Connection; its Close
// returns the connection to the pool (after ResetSession) instead of
// tearing down the underlying session, per spec.md §4.9's borrow/return
// contract.
type PooledConnection struct {
	*mdriver.Connection
	pool  *Pool
	entry *entry
}

// Close returns the connection to its owning pool.
func (pc *PooledConnection) Close() error { return pc.pool.release(pc) }
