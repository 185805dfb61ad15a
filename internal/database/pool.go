package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"chatcourier/internal/constants"
)

// ErrPoolExhausted is returned by Acquire when every connection is in use.
// Callers should treat it as transient and retry, not as a fatal condition.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// Pool hands out scoped database connections with a hard upper bound. A small
// number of connections is opened up front; the rest are created on demand up
// to the cap. Connections are created under the pool mutex so the cap holds
// even when many goroutines race on Acquire.
type Pool struct {
	db *sql.DB

	mu     sync.Mutex
	idle   []*sql.Conn
	active int
	size   int
	closed bool
}

// NewPool wraps db with a bounded connection pool of the given size,
// pre-warming prewarm connections.
func NewPool(ctx context.Context, db *sql.DB, size, prewarm int) (*Pool, error) {
	if size <= 0 {
		size = constants.DefaultPoolSize
	}
	if prewarm < 0 || prewarm > size {
		prewarm = constants.DefaultPoolPrewarm
	}

	db.SetMaxOpenConns(size)

	p := &Pool{db: db, size: size}
	for i := 0; i < prewarm; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to pre-warm connection pool: %w", err)
		}
		p.idle = append(p.idle, conn)
	}

	return p, nil
}

// Acquire returns a scoped connection handle. The caller must Release it.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("connection pool is closed")
	}

	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.active++
		return &Handle{pool: p, conn: conn}, nil
	}

	if p.active >= p.size {
		return nil, ErrPoolExhausted
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open pooled connection: %w", err)
	}
	p.active++
	return &Handle{pool: p, conn: conn}, nil
}

// ActiveCount returns the number of handles currently checked out.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Close closes all idle connections and marks the pool closed. Handles still
// checked out are closed on release.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var firstErr error
	for _, conn := range p.idle {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.idle = nil
	return firstErr
}

func (p *Pool) release(conn *sql.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active--
	if p.closed || len(p.idle) >= p.size {
		_ = conn.Close()
		return
	}
	p.idle = append(p.idle, conn)
}

// Handle is a scoped database connection checked out from a Pool. It must not
// be shared across goroutines; Release returns it to the pool and is safe to
// call more than once.
type Handle struct {
	pool *Pool
	conn *sql.Conn

	mu       sync.Mutex
	released bool
}

// Conn exposes the underlying connection.
func (h *Handle) Conn() *sql.Conn {
	return h.conn
}

// Release returns the connection to the pool. Releasing twice is a no-op.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return
	}
	h.released = true
	h.pool.release(h.conn)
}
