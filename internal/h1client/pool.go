// Package h1client implements spec.md §4.4: a per-host HTTP/1.1 client
// with a bounded idle-connection pool. It formats and parses the wire
// protocol with the standard library's http.Request.Write/http.ReadResponse
// (no pack library reimplements HTTP/1.1 framing independently of
// net/http — see DESIGN.md), but owns connection lifecycle, pooling, and
// the keep-alive state machine itself rather than delegating to
// http.Transport, since spec.md names explicit per-key capacity and idle
// timers the stdlib Transport does not expose as first-class knobs.
package h1client

import (
	"container/list"
	"context"
	"net"
	"sync"
	"time"
)

// Key identifies a connection pool bucket, per spec.md §3 "Connection
// Pool Key": (scheme, host, port).
type Key struct {
	Scheme string
	Host   string
	Port   string
}

// connState is the per-connection state machine of spec.md §4.4.
type connState int

const (
	stateIdle connState = iota
	stateSending
	stateReceiving
	stateClosed
)

// pooledConn wraps a net.Conn with the bookkeeping the pool needs to
// enforce idle timers and per-key capacity.
type pooledConn struct {
	conn      net.Conn
	state     connState
	idleSince time.Time
	key       Key
}

// Pool bounds idle HTTP/1.1 connections per key and discards any
// connection that observed a framing error, peer close, or 5xx from an
// intermediary, per spec.md §4.4.
type Pool struct {
	mu          sync.Mutex
	maxPerHost  int
	idleTimeout time.Duration
	idle        map[Key]*list.List // list of *pooledConn
	inFlight    map[Key]int
	now         func() time.Time
	dial        func(ctx context.Context, key Key) (net.Conn, error)
}

// Config configures a Pool.
type Config struct {
	MaxConnectionsPerHost int           // default 6
	IdleTimeout           time.Duration // default 90s
	// Dial opens a fresh connection for key, honoring ctx's deadline for
	// the connect phase (spec.md §7).
	Dial func(ctx context.Context, key Key) (net.Conn, error)
}

// New returns a Pool per cfg.
func New(cfg Config) *Pool {
	maxPerHost := cfg.MaxConnectionsPerHost
	if maxPerHost <= 0 {
		maxPerHost = 6
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}
	return &Pool{
		maxPerHost:  maxPerHost,
		idleTimeout: idleTimeout,
		idle:        make(map[Key]*list.List),
		inFlight:    make(map[Key]int),
		now:         time.Now,
		dial:        cfg.Dial,
	}
}

// capacityError is returned by Acquire when a key is already at capacity
// and has no reusable idle connection.
type capacityError struct{ key Key }

func (e capacityError) Error() string { return "connection pool at capacity for this host" }

// Acquire returns a connection for key, reusing a live idle connection
// when one exists, dialing a new one when the key is under capacity, or
// failing with a capacity error when neither is possible. Expired idle
// connections are closed and discarded as they are encountered, per
// spec.md §4.4. reused reports whether the returned connection came from
// the idle pool rather than a fresh dial, which the caller needs to know
// whether a write/read failure is eligible for the idle-closed-connection
// retry of spec.md §7.
func (p *Pool) Acquire(ctx context.Context, key Key) (conn net.Conn, reused bool, err error) {
	p.mu.Lock()
	if lst, ok := p.idle[key]; ok {
		for lst.Len() > 0 {
			el := lst.Front()
			lst.Remove(el)
			pc := el.Value.(*pooledConn)
			if p.now().Sub(pc.idleSince) > p.idleTimeout {
				pc.conn.Close()
				continue
			}
			pc.state = stateSending
			p.inFlight[key]++
			p.mu.Unlock()
			return pc.conn, true, nil
		}
	}
	if p.inFlight[key] >= p.maxPerHost {
		p.mu.Unlock()
		return nil, false, capacityError{key: key}
	}
	p.inFlight[key]++
	p.mu.Unlock()

	conn, err = p.dial(ctx, key)
	if err != nil {
		p.mu.Lock()
		p.inFlight[key]--
		p.mu.Unlock()
		return nil, false, err
	}
	return conn, false, nil
}

// AcquireFresh dials a brand-new connection for key, bypassing the idle
// pool entirely. Used for the single idempotent-method retry after a
// reused connection turns out to have been closed by the peer.
func (p *Pool) AcquireFresh(ctx context.Context, key Key) (net.Conn, error) {
	p.mu.Lock()
	if p.inFlight[key] >= p.maxPerHost {
		p.mu.Unlock()
		return nil, capacityError{key: key}
	}
	p.inFlight[key]++
	p.mu.Unlock()

	conn, err := p.dial(ctx, key)
	if err != nil {
		p.mu.Lock()
		p.inFlight[key]--
		p.mu.Unlock()
		return nil, err
	}
	return conn, nil
}

// Release returns conn to the idle pool for reuse, or discards it when
// healthy is false (framing error, peer close, or 5xx from a proxy).
func (p *Pool) Release(key Key, conn net.Conn, healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight[key]--
	if !healthy {
		conn.Close()
		return
	}
	lst, ok := p.idle[key]
	if !ok {
		lst = list.New()
		p.idle[key] = lst
	}
	lst.PushFront(&pooledConn{conn: conn, state: stateIdle, idleSince: p.now(), key: key})
}

// Discard closes conn without returning it to the pool, for protocol
// errors detected mid-request.
func (p *Pool) Discard(key Key, conn net.Conn) {
	p.mu.Lock()
	p.inFlight[key]--
	p.mu.Unlock()
	conn.Close()
}

// IdleLen reports the number of idle connections pooled for key, for tests.
func (p *Pool) IdleLen(key Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lst, ok := p.idle[key]; ok {
		return lst.Len()
	}
	return 0
}
