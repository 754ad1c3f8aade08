// Package pool keeps SSH connections open between invocations in one process.
//
// There is one entry per host. Connecting to a host is serialized by that
// host's lock, so two concurrent requests to "dgx" share a single dial while a
// request to "workstation" proceeds in parallel. Once connected, a client is
// shared: SSH multiplexes sessions, so handles never wait on each other.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/logger"
	"github.com/rileyhilliard/forkterm/pkg/sshutil"
)

// DefaultIdleTimeout is how long an unused connection stays pooled.
const DefaultIdleTimeout = 5 * time.Minute

// DefaultProbeTimeout bounds the keepalive sent before reusing a connection.
const DefaultProbeTimeout = 5 * time.Second

// Dialer opens a new connection to the named host.
type Dialer func(ctx context.Context, host string) (sshutil.SSHClient, error)

// Pool manages one pooled SSH connection per host.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	dial         Dialer
	idleTimeout  time.Duration
	probeTimeout time.Duration
	now          func() time.Time
	log          logger.Logger

	stopJanitor chan struct{}
	janitorOnce sync.Once
}

// entry is a host's slot. conn is the connection new acquirers get; refs
// counts acquirers in flight plus handles still held, so the slot outlives
// both. Fields other than lock are guarded by Pool.mu; lock serializes
// connecting.
type entry struct {
	lock     chan struct{}
	conn     *conn
	lastUsed time.Time
	refs     int
}

// conn is one SSH connection and the handles using it. A retired conn is no
// longer handed out and is closed when its last handle lets go.
type conn struct {
	client  sshutil.SSHClient
	refs    int
	retired bool
	closed  bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithIdleTimeout sets how long an unused connection is kept before Reap closes it.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.idleTimeout = d
		}
	}
}

// WithProbeTimeout bounds the liveness check on a pooled connection. A
// connection that doesn't answer in time is treated as dead.
func WithProbeTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.probeTimeout = d
		}
	}
}

// WithLogger sets the pool's logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Pool) {
		if log != nil {
			p.log = log
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// New creates an empty pool that opens connections with dial.
func New(dial Dialer, opts ...Option) *Pool {
	p := &Pool{
		entries:      make(map[string]*entry),
		dial:         dial,
		idleTimeout:  DefaultIdleTimeout,
		probeTimeout: DefaultProbeTimeout,
		now:          time.Now,
		log:          logger.Noop(),
		stopJanitor:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle is one checkout of a pooled connection. Exactly one of Release or
// Discard takes effect; later calls are no-ops.
type Handle struct {
	pool   *Pool
	host   string
	entry  *entry
	conn   *conn
	reused bool
	once   sync.Once
}

// Client returns the connection.
func (h *Handle) Client() sshutil.SSHClient { return h.conn.client }

// Host returns the pool key the handle was acquired under.
func (h *Handle) Host() string { return h.host }

// Reused reports whether the connection existed before this checkout.
func (h *Handle) Reused() bool { return h.reused }

// Release returns the connection to the pool for reuse.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.pool.release(h, false)
	})
}

// Discard takes the connection out of the pool, for connections that timed
// out or failed and cannot be assumed reusable. Other handles on the same
// connection keep working; it is closed when the last of them lets go.
func (h *Handle) Discard() {
	h.once.Do(func() {
		h.pool.release(h, true)
	})
}

// Acquire returns a live connection to host, dialing one if the pool has none.
func (p *Pool) Acquire(ctx context.Context, host string) (*Handle, error) {
	e, err := p.entryFor(host)
	if err != nil {
		return nil, err
	}

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		p.drop(host, e)
		return nil, contextError(ctx, host)
	}
	defer func() { <-e.lock }()

	if cn := p.current(e); cn != nil {
		alive, err := p.alive(ctx, cn.client)
		if err != nil {
			p.drop(host, e)
			return nil, contextError(ctx, host)
		}
		if alive && p.checkout(e, cn) {
			p.log.Debug("reusing connection to %s", host)
			return &Handle{pool: p, host: host, entry: e, conn: cn, reused: true}, nil
		}
		if p.retire(e, cn) {
			p.log.Debug("pooled connection to %s is dead, reconnecting", host)
		}
	}

	if ctx.Err() != nil {
		p.drop(host, e)
		return nil, contextError(ctx, host)
	}

	c, err := p.dial(ctx, host)
	if err != nil {
		p.drop(host, e)
		return nil, err
	}
	cn, ok := p.install(e, c)
	if !ok {
		p.drop(host, e)
		_ = c.Close()
		return nil, errClosed(host)
	}
	p.log.Debug("connected to %s", host)
	return &Handle{pool: p, host: host, entry: e, conn: cn}, nil
}

// alive sends a keepalive, bounded by ctx and the probe timeout. A probe
// that times out reports a dead connection; a done ctx reports an error.
func (p *Pool) alive(ctx context.Context, c sshutil.SSHClient) (bool, error) {
	result := make(chan bool, 1)
	go func() { result <- sshutil.Alive(c) }()

	timer := time.NewTimer(p.probeTimeout)
	defer timer.Stop()
	select {
	case ok := <-result:
		return ok, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// entryFor returns the host's slot with a reference held for the caller.
func (p *Pool) entryFor(host string) (*entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errClosed(host)
	}
	e, ok := p.entries[host]
	if !ok {
		e = &entry{lock: make(chan struct{}, 1)}
		p.entries[host] = e
	}
	e.refs++
	return e, nil
}

// drop gives up the caller's reference to e.
func (p *Pool) drop(host string, e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.refs--
	p.forgetLocked(host, e)
}

// forgetLocked deletes an entry nobody holds and that has no connection.
func (p *Pool) forgetLocked(host string, e *entry) {
	if e.refs <= 0 && e.conn == nil && p.entries[host] == e {
		delete(p.entries, host)
	}
}

func (p *Pool) current(e *entry) *conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return e.conn
}

// checkout takes a reference on cn if it is still the entry's connection.
func (p *Pool) checkout(e *entry, cn *conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.conn != cn {
		return false
	}
	cn.refs++
	e.lastUsed = p.now()
	return true
}

// retire takes cn out of the entry, closing it now if no handle uses it.
// It reports whether cn was still pooled.
func (p *Pool) retire(e *entry, cn *conn) bool {
	p.mu.Lock()
	pooled := e.conn == cn
	if pooled {
		e.conn = nil
		cn.retired = true
	}
	closeNow := pooled && cn.refs == 0 && !cn.closed
	if closeNow {
		cn.closed = true
	}
	p.mu.Unlock()
	if closeNow {
		_ = cn.client.Close()
	}
	return pooled
}

func (p *Pool) install(e *entry, c sshutil.SSHClient) (*conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false
	}
	cn := &conn{client: c, refs: 1}
	e.conn = cn
	e.lastUsed = p.now()
	return cn, true
}

func (p *Pool) release(h *Handle, discard bool) {
	p.mu.Lock()
	e, cn := h.entry, h.conn
	cn.refs--
	e.refs--
	if e.conn == cn {
		e.lastUsed = p.now()
		if discard {
			e.conn = nil
			cn.retired = true
		}
	}
	closeNow := cn.retired && cn.refs <= 0 && !cn.closed
	if closeNow {
		cn.closed = true
	}
	p.forgetLocked(h.host, e)
	p.mu.Unlock()

	if discard {
		p.log.Debug("discarding connection to %s", h.host)
	}
	if closeNow {
		_ = cn.client.Close()
	}
}

// Reap closes connections that have been idle longer than the idle timeout
// and returns how many it closed. Connections in use are never reaped.
func (p *Pool) Reap() int {
	p.mu.Lock()
	var stale []sshutil.SSHClient
	cutoff := p.now().Add(-p.idleTimeout)
	for host, e := range p.entries {
		if cn := e.conn; cn != nil && cn.refs == 0 && !e.lastUsed.After(cutoff) {
			p.log.Debug("closing idle connection to %s", host)
			stale = append(stale, cn.client)
			cn.retired, cn.closed = true, true
			e.conn = nil
		}
		p.forgetLocked(host, e)
	}
	p.mu.Unlock()

	for _, c := range stale {
		_ = c.Close()
	}
	return len(stale)
}

// StartJanitor reaps idle connections every interval until CloseAll.
func (p *Pool) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = p.idleTimeout / 2
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Reap()
			case <-p.stopJanitor:
				return
			}
		}
	}()
}

// CloseAll closes every pooled connection and stops the janitor. The pool
// rejects further Acquire calls.
func (p *Pool) CloseAll() {
	p.janitorOnce.Do(func() { close(p.stopJanitor) })

	p.mu.Lock()
	p.closed = true
	var clients []sshutil.SSHClient
	for host, e := range p.entries {
		if cn := e.conn; cn != nil && !cn.closed {
			clients = append(clients, cn.client)
			cn.retired, cn.closed = true, true
			e.conn = nil
		}
		delete(p.entries, host)
	}
	p.mu.Unlock()

	for _, c := range clients {
		_ = c.Close()
	}
}

// Size returns the number of hosts with a pooled connection.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		if e.conn != nil {
			n++
		}
	}
	return n
}

// Hosts returns the hosts with a pooled connection, sorted.
func (p *Pool) Hosts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var hosts []string
	for h, e := range p.entries {
		if e.conn != nil {
			hosts = append(hosts, h)
		}
	}
	sort.Strings(hosts)
	return hosts
}

// InUse returns how many handles hold host's pooled connection.
func (p *Pool) InUse(host string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[host]; ok && e.conn != nil {
		return e.conn.refs
	}
	return 0
}

// Entries returns how many host slots the pool is tracking, including ones
// whose connection was retired but is still held.
func (p *Pool) Entries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func errClosed(host string) *errors.Error {
	return errors.New(errors.ErrConnectivity,
		fmt.Sprintf("Connection pool is closed, can't connect to %s", host),
		"")
}

func contextError(ctx context.Context, host string) *errors.Error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.WrapWithCode(ctx.Err(), errors.ErrTimeout,
			fmt.Sprintf("Timed out waiting for a connection to %s", host),
			"Another request to this host is still connecting. Try again shortly.")
	}
	return errors.WrapWithCode(ctx.Err(), errors.ErrCancelled,
		fmt.Sprintf("Cancelled while connecting to %s", host),
		"")
}
