/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package listener binds the proxy's TCP (and optional Unix) sockets,
// realizing ephemeral ports before any acceptor starts, the way
// httpserver.PoolServer binds a set of named servers in the teacher
// library.
package listener

import (
	"net"
	"os"
	"syscall"
	"time"

	liberr "github.com/nabbar/goproxy/errors"
	liblog "github.com/nabbar/goproxy/logger"
)

// AcceptPollInterval bounds how long Accept blocks before returning control
// to its caller, so a worker parked inside Accept notices a shutdown signal
// within one interval instead of hanging until the socket is closed.
const AcceptPollInterval = 500 * time.Millisecond

// Bound is a single realized listener: a live socket plus the address it
// ended up bound to (which, for an ephemeral --port=0 request, differs
// from the address requested).
type Bound struct {
	Name string
	Addr net.Addr
	ln   net.Listener
}

// Listener returns the underlying net.Listener, for callers that need the
// raw socket; prefer Accept for the rolling-deadline behavior.
func (b *Bound) Listener() net.Listener {
	return b.ln
}

// Accept arms a rolling AcceptPollInterval deadline, when the underlying
// listener supports one, and calls Accept. Callers should treat a
// net.Error with Timeout() == true as "no connection yet, check for
// shutdown and retry" rather than a fatal error.
func (b *Bound) Accept() (net.Conn, error) {
	if dl, ok := b.ln.(interface{ SetDeadline(time.Time) error }); ok {
		_ = dl.SetDeadline(time.Now().Add(AcceptPollInterval))
	}
	return b.ln.Accept()
}

// Pool is the ordered set of bound listeners. The Unix socket, when
// configured, is always at index 0 — acceptors poll it first.
type Pool interface {
	// Add binds host:port (TCP) and appends it to the pool. backlog is
	// only reported in the bind log; the socket listens with the system
	// default backlog.
	Add(name, host string, port int, backlog int) liberr.Error

	// AddUnix binds a Unix domain socket at path and inserts it at
	// index 0. backlog is not applied.
	AddUnix(name, path string, backlog int) liberr.Error

	// List returns every bound listener in pool order.
	List() []*Bound

	// RealizedAddrs returns the concrete addresses every listener ended
	// up bound to — used to populate --port-file after setup, per the
	// "do not re-read flags.port" rule.
	RealizedAddrs() []net.Addr

	// Shutdown closes every listener in reverse order.
	Shutdown()
}

type pool struct {
	items []*Bound
}

// New creates an empty listener Pool.
func New() Pool {
	return &pool{}
}

func (p *pool) Add(name, host string, port int, backlog int) liberr.Error {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctlErr error
			err := c.Control(func(fd uintptr) {
				ctlErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				if ctlErr == nil {
					ctlErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
				}
			})
			if err != nil {
				return err
			}
			return ctlErr
		},
	}

	addr := net.JoinHostPort(host, itoa(port))

	ln, err := lc.Listen(nil, "tcp", addr)
	if err != nil {
		return liberr.New(ErrorBind, err, "")
	}

	p.items = append(p.items, &Bound{Name: name, Addr: ln.Addr(), ln: ln})

	liblog.InfoLevel.Logf("listener '%s' bound on %s (requested backlog %d)", name, ln.Addr(), backlog)
	return nil
}

func (p *pool) AddUnix(name, path string, backlog int) liberr.Error {
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return liberr.New(ErrorBind, err, "")
	}

	b := &Bound{Name: name, Addr: ln.Addr(), ln: ln}
	p.items = append([]*Bound{b}, p.items...)

	liblog.InfoLevel.Logf("unix listener '%s' bound on %s", name, path)
	return nil
}

func (p *pool) List() []*Bound {
	return append(make([]*Bound, 0, len(p.items)), p.items...)
}

func (p *pool) RealizedAddrs() []net.Addr {
	out := make([]net.Addr, 0, len(p.items))
	for _, b := range p.items {
		out = append(out, b.Addr)
	}
	return out
}

func (p *pool) Shutdown() {
	for i := len(p.items) - 1; i >= 0; i-- {
		if err := p.items[i].ln.Close(); err != nil {
			liblog.WarnLevel.Logf("listener '%s' close error: %v", p.items[i].Name, err)
		}
	}
	p.items = nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
