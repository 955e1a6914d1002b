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

package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	liberr "github.com/nabbar/goproxy/errors"
	liblog "github.com/nabbar/goproxy/logger"
)

// DefaultTick is the bounded poll timeout used when none is configured,
// chosen so inbox items and timers are serviced promptly without spinning.
const DefaultTick = time.Millisecond

// Executor is a single-threaded cooperative readiness loop: one goroutine,
// driving an arbitrary number of registered Works without any of them ever
// blocking.
type Executor interface {
	// Submit hands an accepted connection to this executor's fd inbox.
	Submit(in Inbound) liberr.Error

	// Run drives the tick loop until ctx is cancelled or Shutdown is
	// called. It returns once every registered Work has been torn down.
	Run(ctx context.Context) liberr.Error

	// Shutdown requests an orderly stop; all Works are torn down within
	// one tick.
	Shutdown()
}

type entry struct {
	work Work
	fds  []int
}

type executor struct {
	factory Factory
	tick    time.Duration
	poll    poller

	inbox chan Inbound

	mu      sync.Mutex
	entries map[Work]*entry

	down atomic.Bool
}

// New creates an Executor with the platform-appropriate poller.
func New(factory Factory, tick time.Duration) Executor {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &executor{
		factory: factory,
		tick:    tick,
		poll:    newPoller(),
		inbox:   make(chan Inbound, 256),
		entries: make(map[Work]*entry),
	}
}

func (e *executor) Submit(in Inbound) liberr.Error {
	if e.down.Load() {
		return liberr.New(ErrorShutdown, nil, "executor is shutting down")
	}
	select {
	case e.inbox <- in:
		return nil
	default:
		return liberr.New(ErrorBackpressure, nil, "executor inbox full")
	}
}

func (e *executor) Shutdown() {
	e.down.Store(true)
}

func (e *executor) Run(ctx context.Context) liberr.Error {
	defer e.teardownAll()

	for {
		if e.down.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		e.drainInbox()
		events := e.collectEvents()
		e.poll.Reconcile(events)

		readable, writable, err := e.poll.Poll(e.tick)
		if err != nil {
			liblog.ErrorLevel.Logf("executor poll error: %v", err)
			return liberr.New(ErrorIO, err, "")
		}

		e.dispatch(readable, writable)
		e.reapIdle()
	}
}

func (e *executor) drainInbox() {
	for {
		select {
		case in := <-e.inbox:
			e.register(in)
		default:
			return
		}
	}
}

func (e *executor) register(in Inbound) {
	w, err := e.factory(in)
	if err != nil {
		liblog.WarnLevel.Logf("work factory rejected inbound from %s: %v", in.Listener, err)
		_ = in.Conn.Close()
		return
	}

	if ierr := w.Initialize(); ierr != nil {
		liblog.WarnLevel.Logf("work initialize failed: %v", ierr)
		w.Shutdown()
		return
	}

	e.mu.Lock()
	e.entries[w] = &entry{work: w}
	e.mu.Unlock()
}

func (e *executor) collectEvents() map[int]EventMask {
	e.mu.Lock()
	defer e.mu.Unlock()

	union := make(map[int]EventMask)
	for w, en := range e.entries {
		want := w.GetEvents()
		fds := make([]int, 0, len(want))
		for fd, mask := range want {
			union[fd] |= mask
			fds = append(fds, fd)
		}
		en.fds = fds
	}
	return union
}

func (e *executor) dispatch(readable, writable []int) {
	readSet := toSet(readable)
	writeSet := toSet(writable)

	e.mu.Lock()
	done := make([]Work, 0)
	for w, en := range e.entries {
		var r, wr []int
		for _, fd := range en.fds {
			if readSet[fd] {
				r = append(r, fd)
			}
			if writeSet[fd] {
				wr = append(wr, fd)
			}
		}
		if len(r) == 0 && len(wr) == 0 {
			continue
		}
		if w.HandleEvents(r, wr) {
			done = append(done, w)
		}
	}
	for _, w := range done {
		delete(e.entries, w)
	}
	e.mu.Unlock()

	for _, w := range done {
		w.Shutdown()
	}
}

func (e *executor) reapIdle() {
	e.mu.Lock()
	idle := make([]Work, 0)
	for w := range e.entries {
		if w.IsInactive() {
			idle = append(idle, w)
		}
	}
	for _, w := range idle {
		delete(e.entries, w)
	}
	e.mu.Unlock()

	for _, w := range idle {
		w.Shutdown()
	}
}

func (e *executor) teardownAll() {
	e.mu.Lock()
	all := make([]Work, 0, len(e.entries))
	for w := range e.entries {
		all = append(all, w)
	}
	e.entries = make(map[Work]*entry)
	e.mu.Unlock()

	for _, w := range all {
		w.Shutdown()
	}
	_ = e.poll.Close()
}

func toSet(fds []int) map[int]bool {
	s := make(map[int]bool, len(fds))
	for _, fd := range fds {
		s[fd] = true
	}
	return s
}

// ConnFd extracts the raw file descriptor of a connection that supports
// syscall.Conn, for registration with the readiness selector.
func ConnFd(c syscall.Conn) (int, liberr.Error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return -1, liberr.New(ErrorIO, err, "")
	}

	var fd int
	cerr := raw.Control(func(f uintptr) {
		fd = int(f)
	})
	if cerr != nil {
		return -1, liberr.New(ErrorIO, cerr, "")
	}
	return fd, nil
}
