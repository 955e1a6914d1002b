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

// Package acceptor spawns the worker pool that accepts connections off the
// shared listener pool and hands them to executors by round-robin, the
// Go-native counterpart of goproxy's multi-process acceptor workers.
package acceptor

import (
	"context"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	liberr "github.com/nabbar/goproxy/errors"
	"github.com/nabbar/goproxy/executor"
	"github.com/nabbar/goproxy/listener"
	liblog "github.com/nabbar/goproxy/logger"
)

// RespawnBackoff is how long a worker waits before re-arming a listener
// after a fatal (non-shutdown) accept error.
const RespawnBackoff = 250 * time.Millisecond

// Pool is the acceptor worker pool.
type Pool interface {
	// Start spawns the configured number of workers, one goroutine per
	// (worker, listener) pair, sharing the listener pool and
	// round-robining across targets.
	Start(ctx context.Context) liberr.Error

	// Shutdown stops every worker; already-accepted connections already
	// handed to an executor are unaffected.
	Shutdown()
}

type pool struct {
	listeners listener.Pool
	targets   []executor.Executor
	workers   int

	// coarse cross-process lock analogue: one weighted semaphore per
	// listener, serializing Accept across worker goroutines so they
	// don't thunder-herd a single listener on platforms without
	// SO_REUSEPORT-style kernel balancing.
	locks []*semaphore.Weighted

	nextTarget atomic.Uint64

	wg   sync.WaitGroup
	down atomic.Bool
}

// New builds an acceptor Pool. workers <= 0 defaults to the CPU count, per
// the "N = CPU count or configured" rule.
func New(listeners listener.Pool, targets []executor.Executor, workers int) Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	items := listeners.List()
	locks := make([]*semaphore.Weighted, len(items))
	for i := range locks {
		locks[i] = semaphore.NewWeighted(1)
	}

	return &pool{
		listeners: listeners,
		targets:   targets,
		workers:   workers,
		locks:     locks,
	}
}

func (p *pool) Start(ctx context.Context) liberr.Error {
	items := p.listeners.List()
	if len(items) == 0 {
		return liberr.New(ErrorNoListener, nil, "")
	}
	if len(p.targets) == 0 {
		return liberr.New(ErrorNoTarget, nil, "")
	}

	for w := 0; w < p.workers; w++ {
		for i, b := range items {
			p.wg.Add(1)
			go p.runWorker(ctx, w, i, b)
		}
	}
	return nil
}

func (p *pool) Shutdown() {
	p.down.Store(true)
	p.wg.Wait()
}

// runWorker arms one (workerIndex, listenerIndex) pair and respawns itself
// after RespawnBackoff on fatal (non-timeout) accept errors until shutdown
// or a ctx cancellation.
func (p *pool) runWorker(ctx context.Context, worker, idx int, b *listener.Bound) {
	defer p.wg.Done()

	for {
		if p.down.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.acceptLoop(ctx, idx, b); err != nil {
			if p.down.Load() {
				return
			}
			liblog.WarnLevel.Logf("acceptor worker %d on %s fatal: %v; respawning in %s", worker, b.Name, err, RespawnBackoff)
			time.Sleep(RespawnBackoff)
			continue
		}
		return
	}
}

func (p *pool) acceptLoop(ctx context.Context, idx int, b *listener.Bound) error {
	lock := p.locks[idx]

	for {
		if p.down.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := lock.Acquire(ctx, 1); err != nil {
			return nil
		}
		conn, err := b.Accept()
		lock.Release(1)

		if err != nil {
			if p.down.Load() || ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}

		p.dispatch(conn, b.Name)
	}
}

func (p *pool) dispatch(conn net.Conn, listenerName string) {
	n := p.nextTarget.Add(1) - 1
	target := p.targets[n%uint64(len(p.targets))]

	in := executor.Inbound{Conn: conn, Peer: conn.RemoteAddr(), Listener: listenerName}
	if err := target.Submit(in); err != nil {
		liblog.WarnLevel.Logf("dropping accepted connection from %s: %v", listenerName, err)
		_ = conn.Close()
	}
}
