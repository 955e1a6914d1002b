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

// Package goproxy wires the listener pool, acceptor pool, executor
// targets and protocol handler factory into one running proxy, the way
// httpserver.PoolServer assembles the teacher's named HTTP servers into one
// orchestrated lifecycle.
package goproxy

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/nabbar/goproxy/acceptor"
	"github.com/nabbar/goproxy/certs"
	liberr "github.com/nabbar/goproxy/errors"
	"github.com/nabbar/goproxy/event"
	"github.com/nabbar/goproxy/executor"
	"github.com/nabbar/goproxy/listener"
	liblog "github.com/nabbar/goproxy/logger"
	"github.com/nabbar/goproxy/plugin"
	"github.com/nabbar/goproxy/protocol"
)

// Endpoint is one configured (host, port) pair to listen on; Hostnames ×
// Ports in the CLI surface expands to a slice of these before New is
// called.
type Endpoint struct {
	Name string
	Host string
	Port int
}

// Config is everything the orchestrator needs to stand up the full
// listener → acceptor → executor → protocol.Handler pipeline.
type Config struct {
	Endpoints []Endpoint
	UnixPath  string
	Backlog   int

	// NumWorkers is the number of acceptor goroutines per listener;
	// defaults to runtime.NumCPU() when <= 0, mirroring --num-workers.
	NumWorkers int

	// NumExecutors is how many independent executor tick loops share
	// the acceptor's round-robin dispatch; defaults to runtime.NumCPU().
	NumExecutors int

	ExecutorTick time.Duration

	InterceptTLS bool
	Certs        *certs.Store
	Plugins      []plugin.Factory
	Bus          event.Bus

	IdleTimeout time.Duration
	RateLimit   int
	DialTimeout time.Duration
}

// Proxy is the assembled, runnable proxy engine.
type Proxy struct {
	cfg       Config
	listeners listener.Pool
	executors []executor.Executor
	acceptor  acceptor.Pool

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
}

// New binds every configured listener and builds the executor targets and
// acceptor pool, but does not start accepting connections; call Run for
// that. Listener realization happens here, before any acceptor starts, so
// RealizedAddrs is meaningful immediately after New returns.
func New(cfg Config) (*Proxy, liberr.Error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = runtime.NumCPU()
	}
	if cfg.NumExecutors <= 0 {
		cfg.NumExecutors = runtime.NumCPU()
	}
	if cfg.ExecutorTick <= 0 {
		cfg.ExecutorTick = executor.DefaultTick
	}

	lp := listener.New()
	for _, ep := range cfg.Endpoints {
		if err := lp.Add(ep.Name, ep.Host, ep.Port, cfg.Backlog); err != nil {
			return nil, err
		}
	}
	if cfg.UnixPath != "" {
		if err := lp.AddUnix("unix", cfg.UnixPath, cfg.Backlog); err != nil {
			return nil, err
		}
	}

	factory := protocol.NewFactory(protocol.Config{
		InterceptTLS: cfg.InterceptTLS,
		Certs:        cfg.Certs,
		Plugins:      cfg.Plugins,
		Bus:          cfg.Bus,
		IdleTimeout:  cfg.IdleTimeout,
		RateLimit:    cfg.RateLimit,
		DialTimeout:  cfg.DialTimeout,
	})

	targets := make([]executor.Executor, cfg.NumExecutors)
	for i := range targets {
		targets[i] = executor.New(factory, cfg.ExecutorTick)
	}

	ap := acceptor.New(lp, targets, cfg.NumWorkers)

	return &Proxy{cfg: cfg, listeners: lp, executors: targets, acceptor: ap}, nil
}

// RealizedAddrs returns the concrete bound address of every listener,
// including any ephemeral port assigned via port=0 — what a --port-file
// writer should persist.
func (p *Proxy) RealizedAddrs() []net.Addr {
	return p.listeners.RealizedAddrs()
}

// Run starts every executor tick loop and the acceptor pool, blocking
// until ctx is cancelled or Shutdown is called.
func (p *Proxy) Run(ctx context.Context) liberr.Error {
	if p.started {
		return liberr.New(ErrorAlreadyRunning, nil, "proxy already running")
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for _, ex := range p.executors {
		ex := ex
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := ex.Run(runCtx); err != nil {
				liblog.ErrorLevel.Logf("executor stopped: %v", err)
			}
		}()
	}

	if err := p.acceptor.Start(runCtx); err != nil {
		cancel()
		p.wg.Wait()
		return err
	}

	<-runCtx.Done()
	p.Shutdown()
	return nil
}

// Shutdown stops the acceptor, every executor, and closes every listener,
// in that order so no new connection can be accepted onto a dead executor.
func (p *Proxy) Shutdown() {
	p.acceptor.Shutdown()
	for _, ex := range p.executors {
		ex.Shutdown()
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.listeners.Shutdown()
	p.wg.Wait()
}

func (c Config) String() string {
	return fmt.Sprintf("goproxy(endpoints=%d workers=%d executors=%d intercept=%v)",
		len(c.Endpoints), c.NumWorkers, c.NumExecutors, c.InterceptTLS)
}
