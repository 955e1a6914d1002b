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

package acceptor_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/goproxy/acceptor"
	liberr "github.com/nabbar/goproxy/errors"
	"github.com/nabbar/goproxy/executor"
	"github.com/nabbar/goproxy/listener"
)

type fakeTarget struct {
	count atomic.Int32
}

func (f *fakeTarget) Submit(in executor.Inbound) liberr.Error {
	f.count.Add(1)
	_ = in.Conn.Close()
	return nil
}

func (f *fakeTarget) Run(ctx context.Context) liberr.Error { return nil }
func (f *fakeTarget) Shutdown()                            {}

func TestAcceptorDispatchesToTarget(t *testing.T) {
	lp := listener.New()
	require.NoError(t, lp.Add("main", "127.0.0.1", 0, 16))

	target := &fakeTarget{}
	p := acceptor.New(lp, []executor.Executor{target}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, p.Start(ctx))
	defer p.Shutdown()

	addr := lp.RealizedAddrs()[0].(*net.TCPAddr)

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", addr.String())
		require.NoError(t, err)
		conn.Close()
	}

	require.Eventually(t, func() bool {
		return target.count.Load() == 3
	}, time.Second, 10*time.Millisecond)
}

func TestAcceptorRejectsEmptyTargets(t *testing.T) {
	lp := listener.New()
	require.NoError(t, lp.Add("main", "127.0.0.1", 0, 16))

	p := acceptor.New(lp, nil, 1)
	err := p.Start(context.Background())
	require.Error(t, err)
	require.True(t, err.IsCode(acceptor.ErrorNoTarget))
}

func TestAcceptorRejectsEmptyListeners(t *testing.T) {
	lp := listener.New()
	target := &fakeTarget{}

	p := acceptor.New(lp, []executor.Executor{target}, 1)
	err := p.Start(context.Background())
	require.Error(t, err)
	require.True(t, err.IsCode(acceptor.ErrorNoListener))
}
