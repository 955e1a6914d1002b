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

package goproxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRealizesEphemeralPort(t *testing.T) {
	p, err := New(Config{
		Endpoints:    []Endpoint{{Name: "http", Host: "127.0.0.1", Port: 0}},
		NumWorkers:   1,
		NumExecutors: 1,
	})
	require.Nil(t, err)
	require.NotNil(t, p)

	addrs := p.RealizedAddrs()
	require.Len(t, addrs, 1)

	tcpAddr, ok := addrs[0].(*net.TCPAddr)
	require.True(t, ok)
	require.NotZero(t, tcpAddr.Port)

	p.Shutdown()
}

func TestRunAcceptsConnectionAndShutsDownCleanly(t *testing.T) {
	p, err := New(Config{
		Endpoints:    []Endpoint{{Name: "http", Host: "127.0.0.1", Port: 0}},
		NumWorkers:   1,
		NumExecutors: 1,
		ExecutorTick: time.Millisecond,
	})
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	addr := p.RealizedAddrs()[0]
	require.Eventually(t, func() bool {
		conn, derr := net.DialTimeout("tcp", addr.String(), 200*time.Millisecond)
		if derr != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRunRejectsDoubleStart(t *testing.T) {
	p, err := New(Config{
		Endpoints:    []Endpoint{{Name: "http", Host: "127.0.0.1", Port: 0}},
		NumWorkers:   1,
		NumExecutors: 1,
	})
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.started }, time.Second, 10*time.Millisecond)

	rerr := p.Run(context.Background())
	require.NotNil(t, rerr)
	require.True(t, rerr.IsCode(ErrorAlreadyRunning))

	p.Shutdown()
}
