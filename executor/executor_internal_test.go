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
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	liberr "github.com/nabbar/goproxy/errors"
)

// fakeWork is a minimal Work used to exercise the executor's tick loop
// without touching real sockets.
type fakeWork struct {
	initialized atomic.Bool
	done        atomic.Bool
	inactive    atomic.Bool
	handled     atomic.Int32
	shutdown    atomic.Bool
}

func (f *fakeWork) Initialize() liberr.Error {
	f.initialized.Store(true)
	return nil
}

func (f *fakeWork) GetEvents() map[int]EventMask {
	return map[int]EventMask{1: EventRead}
}

func (f *fakeWork) HandleEvents(readables, writables []int) bool {
	f.handled.Add(1)
	return f.done.Load()
}

func (f *fakeWork) IsInactive() bool {
	return f.inactive.Load()
}

func (f *fakeWork) Shutdown() {
	f.shutdown.Store(true)
}

func clientServerConn(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var server net.Conn
	accepted := make(chan struct{})
	go func() {
		server, _ = ln.Accept()
		close(accepted)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	<-accepted

	return client, server
}

func TestSubmitRegistersWorkViaFactory(t *testing.T) {
	var built *fakeWork

	client, server := clientServerConn(t)
	defer client.Close()
	defer server.Close()

	e := New(func(in Inbound) (Work, liberr.Error) {
		built = &fakeWork{}
		return built, nil
	}, time.Millisecond)

	require.NoError(t, e.Submit(Inbound{Conn: server, Peer: client.LocalAddr()}))

	ex := e.(*executor)
	ex.drainInbox()

	require.NotNil(t, built)
	require.True(t, built.initialized.Load())
}

func TestTeardownOnHandleEventsTrue(t *testing.T) {
	w := &fakeWork{}
	w.done.Store(true)

	e := New(func(in Inbound) (Work, liberr.Error) { return w, nil }, time.Millisecond).(*executor)
	e.entries[w] = &entry{work: w, fds: []int{1}}

	e.dispatch([]int{1}, nil)

	require.True(t, w.shutdown.Load())
	require.Empty(t, e.entries)
}

func TestReapIdle(t *testing.T) {
	w := &fakeWork{}
	w.inactive.Store(true)

	e := New(func(in Inbound) (Work, liberr.Error) { return w, nil }, time.Millisecond).(*executor)
	e.entries[w] = &entry{work: w}

	e.reapIdle()

	require.True(t, w.shutdown.Load())
	require.Empty(t, e.entries)
}

func TestShutdownStopsRun(t *testing.T) {
	e := New(func(in Inbound) (Work, liberr.Error) { return &fakeWork{}, nil }, time.Millisecond)

	done := make(chan liberr.Error, 1)
	go func() {
		done <- e.Run(context.Background())
	}()

	e.Shutdown()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestSubmitRejectsAfterShutdown(t *testing.T) {
	e := New(func(in Inbound) (Work, liberr.Error) { return &fakeWork{}, nil }, time.Millisecond)
	e.Shutdown()

	client, server := clientServerConn(t)
	defer client.Close()
	defer server.Close()

	err := e.Submit(Inbound{Conn: server})
	require.Error(t, err)
	require.True(t, err.IsCode(ErrorShutdown))
}
