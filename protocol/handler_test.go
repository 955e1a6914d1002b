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

package protocol

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/goproxy/bucket"
	"github.com/nabbar/goproxy/httpmsg"
	"github.com/nabbar/goproxy/plugin"
)

func clientServerConn(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted

	return client, server
}

func newTestHandler(t *testing.T) (*Handler, net.Conn) {
	t.Helper()
	client, server := clientServerConn(t)
	t.Cleanup(func() { client.Close(); server.Close() })

	h := &Handler{
		cfg:       Config{},
		client:    server,
		c2uBucket: bucket.New(1 << 20),
		u2cBucket: bucket.New(1 << 20),
		chain:     plugin.NewChain(nil),
	}
	require.NoError(t, h.chain.Initialize())
	return h, client
}

func TestDecideKeepAlive(t *testing.T) {
	req := &httpmsg.Message{Kind: httpmsg.Request, Version: "HTTP/1.1"}
	resp := &httpmsg.Message{Kind: httpmsg.Response, Version: "HTTP/1.1"}
	require.True(t, decideKeepAlive(req, resp))

	resp.SetHeader("Connection", "close")
	require.False(t, decideKeepAlive(req, resp))

	resp2 := &httpmsg.Message{Kind: httpmsg.Response, Version: "HTTP/1.0"}
	require.False(t, decideKeepAlive(req, resp2))

	req2 := &httpmsg.Message{Kind: httpmsg.Request, Version: "HTTP/1.1"}
	req2.SetHeader("Connection", "close")
	resp3 := &httpmsg.Message{Kind: httpmsg.Response, Version: "HTTP/1.1"}
	require.False(t, decideKeepAlive(req2, resp3))
}

func TestSyntheticResponseBuild(t *testing.T) {
	m := syntheticResponse(502, "Bad Gateway")
	out := string(m.Build())
	require.Contains(t, out, "HTTP/1.1 502 Bad Gateway")
	require.Contains(t, out, "Content-Length: 0")
	require.Contains(t, out, "Connection: close")
}

func TestRespondSyntheticTransitionsToWritingResponse(t *testing.T) {
	h, _ := newTestHandler(t)
	h.respondSynthetic(syntheticResponse(400, "Bad Request"))

	require.Equal(t, WritingResponse, h.state)
	require.Equal(t, Closing, h.afterWrite)
	require.Contains(t, string(h.pendingResponse), "400 Bad Request")
}

func TestOnWritingResponseFlushesThenCloses(t *testing.T) {
	h, client := newTestHandler(t)
	h.pendingResponse = []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	h.writeOff = 0
	h.afterWrite = Closing

	done := false
	for i := 0; i < 100 && !done; i++ {
		done = h.onWritingResponse(true)
		if !done {
			time.Sleep(time.Millisecond)
		}
	}
	require.True(t, done)
	require.Empty(t, h.pendingResponse)

	client.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 OK\r\n", line)
}

func TestOnWritingResponseTransitionsToAfterWriteState(t *testing.T) {
	h, client := newTestHandler(t)
	h.pendingResponse = []byte("HTTP/1.1 200 Connection Established\r\n\r\n")
	h.afterWrite = Relaying
	h.structured = false

	done := false
	for i := 0; i < 100 && !done; i++ {
		done = h.onWritingResponse(true)
		if !done {
			time.Sleep(time.Millisecond)
		}
	}
	require.False(t, done)
	require.Equal(t, Relaying, h.state)

	buf := make([]byte, 64)
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "Connection Established")
}

func TestUpstreamHostFromRequest(t *testing.T) {
	req := &httpmsg.Message{Kind: httpmsg.Request}
	require.Equal(t, "", upstreamHostFromRequest(req))

	req.SetHeader("Host", "example.com")
	require.Equal(t, "example.com:80", upstreamHostFromRequest(req))

	req.SetHeader("Host", "example.com:8443")
	require.Equal(t, "example.com:8443", upstreamHostFromRequest(req))
}

func TestBeginRequestDispatchRoutesConnect(t *testing.T) {
	h, _ := newTestHandler(t)
	h.cfg = Config{DialTimeout: 2 * time.Second}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, _ := ln.Accept()
		if c != nil {
			defer c.Close()
		}
	}()

	req := &httpmsg.Message{Kind: httpmsg.Request, Method: "CONNECT", URL: ln.Addr().String(), Version: "HTTP/1.1"}
	h.beginRequestDispatch(req)

	require.True(t, h.isConnect)
	require.Equal(t, UpstreamConnecting, h.state)

	require.Eventually(t, func() bool {
		return h.dialOutcome.Load() != nil
	}, time.Second, time.Millisecond)

	more := h.afterConnect()
	require.False(t, more)
	require.Equal(t, WritingResponse, h.state)
	require.Contains(t, string(h.pendingResponse), "200 Connection Established")
}

func TestBeginRequestDispatchRejectsMissingHost(t *testing.T) {
	h, _ := newTestHandler(t)
	req := &httpmsg.Message{Kind: httpmsg.Request, Method: "GET", URL: "/", Version: "HTTP/1.1"}
	h.beginRequestDispatch(req)

	require.Equal(t, WritingResponse, h.state)
	require.Contains(t, string(h.pendingResponse), "400 Bad Request")
}

func TestToSet(t *testing.T) {
	s := toSet([]int{3, 7, 7})
	require.True(t, s[3])
	require.True(t, s[7])
	require.False(t, s[9])
}
