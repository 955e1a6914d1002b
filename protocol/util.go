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
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/nabbar/goproxy/executor"
	"github.com/nabbar/goproxy/httpmsg"
)

var errNotSyscallConn = errors.New("connection does not expose a raw file descriptor")

func toSet(fds []int) map[int]bool {
	s := make(map[int]bool, len(fds))
	for _, fd := range fds {
		s[fd] = true
	}
	return s
}

func connFd(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, errNotSyscallConn
	}
	return executor.ConnFd(sc)
}

func connFdFile(f *os.File) (int, error) {
	return int(f.Fd()), nil
}

func contextWithTimeout(d time.Duration) context.Context {
	ctx, _ := context.WithTimeout(context.Background(), d) //nolint:lostcancel // handshake goroutine owns its own lifetime
	return ctx
}

// hostOnly strips a trailing ":port" from connectHost, for CN/SAN issuance.
func (h *Handler) hostOnly() string {
	host := h.connectHost
	if i := strings.LastIndex(host, ":"); i >= 0 {
		return host[:i]
	}
	return host
}

// upstreamHostFromRequest resolves the dial target for a non-CONNECT
// request: the Host header, defaulting to port 80 when none is given.
func upstreamHostFromRequest(req *httpmsg.Message) string {
	host, _ := req.Header("Host")
	if host == "" {
		return ""
	}
	if strings.Contains(host, ":") {
		return host
	}
	return host + ":80"
}

// decideKeepAlive applies the Connection header / HTTP version rule: a
// Connection header on the response decides on its own (reuse only for
// "keep-alive"); otherwise a request "Connection: close" disables reuse;
// otherwise reuse requires both messages to be HTTP/1.1. A request
// "Connection: keep-alive" does not lift the HTTP/1.0 default.
func decideKeepAlive(req, resp *httpmsg.Message) bool {
	if v, ok := resp.Header("Connection"); ok {
		return strings.EqualFold(strings.TrimSpace(v), "keep-alive")
	}
	if v, ok := req.Header("Connection"); ok {
		if strings.EqualFold(strings.TrimSpace(v), "close") {
			return false
		}
	}
	return req.Version == "HTTP/1.1" && resp.Version == "HTTP/1.1"
}

func syntheticResponse(code int, reason string) *httpmsg.Message {
	m := &httpmsg.Message{Kind: httpmsg.Response, Version: "HTTP/1.1", Code: code, Reason: reason}
	m.SetHeader("Content-Length", "0")
	m.SetHeader("Connection", "close")
	return m
}
