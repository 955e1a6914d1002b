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

//go:build unix

package executor

import (
	"time"

	"golang.org/x/sys/unix"
)

// unixPoller drives the readiness loop with poll(2), the direct idiomatic-Go
// parallel to a non-blocking select() over listener and connection fds.
type unixPoller struct {
	fds []unix.PollFd
}

func newPoller() poller {
	return &unixPoller{}
}

func (p *unixPoller) Reconcile(events map[int]EventMask) {
	p.fds = p.fds[:0]
	for fd, mask := range events {
		var e int16
		if mask.Readable() {
			e |= unix.POLLIN
		}
		if mask.Writable() {
			e |= unix.POLLOUT
		}
		p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: e})
	}
}

func (p *unixPoller) Poll(timeout time.Duration) (readable, writable []int, err error) {
	if len(p.fds) == 0 {
		time.Sleep(timeout)
		return nil, nil, nil
	}

	ms := int(timeout / time.Millisecond)
	if ms <= 0 {
		ms = 1
	}

	n, err := unix.Poll(p.fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	if n == 0 {
		return nil, nil, nil
	}

	for _, pf := range p.fds {
		if pf.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			readable = append(readable, int(pf.Fd))
		}
		if pf.Revents&unix.POLLOUT != 0 {
			writable = append(writable, int(pf.Fd))
		}
	}
	return readable, writable, nil
}

func (p *unixPoller) Close() error {
	p.fds = nil
	return nil
}
