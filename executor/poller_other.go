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

//go:build !unix

package executor

import "time"

// pollFallback is used on platforms without poll(2) (Windows). It sleeps for
// the tick timeout and reports every registered fd as both readable and
// writable, which is correct but not efficient; goproxy's threadless mode is
// primarily a Unix deployment target.
type pollFallback struct {
	fds []int
}

func newPoller() poller {
	return &pollFallback{}
}

func (p *pollFallback) Reconcile(events map[int]EventMask) {
	p.fds = p.fds[:0]
	for fd := range events {
		p.fds = append(p.fds, fd)
	}
}

func (p *pollFallback) Poll(timeout time.Duration) (readable, writable []int, err error) {
	time.Sleep(timeout)
	return append([]int(nil), p.fds...), append([]int(nil), p.fds...), nil
}

func (p *pollFallback) Close() error {
	p.fds = nil
	return nil
}
