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
	"net"
	"time"

	"github.com/nabbar/goproxy/bucket"
)

// nonBlockingDeadline is applied before every gated I/O call so a single
// Read/Write can never suspend the executor's tick.
const nonBlockingDeadline = 5 * time.Millisecond

// gatedRead reserves up to len(buf) bytes from b, reads at most that many,
// and releases back whatever wasn't actually used — the rate limiter's
// "reserve N, release N-K on short read" contract.
func gatedRead(conn net.Conn, b bucket.Bucket, buf []byte) (int, error) {
	granted := b.Consume(len(buf))
	if granted == 0 {
		return 0, nil
	}

	_ = conn.SetReadDeadline(time.Now().Add(nonBlockingDeadline))
	n, err := conn.Read(buf[:granted])
	if n < granted {
		if rerr := b.Release(granted - n); rerr != nil {
			// best effort: a rejected release (negative amount)
			// cannot happen here since granted >= n by construction.
			_ = rerr
		}
	}

	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

// gatedWrite is the write-side analogue of gatedRead.
func gatedWrite(conn net.Conn, b bucket.Bucket, data []byte) (int, error) {
	granted := b.Consume(len(data))
	if granted == 0 {
		return 0, nil
	}

	_ = conn.SetWriteDeadline(time.Now().Add(nonBlockingDeadline))
	n, err := conn.Write(data[:granted])
	if n < granted {
		if rerr := b.Release(granted - n); rerr != nil {
			_ = rerr
		}
	}

	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}
