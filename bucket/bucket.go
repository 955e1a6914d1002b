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

// Package bucket implements a leaky-bucket byte-rate limiter: a per-direction
// token budget refilled from a monotonic clock, consumed on every socket
// read/write, and released back on a short read/write.
package bucket

import (
	"sync"
	"time"

	liberr "github.com/nabbar/goproxy/errors"
)

// Bucket is a per-connection, per-direction byte budget. Every method takes
// the bucket's own mutex, so concurrent calls are safe; a Work drives its
// buckets from its own single tick.
type Bucket interface {
	// Consume attempts to draw amount bytes from the bucket after
	// refilling from elapsed wall-clock time. Returns the number of
	// bytes actually granted (0..amount).
	Consume(amount int) int

	// Release returns previously-consumed-but-unused bytes to the
	// bucket, e.g. after a short socket read. n must be >= 0.
	Release(n int) liberr.Error

	// Rate returns the configured bytes-per-second ceiling.
	Rate() int

	// Tokens returns the current number of available tokens. Exposed
	// for tests and diagnostics only.
	Tokens() int
}

type bucket struct {
	mu        sync.Mutex
	rate      int
	tokens    int
	lastCheck time.Time
	now       func() time.Time
}

// New creates a Bucket with the given byte-per-second rate, starting full.
func New(rate int) Bucket {
	return newWithClock(rate, time.Now)
}

// newWithClock is the test seam: callers inject a deterministic clock.
func newWithClock(rate int, now func() time.Time) Bucket {
	if rate <= 0 {
		rate = 1
	}
	return &bucket{
		rate:      rate,
		tokens:    rate,
		lastCheck: now(),
		now:       now,
	}
}

func (b *bucket) Rate() int {
	return b.rate
}

func (b *bucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// refillLocked adds tokens proportional to elapsed time, capped at rate. A
// non-monotonic now() (clock skew) can only ever yield a non-negative
// elapsed duration here because time.Time subtraction against a
// monotonically-read clock never goes backwards within a process; any
// negative residue is clamped to zero so refill never drains the bucket.
func (b *bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastCheck)
	if elapsed < 0 {
		elapsed = 0
	}

	b.tokens += int(elapsed.Seconds() * float64(b.rate))
	if b.tokens > b.rate {
		b.tokens = b.rate
	}
	b.lastCheck = now
}

func (b *bucket) Consume(amount int) int {
	if amount <= 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	granted := amount
	if granted > b.tokens {
		granted = b.tokens
	}
	b.tokens -= granted

	return granted
}

func (b *bucket) Release(n int) liberr.Error {
	if n < 0 {
		return liberr.New(ErrorInvalidArgument, nil, "")
	}
	if n == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += n
	if b.tokens > b.rate {
		b.tokens = b.rate
	}

	return nil
}
