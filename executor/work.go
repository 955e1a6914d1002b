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

// Package executor runs a single-threaded cooperative readiness loop over a
// set of registered Works, the Go-native counterpart of a threadless worker
// process: one goroutine, one poll(2) call per tick, no Work ever blocks.
package executor

import liberr "github.com/nabbar/goproxy/errors"

// EventMask describes the readiness a Work wants for one of its file
// descriptors.
type EventMask uint8

const (
	EventRead EventMask = 1 << iota
	EventWrite
)

func (m EventMask) Readable() bool { return m&EventRead != 0 }
func (m EventMask) Writable() bool { return m&EventWrite != 0 }

// Work is the minimum polymorphic capability set the executor drives. A Work
// must never block inside any of these methods; the only suspension points
// allowed anywhere in the engine are the executor's own poll call and its
// inbox read.
type Work interface {
	// Initialize performs non-blocking setup right after registration.
	Initialize() liberr.Error

	// GetEvents returns the set of file descriptors this Work currently
	// wants polled, and the readiness mask for each.
	GetEvents() map[int]EventMask

	// HandleEvents is invoked once per tick with the fds that were found
	// readable/writable among this Work's own descriptors. It returns
	// true when the Work is finished and must be torn down.
	HandleEvents(readables, writables []int) bool

	// IsInactive reports whether this Work has been idle past its
	// deadline and should be reaped even without any I/O event.
	IsInactive() bool

	// Shutdown releases any resources (sockets, timers) held by the Work.
	// Called exactly once, whether teardown was triggered by
	// HandleEvents returning true, idle reaping, or executor shutdown.
	Shutdown()
}
