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

package event

import (
	"sync"

	liberr "github.com/nabbar/goproxy/errors"
	liblog "github.com/nabbar/goproxy/logger"
)

// Bus is the pub/sub contract; the in-process implementation below and the
// optional Redis-backed one in redis.go both satisfy it, per OQ-3.
type Bus interface {
	Subscribe(subID string, channel string) (<-chan Event, Event)
	Unsubscribe(subID string) Event
	Publish(requestID string, name Name, payload interface{}, publisherID string) liberr.Error
	Shutdown()
}

type subscriber struct {
	id      string
	channel string
	out     chan Event
}

// bus is a single process-local dispatcher: one goroutine relays every
// published Event to every current subscriber's channel, mirroring a
// single-dispatcher-thread-per-process pipe relay.
type bus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber

	publish chan Event
	done    chan struct{}
	closed  bool
}

// New creates an in-process Bus and starts its dispatcher goroutine.
func New() Bus {
	b := &bus{
		subs:    make(map[string]*subscriber),
		publish: make(chan Event, 256),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *bus) run() {
	for {
		select {
		case ev, ok := <-b.publish:
			if !ok {
				b.closeAll()
				return
			}
			b.broadcast(ev)
		case <-b.done:
			b.drainAndClose()
			return
		}
	}
}

func (b *bus) broadcast(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, s := range b.subs {
		select {
		case s.out <- ev:
		default:
			// broken/slow subscriber: this event is dropped silently
			// for it; the subscriber itself stays registered.
			liblog.DebugLevel.Logf("event subscriber %s backpressured; dropping event %s", id, ev.EventName)
		}
	}
}

func (b *bus) drainAndClose() {
	for {
		select {
		case ev := <-b.publish:
			b.broadcast(ev)
		default:
			b.closeAll()
			return
		}
	}
}

func (b *bus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		close(s.out)
	}
	b.subs = make(map[string]*subscriber)
}

// Subscribe registers subID on channel and returns its event stream plus
// the SUBSCRIBED acknowledgement.
func (b *bus) Subscribe(subID string, channel string) (<-chan Event, Event) {
	s := &subscriber{id: subID, channel: channel, out: make(chan Event, 64)}

	b.mu.Lock()
	b.subs[subID] = s
	b.mu.Unlock()

	return s.out, newEvent(NewRequestID(), Subscribed, nil, subID)
}

// Unsubscribe removes subID and returns the UNSUBSCRIBED acknowledgement.
func (b *bus) Unsubscribe(subID string) Event {
	b.mu.Lock()
	if s, ok := b.subs[subID]; ok {
		close(s.out)
		delete(b.subs, subID)
	}
	b.mu.Unlock()

	return newEvent(NewRequestID(), Unsubscribed, nil, subID)
}

// Publish enqueues an event for broadcast to every current subscriber.
func (b *bus) Publish(requestID string, name Name, payload interface{}, publisherID string) liberr.Error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return liberr.New(ErrorShutdown, nil, "event bus is shut down")
	}

	ev := newEvent(requestID, name, payload, publisherID)
	select {
	case b.publish <- ev:
		return nil
	default:
		return liberr.New(ErrorBackpressure, nil, "event bus publish queue full")
	}
}

// Shutdown drains the queue then closes every subscriber channel, so
// subscribers observe end-of-stream.
func (b *bus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
}
