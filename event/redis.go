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
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	liberr "github.com/nabbar/goproxy/errors"
	liblog "github.com/nabbar/goproxy/logger"
)

// redisBus fans published events out through a single Redis pub/sub
// channel, so multiple proxy processes on different hosts can share one
// event stream. Resolves OQ-3 as an opt-in alternative to the in-process
// Bus; the default remains process-local.
type redisBus struct {
	cli     *redis.Client
	channel string
	ctx     context.Context
	cancel  context.CancelFunc

	mu   sync.Mutex
	subs map[string]*subscriber
}

// NewRedis creates a Bus backed by a Redis pub/sub channel.
func NewRedis(cli *redis.Client, channel string) Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &redisBus{
		cli:     cli,
		channel: channel,
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[string]*subscriber),
	}
	go b.relay()
	return b
}

func (b *redisBus) relay() {
	ps := b.cli.Subscribe(b.ctx, b.channel)
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-b.ctx.Done():
			b.closeAll()
			return
		case msg, ok := <-ch:
			if !ok {
				b.closeAll()
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				liblog.WarnLevel.Logf("event redis bus: malformed payload: %v", err)
				continue
			}
			b.broadcast(ev)
		}
	}
}

func (b *redisBus) broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		select {
		case s.out <- ev:
		default:
			liblog.DebugLevel.Logf("event subscriber %s backpressured; dropping event %s", id, ev.EventName)
		}
	}
}

func (b *redisBus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		close(s.out)
	}
	b.subs = make(map[string]*subscriber)
}

func (b *redisBus) Subscribe(subID string, channel string) (<-chan Event, Event) {
	s := &subscriber{id: subID, channel: channel, out: make(chan Event, 64)}

	b.mu.Lock()
	b.subs[subID] = s
	b.mu.Unlock()

	return s.out, newEvent(NewRequestID(), Subscribed, nil, subID)
}

func (b *redisBus) Unsubscribe(subID string) Event {
	b.mu.Lock()
	if s, ok := b.subs[subID]; ok {
		close(s.out)
		delete(b.subs, subID)
	}
	b.mu.Unlock()

	return newEvent(NewRequestID(), Unsubscribed, nil, subID)
}

func (b *redisBus) Publish(requestID string, name Name, payload interface{}, publisherID string) liberr.Error {
	ev := newEvent(requestID, name, payload, publisherID)

	raw, err := json.Marshal(ev)
	if err != nil {
		return liberr.New(ErrorBackpressure, err, "encode event")
	}

	if err := b.cli.Publish(b.ctx, b.channel, raw).Err(); err != nil {
		return liberr.New(ErrorShutdown, err, "publish to redis")
	}
	return nil
}

func (b *redisBus) Shutdown() {
	b.cancel()
}
