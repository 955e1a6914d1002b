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

package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/goproxy/event"
)

func TestSubscribePublishDelivers(t *testing.T) {
	b := event.New()
	defer b.Shutdown()

	ch, ack := b.Subscribe("sub-1", "access-log")
	require.Equal(t, event.Subscribed, ack.EventName)

	require.NoError(t, b.Publish("req-1", "request_complete", map[string]string{"host": "example.com"}, "pub-1"))

	select {
	case ev := <-ch:
		require.Equal(t, event.Name("request_complete"), ev.EventName)
		require.Equal(t, "req-1", ev.RequestID)
		require.Equal(t, "pub-1", ev.PublisherID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := event.New()
	defer b.Shutdown()

	ch, _ := b.Subscribe("sub-1", "ch")
	ack := b.Unsubscribe("sub-1")
	require.Equal(t, event.Unsubscribed, ack.EventName)

	_, ok := <-ch
	require.False(t, ok)
}

func TestShutdownClosesAllSubscribers(t *testing.T) {
	b := event.New()

	ch1, _ := b.Subscribe("sub-1", "ch")
	ch2, _ := b.Subscribe("sub-2", "ch")

	b.Shutdown()

	require.Eventually(t, func() bool {
		_, ok1 := <-ch1
		_, ok2 := <-ch2
		return !ok1 && !ok2
	}, time.Second, 10*time.Millisecond)
}

func TestPublishAfterShutdownFails(t *testing.T) {
	b := event.New()
	b.Shutdown()
	time.Sleep(10 * time.Millisecond)

	err := b.Publish("req", "x", nil, "pub")
	require.Error(t, err)
}
