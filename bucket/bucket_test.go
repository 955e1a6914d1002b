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

package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestBucket(rate int) (*bucket, *fakeClock) {
	fc := &fakeClock{t: time.Unix(0, 0)}
	b := newWithClock(rate, fc.now).(*bucket)
	return b, fc
}

func TestRateLimitSteadyState(t *testing.T) {
	b, fc := newTestBucket(100)

	fc.advance(time.Second)
	require.Equal(t, 100, b.Consume(150))
	require.Equal(t, 0, b.Consume(10))

	fc.advance(500 * time.Millisecond)
	require.Equal(t, 50, b.Consume(60))
}

func TestRelease(t *testing.T) {
	b, fc := newTestBucket(100)

	fc.advance(time.Second)
	require.Equal(t, 80, b.Consume(80))

	require.NoError(t, b.Release(30))
	require.Equal(t, 50, b.Consume(50))
}

func TestReleaseRejectsNegative(t *testing.T) {
	b, _ := newTestBucket(100)

	err := b.Release(-1)
	require.Error(t, err)
	require.True(t, err.IsCode(ErrorInvalidArgument))
}

func TestTokensNeverExceedRateOrGoNegative(t *testing.T) {
	b, fc := newTestBucket(10)

	for i := 0; i < 50; i++ {
		fc.advance(100 * time.Millisecond)
		granted := b.Consume(7)
		require.GreaterOrEqual(t, granted, 0)
		require.LessOrEqual(t, b.Tokens(), 10)
		require.GreaterOrEqual(t, b.Tokens(), 0)
		_ = b.Release(3)
	}
}
