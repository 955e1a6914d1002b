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

package httpmsg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequestContentLength(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"

	p := NewParser(Request)
	require.NoError(t, p.Feed([]byte(raw)))
	require.Equal(t, Complete, p.State())

	m := p.Message()
	require.Equal(t, "POST", m.Method)
	require.Equal(t, "/submit", m.URL)
	require.Equal(t, "hello", string(m.Body))

	v, ok := m.Header("host")
	require.True(t, ok)
	require.Equal(t, "example.com", v)
}

func TestParseTolerantOfByteAtATimeFeed(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: a\r\n\r\n"

	p := NewParser(Request)
	for i := 0; i < len(raw); i++ {
		require.NoError(t, p.Feed([]byte{raw[i]}))
	}

	require.Equal(t, Complete, p.State())
	require.Equal(t, "GET", p.Message().Method)
}

func TestParseChunkedWinsOverContentLength(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 999\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"

	p := NewParser(Response)
	require.NoError(t, p.Feed([]byte(raw)))
	require.Equal(t, Complete, p.State())

	m := p.Message()
	require.True(t, m.Chunked)
	require.Equal(t, "hello world", string(m.Body))
	require.Equal(t, 200, m.Code)
}

func TestParseIdempotence(t *testing.T) {
	raw := "GET /path HTTP/1.1\r\nHost: example.com\r\nX-Two: a\r\nX-Two: b\r\n\r\n"

	p1 := NewParser(Request)
	require.NoError(t, p1.Feed([]byte(raw)))
	m1 := p1.Message()

	built := m1.Build()

	p2 := NewParser(Request)
	require.NoError(t, p2.Feed(built))
	m2 := p2.Message()

	require.Equal(t, m1.Method, m2.Method)
	require.Equal(t, m1.URL, m2.URL)
	require.Equal(t, m1.Version, m2.Version)
	require.Equal(t, m1.Headers, m2.Headers)
	require.Equal(t, m1.Body, m2.Body)
}

func TestHeadersCompleteWithNoBody(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: a\r\n\r\n"

	p := NewParser(Request)
	require.NoError(t, p.Feed([]byte(raw)))
	require.Equal(t, Complete, p.State())
	require.Empty(t, p.Message().Body)
}

func TestMalformedFirstLine(t *testing.T) {
	p := NewParser(Request)
	err := p.Feed([]byte("NOTVALID\r\n"))
	require.Error(t, err)
	require.True(t, err.IsCode(ErrorParse))
}
