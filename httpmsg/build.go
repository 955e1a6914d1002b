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
	"bytes"
	"fmt"
)

// Build deterministically reserializes the message to wire bytes. Chunked
// bodies are re-framed as a single chunk followed by the terminator, which
// preserves the decoded byte content (the invariant §8 tests) without
// reproducing the original chunk boundaries.
func (m *Message) Build() []byte {
	var b bytes.Buffer

	if m.Kind == Request {
		fmt.Fprintf(&b, "%s %s %s\r\n", m.Method, m.URL, m.Version)
	} else {
		fmt.Fprintf(&b, "%s %d %s\r\n", m.Version, m.Code, m.Reason)
	}

	for _, h := range m.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")

	if m.Chunked {
		if len(m.Body) > 0 {
			fmt.Fprintf(&b, "%x\r\n", len(m.Body))
			b.Write(m.Body)
			b.WriteString("\r\n")
		}
		b.WriteString("0\r\n\r\n")
	} else {
		b.Write(m.Body)
	}

	return b.Bytes()
}
