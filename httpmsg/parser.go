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
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	liberr "github.com/nabbar/goproxy/errors"
)

// Parser incrementally builds a Message from byte chunks fed one at a
// time. It tolerates arbitrary fragmentation: a chunk may end mid-line,
// mid-header, or mid-body.
type Parser struct {
	kind Kind
	msg  *Message

	buf bytes.Buffer // bytes not yet consumed into a complete line/chunk

	remaining  int  // bytes left to read for a Content-Length body
	inChunk    int  // bytes left in the current chunk-data segment
	chunkHdr   bool // true while scanning a chunk-size line
	chunkFinal bool // true once the zero-size chunk was seen, awaiting trailing CRLF
}

// NewParser creates a Parser for the given message kind.
func NewParser(kind Kind) *Parser {
	return &Parser{
		kind: kind,
		msg:  &Message{Kind: kind, state: Initialized},
	}
}

// Message returns the Message built so far; safe to call at any point.
func (p *Parser) Message() *Message {
	return p.msg
}

// State is a shortcut for Message().State().
func (p *Parser) State() State {
	return p.msg.State()
}

// Feed appends chunk to the parser's internal buffer and advances the
// state machine as far as the currently-buffered bytes allow. It may be
// called any number of times; once State() reports Complete, further
// calls are no-ops.
func (p *Parser) Feed(chunk []byte) liberr.Error {
	if p.msg.state == Complete {
		return nil
	}

	p.buf.Write(chunk)

	for {
		advanced, err := p.step()
		if err != nil {
			return err
		}
		if !advanced || p.msg.state == Complete {
			return nil
		}
	}
}

// step attempts a single state transition from the currently buffered
// bytes, returning whether it made progress.
func (p *Parser) step() (bool, liberr.Error) {
	switch p.msg.state {
	case Initialized:
		return p.parseFirstLine()
	case LineRcvd:
		return p.parseHeaderLine()
	case HeadersComplete:
		return p.beginBody()
	case RcvingBody:
		if p.msg.Chunked {
			return p.parseChunk()
		}
		return p.parseFixedBody()
	default:
		return false, nil
	}
}

func (p *Parser) readLine() ([]byte, bool) {
	b := p.buf.Bytes()
	idx := bytes.Index(b, []byte("\r\n"))
	if idx < 0 {
		return nil, false
	}
	line := append([]byte(nil), b[:idx]...)
	p.buf.Next(idx + 2)
	return line, true
}

func (p *Parser) parseFirstLine() (bool, liberr.Error) {
	line, ok := p.readLine()
	if !ok {
		return false, nil
	}

	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) != 3 {
		return false, liberr.New(ErrorParse, nil, "malformed request/status line")
	}

	if p.kind == Request {
		p.msg.Method = parts[0]
		p.msg.URL = parts[1]
		p.msg.Version = parts[2]
	} else {
		p.msg.Version = parts[0]
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return false, liberr.New(ErrorParse, nil, "malformed status code")
		}
		p.msg.Code = code
		p.msg.Reason = parts[2]
	}

	p.msg.state = LineRcvd
	return true, nil
}

func (p *Parser) parseHeaderLine() (bool, liberr.Error) {
	line, ok := p.readLine()
	if !ok {
		return false, nil
	}

	if len(line) == 0 {
		p.msg.state = HeadersComplete
		return true, nil
	}

	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return false, liberr.New(ErrorParse, nil, "malformed header line")
	}

	name := strings.TrimSpace(string(line[:idx]))
	value := strings.TrimSpace(string(line[idx+1:]))

	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return false, liberr.New(ErrorParse, nil, "invalid header field")
	}

	p.msg.Headers = append(p.msg.Headers, Header{Name: name, Value: value})

	return true, nil
}

func (p *Parser) beginBody() (bool, liberr.Error) {
	// Fixed by this module: when both Content-Length and
	// Transfer-Encoding: chunked are present, chunked wins.
	if p.msg.IsChunked() {
		p.msg.Chunked = true
		p.chunkHdr = true
		p.msg.state = RcvingBody
		return true, nil
	}

	cl := p.msg.ContentLength()
	if cl > 0 {
		p.remaining = cl
		p.msg.state = RcvingBody
		return true, nil
	}

	p.msg.state = Complete
	return true, nil
}

func (p *Parser) parseFixedBody() (bool, liberr.Error) {
	if p.remaining == 0 {
		p.msg.state = Complete
		return true, nil
	}

	avail := p.buf.Bytes()
	take := p.remaining
	if take > len(avail) {
		take = len(avail)
	}
	if take == 0 {
		return false, nil
	}

	p.msg.Body = append(p.msg.Body, avail[:take]...)
	p.buf.Next(take)
	p.remaining -= take

	if p.remaining == 0 {
		p.msg.state = Complete
	}
	return true, nil
}

func (p *Parser) parseChunk() (bool, liberr.Error) {
	if p.chunkFinal {
		if _, ok := p.readLine(); !ok {
			return false, nil
		}
		p.msg.state = Complete
		return true, nil
	}

	if p.chunkHdr {
		line, ok := p.readLine()
		if !ok {
			return false, nil
		}

		sizeStr := string(line)
		if idx := strings.IndexByte(sizeStr, ';'); idx >= 0 {
			sizeStr = sizeStr[:idx]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
		if err != nil {
			return false, liberr.New(ErrorParse, nil, "malformed chunk size")
		}

		if size == 0 {
			// terminating chunk; consume the trailing CRLF and finish.
			p.chunkHdr = false
			p.chunkFinal = true
			if _, ok := p.readLine(); !ok {
				return false, nil
			}
			p.msg.state = Complete
			return true, nil
		}

		p.inChunk = int(size)
		p.chunkHdr = false
		return true, nil
	}

	avail := p.buf.Bytes()
	take := p.inChunk
	if take > len(avail) {
		take = len(avail)
	}
	if take > 0 {
		p.msg.Body = append(p.msg.Body, avail[:take]...)
		p.buf.Next(take)
		p.inChunk -= take
	}

	if p.inChunk > 0 {
		return take > 0, nil
	}

	// chunk data consumed; still need the trailing CRLF before the next
	// chunk-size line.
	if _, ok := p.readLine(); !ok {
		return false, nil
	}
	p.chunkHdr = true
	return true, nil
}
