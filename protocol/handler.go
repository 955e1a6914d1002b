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
	"crypto/tls"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/nabbar/goproxy/bucket"
	liberr "github.com/nabbar/goproxy/errors"
	"github.com/nabbar/goproxy/event"
	"github.com/nabbar/goproxy/executor"
	"github.com/nabbar/goproxy/httpmsg"
	liblog "github.com/nabbar/goproxy/logger"
	"github.com/nabbar/goproxy/plugin"
)

type connectOutcome struct {
	conn net.Conn
	err  error
}

// Handler is the central Work implementing the per-connection HTTP protocol
// state machine. One Handler is created per accepted connection by the
// Factory returned from NewFactory.
type Handler struct {
	cfg Config

	client   net.Conn
	clientFd int

	upstream   net.Conn
	upstreamFd int

	wakeR, wakeW *os.File
	wakeFd       int

	state State
	peer  net.Addr

	reqParser          *httpmsg.Parser
	respParser         *httpmsg.Parser
	respBodyAt         int
	headersNotified    bool
	reqHeadersNotified bool

	chain *plugin.Chain

	c2uBucket bucket.Bucket
	u2cBucket bucket.Bucket

	c2uBuf    []byte
	c2uOff    int
	u2cBuf    []byte
	u2cOff    int
	structured bool

	pendingResponse []byte
	writeOff        int
	afterWrite      State

	tlsStage int // 0 none, 1 upstream handshake in flight, 2 client handshake in flight

	dialOutcome      atomic.Value
	handshakeOutcome atomic.Value

	connectHost string
	isConnect   bool
	keepAlive   bool

	requestForUpstream *httpmsg.Message
	lastResponse       *httpmsg.Message

	lastActivity atomic.Int64
	closed       bool

	requestID string
}

// NewFactory builds an executor.Factory that constructs one Handler per
// accepted connection, wired with cfg.
func NewFactory(cfg Config) executor.Factory {
	return func(in executor.Inbound) (executor.Work, liberr.Error) {
		return &Handler{cfg: cfg, client: in.Conn, peer: in.Peer}, nil
	}
}

func (h *Handler) Initialize() liberr.Error {
	h.touch()

	fd, ferr := connFd(h.client)
	if ferr != nil {
		return liberr.New(ErrorIO, ferr, "resolve client fd")
	}
	h.clientFd = fd

	r, w, perr := os.Pipe()
	if perr != nil {
		return liberr.New(ErrorIO, perr, "create wake pipe")
	}
	h.wakeR, h.wakeW = r, w
	wfd, werr := connFdFile(h.wakeR)
	if werr != nil {
		return liberr.New(ErrorIO, werr, "resolve wake fd")
	}
	h.wakeFd = wfd

	h.reqParser = httpmsg.NewParser(httpmsg.Request)
	h.c2uBucket = bucket.New(h.cfg.rateLimit())
	h.u2cBucket = bucket.New(h.cfg.rateLimit())
	h.chain = plugin.NewChain(h.cfg.Plugins)
	if err := h.chain.Initialize(); err != nil {
		return err
	}

	h.requestID = event.NewRequestID()
	h.publish(event.WorkStarted, nil)

	h.state = ReadingRequest
	return nil
}

// publish forwards to cfg.Bus when one is configured; a nil Bus (the
// --enable-events default) makes this a no-op.
func (h *Handler) publish(name event.Name, payload interface{}) {
	if h.cfg.Bus == nil {
		return
	}
	if err := h.cfg.Bus.Publish(h.requestID, name, payload, h.peerString()); err != nil {
		liblog.DebugLevel.Logf("event publish %s failed: %v", name, err)
	}
}

func (h *Handler) GetEvents() map[int]executor.EventMask {
	events := make(map[int]executor.EventMask)

	switch h.state {
	case ReadingRequest, MITMReadingInner:
		events[h.clientFd] = executor.EventRead
	case UpstreamConnecting, TLSHandshake:
		events[h.wakeFd] = executor.EventRead
	case Relaying:
		if !h.structured {
			events[h.clientFd] = executor.EventRead
			events[h.upstreamFd] = executor.EventRead
			if len(h.c2uBuf)-h.c2uOff > 0 {
				events[h.upstreamFd] |= executor.EventWrite
			}
			if len(h.u2cBuf)-h.u2cOff > 0 {
				events[h.clientFd] |= executor.EventWrite
			}
		} else {
			if len(h.c2uBuf)-h.c2uOff > 0 {
				events[h.upstreamFd] |= executor.EventWrite
			} else {
				events[h.upstreamFd] |= executor.EventRead
			}
			if len(h.u2cBuf)-h.u2cOff > 0 {
				events[h.clientFd] |= executor.EventWrite
			}
		}
	case WritingResponse:
		events[h.clientFd] = executor.EventWrite
	}

	for _, fd := range h.chain.Descriptors() {
		events[fd] |= executor.EventRead | executor.EventWrite
	}

	return events
}

func (h *Handler) HandleEvents(readables, writables []int) bool {
	h.touch()

	rs := toSet(readables)
	ws := toSet(writables)

	h.dispatchDescriptors(rs, ws)

	switch h.state {
	case ReadingRequest, MITMReadingInner:
		return h.onReadingRequest(rs[h.clientFd])
	case UpstreamConnecting:
		return h.onWake(rs[h.wakeFd], h.afterConnect)
	case TLSHandshake:
		return h.onWake(rs[h.wakeFd], h.afterHandshake)
	case Relaying:
		return h.onRelaying(rs, ws)
	case WritingResponse:
		return h.onWritingResponse(ws[h.clientFd])
	case Closing:
		return true
	}
	return true
}

// dispatchDescriptors notifies the plugin chain of readiness on any extra
// fds it registered via GetDescriptors, split into the read-ready and
// write-ready subsets it asked to poll.
func (h *Handler) dispatchDescriptors(rs, ws map[int]bool) {
	descs := h.chain.Descriptors()
	if len(descs) == 0 {
		return
	}

	var readyR, readyW []int
	for _, fd := range descs {
		if rs[fd] {
			readyR = append(readyR, fd)
		}
		if ws[fd] {
			readyW = append(readyW, fd)
		}
	}

	if len(readyR) > 0 {
		if err := h.chain.ReadFromDescriptors(readyR); err != nil {
			liblog.WarnLevel.Logf("plugin ReadFromDescriptors failed: %v", err)
		}
	}
	if len(readyW) > 0 {
		if err := h.chain.WriteToDescriptors(readyW); err != nil {
			liblog.WarnLevel.Logf("plugin WriteToDescriptors failed: %v", err)
		}
	}
}

func (h *Handler) IsInactive() bool {
	last := time.Unix(0, h.lastActivity.Load())
	return time.Since(last) > h.cfg.idleTimeout()
}

func (h *Handler) Shutdown() {
	if h.closed {
		return
	}
	h.closed = true

	h.publish(event.WorkFinished, nil)
	h.chain.OnClientConnectionClose()

	if h.client != nil {
		_ = h.client.Close()
	}
	if h.upstream != nil {
		_ = h.upstream.Close()
	}
	if h.wakeR != nil {
		_ = h.wakeR.Close()
	}
	if h.wakeW != nil {
		_ = h.wakeW.Close()
	}
}

func (h *Handler) touch() {
	h.lastActivity.Store(time.Now().UnixNano())
}

func (h *Handler) wake() {
	defer func() { recover() }()
	_, _ = h.wakeW.Write([]byte{1})
}

func (h *Handler) onWake(ready bool, cb func() bool) bool {
	if !ready {
		return false
	}
	buf := make([]byte, 1)
	_, _ = h.wakeR.Read(buf)
	return cb()
}

// dialAsync performs the upstream TCP connect on a background goroutine and
// wakes the executor tick via the self-pipe once it resolves, so the
// cooperative loop never blocks on connect(2).
func (h *Handler) dialAsync(hostport string) {
	h.state = UpstreamConnecting
	go func() {
		conn, err := net.DialTimeout("tcp", hostport, h.cfg.dialTimeout())
		h.dialOutcome.Store(&connectOutcome{conn: conn, err: err})
		h.wake()
	}()
}

func (h *Handler) afterConnect() bool {
	out, _ := h.dialOutcome.Load().(*connectOutcome)
	if out == nil || out.err != nil {
		liblog.WarnLevel.Logf("upstream connect to %s failed: %v", h.connectHost, errOf(out))
		h.respondSynthetic(syntheticResponse(502, "Bad Gateway"))
		return false
	}

	h.upstream = out.conn
	fd, err := connFd(h.upstream)
	if err != nil {
		liblog.WarnLevel.Logf("resolve upstream fd failed: %v", err)
		h.respondSynthetic(syntheticResponse(502, "Bad Gateway"))
		return false
	}
	h.upstreamFd = fd

	if h.isConnect {
		if h.cfg.InterceptTLS {
			h.beginUpstreamTLS(h.hostOnly())
			h.tlsStage = 1
			h.state = TLSHandshake
		} else {
			h.pendingResponse = []byte("HTTP/1.1 200 Connection Established\r\n\r\n")
			h.writeOff = 0
			h.afterWrite = Relaying
			h.structured = false
			h.state = WritingResponse
		}
		return false
	}

	h.c2uBuf = h.requestForUpstream.Build()
	h.c2uOff = 0
	h.respParser = httpmsg.NewParser(httpmsg.Response)
	h.structured = true
	h.state = Relaying
	return false
}

func (h *Handler) beginUpstreamTLS(sni string) {
	go func() {
		conn := tls.Client(h.upstream, &tls.Config{ServerName: sni, InsecureSkipVerify: false})
		err := conn.HandshakeContext(contextWithTimeout(h.cfg.dialTimeout()))
		h.handshakeOutcome.Store(&connectOutcome{conn: conn, err: err})
		h.wake()
	}()
}

func (h *Handler) beginClientTLS(leaf *tls.Certificate) {
	go func() {
		conn := tls.Server(h.client, &tls.Config{Certificates: []tls.Certificate{*leaf}})
		err := conn.HandshakeContext(contextWithTimeout(h.cfg.dialTimeout()))
		h.handshakeOutcome.Store(&connectOutcome{conn: conn, err: err})
		h.wake()
	}()
}

func (h *Handler) afterHandshake() bool {
	out, _ := h.handshakeOutcome.Load().(*connectOutcome)
	if out == nil || out.err != nil {
		liblog.WarnLevel.Logf("TLS handshake failed for %s: %v", h.connectHost, errOf(out))
		h.state = Closing
		return true
	}

	switch h.tlsStage {
	case 1:
		h.upstream = out.conn

		leaf, lerr := h.cfg.Certs.Leaf(h.hostOnly())
		if lerr != nil {
			liblog.WarnLevel.Logf("leaf issuance failed for %s: %v", h.connectHost, lerr)
			h.state = Closing
			return true
		}

		if _, werr := gatedWrite(h.client, h.u2cBucket, []byte("HTTP/1.1 200 Connection Established\r\n\r\n")); werr != nil {
			h.state = Closing
			return true
		}

		h.beginClientTLS(leaf)
		h.tlsStage = 2
		return false
	case 2:
		h.client = out.conn
		h.reqParser = httpmsg.NewParser(httpmsg.Request)
		h.reqHeadersNotified = false
		h.state = MITMReadingInner
		return false
	}
	return true
}

func errOf(o *connectOutcome) error {
	if o == nil {
		return nil
	}
	return o.err
}
