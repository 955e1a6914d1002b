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

package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	liberr "github.com/nabbar/goproxy/errors"
	"github.com/nabbar/goproxy/httpmsg"
	"github.com/nabbar/goproxy/plugin"
)

type recorder struct {
	plugin.Base
	name   string
	trail  *[]string
	verd   plugin.Verdict
	closed *bool
}

func (r *recorder) Initialize() liberr.Error {
	*r.trail = append(*r.trail, "init:"+r.name)
	return nil
}

func (r *recorder) BeforeUpstreamConnection(req *httpmsg.Message) (*httpmsg.Message, plugin.Verdict) {
	*r.trail = append(*r.trail, "before:"+r.name)
	return req, r.verd
}

func (r *recorder) OnClientConnectionClose() {
	*r.closed = true
}

func TestChainShortCircuitsOnFirstNonContinue(t *testing.T) {
	var trail []string
	closedA, closedB, closedC := false, false, false

	factories := []plugin.Factory{
		func() plugin.Plugin { return &recorder{name: "a", trail: &trail, verd: plugin.VerdictContinue, closed: &closedA} },
		func() plugin.Plugin { return &recorder{name: "b", trail: &trail, verd: plugin.VerdictRespond, closed: &closedB} },
		func() plugin.Plugin { return &recorder{name: "c", trail: &trail, verd: plugin.VerdictContinue, closed: &closedC} },
	}

	c := plugin.NewChain(factories)
	require.NoError(t, c.Initialize())

	req := &httpmsg.Message{Kind: httpmsg.Request}
	_, v := c.BeforeUpstreamConnection(req)

	require.Equal(t, plugin.VerdictRespond, v)
	require.Equal(t, []string{"init:a", "init:b", "init:c", "before:a", "before:b"}, trail)

	c.OnClientConnectionClose()
	require.True(t, closedA)
	require.True(t, closedB)
	require.True(t, closedC)
}

func TestChainPassesThroughWhenAllContinue(t *testing.T) {
	var trail []string
	closed := false

	factories := []plugin.Factory{
		func() plugin.Plugin { return &recorder{name: "a", trail: &trail, verd: plugin.VerdictContinue, closed: &closed} },
	}

	c := plugin.NewChain(factories)
	require.NoError(t, c.Initialize())

	req := &httpmsg.Message{Kind: httpmsg.Request, Method: "GET"}
	out, v := c.BeforeUpstreamConnection(req)

	require.Equal(t, plugin.VerdictContinue, v)
	require.Equal(t, "GET", out.Method)
}

func TestHandleUpstreamChunkAppliesEveryPlugin(t *testing.T) {
	dup := func() plugin.Plugin { return duplicateChunk{} }
	c := plugin.NewChain([]plugin.Factory{dup, dup})
	require.NoError(t, c.Initialize())

	out := c.HandleUpstreamChunk([]byte("ab"))
	require.Equal(t, []byte("abababab"), out)
}

type duplicateChunk struct {
	plugin.Base
}

func (duplicateChunk) HandleUpstreamChunk(chunk []byte) []byte {
	return append(append([]byte(nil), chunk...), chunk...)
}
