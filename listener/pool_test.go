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

package listener_test

import (
	"net"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/goproxy/listener"
)

var _ = Describe("Pool", func() {
	var p listener.Pool

	BeforeEach(func() {
		p = listener.New()
	})

	AfterEach(func() {
		p.Shutdown()
	})

	It("realizes an ephemeral TCP port when 0 is requested", func() {
		err := p.Add("main", "127.0.0.1", 0, 128)
		Expect(err).To(BeNil())

		addrs := p.RealizedAddrs()
		Expect(addrs).To(HaveLen(1))

		tcp, ok := addrs[0].(*net.TCPAddr)
		Expect(ok).To(BeTrue())
		Expect(tcp.Port).NotTo(Equal(0))
	})

	It("keeps the unix listener at index 0 regardless of add order", func() {
		sockPath := filepath.Join(os.TempDir(), "goproxy-test.sock")
		defer os.Remove(sockPath)

		Expect(p.Add("main", "127.0.0.1", 0, 128)).To(BeNil())
		Expect(p.AddUnix("ctl", sockPath, 128)).To(BeNil())

		items := p.List()
		Expect(items).To(HaveLen(2))
		Expect(items[0].Name).To(Equal("ctl"))
	})

	It("closes every listener on shutdown", func() {
		Expect(p.Add("main", "127.0.0.1", 0, 128)).To(BeNil())
		addrs := p.RealizedAddrs()
		bound := addrs[0].(*net.TCPAddr)

		p.Shutdown()

		_, err := net.Dial("tcp", bound.String())
		Expect(err).To(HaveOccurred())
	})
})
