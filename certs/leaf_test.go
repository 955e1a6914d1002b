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

package certs_test

import (
	"crypto/x509"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/goproxy/certs"
)

var _ = Describe("Store", func() {
	var ca *certs.CA

	BeforeEach(func() {
		c, err := certs.GenerateSelfSignedCA("goproxy test root")
		Expect(err).To(BeNil())
		ca = c
	})

	It("issues a leaf signed by the CA with CN/SAN matching the host", func() {
		store := certs.NewStore(ca)

		leaf, err := store.Leaf("example.com")
		Expect(err).To(BeNil())
		Expect(leaf.Certificate).NotTo(BeEmpty())

		parsed, perr := x509.ParseCertificate(leaf.Certificate[0])
		Expect(perr).NotTo(HaveOccurred())
		Expect(parsed.Subject.CommonName).To(Equal("example.com"))
		Expect(parsed.DNSNames).To(ContainElement("example.com"))
	})

	It("caches the leaf across repeated requests for the same host", func() {
		store := certs.NewStore(ca)

		first, err1 := store.Leaf("cached.example.com")
		Expect(err1).To(BeNil())

		second, err2 := store.Leaf("cached.example.com")
		Expect(err2).To(BeNil())

		Expect(first).To(BeIdenticalTo(second))
	})

	It("reissues after Clear", func() {
		store := certs.NewStore(ca)

		first, _ := store.Leaf("rotate.example.com")
		store.Clear()
		second, _ := store.Leaf("rotate.example.com")

		Expect(first).NotTo(BeIdenticalTo(second))
	})
})
