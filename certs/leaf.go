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

package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"time"

	liberr "github.com/nabbar/goproxy/errors"
)

const leafValidity = 72 * time.Hour

func selfSignedTemplate(commonName string, isCA bool) *x509.Certificate {
	serial, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"goproxy"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(leafValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if isCA {
		tmpl.IsCA = true
		tmpl.KeyUsage |= x509.KeyUsageCertSign
	}
	return tmpl
}

// Issue signs a fresh leaf certificate for host, CN and SAN set to host (or
// the literal IP when host parses as one), signed by ca.
func (ca *CA) Issue(host string) (*tls.Certificate, liberr.Error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, liberr.New(ErrorGenerate, err, "generate leaf key")
	}

	tmpl := selfSignedTemplate(host, false)
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return nil, liberr.New(ErrorGenerate, err, "sign leaf certificate")
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, ca.cert.Raw},
		PrivateKey:  key,
	}, nil
}

// Store caches issued leaves by host; regeneration on miss is idempotent,
// guarded only by a mutex (a harmless race under concurrent first-touch is
// acceptable, per the per-process cache policy).
type Store struct {
	mu    sync.RWMutex
	watch *Watcher
	ca    *CA
	cache map[string]*tls.Certificate
}

// NewStore creates a leaf cache bound to a fixed CA (no rotation).
func NewStore(ca *CA) *Store {
	return &Store{ca: ca, cache: make(map[string]*tls.Certificate)}
}

// NewWatchedStore creates a leaf cache whose CA is kept in sync by w.
func NewWatchedStore(w *Watcher) *Store {
	s := &Store{watch: w, cache: make(map[string]*tls.Certificate)}
	return s
}

func (s *Store) currentCA() *CA {
	if s.watch != nil {
		return s.watch.CA()
	}
	return s.ca
}

// Leaf returns the cached certificate for host, issuing and caching one on
// first request.
func (s *Store) Leaf(host string) (*tls.Certificate, liberr.Error) {
	s.mu.RLock()
	if c, ok := s.cache[host]; ok {
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	cert, err := s.currentCA().Issue(host)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[host] = cert
	s.mu.Unlock()

	return cert, nil
}

// Clear drops every cached leaf, used after CA rotation.
func (s *Store) Clear() {
	s.mu.Lock()
	s.cache = make(map[string]*tls.Certificate)
	s.mu.Unlock()
}
