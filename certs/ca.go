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

// Package certs issues TLS leaf certificates for MITM interception, signed
// by a configured CA and cached per host, the way certificates/rootca.go
// models CA material in the teacher library.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	liberr "github.com/nabbar/goproxy/errors"
	liblog "github.com/nabbar/goproxy/logger"
)

// CA wraps the configured interception root: its parsed certificate and
// private key, ready to sign leaves.
type CA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// LoadCA parses a PEM-encoded CA certificate and EC private key from disk.
func LoadCA(certPath, keyPath string) (*CA, liberr.Error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, liberr.New(ErrorLoad, err, "read CA certificate")
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, liberr.New(ErrorLoad, err, "read CA key")
	}
	return parseCA(certPEM, keyPEM)
}

func parseCA(certPEM, keyPEM []byte) (*CA, liberr.Error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, liberr.New(ErrorLoad, nil, "no PEM block in CA certificate")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, liberr.New(ErrorLoad, err, "parse CA certificate")
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, liberr.New(ErrorLoad, nil, "no PEM block in CA key")
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, liberr.New(ErrorLoad, err, "parse CA key")
	}

	return &CA{cert: cert, key: key}, nil
}

// GenerateSelfSignedCA creates a throwaway CA, for --data-dir bootstrap or
// tests, grounded on the ecdsa/x509.CreateCertificate pattern used to mint
// test server certificates in the teacher library.
func GenerateSelfSignedCA(commonName string) (*CA, liberr.Error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, liberr.New(ErrorGenerate, err, "generate CA key")
	}

	tmpl := selfSignedTemplate(commonName, true)

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, liberr.New(ErrorGenerate, err, "create CA certificate")
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, liberr.New(ErrorGenerate, err, "reparse CA certificate")
	}

	return &CA{cert: cert, key: key}, nil
}

// Watcher reloads CA material on disk change and drops every cached leaf,
// per OQ-4: rotation invalidates the cache wholesale rather than trying to
// reconcile it.
type Watcher struct {
	mu      sync.RWMutex
	ca      *CA
	store   *Store
	fw      *fsnotify.Watcher
	certPth string
	keyPth  string
}

// WatchCA loads the CA once and arms an fsnotify watch on both files; every
// write event reloads the CA and clears store's leaf cache.
func WatchCA(certPath, keyPath string, store *Store) (*Watcher, liberr.Error) {
	ca, err := LoadCA(certPath, keyPath)
	if err != nil {
		return nil, err
	}

	fw, werr := fsnotify.NewWatcher()
	if werr != nil {
		return nil, liberr.New(ErrorLoad, werr, "create fsnotify watcher")
	}
	if werr := fw.Add(certPath); werr != nil {
		return nil, liberr.New(ErrorLoad, werr, "watch CA certificate")
	}
	if werr := fw.Add(keyPath); werr != nil {
		return nil, liberr.New(ErrorLoad, werr, "watch CA key")
	}

	w := &Watcher{ca: ca, store: store, fw: fw, certPth: certPath, keyPth: keyPath}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			liblog.WarnLevel.Logf("CA watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	ca, err := LoadCA(w.certPth, w.keyPth)
	if err != nil {
		liblog.WarnLevel.Logf("CA reload failed, keeping previous material: %v", err)
		return
	}

	w.mu.Lock()
	w.ca = ca
	w.mu.Unlock()

	w.store.Clear()
	liblog.InfoLevel.Logf("CA material reloaded; leaf cache cleared")
}

// CA returns the currently active CA.
func (w *Watcher) CA() *CA {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ca
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
