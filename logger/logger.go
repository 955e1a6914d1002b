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

package logger

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/sirupsen/logrus"
)

var std = logrus.New()

func init() {
	std.SetOutput(os.Stderr)
	std.SetLevel(logrus.InfoLevel)
}

// SetLevel changes the minimum level the default logger emits. NilLevel
// raises the threshold to panic, so only panic entries are still emitted.
func SetLevel(l Level) {
	if l == NilLevel {
		std.SetLevel(logrus.PanicLevel)
		return
	}
	std.SetLevel(l.logrus())
}

// SetOutput redirects the default logger, e.g. to the --log-file path.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// SetJSONFormat switches between logrus's text and JSON formatters,
// matching --log-format.
func SetJSONFormat(json bool) {
	if json {
		std.SetFormatter(&logrus.JSONFormatter{})
	} else {
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Logf formats and logs message at the receiver's level.
func (l Level) Logf(format string, args ...interface{}) {
	if l == NilLevel {
		return
	}
	std.Log(l.logrus(), fmt.Sprintf(format, args...))
}

// Log logs message verbatim at the receiver's level.
func (l Level) Log(message string) {
	if l == NilLevel {
		return
	}
	std.Log(l.logrus(), message)
}

// LogErrorCtxf logs err (if non-nil) at the receiver's level with a
// formatted context prefix, and returns true if it logged an error. When
// err is nil, it logs the context at levelElse instead and returns false —
// mirrors the teacher's "check-and-log" helper used at every hook boundary.
func (l Level) LogErrorCtxf(levelElse Level, contextPattern string, err error, args ...interface{}) bool {
	ctx := fmt.Sprintf(contextPattern, args...)
	if err != nil {
		if l != NilLevel {
			std.Log(l.logrus(), fmt.Sprintf("%s: %v", ctx, err))
		}
		return true
	}
	if levelElse != NilLevel {
		std.Log(levelElse.logrus(), ctx)
	}
	return false
}

// GetLogger adapts the default logger to the standard library's *log.Logger
// shape, for collaborators (e.g. a raw net.Listener error sink) that expect
// one.
func GetLogger(l Level, flags int, pattern string, args ...interface{}) *log.Logger {
	prefix := fmt.Sprintf(pattern, args...)
	return log.New(std.WriterLevel(l.logrus()), prefix+" ", flags)
}
