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

// Package errors provides the error-code/stack-trace/parent-chain error type
// used across every goproxy package, in place of bare fmt.Errorf.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// CodeError is a numeric error classification, similar in spirit to HTTP
// status codes. Each package registers its own range of codes via
// RegisterIdFctMessage.
type CodeError uint16

// UnknownError is the zero value, used when no specific code applies.
const UnknownError CodeError = 0

func (c CodeError) Uint16() uint16 {
	return uint16(c)
}

func (c CodeError) Int() int {
	return int(c)
}

func (c CodeError) String() string {
	return fmt.Sprintf("%d", c.Int())
}

// Message renders the human-readable text registered for this code, using
// the resolver of the range it falls in (the highest registered base that
// is <= c).
func (c CodeError) Message() string {
	var base CodeError
	found := false
	for min := range idMsgFct {
		if min <= c && (!found || min > base) {
			base, found = min, true
		}
	}
	if found {
		return idMsgFct[base](c)
	}
	return ""
}

// MessageFct is the per-package function returning the text for a CodeError.
type MessageFct func(code CodeError) string

var idMsgFct = make(map[CodeError]MessageFct)

// RegisterIdFctMessage lets a package register the function used to resolve
// the text of its own CodeError range. Called once from that package's
// init().
func RegisterIdFctMessage(min CodeError, fct MessageFct) {
	idMsgFct[min] = fct
}

// ExistInMapMessage reports whether a message resolver is already
// registered for the given code.
func ExistInMapMessage(code CodeError) bool {
	_, ok := idMsgFct[code]
	return ok
}

// Error extends the standard error with a code, an optional parent chain,
// and the call site where it was created.
type Error interface {
	error

	IsCode(code CodeError) bool
	HasCode(code CodeError) bool
	GetCode() CodeError

	Add(parent ...error)
	HasParent() bool
	GetParent() []error

	Is(err error) bool
	Unwrap() []error
}

type ers struct {
	code CodeError
	msg  string
	frm  runtime.Frame
	par  []error
}

// New creates a new Error with the given code and optional parent. When msg
// is empty the registered message for the code is used.
func New(code CodeError, parent error, msg string) Error {
	if msg == "" {
		msg = code.Message()
	}

	e := &ers{
		code: code,
		msg:  msg,
	}

	if pc, file, line, ok := runtime.Caller(1); ok {
		e.frm = runtime.Frame{PC: pc, File: file, Line: line}
		if fn := runtime.FuncForPC(pc); fn != nil {
			e.frm.Function = fn.Name()
		}
	}

	if parent != nil {
		e.par = append(e.par, parent)
	}

	return e
}

func (e *ers) Error() string {
	if e == nil {
		return ""
	}
	if e.msg == "" {
		return fmt.Sprintf("error code %d", e.code)
	}
	return e.msg
}

func (e *ers) IsCode(code CodeError) bool {
	return e != nil && e.code == code
}

func (e *ers) HasCode(code CodeError) bool {
	if e == nil {
		return false
	}
	if e.IsCode(code) {
		return true
	}
	for _, p := range e.par {
		if er, ok := p.(Error); ok && er.HasCode(code) {
			return true
		}
	}
	return false
}

func (e *ers) GetCode() CodeError {
	if e == nil {
		return UnknownError
	}
	return e.code
}

func (e *ers) Add(parent ...error) {
	for _, p := range parent {
		if p != nil {
			e.par = append(e.par, p)
		}
	}
}

func (e *ers) HasParent() bool {
	return e != nil && len(e.par) > 0
}

func (e *ers) GetParent() []error {
	if e == nil {
		return nil
	}
	return append(make([]error, 0, len(e.par)), e.par...)
}

func (e *ers) Is(err error) bool {
	if e == nil || err == nil {
		return false
	}
	if er, ok := err.(*ers); ok {
		return e.code == er.code && strings.EqualFold(e.msg, er.msg)
	}
	return errors.Is(error(e), err)
}

func (e *ers) Unwrap() []error {
	if e == nil {
		return nil
	}
	return e.par
}

// Trace renders "function (file:line)" for the call site the error was
// created at — used by diagnostic logging, not by the wire protocol.
func (e *ers) Trace() string {
	if e == nil || e.frm.PC == 0 {
		return ""
	}
	return fmt.Sprintf("%s (%s:%d)", e.frm.Function, e.frm.File, e.frm.Line)
}
