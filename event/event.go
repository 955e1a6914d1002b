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

// Package event implements the optional cross-process pub/sub event queue:
// subscribe/publish/unsubscribe with broadcast-to-all-subscribers semantics.
package event

import (
	"os"
	"time"

	"github.com/google/uuid"
)

// Name identifies the acknowledgement / event kind.
type Name string

const (
	Subscribe    Name = "SUBSCRIBE"
	Unsubscribe  Name = "UNSUBSCRIBE"
	Subscribed   Name = "SUBSCRIBED"
	Unsubscribed Name = "UNSUBSCRIBED"

	// WorkStarted and WorkFinished bracket one Handler's lifetime.
	WorkStarted  Name = "WORK_STARTED"
	WorkFinished Name = "WORK_FINISHED"

	// RequestComplete, ResponseHeadersComplete and ResponseComplete mirror
	// the protocol handler's per-request plugin hooks of the same name.
	RequestComplete         Name = "REQUEST_COMPLETE"
	ResponseHeadersComplete Name = "RESPONSE_HEADERS_COMPLETE"
	ResponseComplete        Name = "RESPONSE_COMPLETE"
)

// Event is the broadcast payload; field names are part of the wire contract
// consumed by subscribers, so they are fixed.
type Event struct {
	RequestID     string      `json:"request_id"`
	ProcessID     int         `json:"process_id"`
	ThreadID      string      `json:"thread_id"`
	EventTimestamp time.Time  `json:"event_timestamp"`
	EventName     Name        `json:"event_name"`
	EventPayload  interface{} `json:"event_payload"`
	PublisherID   string      `json:"publisher_id"`
}

var processID = os.Getpid()

// NewRequestID mints a fresh identifier for Publish, grounded on the
// teacher's use of google/uuid elsewhere in the pack for correlation ids.
func NewRequestID() string {
	return uuid.NewString()
}

func newEvent(requestID string, name Name, payload interface{}, publisherID string) Event {
	return Event{
		RequestID:      requestID,
		ProcessID:      processID,
		ThreadID:       uuid.NewString(),
		EventTimestamp: time.Now(),
		EventName:      name,
		EventPayload:   payload,
		PublisherID:    publisherID,
	}
}
