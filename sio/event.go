/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sio

import (
	"time"

	"github.com/Comcast/opal/core"
	"github.com/Comcast/opal/trace"
)

// Event reports a Context lifecycle transition.
type Event struct {
	Context string     `json:"context"`
	Unit    trace.ID   `json:"unit"`
	Event   core.Event `json:"event"`
	State   core.State `json:"state"`
	Entry   string     `json:"entry,omitempty"`
	At      time.Time  `json:"at"`
}

// NewEvent makes an Event.  It's safe to call from an Observer.
func NewEvent(c *core.Context, e core.Event) *Event {
	ev := &Event{
		Context: c.Name(),
		Unit:    c.ID(),
		Event:   e,
		State:   c.State(),
		At:      time.Now().UTC(),
	}
	if cur := c.Current(); cur != nil {
		ev.Entry = cur.Name
	}
	return ev
}

// Topic is "events/CONTEXT/EVENT".
func (e *Event) Topic() string {
	return "events/" + e.Context + "/" + e.Event.String()
}

// Message wraps the Event for Couplings.
func (e *Event) Message() *Message {
	return &Message{
		Topic:   e.Topic(),
		Payload: e,
	}
}
