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

package core

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Observer is notified of every lifecycle transition of a Context.
//
// Callbacks are invoked synchronously while the Context's state lock
// is held.  Callbacks for one Context never overlap, and they arrive
// in transition order.  Callbacks may run on the Context's own unit
// (OnCreated excepted) or on a controller's goroutine, so an
// Observer shared between Contexts must do its own locking.
//
// A callback may read the Context's predicates (State, IsWaiting,
// etc.) but must not call its controller operations.  That
// deadlocks.
//
// Embed NopObserver to implement only some of these.
type Observer interface {
	OnCreated(c *Context)
	OnWaiting(c *Context)
	OnStarted(c *Context)
	OnSuspended(c *Context)
	OnResume(c *Context)
	OnSuicide(c *Context)
	OnTerminated(c *Context)
}

// NopObserver does nothing.
type NopObserver struct{}

func (NopObserver) OnCreated(c *Context)    {}
func (NopObserver) OnWaiting(c *Context)    {}
func (NopObserver) OnStarted(c *Context)    {}
func (NopObserver) OnSuspended(c *Context)  {}
func (NopObserver) OnResume(c *Context)     {}
func (NopObserver) OnSuicide(c *Context)    {}
func (NopObserver) OnTerminated(c *Context) {}

// Observers fans callbacks out to each Observer in order.
type Observers []Observer

func (os Observers) OnCreated(c *Context) {
	for _, o := range os {
		o.OnCreated(c)
	}
}

func (os Observers) OnWaiting(c *Context) {
	for _, o := range os {
		o.OnWaiting(c)
	}
}

func (os Observers) OnStarted(c *Context) {
	for _, o := range os {
		o.OnStarted(c)
	}
}

func (os Observers) OnSuspended(c *Context) {
	for _, o := range os {
		o.OnSuspended(c)
	}
}

func (os Observers) OnResume(c *Context) {
	for _, o := range os {
		o.OnResume(c)
	}
}

func (os Observers) OnSuicide(c *Context) {
	for _, o := range os {
		o.OnSuicide(c)
	}
}

func (os Observers) OnTerminated(c *Context) {
	for _, o := range os {
		o.OnTerminated(c)
	}
}

// Event names an Observer callback.
type Event int

const (
	EventCreated Event = iota
	EventWaiting
	EventStarted
	EventSuspended
	EventResume
	EventSuicide
	EventTerminated
)

var eventNames = []string{
	"created",
	"waiting",
	"started",
	"suspended",
	"resume",
	"suicide",
	"terminated",
}

func (e Event) String() string {
	if 0 <= e && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

func (e *Event) UnmarshalJSON(bs []byte) error {
	var name string
	if err := json.Unmarshal(bs, &name); err != nil {
		return err
	}
	for i, n := range eventNames {
		if n == name {
			*e = Event(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event '%s'", name)
}

// Listener adapts a single function to the Observer interface.
type Listener func(c *Context, e Event)

func (f Listener) OnCreated(c *Context)    { f(c, EventCreated) }
func (f Listener) OnWaiting(c *Context)    { f(c, EventWaiting) }
func (f Listener) OnStarted(c *Context)    { f(c, EventStarted) }
func (f Listener) OnSuspended(c *Context)  { f(c, EventSuspended) }
func (f Listener) OnResume(c *Context)     { f(c, EventResume) }
func (f Listener) OnSuicide(c *Context)    { f(c, EventSuicide) }
func (f Listener) OnTerminated(c *Context) { f(c, EventTerminated) }

// IsNilObserver reports whether o holds a nil pointer, func, map, or
// channel, or is an Observers with such a member.  Calling one would
// panic.  A nil interface is fine: it just means nobody's listening.
func IsNilObserver(o Observer) bool {
	if o == nil {
		return false
	}
	if os, is := o.(Observers); is {
		for _, x := range os {
			if x == nil || IsNilObserver(x) {
				return true
			}
		}
		return false
	}
	v := reflect.ValueOf(o)
	switch v.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Notify invokes the Observer callback named by the Event.
func Notify(o Observer, c *Context, e Event) {
	if o == nil {
		return
	}
	switch e {
	case EventCreated:
		o.OnCreated(c)
	case EventWaiting:
		o.OnWaiting(c)
	case EventStarted:
		o.OnStarted(c)
	case EventSuspended:
		o.OnSuspended(c)
	case EventResume:
		o.OnResume(c)
	case EventSuicide:
		o.OnSuicide(c)
	case EventTerminated:
		o.OnTerminated(c)
	}
}
