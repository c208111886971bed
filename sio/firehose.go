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
	"sync/atomic"

	"github.com/Comcast/opal/core"
)

// Firehose is an Observer that forwards every transition it hears
// about to a channel.
//
// Observers run while a Context's lock is held, so a Firehose never
// blocks.  When nobody is keeping up, events are dropped and
// counted.
type Firehose struct {
	C chan *Event

	dropped atomic.Uint64
}

// NewFirehose makes a Firehose with a channel of the given capacity.
func NewFirehose(capacity int) *Firehose {
	return &Firehose{
		C: make(chan *Event, capacity),
	}
}

func (f *Firehose) hear(c *core.Context, e core.Event) {
	select {
	case f.C <- NewEvent(c, e):
	default:
		f.dropped.Add(1)
	}
}

// Dropped returns the number of events that didn't fit.
func (f *Firehose) Dropped() uint64 {
	return f.dropped.Load()
}

func (f *Firehose) OnCreated(c *core.Context)    { f.hear(c, core.EventCreated) }
func (f *Firehose) OnWaiting(c *core.Context)    { f.hear(c, core.EventWaiting) }
func (f *Firehose) OnStarted(c *core.Context)    { f.hear(c, core.EventStarted) }
func (f *Firehose) OnSuspended(c *core.Context)  { f.hear(c, core.EventSuspended) }
func (f *Firehose) OnResume(c *core.Context)     { f.hear(c, core.EventResume) }
func (f *Firehose) OnSuicide(c *core.Context)    { f.hear(c, core.EventSuicide) }
func (f *Firehose) OnTerminated(c *core.Context) { f.hear(c, core.EventTerminated) }
