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

package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Comcast/opal/core"
	"github.com/Comcast/opal/crew"
	"github.com/Comcast/opal/journal"
	"github.com/Comcast/opal/sio"
)

// Op is a Service Operation.
//
// Op.Op names the operation.  The other fields are parameters or
// results, depending on the operation.
type Op struct {
	// Op is one of "compile", "make", "push", "place", "swap",
	// "pop", "suspend", "resume", "terminate", "rem",
	// "schedule", "unschedule", "status", "entries", and
	// "journal".
	Op string `json:"op" yaml:"op"`

	// Oid is the optional operation id.  A "transaction" id.
	Oid string `json:"oid,omitempty" yaml:"oid,omitempty"`

	// Context is the id of the Context to operate on.
	Context string `json:"context,omitempty" yaml:"context,omitempty"`

	// Entry names a compiled entry.  If Source is given, the
	// source is compiled (with Interpreter) and remembered
	// under this name first.
	Entry       string      `json:"entry,omitempty" yaml:"entry,omitempty"`
	Source      interface{} `json:"source,omitempty" yaml:"source,omitempty"`
	Interpreter string      `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`

	// Return, if given to "swap", is "wait" or "exit" and also
	// replaces where the swapped-in entry returns to.
	Return string `json:"return,omitempty" yaml:"return,omitempty"`

	// Hold, if true, leaves the Context suspended after "push",
	// "place", "swap", or "pop".
	Hold bool `json:"hold,omitempty" yaml:"hold,omitempty"`

	// Cancel, if true, makes "terminate" withdraw a request for
	// termination.
	Cancel bool `json:"cancel,omitempty" yaml:"cancel,omitempty"`

	// Timer is the timer id for "schedule" and "unschedule".  In
	// is a Go duration for a one-shot timer.  Cron is a cron
	// expression for a recurring timer.
	Timer string `json:"timer,omitempty" yaml:"timer,omitempty"`
	In    string `json:"in,omitempty" yaml:"in,omitempty"`
	Cron  string `json:"cron,omitempty" yaml:"cron,omitempty"`

	// Previous is what "swap" replaced or "pop" removed.
	Previous string `json:"previous,omitempty" yaml:"previous,omitempty"`

	Status  map[string]*core.Status `json:"status,omitempty" yaml:"status,omitempty"`
	Timers  []crew.TimerEntry       `json:"timers,omitempty" yaml:"timers,omitempty"`
	Entries []string                `json:"entries,omitempty" yaml:"entries,omitempty"`
	Records []*journal.Record       `json:"records,omitempty" yaml:"records,omitempty"`

	// Error will hold an error (if any) that results from
	// processing this operation.
	Error error `json:"-" yaml:"-"`

	// Err will hold a string representation of an error (if any)
	// that results from processing this operation.
	Err string `json:"err,omitempty" yaml:"err,omitempty"`
}

// erred is a utility function to return values to assign to operation
// Error and Err fields.
func erred(err error) (error, string) {
	if err == nil {
		return nil, ""
	}
	return err, err.Error()
}

// Do performs the operation.  Any error is also recorded in the Op.
func (o *Op) Do(ctx context.Context, s *Service) error {
	s.logf("do %s", o.Op)

	var err error
	switch strings.ToLower(o.Op) {
	case "compile":
		_, err = o.entry(ctx, s)
	case "make":
		err = o.make(ctx, s)
	case "push":
		err = o.push(ctx, s)
	case "place":
		err = o.place(ctx, s)
	case "swap":
		err = o.swap(ctx, s)
	case "pop":
		err = o.pop(ctx, s)
	case "suspend":
		err = o.control(s, (*core.Context).Suspend)
	case "resume":
		err = o.control(s, (*core.Context).Resume)
	case "terminate":
		err = o.control(s, func(c *core.Context) error {
			return c.SetTerminate(!o.Cancel)
		})
	case "rem":
		err = s.crew.Rem(o.Context)
	case "schedule":
		err = o.schedule(ctx, s)
	case "unschedule":
		err = s.timers.Rem(ctx, o.Timer)
	case "status":
		o.status(s)
	case "entries":
		o.Entries = s.Entries()
		sort.Strings(o.Entries)
	case "journal":
		o.Records, err = s.Records(ctx, o.Context)
	default:
		err = fmt.Errorf("unknown op '%s'", o.Op)
	}

	o.Error, o.Err = erred(err)

	s.broadcast(o.message())

	return o.Error
}

func (o *Op) message() *sio.Message {
	return &sio.Message{
		Topic:   "ops/" + o.Op,
		Payload: o,
	}
}

// entry compiles Source if given and otherwise finds the named
// entry.
func (o *Op) entry(ctx context.Context, s *Service) (*core.Entry, error) {
	if o.Source != nil {
		e, err := s.Compile(ctx, o.Interpreter, o.Entry, o.Source)
		if err != nil {
			return nil, err
		}
		o.Entry = e.Name
		return e, nil
	}
	if o.Entry == "" {
		return nil, fmt.Errorf("%s needs an entry", o.Op)
	}
	return s.Entry(o.Entry)
}

func (o *Op) context(s *Service) (*core.Context, error) {
	if o.Context == "" {
		return nil, fmt.Errorf("%s needs a context", o.Op)
	}
	return s.crew.Get(o.Context)
}

func (o *Op) control(s *Service, f func(*core.Context) error) error {
	c, err := o.context(s)
	if err != nil {
		return err
	}
	return f(c)
}

// make creates the Context and places the entry, if any, on it.
func (o *Op) make(ctx context.Context, s *Service) error {
	if o.Context == "" {
		return fmt.Errorf("make needs a context")
	}
	var e *core.Entry
	if o.Entry != "" || o.Source != nil {
		var err error
		if e, err = o.entry(ctx, s); err != nil {
			return err
		}
	}
	c, err := s.crew.Make(o.Context, nil)
	if err != nil {
		return err
	}
	if e != nil {
		return c.Place(e, true)
	}
	return nil
}

func (o *Op) push(ctx context.Context, s *Service) error {
	c, err := o.context(s)
	if err != nil {
		return err
	}
	e, err := o.entry(ctx, s)
	if err != nil {
		return err
	}
	return c.Push(e, !o.Hold)
}

func (o *Op) place(ctx context.Context, s *Service) error {
	c, err := o.context(s)
	if err != nil {
		return err
	}
	e, err := o.entry(ctx, s)
	if err != nil {
		return err
	}
	return c.Place(e, !o.Hold)
}

// swap replaces the next pending entry.  Without an entry, it just
// removes it.
func (o *Op) swap(ctx context.Context, s *Service) error {
	c, err := o.context(s)
	if err != nil {
		return err
	}
	var e *core.Entry
	if o.Entry != "" || o.Source != nil {
		if e, err = o.entry(ctx, s); err != nil {
			return err
		}
	}

	if o.Return == "" {
		prev, err := c.Swap(e, !o.Hold)
		if err != nil {
			return err
		}
		if prev != nil {
			o.Previous = prev.Name
		}
		return nil
	}

	var ret core.Label
	switch strings.ToLower(o.Return) {
	case "wait":
		ret = core.Wait
	case "exit":
		ret = core.Exit
	default:
		return fmt.Errorf("bad return '%s'", o.Return)
	}

	prev, err := c.SwapLink(core.Link{Entry: e, Return: ret}, !o.Hold)
	if err != nil {
		return err
	}
	if prev.Entry != nil {
		o.Previous = prev.Entry.Name
	}
	o.Return = prev.Return.String()
	return nil
}

func (o *Op) pop(ctx context.Context, s *Service) error {
	c, err := o.context(s)
	if err != nil {
		return err
	}
	e, err := c.Pop(!o.Hold)
	if err != nil {
		return err
	}
	if e != nil {
		o.Previous = e.Name
	}
	return nil
}

func (o *Op) schedule(ctx context.Context, s *Service) error {
	if o.Timer == "" {
		return fmt.Errorf("schedule needs a timer id")
	}
	if _, err := o.context(s); err != nil {
		return err
	}
	e, err := o.entry(ctx, s)
	if err != nil {
		return err
	}
	switch {
	case o.Cron != "" && o.In != "":
		return fmt.Errorf("schedule wants in or cron, not both")
	case o.Cron != "":
		return s.timers.AddCron(ctx, o.Timer, o.Context, e, o.Cron)
	case o.In != "":
		d, err := time.ParseDuration(o.In)
		if err != nil {
			return err
		}
		return s.timers.Add(ctx, o.Timer, o.Context, e, d)
	default:
		return fmt.Errorf("schedule needs in or cron")
	}
}

func (o *Op) status(s *Service) {
	if o.Context == "" {
		o.Status = s.crew.Status()
	} else if c, err := s.crew.Get(o.Context); err == nil {
		o.Status = map[string]*core.Status{
			o.Context: c.Status(),
		}
	}
	o.Timers = s.timers.List()
}
