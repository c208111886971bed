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
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/Comcast/opal/attr"
	"github.com/Comcast/opal/trace"
	"github.com/Comcast/opal/util"
)

// DefaultSpin is the number of times an idle Context yields before it
// blocks waiting for work.
var DefaultSpin = 64

// Conf configures a new Context.  The zero Conf is usable.
type Conf struct {
	// Name is for humans.
	Name string

	// Tracer is the trace-control backend.  Nil means
	// trace.DefaultGate().
	Tracer trace.Tracer

	// Observer, if any, hears about every transition.
	Observer Observer

	// Entry, if any, is the first pending entry.
	Entry *Entry

	// Attr is applied to the unit's thread before anything else
	// happens.
	Attr *attr.Attr

	// StackSize defaults to DefaultStackSize.
	StackSize int

	// Spin defaults to DefaultSpin.  Negative means never spin.
	Spin int

	Verbose bool
}

// Context is a long-lived execution unit that runs whatever entries
// its controllers give it.
//
// A Context is made by New, which starts a goroutine locked to its
// own OS thread.  That goroutine (the Context's "unit") waits for
// entries, runs them one at a time, and goes back to waiting.  The
// thread is never reused for anything else and is torn down when the
// Context terminates.
//
// Every other goroutine is a controller.  Controllers Suspend,
// Resume, Swap, Push, Pop, and Place.  A Context's unit may not call
// these methods on its own Context.
type Context struct {
	id       trace.ID
	name     string
	tracer   trace.Tracer
	observer Observer
	spin     int

	Verbose bool

	// mu guards everything below it except the atomics, the
	// channels, and the fields marked "unit".
	mu sync.Mutex

	state State

	// prior is the state that Suspended interrupted.
	prior State

	terminate bool
	suicide   bool

	// path is the pending work.  Its front is the next entry.
	path path

	// ret is where the running entry returns to.
	ret Label

	current   *Entry
	job       context.Context
	cancelJob context.CancelFunc
	lastErr   error

	stack *Stack

	snap     atomic.Int32
	cur      atomic.Pointer[Entry]
	willTerm atomic.Bool

	// wake is signalled when a controller changes something the
	// wait loop cares about.
	wake chan struct{}

	// done is closed when the unit exits.
	done chan struct{}

	// patch holds registers written by a controller and not yet
	// acted on.  (unit)
	patch *trace.RegisterView
}

type ctxKey struct{}

// From returns the Context running the job that owns ctx, or nil.
func From(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(ctxKey{}).(*Context)
	return c
}

// New makes a Context and waits until it's under trace control.
//
// When New returns successfully, the Context is CREATED (its Observer
// has seen OnCreated) and its unit is on its way to WAITING.  If the
// unit can't be started or traced, New returns a
// *ContextCreateFailure and there is no Context.
func New(conf *Conf) (*Context, error) {
	if conf == nil {
		conf = &Conf{}
	}

	if err := conf.Attr.Validate(); err != nil {
		return nil, &ContextCreateFailure{Name: conf.Name, Err: err}
	}

	if IsNilObserver(conf.Observer) {
		return nil, &ContextCreateFailure{Name: conf.Name, Err: NilObserver}
	}

	tracer := conf.Tracer
	if tracer == nil {
		tracer = trace.DefaultGate()
	}

	spin := conf.Spin
	switch {
	case spin == 0:
		spin = DefaultSpin
	case spin < 0:
		spin = 0
	}

	c := &Context{
		name:     conf.Name,
		tracer:   tracer,
		observer: conf.Observer,
		spin:     spin,
		Verbose:  conf.Verbose,
		stack:    newStack(conf.StackSize),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	ready := make(chan error, 1)
	go c.run(conf.Attr, ready)

	if err := <-ready; err != nil {
		return nil, &ContextCreateFailure{Name: c.name, Err: err}
	}

	if err := c.tracer.Seize(c.id); err != nil {
		c.tracer.Detach(c.id)
		return nil, &ContextCreateFailure{Name: c.name, Err: err}
	}

	c.mu.Lock()
	if conf.Entry != nil {
		c.path.place(conf.Entry)
	}
	// The Observer hears OnCreated only once the unit is running.
	// The unit can't leave CREATED before we unlock.
	c.set(Created)
	err := c.tracer.Continue(c.id)
	if err == nil {
		c.notify(EventCreated)
	}
	c.mu.Unlock()

	if err != nil {
		c.tracer.Detach(c.id)
		return nil, &ContextCreateFailure{Name: c.name, Err: err}
	}

	c.logf("created")

	return c, nil
}

func (c *Context) logf(format string, args ...interface{}) {
	if c.Verbose {
		log.Printf("context %s (%d) "+format, append([]interface{}{c.name, c.id}, args...)...)
		return
	}
	util.Logf("context %s (%d) "+format, append([]interface{}{c.name, c.id}, args...)...)
}

// set moves the Context to the given state without notifying
// anybody.  Caller holds mu.
func (c *Context) set(s State) {
	if !Legal(c.state, s) {
		// A bug here, not the caller's problem.
		panic(&IllegalTransition{From: c.state, To: s})
	}
	c.state = s
	c.snap.Store(int32(s))
}

// to moves the Context to the given state and notifies the Observer.
// Caller holds mu.
func (c *Context) to(s State) {
	c.set(s)
	switch s {
	case Created:
		c.notify(EventCreated)
	case Waiting:
		c.notify(EventWaiting)
	case Started:
		c.notify(EventStarted)
	case Suspended:
		c.notify(EventSuspended)
	case Suicide:
		c.notify(EventSuicide)
	case Terminated:
		c.notify(EventTerminated)
	}
}

func (c *Context) notify(e Event) {
	Notify(c.observer, c, e)
}

// signal wakes the wait loop if it's blocked.
func (c *Context) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Context) isSelf() bool {
	return self() == c.id
}

// ID returns the id of the Context's unit.
func (c *Context) ID() trace.ID {
	if c == nil {
		return 0
	}
	return c.id
}

func (c *Context) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

func (c *Context) String() string {
	if c == nil {
		return "nil"
	}
	return c.name + "/" + c.State().String()
}

// State returns a snapshot of the Context's state.
//
// State doesn't take the lock, so it's safe to call from an Observer.
func (c *Context) State() State {
	if c == nil {
		return Unset
	}
	return State(c.snap.Load())
}

func (c *Context) IsCreated() bool   { return c.State() == Created }
func (c *Context) IsWaiting() bool   { return c.State() == Waiting }
func (c *Context) IsStarted() bool   { return c.State() == Started }
func (c *Context) IsSuspended() bool { return c.State() == Suspended }
func (c *Context) IsSwapping() bool  { return c.State() == Swapping }

// IsTerminated reports whether the Context has ended, either normally
// or by suicide.
func (c *Context) IsTerminated() bool {
	return c.State().Final()
}

// WillTerminate reports whether termination has been requested.
func (c *Context) WillTerminate() bool {
	if c == nil {
		return false
	}
	return c.willTerm.Load()
}

// Stack returns the Context's stack.  It's nil after Close.
func (c *Context) Stack() *Stack {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stack
}

// Current returns the entry that's running, if any.  Like State, it
// doesn't take the lock.
func (c *Context) Current() *Entry {
	if c == nil {
		return nil
	}
	return c.cur.Load()
}

// setCurrent.  Caller holds mu.  (unit)
func (c *Context) setCurrent(e *Entry) {
	c.current = e
	c.cur.Store(e)
}

// Pending returns the pending entries, next first.
func (c *Context) Pending() []*Entry {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path.list()
}

// LastError returns the error, if any, from the most recent job.
func (c *Context) LastError() error {
	if c == nil {
		return ContextHandleNull
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Registers returns a copy of the unit's registers as last published
// or patched.
func (c *Context) Registers() (*trace.RegisterView, error) {
	if c == nil {
		return nil, ContextHandleNull
	}
	return c.tracer.GetRegs(c.id)
}

// Done returns a channel that's closed when the unit has exited.
func (c *Context) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.done
}

// Wait blocks until the Context has terminated or ctx is done.
func (c *Context) Wait(ctx context.Context) error {
	if c == nil {
		return ContextHandleNull
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status is a point-in-time summary of a Context.
type Status struct {
	Name      string   `json:"name"`
	ID        trace.ID `json:"id"`
	State     State    `json:"state"`
	Current   string   `json:"current,omitempty"`
	Pending   []string `json:"pending,omitempty"`
	Return    string   `json:"return"`
	Terminate bool     `json:"terminate,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Status reports the Context's state and pending work.
func (c *Context) Status() *Status {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Status{
		Name:      c.name,
		ID:        c.id,
		State:     c.state,
		Return:    c.ret.String(),
		Terminate: c.terminate,
	}
	if c.current != nil {
		s.Current = c.current.Name
	}
	for _, e := range c.path.entries {
		s.Pending = append(s.Pending, e.Name)
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	return s
}
