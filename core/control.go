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
	"errors"

	"github.com/Comcast/opal/trace"
)

// NilEntry occurs when an operation that needs an entry is given nil.
var NilEntry = errors.New("nil entry")

// check returns the error, if any, that prevents a controller
// operation.  Caller holds mu.
func (c *Context) check() error {
	switch {
	case c.state.Final():
		return ContextFinished
	case c.state == Swapping:
		return ContextIsSwapping
	}
	return nil
}

// suspend halts the unit.  Caller holds mu and has checked that the
// Context isn't already suspended.
func (c *Context) suspend() error {
	if err := c.tracer.Stop(c.id); err != nil {
		return err
	}
	c.prior = c.state
	c.to(Suspended)
	c.logf("suspended from %s", c.prior)
	return nil
}

// resume continues the unit and restores the state that suspend
// interrupted.  Caller holds mu and has checked that the Context is
// suspended.
func (c *Context) resume() error {
	if err := c.tracer.Continue(c.id); err != nil {
		return &ContextResumeFailure{Name: c.name, Err: err}
	}
	c.set(c.prior)
	c.notify(EventResume)
	c.signal()
	c.logf("resumed to %s", c.prior)
	return nil
}

// Suspend halts the Context.  Suspending a suspended Context does
// nothing.
//
// The unit halts at its next safepoint: right away if it's waiting,
// or at the running job's next Checkpoint (or its return) if it's
// running a job.  The state is SUSPENDED when Suspend returns either
// way.
func (c *Context) Suspend() error {
	if c == nil {
		return ContextHandleNull
	}
	if c.isSelf() {
		return ContextSuspendSelf
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(); err != nil {
		return err
	}
	if c.state == Suspended {
		return nil
	}
	return c.suspend()
}

// Resume continues a suspended Context and restores the state it was
// in when it was suspended.  Resuming a Context that isn't suspended
// does nothing.
//
// If the tracer can't continue the unit, Resume returns a
// *ContextResumeFailure and the Context stays suspended.
func (c *Context) Resume() error {
	if c == nil {
		return ContextHandleNull
	}
	if c.isSelf() {
		return ContextSuspendSelf
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Swapping {
		return ContextIsSwapping
	}
	if c.state != Suspended {
		return nil
	}
	return c.resume()
}

// Swap replaces the next pending entry with e and returns the entry
// it replaced (nil if there wasn't one).  A nil e just removes the
// next pending entry.
//
// See SwapLink.
func (c *Context) Swap(e *Entry, autoResume bool) (*Entry, error) {
	if c == nil {
		return nil, ContextHandleNull
	}

	c.mu.Lock()
	ret := c.ret
	if c.terminate {
		ret = Exit
	}
	c.mu.Unlock()

	prev, err := c.swap(Link{Entry: e, Return: ret}, false, autoResume)
	return prev.Entry, err
}

// SwapLink atomically replaces the Context's link: the next pending
// entry and the label to return to.  It returns the previous link.
//
// A Return of Exit requests termination (see SetTerminate), and a
// Return of Wait cancels a termination request.  If a job is running,
// its return label is rewritten, so the job returns to l.Return.
//
// The Context is suspended first if it isn't already.  It's resumed
// afterwards only if autoResume is true.  While the swap is in
// progress the Context is SWAPPING, and every other controller
// operation on it fails with ContextIsSwapping.
//
// If the swap fails, the Context is left as it was.
func (c *Context) SwapLink(l Link, autoResume bool) (Link, error) {
	if c == nil {
		return Link{}, ContextHandleNull
	}
	return c.swap(l, true, autoResume)
}

func (c *Context) swap(l Link, relink, autoResume bool) (Link, error) {
	if c.isSelf() {
		return Link{}, ContextSwapSelf
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(); err != nil {
		return Link{}, err
	}

	suspended := false
	if c.state != Suspended {
		if err := c.suspend(); err != nil {
			return Link{}, err
		}
		suspended = true
	}

	// Undo our own suspension if something goes wrong.
	rollback := func(err error) (Link, error) {
		if suspended {
			if rerr := c.resume(); rerr != nil {
				c.logf("swap rollback %v", rerr)
			}
		}
		return Link{}, err
	}

	base := c.prior
	prev := Link{
		Entry:  c.path.front(),
		Return: c.ret,
	}
	if c.terminate {
		prev.Return = Exit
	}

	c.set(Swapping)

	// The register work happens without the lock so that other
	// controllers see SWAPPING.
	var err error
	if relink && base == Started {
		c.mu.Unlock()
		err = c.rewrite(trace.RA, labelAddress(l.Return))
		c.mu.Lock()
	}

	c.set(Suspended)

	if err != nil {
		return rollback(err)
	}

	c.path.replace(l.Entry)
	if relink {
		c.ret = l.Return
		c.terminate = l.Terminate()
		c.willTerm.Store(c.terminate)
	}
	c.logf("swapped %s for %s", prev, l)

	if autoResume {
		if err := c.resume(); err != nil {
			// Put things back.  We're still suspended.
			c.path.replace(prev.Entry)
			if relink {
				c.ret = prev.Return
				c.terminate = prev.Terminate()
				c.willTerm.Store(c.terminate)
			}
			return Link{}, err
		}
	}

	c.signal()

	return prev, nil
}

// rewrite sets one register of the halted unit.
func (c *Context) rewrite(r trace.Reg, a trace.Address) error {
	regs, err := c.tracer.GetRegs(c.id)
	if err != nil {
		return err
	}
	regs.Set(r, a)
	return c.tracer.SetRegs(c.id, regs)
}

// Push makes e the next thing the Context runs.
//
// If the Context is waiting (or was waiting when it was suspended),
// e just goes to the front of the pending entries.
//
// If the Context is running a job, the job is abandoned: the unit's
// PC is rewritten to e and the job's context.Context is cancelled.
// When the job next calls Checkpoint (which returns Abandoned) or
// returns, the unit jumps to e without passing through WAITING.
// This is unsafe in the way that killing a thread is unsafe: the
// abandoned job is not resumed, and whatever it was in the middle of
// stays that way.  A job that never checkpoints runs to completion
// before e starts.
//
// The Context is suspended for the duration and resumed afterwards
// only if autoResume is true.
func (c *Context) Push(e *Entry, autoResume bool) error {
	if c == nil {
		return ContextHandleNull
	}
	if e == nil {
		return NilEntry
	}
	if c.isSelf() {
		return ContextSwapSelf
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(); err != nil {
		return err
	}

	suspended := false
	if c.state != Suspended {
		if err := c.suspend(); err != nil {
			return err
		}
		suspended = true
	}

	if c.prior == Started {
		regs, err := c.tracer.GetRegs(c.id)
		if err == nil {
			// An earlier redirect that hasn't happened yet
			// runs after e.
			if pc := trace.Deref[Entry](regs.Get(trace.PC)); pc != nil && pc != c.current {
				c.path.push(pc)
			}
			regs.Set(trace.PC, trace.AddressOf(e))
			err = c.tracer.SetRegs(c.id, regs)
		}
		if err != nil {
			if suspended {
				if rerr := c.resume(); rerr != nil {
					c.logf("push rollback %v", rerr)
				}
			}
			return err
		}
		if c.cancelJob != nil {
			c.cancelJob()
		}
		c.logf("redirecting %s to %s", c.current, e)
	} else {
		c.path.push(e)
	}

	if autoResume {
		if err := c.resume(); err != nil {
			return err
		}
	}

	c.signal()

	return nil
}

// Pop cancels the next thing the Context would run and returns it.
//
// If the Context is running a job, that job is abandoned (see Push)
// and Pop returns its entry.  The Context then goes wherever the job
// would have returned to.  Otherwise Pop removes and returns the next
// pending entry, or nil if there isn't one.
//
// The Context is suspended for the duration and resumed afterwards
// only if autoResume is true.
func (c *Context) Pop(autoResume bool) (*Entry, error) {
	if c == nil {
		return nil, ContextHandleNull
	}
	if c.isSelf() {
		return nil, ContextSwapSelf
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(); err != nil {
		return nil, err
	}

	suspended := false
	if c.state != Suspended {
		if err := c.suspend(); err != nil {
			return nil, err
		}
		suspended = true
	}

	var e *Entry
	if c.prior == Started {
		regs, err := c.tracer.GetRegs(c.id)
		if err == nil {
			e = trace.Deref[Entry](regs.Get(trace.PC))
			regs.Set(trace.PC, trace.Address{})
			err = c.tracer.SetRegs(c.id, regs)
		}
		if err != nil {
			if suspended {
				if rerr := c.resume(); rerr != nil {
					c.logf("pop rollback %v", rerr)
				}
			}
			return nil, err
		}
		if c.cancelJob != nil {
			c.cancelJob()
		}
		c.logf("abandoned %s", e)
	} else {
		e = c.path.pop()
	}

	if autoResume {
		if err := c.resume(); err != nil {
			return e, err
		}
	}

	return e, nil
}

// Place adds e to the end of the pending entries, so it runs after
// everything else.  Place doesn't suspend the Context.  If the
// Context is suspended and autoResume is true, it's resumed.
func (c *Context) Place(e *Entry, autoResume bool) error {
	if c == nil {
		return ContextHandleNull
	}
	if e == nil {
		return NilEntry
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(); err != nil {
		return err
	}

	c.path.place(e)

	if autoResume && c.state == Suspended {
		if err := c.resume(); err != nil {
			return err
		}
	}

	c.signal()

	return nil
}

// SetTerminate requests (or cancels a request for) termination.
//
// The request takes effect when the Context is next waiting with
// nothing pending.  Entries already pending still run, and the last
// of them returns to Exit instead of the wait loop.
func (c *Context) SetTerminate(terminate bool) error {
	if c == nil {
		return ContextHandleNull
	}
	return Retry(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()

		if err := c.check(); err != nil {
			return err
		}
		c.terminate = terminate
		c.willTerm.Store(terminate)
		c.signal()
		return nil
	})
}

// Close terminates the Context and releases its stack.
//
// Close requests termination, resumes the Context if it's suspended,
// and then blocks until the unit has exited.  A Context with pending
// entries runs them first, and a job that never returns blocks Close
// forever.  Closing a closed Context does nothing.
func (c *Context) Close() error {
	if c == nil {
		return ContextHandleNull
	}
	if c.isSelf() {
		return ContextCloseSelf
	}

	if err := c.SetTerminate(true); err != nil && !errors.Is(err, ContextFinished) {
		return err
	}

	if err := Retry(c.Resume); err != nil {
		return err
	}

	<-c.done

	c.mu.Lock()
	c.stack.release()
	c.stack = nil
	c.path.clear()
	c.observer = nil
	c.job = nil
	c.mu.Unlock()

	c.logf("closed")

	return nil
}
