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
	"errors"
	"fmt"
	"runtime"

	"github.com/Comcast/opal/attr"
	"github.com/Comcast/opal/trace"
)

// labels gives each Label an address for the RA register.
var labels = [...]Label{Wait, Exit}

func labelAddress(l Label) trace.Address {
	if l < 0 || int(l) >= len(labels) {
		return trace.Address{}
	}
	return trace.AddressOf(&labels[l])
}

// run is the unit.  It never returns the thread it's locked to.
func (c *Context) run(a *attr.Attr, ready chan<- error) {
	runtime.LockOSThread()

	defer close(c.done)

	c.id = self()

	if err := a.Apply(); err != nil {
		ready <- err
		return
	}

	if err := c.tracer.TraceMe(c.id); err != nil {
		ready <- err
		return
	}

	ready <- nil

	// We start out stopped.  New continues us once we're CREATED.
	if err := c.safepoint(); err != nil {
		return
	}

	c.loop()
}

// safepoint is where the unit halts if a controller has stopped it.
// Any registers written by a controller while we were away are kept
// in patch.  (unit)
func (c *Context) safepoint() error {
	regs, err := c.tracer.Checkpoint(c.id)
	if regs != nil {
		c.patch = regs
	}
	return err
}

// hold runs f with mu held once the Context is neither SUSPENDED nor
// SWAPPING.  (unit)
//
// The second safepoint, under the lock, can't park: while the state
// is neither SUSPENDED nor SWAPPING the unit isn't stopped.  It picks
// up registers patched after the first safepoint.
func (c *Context) hold(f func()) {
	for {
		c.safepoint()
		c.mu.Lock()
		switch c.state {
		case Suspended, Swapping:
			c.mu.Unlock()
			runtime.Gosched()
			continue
		}
		c.safepoint()
		f()
		c.mu.Unlock()
		return
	}
}

// loop is the wait loop.  (unit)
func (c *Context) loop() {
	c.hold(func() {
		c.to(Waiting)
	})

	spins := 0
	for {
		var (
			e    *Entry
			exit bool
		)
		c.hold(func() {
			if e = c.path.pop(); e != nil {
				// Termination waits for the last pending entry.
				ret := Wait
				if c.terminate && c.path.len() == 0 {
					ret = Exit
				}
				c.start(e, ret)
				return
			}
			if c.terminate {
				exit = true
				c.to(Terminated)
			}
		})

		switch {
		case e != nil:
			spins = 0
			if c.exec(e) {
				c.exit()
				return
			}
		case exit:
			c.exit()
			return
		case spins < c.spin:
			spins++
			runtime.Gosched()
		default:
			spins = 0
			<-c.wake
		}
	}
}

// start makes e the running entry.  Caller holds mu.  (unit)
func (c *Context) start(e *Entry, ret Label) {
	c.patch = nil
	c.setCurrent(e)
	c.ret = ret
	c.job, c.cancelJob = context.WithCancel(context.WithValue(context.Background(), ctxKey{}, c))

	var regs trace.RegisterView
	regs.Set(trace.PC, trace.AddressOf(e))
	regs.Set(trace.RA, labelAddress(ret))
	regs.Set(trace.SP, trace.AddressOf(c.stack.base()))
	if err := c.tracer.Publish(c.id, &regs); err != nil {
		c.logf("publish error %v", err)
	}

	c.to(Started)
}

// exec runs e, and then whatever a controller redirected us to, until
// something returns normally.  exec reports whether the unit should
// exit, in which case the Context is already terminal.  (unit)
func (c *Context) exec(e *Entry) (exit bool) {
	for e != nil {
		c.mu.Lock()
		job := c.job
		c.mu.Unlock()

		err := c.invoke(job, e)

		var next *Entry
		c.hold(func() {
			c.cancelJob()
			c.lastErr = err

			if p := c.patch; p != nil {
				c.patch = nil
				if ra := trace.Deref[Label](p.Get(trace.RA)); ra != nil {
					c.ret = *ra
				}
				if pc := trace.Deref[Entry](p.Get(trace.PC)); pc != c.current {
					next = pc
				}
			}

			switch {
			case c.suicide:
				c.setCurrent(nil)
				c.to(Suicide)
				exit = true
			case next != nil:
				c.logf("redirected from %s to %s", c.current, next)
				c.start(next, c.ret)
			case c.ret == Exit && !(c.terminate && 0 < c.path.len()):
				c.setCurrent(nil)
				c.to(Terminated)
				exit = true
			default:
				c.setCurrent(nil)
				c.to(Waiting)
			}
		})

		if exit {
			return true
		}
		e = next
	}
	return false
}

// invoke calls the entry's function.  A panic is caught and reported
// as an error.  (unit)
func (c *Context) invoke(ctx context.Context, e *Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", e.Name, r)
		}
		if err != nil && !errors.Is(err, Abandoned) && !errors.Is(err, context.Canceled) {
			c.logf("entry %s error %v", e, err)
		}
	}()

	if e.F == nil {
		return nil
	}
	return e.F(ctx)
}

// exit finishes a terminal Context.  (unit)
func (c *Context) exit() {
	c.mu.Lock()
	if c.state == Suicide {
		c.notify(EventTerminated)
	}
	c.path.clear()
	c.mu.Unlock()

	c.willTerm.Store(true)

	if err := c.tracer.Detach(c.id); err != nil {
		c.logf("detach error %v", err)
	}
	c.logf("exited")
}

// Checkpoint is a safepoint for job code.  A job that runs for a
// while should call Checkpoint now and then.
//
// Checkpoint halts the caller if a controller has suspended its
// Context.  It returns Abandoned if a controller has redirected the
// Context away from this job (see Push and Pop), in which case the
// job should return promptly.  The return value of an abandoned job
// is ignored.
//
// Only the Context's own unit may call Checkpoint.
func Checkpoint(ctx context.Context) error {
	c := From(ctx)
	if c == nil {
		return ContextHandleNull
	}
	if !c.isSelf() {
		return ContextForeign
	}
	if err := c.safepoint(); err != nil {
		return err
	}
	if p := c.patch; p != nil && trace.Deref[Entry](p.Get(trace.PC)) != c.current {
		return Abandoned
	}
	if ctx.Err() != nil {
		return Abandoned
	}
	return nil
}

// Suicide ends the Context from inside one of its own jobs.  The job
// should return promptly afterwards.  When it does, the Context goes
// to SUICIDE instead of back to WAITING, and its Observer hears
// OnSuicide and then OnTerminated.
//
// Only the Context's own unit may call Suicide.
func (c *Context) Suicide() error {
	if c == nil {
		return ContextHandleNull
	}
	if !c.isSelf() {
		return ContextForeign
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Final() {
		return ContextFinished
	}
	c.suicide = true
	c.willTerm.Store(true)
	if c.cancelJob != nil {
		c.cancelJob()
	}
	return nil
}
