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

package trace

import (
	"sync"
)

// Gate is an in-process Tracer.
//
// A Gate can't halt a unit at an arbitrary instruction.  Instead a
// stopped unit parks at its next Checkpoint.  Code that never reaches
// a Checkpoint keeps running until it does.
type Gate struct {
	sync.Mutex

	units map[ID]*unit
}

type unit struct {
	id       ID
	seized   bool
	stopped  bool
	parked   bool
	detached bool

	// wake is signalled whenever stopped or detached changes.
	wake *sync.Cond

	regs    RegisterView
	patched *RegisterView
}

// NewGate makes an empty Gate.
func NewGate() *Gate {
	return &Gate{
		units: make(map[ID]*unit, 8),
	}
}

var (
	defaultGate     *Gate
	defaultGateOnce sync.Once
)

// DefaultGate returns a process-wide Gate.
func DefaultGate() *Gate {
	defaultGateOnce.Do(func() {
		defaultGate = NewGate()
	})
	return defaultGate
}

func (g *Gate) find(id ID) (*unit, error) {
	u, have := g.units[id]
	if !have {
		return nil, NotTraced
	}
	return u, nil
}

func (g *Gate) seized(id ID) (*unit, error) {
	u, err := g.find(id)
	if err != nil {
		return nil, err
	}
	if !u.seized {
		return nil, NotSeized
	}
	return u, nil
}

// TraceMe implements Tracer.  The unit starts out stopped.
func (g *Gate) TraceMe(id ID) error {
	g.Lock()
	defer g.Unlock()

	if g.units == nil {
		g.units = make(map[ID]*unit, 8)
	}
	if _, have := g.units[id]; have {
		return AlreadyTraced
	}
	g.units[id] = &unit{
		id:      id,
		stopped: true,
		wake:    sync.NewCond(&g.Mutex),
	}
	return nil
}

// Seize implements Tracer.
func (g *Gate) Seize(id ID) error {
	g.Lock()
	defer g.Unlock()

	u, err := g.find(id)
	if err != nil {
		return err
	}
	u.seized = true
	return nil
}

// Stop implements Tracer.
func (g *Gate) Stop(id ID) error {
	g.Lock()
	defer g.Unlock()

	u, err := g.seized(id)
	if err != nil {
		return err
	}
	u.stopped = true
	return nil
}

// Continue implements Tracer.  Continuing a running unit is not an
// error.
func (g *Gate) Continue(id ID) error {
	g.Lock()
	defer g.Unlock()

	u, err := g.seized(id)
	if err != nil {
		return err
	}
	if u.stopped {
		u.stopped = false
		u.wake.Broadcast()
	}
	return nil
}

// Stopped implements Tracer.
func (g *Gate) Stopped(id ID) bool {
	g.Lock()
	defer g.Unlock()

	u, err := g.find(id)
	if err != nil {
		return false
	}
	return u.stopped
}

// Parked reports whether the unit is currently parked at a
// Checkpoint.
func (g *Gate) Parked(id ID) bool {
	g.Lock()
	defer g.Unlock()

	u, err := g.find(id)
	if err != nil {
		return false
	}
	return u.parked
}

// Checkpoint implements Tracer.
func (g *Gate) Checkpoint(id ID) (*RegisterView, error) {
	g.Lock()
	defer g.Unlock()

	u, err := g.find(id)
	if err != nil {
		return nil, err
	}

	for u.stopped && !u.detached {
		u.parked = true
		u.wake.Wait()
	}
	u.parked = false

	if u.detached {
		return nil, Detached
	}

	p := u.patched
	u.patched = nil
	return p, nil
}

// Publish implements Tracer.
func (g *Gate) Publish(id ID, regs *RegisterView) error {
	g.Lock()
	defer g.Unlock()

	u, err := g.find(id)
	if err != nil {
		return err
	}
	if regs == nil {
		u.regs = RegisterView{}
	} else {
		u.regs = *regs
	}
	return nil
}

// GetRegs implements Tracer.
func (g *Gate) GetRegs(id ID) (*RegisterView, error) {
	g.Lock()
	defer g.Unlock()

	u, err := g.seized(id)
	if err != nil {
		return nil, err
	}
	return u.regs.Copy(), nil
}

// SetRegs implements Tracer.
func (g *Gate) SetRegs(id ID, regs *RegisterView) error {
	g.Lock()
	defer g.Unlock()

	u, err := g.seized(id)
	if err != nil {
		return err
	}
	if regs == nil {
		regs = &RegisterView{}
	}
	u.regs = *regs
	u.patched = regs.Copy()
	return nil
}

// Detach implements Tracer.
func (g *Gate) Detach(id ID) error {
	g.Lock()
	defer g.Unlock()

	u, err := g.find(id)
	if err != nil {
		return err
	}
	delete(g.units, id)
	u.detached = true
	u.wake.Broadcast()
	return nil
}

// Len returns the number of units the Gate is tracing.
func (g *Gate) Len() int {
	g.Lock()
	defer g.Unlock()
	return len(g.units)
}
