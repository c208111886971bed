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

// Package trace provides the trace-control interface that a
// controller uses to halt, inspect, redirect, and continue an
// execution unit that shares its address space.
//
// The vocabulary follows ptrace(2): a unit asks to be traced
// (TraceMe) and stops itself, the controller attaches (Seize), and
// from then on the controller can Stop and Continue the unit and
// read or write its registers.
//
// All unsafe pointer handling in this module lives in this package.
// Everybody else deals in Address values and RegisterViews.
package trace

import (
	"errors"
	"fmt"
	"unsafe"
)

// ID identifies an execution unit.  On Linux it's a thread id.
type ID int

var (
	// NotTraced occurs when an operation names a unit that never
	// called TraceMe (or that has been detached).
	NotTraced = errors.New("unit not traced")

	// NotSeized occurs when a controller operation is attempted
	// on a unit that hasn't been seized.
	NotSeized = errors.New("unit not seized")

	// AlreadyTraced occurs when a unit calls TraceMe twice.
	AlreadyTraced = errors.New("unit already traced")

	// Detached is returned to a parked unit when its tracer
	// detaches from it.
	Detached = errors.New("unit detached")
)

// Tracer is the trace-control backend for execution units.
//
// Methods marked "unit" must be called by the unit itself.  The rest
// are for controllers.
type Tracer interface {
	// TraceMe registers the calling unit and stops it.  (unit)
	TraceMe(id ID) error

	// Seize attaches the controller to a unit that has called
	// TraceMe.
	Seize(id ID) error

	// Stop asks the unit to halt.  The unit halts at its next
	// safepoint.
	Stop(id ID) error

	// Continue releases a halted unit.
	Continue(id ID) error

	// Stopped reports whether the unit has been asked to halt and
	// hasn't been continued.
	Stopped(id ID) bool

	// Checkpoint is a safepoint.  It parks the unit while it's
	// stopped.  If a controller wrote the unit's registers since
	// the last checkpoint, the written registers are returned.
	// (unit)
	Checkpoint(id ID) (*RegisterView, error)

	// Publish records the unit's live registers.  (unit)
	Publish(id ID, regs *RegisterView) error

	// GetRegs returns a copy of the unit's registers.
	GetRegs(id ID) (*RegisterView, error)

	// SetRegs overwrites the unit's registers.  The unit sees the
	// change at its next Checkpoint.
	SetRegs(id ID, regs *RegisterView) error

	// Detach releases the unit and forgets about it.
	Detach(id ID) error
}

// Reg names a register in a RegisterView.
type Reg int

const (
	// PC is the code the unit is running.
	PC Reg = iota

	// RA is where the unit goes when the code at PC returns.
	RA

	// SP is the base of the unit's stack.
	SP

	// NumRegs is the size of a register file.
	NumRegs
)

func (r Reg) String() string {
	switch r {
	case PC:
		return "pc"
	case RA:
		return "ra"
	case SP:
		return "sp"
	}
	return fmt.Sprintf("reg%d", int(r))
}

// Address is an opaque code or data address.
//
// The zero Address is nil.
type Address struct {
	p unsafe.Pointer
}

// AddressOf returns the Address of the given pointer.
func AddressOf[T any](p *T) Address {
	return Address{p: unsafe.Pointer(p)}
}

// Deref converts an Address back into a typed pointer.
//
// The caller must know what type lives at the address.  That's the
// whole contract.
func Deref[T any](a Address) *T {
	return (*T)(a.p)
}

// IsNil reports whether the address is the zero address.
func (a Address) IsNil() bool {
	return a.p == nil
}

// Uintptr is for display only.
func (a Address) Uintptr() uintptr {
	return uintptr(a.p)
}

func (a Address) String() string {
	return fmt.Sprintf("%#x", a.Uintptr())
}

// RegisterView is a snapshot of a unit's register file.
type RegisterView struct {
	regs [NumRegs]Address
}

// Get returns the value of the given register.
func (v *RegisterView) Get(r Reg) Address {
	if v == nil || r < 0 || NumRegs <= r {
		return Address{}
	}
	return v.regs[r]
}

// Set writes the given register.
func (v *RegisterView) Set(r Reg, a Address) {
	if r < 0 || NumRegs <= r {
		return
	}
	v.regs[r] = a
}

// Copy returns an independent copy of the view.
func (v *RegisterView) Copy() *RegisterView {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func (v *RegisterView) String() string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("pc=%s ra=%s sp=%s", v.regs[PC], v.regs[RA], v.regs[SP])
}
