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
	"runtime"
)

// ContextCreateFailure occurs when New can't spawn a unit or can't
// establish trace control over it.  No Context exists afterwards.
type ContextCreateFailure struct {
	Name string
	Err  error
}

func (e *ContextCreateFailure) Error() string {
	return `context "` + e.Name + `" create failure: ` + e.Err.Error()
}

func (e *ContextCreateFailure) Unwrap() error {
	return e.Err
}

// ContextResumeFailure occurs when the tracer refuses to continue a
// suspended unit.  The Context is left suspended.
type ContextResumeFailure struct {
	Name string
	Err  error
}

func (e *ContextResumeFailure) Error() string {
	return `context "` + e.Name + `" resume failure: ` + e.Err.Error()
}

func (e *ContextResumeFailure) Unwrap() error {
	return e.Err
}

var (
	// ContextHandleNull occurs when an operation is called on a
	// nil Context.
	ContextHandleNull = errors.New("null context handle")

	// ContextSwapSelf occurs when a Context tries to swap its own
	// entries.
	ContextSwapSelf = errors.New("context cannot swap itself")

	// ContextSuspendSelf occurs when a Context tries to suspend
	// itself.
	ContextSuspendSelf = errors.New("context cannot suspend itself")

	// ContextCloseSelf occurs when a Context tries to close
	// itself.  Use Suicide instead.
	ContextCloseSelf = errors.New("context cannot close itself")

	// ContextIsSwapping occurs when an operation finds another
	// controller in the middle of a swap.  Try again.
	ContextIsSwapping = errors.New("context is swapping")

	// ContextFinished occurs when an operation is attempted on a
	// Context that has terminated.
	ContextFinished = errors.New("context finished")

	// ContextForeign occurs when an operation that only a Context
	// may perform on itself is called from somewhere else.
	ContextForeign = errors.New("not called from the context's own unit")

	// NilObserver occurs when New is given an Observer that's a
	// typed nil.
	NilObserver = errors.New("nil observer")

	// Abandoned is returned by Checkpoint when a controller has
	// redirected the Context away from the running job.
	Abandoned = errors.New("job abandoned")
)

// Retry calls f until it returns something other than
// ContextIsSwapping, yielding the processor between attempts.
func Retry(f func() error) error {
	for {
		err := f()
		if !errors.Is(err, ContextIsSwapping) {
			return err
		}
		runtime.Gosched()
	}
}
