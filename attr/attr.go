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

// Package attr describes the scheduling attributes of an execution
// unit: nice priority, scheduling policy, and CPU affinity.
//
// Attributes are applied by the unit to its own thread, once, before
// it does anything else.
package attr

import (
	"errors"
	"fmt"
	"strings"
)

// Policy is a scheduling policy.
type Policy string

const (
	Other Policy = "other"
	Batch Policy = "batch"
	Idle  Policy = "idle"
	FIFO  Policy = "fifo"
	RR    Policy = "rr"
)

// Unsupported occurs when attributes can't be applied on this
// platform.
var Unsupported = errors.New("thread attributes not supported on this platform")

// Attr holds the attributes applied to a new execution unit.
//
// The zero Attr changes nothing.
type Attr struct {
	// Priority is a nice value.  Zero leaves the inherited value
	// alone.  Negative values usually need privileges.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Policy is the scheduling policy.  Empty leaves the
	// inherited policy alone.
	Policy Policy `json:"policy,omitempty" yaml:"policy,omitempty"`

	// RTPriority is the static priority for the FIFO and RR
	// policies.
	RTPriority int `json:"rtPriority,omitempty" yaml:"rtPriority,omitempty"`

	// CPUs is the affinity set.  Empty leaves the inherited set
	// alone.
	CPUs []int `json:"cpus,omitempty" yaml:"cpus,omitempty"`
}

// IsZero reports whether applying the Attr would change nothing.
func (a *Attr) IsZero() bool {
	return a == nil || (a.Priority == 0 && a.Policy == "" && a.RTPriority == 0 && len(a.CPUs) == 0)
}

// Validate checks the Attr without applying it.
func (a *Attr) Validate() error {
	if a == nil {
		return nil
	}
	switch Policy(strings.ToLower(string(a.Policy))) {
	case "", Other, Batch, Idle:
		if a.RTPriority != 0 {
			return fmt.Errorf("rtPriority %d needs policy fifo or rr", a.RTPriority)
		}
	case FIFO, RR:
		if a.RTPriority < 1 || 99 < a.RTPriority {
			return fmt.Errorf("rtPriority %d out of range [1,99]", a.RTPriority)
		}
	default:
		return fmt.Errorf("unknown policy '%s'", a.Policy)
	}
	if a.Priority < -20 || 19 < a.Priority {
		return fmt.Errorf("priority %d out of range [-20,19]", a.Priority)
	}
	for _, cpu := range a.CPUs {
		if cpu < 0 {
			return fmt.Errorf("bad cpu %d", cpu)
		}
	}
	return nil
}

// Apply applies the Attr to the calling thread.
//
// The caller should have called runtime.LockOSThread; otherwise the
// attributes land on whatever thread the goroutine happens to be
// running on.
func (a *Attr) Apply() error {
	if a.IsZero() {
		return nil
	}
	if err := a.Validate(); err != nil {
		return err
	}
	return a.apply()
}
