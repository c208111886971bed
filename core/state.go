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
)

// State is a Context lifecycle state.
//
// A Context is in exactly one State at a time.
type State int32

const (
	Unset State = iota
	Created
	Waiting
	Started
	Suspended

	// Swapping is held only while a controller rewrites a
	// Context's pending entry and return label.
	Swapping

	// Suicide is the terminal state of a Context that ended
	// itself from inside one of its own jobs.
	Suicide

	Terminated
)

var stateNames = map[State]string{
	Unset:      "unset",
	Created:    "created",
	Waiting:    "waiting",
	Started:    "started",
	Suspended:  "suspended",
	Swapping:   "swapping",
	Suicide:    "suicide",
	Terminated: "terminated",
}

func (s State) String() string {
	if name, have := stateNames[s]; have {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalJSON renders the state's name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a state's name.
func (s *State) UnmarshalJSON(bs []byte) error {
	var name string
	if err := json.Unmarshal(bs, &name); err != nil {
		return err
	}
	st, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseState returns the State with the given name.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return Unset, fmt.Errorf("unknown state '%s'", name)
}

// Final reports whether the state is terminal.
func (s State) Final() bool {
	return s == Terminated || s == Suicide
}

// Transition is an edge in the lifecycle state machine.
type Transition struct {
	From State  `json:"from"`
	To   State  `json:"to"`
	By   string `json:"by"`
}

// transitions is the lifecycle state machine.  Anything not listed
// here is illegal.
//
// Suspended and Swapping return to whatever state they interrupted,
// so their exits are listed once per interrupted state.
var transitions = []Transition{
	{Unset, Created, "New"},
	{Created, Waiting, "unit"},
	{Created, Suspended, "Suspend"},
	{Waiting, Started, "unit"},
	{Waiting, Terminated, "unit"},
	{Waiting, Suspended, "Suspend"},
	{Started, Waiting, "unit"},
	{Started, Started, "unit"},
	{Started, Terminated, "unit"},
	{Started, Suicide, "unit"},
	{Started, Suspended, "Suspend"},
	{Suspended, Created, "Resume"},
	{Suspended, Waiting, "Resume"},
	{Suspended, Started, "Resume"},
	{Suspended, Swapping, "Swap"},
	{Swapping, Suspended, "Swap"},
}

var legal = func() map[State]map[State]bool {
	acc := make(map[State]map[State]bool, len(stateNames))
	for _, t := range transitions {
		tos, have := acc[t.From]
		if !have {
			tos = make(map[State]bool, 4)
			acc[t.From] = tos
		}
		tos[t.To] = true
	}
	return acc
}()

// Transitions returns a copy of the lifecycle state machine's edges.
func Transitions() []Transition {
	acc := make([]Transition, len(transitions))
	copy(acc, transitions)
	return acc
}

// Legal reports whether the lifecycle state machine allows the given
// transition.
func Legal(from, to State) bool {
	return legal[from][to]
}

// IllegalTransition occurs when something tries to move a Context
// along an edge that isn't in the state machine.  It indicates a bug
// in this package.
type IllegalTransition struct {
	From State
	To   State
}

func (e *IllegalTransition) Error() string {
	return "illegal transition " + e.From.String() + " → " + e.To.String()
}
