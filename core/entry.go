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
	"fmt"
)

// EntryFunc is the code a Context runs for a job.
//
// The context.Context is cancelled when a controller abandons the job
// (see Push and Pop).  Long-running code should call Checkpoint
// periodically.
type EntryFunc func(ctx context.Context) error

// Entry is an entry point: the code a Context jumps to when it leaves
// WAITING.
//
// An Entry's identity is its address.  Swap and Pop hand back the
// same *Entry that was installed, so callers can compare pointers.
type Entry struct {
	Name string
	F    EntryFunc
}

// NewEntry makes an Entry.
func NewEntry(name string, f EntryFunc) *Entry {
	return &Entry{
		Name: name,
		F:    f,
	}
}

func (e *Entry) String() string {
	if e == nil {
		return "nil"
	}
	return fmt.Sprintf("%s@%p", e.Name, e)
}

// Label is where a Context goes after an Entry returns.
type Label int

const (
	// Wait returns to the wait loop for the next job.
	Wait Label = iota

	// Exit ends the Context.
	Exit
)

func (l Label) String() string {
	switch l {
	case Wait:
		return "wait"
	case Exit:
		return "exit"
	}
	return fmt.Sprintf("label(%d)", int(l))
}

// Link pairs a pending entry with the label to return to when it's
// done.
//
// A Link with Return set to Exit asks the Context to terminate after
// running Entry (or right away if Entry is nil).
type Link struct {
	Entry  *Entry
	Return Label
}

func (l Link) String() string {
	return l.Entry.String() + "→" + l.Return.String()
}

// Terminate reports whether the link ends the Context.
func (l Link) Terminate() bool {
	return l.Return == Exit
}
