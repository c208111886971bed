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

// DefaultStackSize is the size of a Context's stack when Conf doesn't
// say.
const DefaultStackSize = 1 << 20

// Stack is the fixed memory region that belongs to a Context.
//
// It's allocated once by New, never grows or moves, and is released
// by Close after the Context has terminated.  Jobs may use it as
// scratch space; its base is what the SP register reports.
type Stack struct {
	mem []byte
}

func newStack(size int) *Stack {
	if size <= 0 {
		size = DefaultStackSize
	}
	return &Stack{
		mem: make([]byte, size),
	}
}

// Size returns the stack's size in bytes, or zero after release.
func (s *Stack) Size() int {
	if s == nil {
		return 0
	}
	return len(s.mem)
}

// Bytes returns the stack's memory.
func (s *Stack) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.mem
}

func (s *Stack) base() *byte {
	if s == nil || len(s.mem) == 0 {
		return nil
	}
	return &s.mem[0]
}

func (s *Stack) release() {
	if s != nil {
		s.mem = nil
	}
}
