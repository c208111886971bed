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

// path is the pending work of a Context, highest priority first.
type path struct {
	entries []*Entry
}

// front returns the next entry without removing it.
func (p *path) front() *Entry {
	if len(p.entries) == 0 {
		return nil
	}
	return p.entries[0]
}

// push makes e the next entry.
func (p *path) push(e *Entry) {
	p.entries = append(p.entries, nil)
	copy(p.entries[1:], p.entries)
	p.entries[0] = e
}

// place makes e the last entry.
func (p *path) place(e *Entry) {
	p.entries = append(p.entries, e)
}

// pop removes and returns the next entry.
func (p *path) pop() *Entry {
	if len(p.entries) == 0 {
		return nil
	}
	e := p.entries[0]
	p.entries[0] = nil
	p.entries = p.entries[1:]
	if len(p.entries) == 0 {
		p.entries = nil
	}
	return e
}

// replace swaps the next entry for e (which may be nil) and returns
// the previous one.
func (p *path) replace(e *Entry) *Entry {
	prev := p.pop()
	if e != nil {
		p.push(e)
	}
	return prev
}

func (p *path) len() int {
	return len(p.entries)
}

func (p *path) list() []*Entry {
	acc := make([]*Entry, len(p.entries))
	copy(acc, p.entries)
	return acc
}

func (p *path) clear() {
	p.entries = nil
}
