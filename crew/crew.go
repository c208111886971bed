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

// Package crew manages a named collection of Contexts.
package crew

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/Comcast/opal/core"
)

var (
	Exists   = errors.New("id exists")
	NotFound = errors.New("not found")
)

// Crew is a set of Contexts keyed by id.
type Crew struct {
	sync.RWMutex

	Id      string `json:"id"`
	Verbose bool   `json:"-"`

	// Conf is the template for new Contexts.  Its Name and Entry
	// are ignored.  Its Observer, if any, observes every Context
	// in the crew.
	Conf core.Conf `json:"-"`

	contexts map[string]*core.Context
}

// NewCrew makes an empty Crew.  A nil conf means core defaults.
func NewCrew(id string, conf *core.Conf) *Crew {
	c := &Crew{
		Id:       id,
		contexts: make(map[string]*core.Context, 32),
	}
	if conf != nil {
		c.Conf = *conf
	}
	return c
}

func (c *Crew) logf(format string, args ...interface{}) {
	if c.Verbose {
		log.Printf("crew %s "+format, append([]interface{}{c.Id}, args...)...)
	}
}

// Make creates a Context with the given id.  The Context hears about
// its transitions through the crew's Observer and then o (if given).
func (c *Crew) Make(id string, o core.Observer) (*core.Context, error) {
	c.Lock()
	defer c.Unlock()

	if _, have := c.contexts[id]; have {
		return nil, Exists
	}

	conf := c.Conf
	conf.Name = id
	conf.Entry = nil
	switch {
	case conf.Observer != nil && o != nil:
		conf.Observer = core.Observers{conf.Observer, o}
	case o != nil:
		conf.Observer = o
	}

	x, err := core.New(&conf)
	if err != nil {
		return nil, err
	}
	c.contexts[id] = x
	c.logf("made %s", id)

	return x, nil
}

// Get returns the Context with the given id.
func (c *Crew) Get(id string) (*core.Context, error) {
	c.RLock()
	x, have := c.contexts[id]
	c.RUnlock()
	if !have {
		return nil, NotFound
	}
	return x, nil
}

// Rem closes the Context with the given id and forgets it.
//
// Rem blocks until the Context has terminated.
func (c *Crew) Rem(id string) error {
	c.Lock()
	x, have := c.contexts[id]
	delete(c.contexts, id)
	c.Unlock()

	if !have {
		return NotFound
	}
	c.logf("removing %s", id)
	return x.Close()
}

// Ids returns the sorted ids of the crew's Contexts.
func (c *Crew) Ids() []string {
	c.RLock()
	acc := make([]string, 0, len(c.contexts))
	for id := range c.contexts {
		acc = append(acc, id)
	}
	c.RUnlock()
	sort.Strings(acc)
	return acc
}

// Place adds the entry to the end of the named Context's pending
// work and resumes the Context if it's suspended.
func (c *Crew) Place(ctx context.Context, id string, e *core.Entry) error {
	x, err := c.Get(id)
	if err != nil {
		return err
	}
	return x.Place(e, true)
}

// Status returns the status of every Context in the crew.
func (c *Crew) Status() map[string]*core.Status {
	c.RLock()
	defer c.RUnlock()
	acc := make(map[string]*core.Status, len(c.contexts))
	for id, x := range c.contexts {
		acc[id] = x.Status()
	}
	return acc
}

// Close closes every Context in the crew.  The first error, if any,
// is returned, but every Context is closed regardless.
func (c *Crew) Close() error {
	c.Lock()
	xs := c.contexts
	c.contexts = make(map[string]*core.Context, 32)
	c.Unlock()

	var first error
	for id, x := range xs {
		if err := x.Close(); err != nil {
			c.logf("close %s error %v", id, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
