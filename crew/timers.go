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

package crew

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/Comcast/opal/core"
	"github.com/Comcast/opal/util"
)

// Placer puts an entry on the named Context.  Crew.Place is a Placer.
type Placer func(ctx context.Context, cid string, e *core.Entry) error

// TimerEntry is a scheduled placement.
type TimerEntry struct {
	Id      string    `json:"id"`
	Context string    `json:"context"`
	Entry   string    `json:"entry"`
	At      time.Time `json:"at"`

	// Cron, if not empty, is the schedule of a recurring timer.
	// At is the next firing.
	Cron string `json:"cron,omitempty"`

	e   *core.Entry
	ctl chan bool
}

// Timers places entries on Contexts in the future.
type Timers struct {
	Errors chan interface{} `json:"-" yaml:"-"`

	sync.Mutex

	timers map[string]*TimerEntry
	ctl    chan bool
	place  Placer
}

func NewTimers(place Placer) *Timers {
	return &Timers{
		timers: make(map[string]*TimerEntry, 32),
		place:  place,
		ctl:    make(chan bool),
	}
}

func (ts *Timers) MarshalJSON() ([]byte, error) {
	ts.Lock()
	m := map[string]interface{}{
		"map": ts.timers,
	}
	bs, err := json.Marshal(&m)
	ts.Unlock()
	return bs, err
}

// List returns copies of the pending timers.
func (ts *Timers) List() []TimerEntry {
	ts.Lock()
	defer ts.Unlock()
	acc := make([]TimerEntry, 0, len(ts.timers))
	for _, te := range ts.timers {
		acc = append(acc, TimerEntry{
			Id:      te.Id,
			Context: te.Context,
			Entry:   te.Entry,
			At:      te.At,
			Cron:    te.Cron,
		})
	}
	return acc
}

func (ts *Timers) add(id, cid string, e *core.Entry, at time.Time, cron string) (*TimerEntry, error) {
	ts.Lock()
	defer ts.Unlock()

	if _, have := ts.timers[id]; have {
		return nil, Exists
	}

	te := &TimerEntry{
		Id:      id,
		Context: cid,
		Entry:   e.Name,
		At:      at,
		Cron:    cron,
		e:       e,
		ctl:     make(chan bool),
	}

	ts.timers[id] = te

	return te, nil
}

func (ts *Timers) fire(ctx context.Context, te *TimerEntry) {
	util.Logf("Timers firing %s on %s", te.Id, te.Context)
	if err := ts.place(ctx, te.Context, te.e); err != nil {
		ts.err(fmt.Errorf("Timers place error %v id=%s", err, te.Id))
	}
}

// Add schedules a one-shot placement of e on the Context cid.
func (ts *Timers) Add(ctx context.Context, id, cid string, e *core.Entry, in time.Duration) error {
	if e == nil {
		return core.NilEntry
	}

	te, err := ts.add(id, cid, e, time.Now().UTC().Add(in), "")
	if err != nil {
		return err
	}

	stop := func() {
		if err := ts.Rem(ctx, id); err != nil {
			ts.err(fmt.Errorf("Timers rem error %v id=%s", err, id))
		}
	}

	go func() {
		timer := time.NewTimer(time.Until(te.At))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			stop()
		case <-te.ctl:
			// We only get here via a Rem() call.
		case <-ts.ctl:
			stop()
		case <-timer.C:
			ts.fire(ctx, te)

			ts.Lock()
			if ts.timers[id] == te {
				delete(ts.timers, id)
			}
			ts.Unlock()
		}
	}()

	return nil
}

// AddCron schedules recurring placements of e on the Context cid
// according to the given cron expression.  See
// https://github.com/gorhill/cronexpr for the syntax.
func (ts *Timers) AddCron(ctx context.Context, id, cid string, e *core.Entry, cron string) error {
	if e == nil {
		return core.NilEntry
	}

	expr, err := cronexpr.Parse(cron)
	if err != nil {
		return err
	}

	next := expr.Next(time.Now())
	if next.IsZero() {
		return fmt.Errorf("cron '%s' never fires", cron)
	}

	te, err := ts.add(id, cid, e, next.UTC(), cron)
	if err != nil {
		return err
	}

	stop := func() {
		if err := ts.Rem(ctx, id); err != nil {
			ts.err(fmt.Errorf("Timers rem error %v id=%s", err, id))
		}
	}

	go func() {
		for {
			ts.Lock()
			at := te.At
			ts.Unlock()

			timer := time.NewTimer(time.Until(at))
			select {
			case <-ctx.Done():
				timer.Stop()
				stop()
				return
			case <-te.ctl:
				timer.Stop()
				return
			case <-ts.ctl:
				timer.Stop()
				stop()
				return
			case <-timer.C:
				ts.fire(ctx, te)
			}

			next := expr.Next(time.Now())
			if next.IsZero() {
				stop()
				return
			}
			ts.Lock()
			te.At = next.UTC()
			ts.Unlock()
		}
	}()

	return nil
}

// Shutdown stops all timers.
func (ts *Timers) Shutdown() error {
	close(ts.ctl)
	return nil
}

// Rem cancels a timer.
func (ts *Timers) Rem(ctx context.Context, id string) error {
	ts.Lock()
	defer ts.Unlock()

	te, have := ts.timers[id]
	if !have {
		return NotFound
	}

	delete(ts.timers, id)

	close(te.ctl)

	return nil
}

func (ts *Timers) err(err error) {
	if ts.Errors != nil {
		ts.Errors <- err
	} else {
		log.Println(err)
	}
}
