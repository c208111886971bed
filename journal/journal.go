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

// Package journal records Context lifecycle transitions.
//
// A Journal is an Observer.  It buffers Records in memory and writes
// them to a Storage when flushed.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Comcast/opal/core"
	"github.com/Comcast/opal/trace"
)

// Record is one transition.
type Record struct {
	Id      string     `json:"id" yaml:"id"`
	Context string     `json:"context" yaml:"context"`
	Unit    trace.ID   `json:"unit" yaml:"unit"`
	Seq     uint64     `json:"seq" yaml:"seq"`
	Event   core.Event `json:"event" yaml:"event"`
	State   core.State `json:"state" yaml:"state"`
	Entry   string     `json:"entry,omitempty" yaml:"entry,omitempty"`
	At      time.Time  `json:"at" yaml:"at"`
}

// Storage persists Records.
type Storage interface {
	// Append writes records.  Records for a Context are kept in
	// the order given.
	Append(ctx context.Context, rs []*Record) error

	// Records returns the records for the given Context in order.
	Records(ctx context.Context, cid string) ([]*Record, error)

	// Contexts returns the ids of the Contexts with records.
	Contexts(ctx context.Context) ([]string, error)

	// Rem forgets the given Context's records.
	Rem(ctx context.Context, cid string) error

	Close() error
}

// Journal is an Observer that records every transition it hears
// about.
type Journal struct {
	Verbose bool

	// Limit caps the number of buffered records.  When the buffer
	// is full, new records are dropped and counted.  Zero means
	// no limit.
	Limit int

	storage Storage

	sync.Mutex
	pending []*Record
	seq     uint64
	dropped uint64
}

// NewJournal makes a Journal that writes to the given Storage.  A nil
// Storage means NoopStorage.
func NewJournal(s Storage) *Journal {
	if s == nil {
		s = NoopStorage{}
	}
	return &Journal{
		storage: s,
		pending: make([]*Record, 0, 64),
	}
}

func (j *Journal) logf(format string, args ...interface{}) {
	if j.Verbose {
		log.Printf("journal "+format, args...)
	}
}

// Storage returns the Journal's Storage.
func (j *Journal) Storage() Storage {
	return j.storage
}

// ContextName is the name Records use for a Context.  An unnamed
// Context goes by its unit id.
func ContextName(name string, unit trace.ID) string {
	if name == "" {
		return fmt.Sprintf("unit-%d", unit)
	}
	return name
}

func (j *Journal) hear(c *core.Context, e core.Event) {
	r := &Record{
		Id:      uuid.New().String(),
		Context: ContextName(c.Name(), c.ID()),
		Unit:    c.ID(),
		Event:   e,
		State:   c.State(),
		At:      time.Now().UTC(),
	}
	if cur := c.Current(); cur != nil {
		r.Entry = cur.Name
	}

	j.Lock()
	defer j.Unlock()
	if 0 < j.Limit && j.Limit <= len(j.pending) {
		j.dropped++
		return
	}
	j.seq++
	r.Seq = j.seq
	j.pending = append(j.pending, r)
}

func (j *Journal) OnCreated(c *core.Context)    { j.hear(c, core.EventCreated) }
func (j *Journal) OnWaiting(c *core.Context)    { j.hear(c, core.EventWaiting) }
func (j *Journal) OnStarted(c *core.Context)    { j.hear(c, core.EventStarted) }
func (j *Journal) OnSuspended(c *core.Context)  { j.hear(c, core.EventSuspended) }
func (j *Journal) OnResume(c *core.Context)     { j.hear(c, core.EventResume) }
func (j *Journal) OnSuicide(c *core.Context)    { j.hear(c, core.EventSuicide) }
func (j *Journal) OnTerminated(c *core.Context) { j.hear(c, core.EventTerminated) }

// Pending returns the number of buffered records.
func (j *Journal) Pending() int {
	j.Lock()
	defer j.Unlock()
	return len(j.pending)
}

// Dropped returns the number of records dropped because of Limit.
func (j *Journal) Dropped() uint64 {
	j.Lock()
	defer j.Unlock()
	return j.dropped
}

// Flush writes buffered records to Storage.  If the write fails, the
// records are put back.
func (j *Journal) Flush(ctx context.Context) error {
	j.Lock()
	rs := j.pending
	j.pending = make([]*Record, 0, 64)
	j.Unlock()

	if len(rs) == 0 {
		return nil
	}

	if err := j.storage.Append(ctx, rs); err != nil {
		j.Lock()
		j.pending = append(rs, j.pending...)
		j.Unlock()
		return err
	}
	j.logf("flushed %d", len(rs))
	return nil
}

// Run flushes every interval until ctx is done, and then flushes
// once more.
func (j *Journal) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Our ctx is done, but we still want to write.
			return j.Flush(context.Background())
		case <-ticker.C:
			if err := j.Flush(ctx); err != nil {
				log.Printf("journal flush error %v", err)
			}
		}
	}
}

// NotFound occurs when Storage has nothing for a Context.
var NotFound = errors.New("not found")

// NoopStorage forgets everything.
type NoopStorage struct{}

func (NoopStorage) Append(ctx context.Context, rs []*Record) error { return nil }
func (NoopStorage) Records(ctx context.Context, cid string) ([]*Record, error) {
	return nil, NotFound
}
func (NoopStorage) Contexts(ctx context.Context) ([]string, error) { return nil, nil }
func (NoopStorage) Rem(ctx context.Context, cid string) error      { return nil }
func (NoopStorage) Close() error                                   { return nil }

// MemStorage keeps records in memory.
type MemStorage struct {
	sync.Mutex
	records map[string][]*Record
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		records: make(map[string][]*Record, 32),
	}
}

func (s *MemStorage) Append(ctx context.Context, rs []*Record) error {
	s.Lock()
	defer s.Unlock()
	for _, r := range rs {
		s.records[r.Context] = append(s.records[r.Context], r)
	}
	return nil
}

func (s *MemStorage) Records(ctx context.Context, cid string) ([]*Record, error) {
	s.Lock()
	defer s.Unlock()
	rs, have := s.records[cid]
	if !have {
		return nil, NotFound
	}
	acc := make([]*Record, len(rs))
	copy(acc, rs)
	return acc, nil
}

func (s *MemStorage) Contexts(ctx context.Context) ([]string, error) {
	s.Lock()
	defer s.Unlock()
	acc := make([]string, 0, len(s.records))
	for cid := range s.records {
		acc = append(acc, cid)
	}
	return acc, nil
}

func (s *MemStorage) Rem(ctx context.Context, cid string) error {
	s.Lock()
	defer s.Unlock()
	if _, have := s.records[cid]; !have {
		return NotFound
	}
	delete(s.records, cid)
	return nil
}

func (s *MemStorage) Close() error {
	return nil
}
