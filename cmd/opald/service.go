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

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Comcast/opal/config"
	"github.com/Comcast/opal/core"
	"github.com/Comcast/opal/crew"
	"github.com/Comcast/opal/interpreters"
	"github.com/Comcast/opal/interpreters/goja"
	"github.com/Comcast/opal/journal"
	"github.com/Comcast/opal/journal/bolt"
	"github.com/Comcast/opal/sio"
)

// Service controls a crew of Contexts.
//
// Operations (see Op) arrive over HTTP, WebSockets, or Couplings.
// Lifecycle events and script output go to every subscriber.
type Service struct {
	Verbose bool

	conf         *config.Conf
	crew         *crew.Crew
	timers       *crew.Timers
	interpreters interpreters.Map
	journal      *journal.Journal
	firehose     *sio.Firehose

	sync.Mutex
	entries map[string]*core.Entry

	subs sync.Map
}

// NewService makes a Service.  Library files for scripts come from
// libDir.
func NewService(ctx context.Context, conf *config.Conf, libDir string) (*Service, error) {
	if conf == nil {
		conf = config.Default()
	}

	s := &Service{
		Verbose:  conf.Service.Verbose,
		conf:     conf,
		firehose: sio.NewFirehose(1024),
		entries:  make(map[string]*core.Entry, 32),
	}

	var observer core.Observer = s.firehose

	if !conf.Journal.Disabled {
		var store journal.Storage
		if conf.Journal.Path == "" {
			store = journal.NewMemStorage()
		} else {
			b, err := bolt.NewStorage(conf.Journal.Path)
			if err != nil {
				return nil, err
			}
			if err = b.Open(ctx); err != nil {
				return nil, err
			}
			b.Debug = s.Verbose
			store = b
		}
		s.journal = journal.NewJournal(store)
		s.journal.Verbose = s.Verbose
		s.journal.Limit = conf.Journal.Limit
		observer = core.Observers{s.journal, s.firehose}
	}

	cc := conf.CoreConf()
	cc.Observer = observer
	s.crew = crew.NewCrew("opal", &cc)
	s.crew.Verbose = s.Verbose

	s.timers = crew.NewTimers(s.crew.Place)
	s.timers.Errors = make(chan interface{}, 8)

	gi := goja.NewInterpreter()
	gi.LibraryProvider = goja.MakeFileLibraryProvider(libDir)
	gi.Emitter = s.emit
	s.interpreters = interpreters.Standard()
	s.interpreters["goja"] = gi

	return s, nil
}

func (s *Service) logf(format string, args ...interface{}) {
	if s.Verbose {
		log.Printf("Service "+format, args...)
	}
}

// Run forwards events to subscribers, flushes the journal, and
// reports timer errors until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	interval, err := s.conf.Journal.FlushInterval()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if s.journal != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.journal.Run(ctx, interval); err != nil {
				log.Printf("Service journal error %v", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case e := <-s.firehose.C:
			s.broadcast(e.Message())
		case err := <-s.timers.Errors:
			log.Printf("Service timer error %v", err)
		}
	}
}

// Close shuts everything down.
func (s *Service) Close() error {
	var errs []error
	if err := s.timers.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := s.crew.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.journal.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
		if err := s.journal.Storage().Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// emit is the goja Emitter.  Output goes to "out/CONTEXT".
func (s *Service) emit(ctx context.Context, x interface{}) {
	cid := core.From(ctx).Name()
	s.broadcast(&sio.Message{
		Topic:   "out/" + cid,
		Payload: x,
	})
}

// Subscribe registers a channel that will receive every broadcast
// message.  Call the returned function to unsubscribe.
func (s *Service) Subscribe(capacity int) (chan *sio.Message, func()) {
	id := uuid.New().String()
	c := make(chan *sio.Message, capacity)
	s.subs.Store(id, c)
	return c, func() {
		s.subs.Delete(id)
	}
}

func (s *Service) broadcast(m *sio.Message) {
	s.subs.Range(func(k, v interface{}) bool {
		c := v.(chan *sio.Message)
		select {
		case c <- m:
		default:
			s.logf("subscriber %v blocked", k)
		}
		return true
	})
}

// Compile makes an Entry from source and remembers it by name.  An
// empty name gets a generated one.
func (s *Service) Compile(ctx context.Context, interpreter, name string, src interface{}) (*core.Entry, error) {
	if interpreter == "" {
		interpreter = s.conf.Service.Interpreter
	}
	if name == "" {
		name = uuid.New().String()
	}
	e, err := s.interpreters.Compile(ctx, interpreter, name, src)
	if err != nil {
		return nil, err
	}
	s.Lock()
	s.entries[name] = e
	s.Unlock()
	s.logf("compiled %s", name)
	return e, nil
}

// Entry returns a compiled Entry.
func (s *Service) Entry(name string) (*core.Entry, error) {
	s.Lock()
	defer s.Unlock()
	e, have := s.entries[name]
	if !have {
		return nil, fmt.Errorf("entry '%s': %w", name, crew.NotFound)
	}
	return e, nil
}

// Entries returns the names of the compiled entries.
func (s *Service) Entries() []string {
	s.Lock()
	defer s.Unlock()
	acc := make([]string, 0, len(s.entries))
	for name := range s.entries {
		acc = append(acc, name)
	}
	return acc
}

// Records flushes the journal and returns the given Context's
// records.
func (s *Service) Records(ctx context.Context, cid string) ([]*journal.Record, error) {
	if s.journal == nil {
		return nil, errors.New("journal disabled")
	}
	if err := s.journal.Flush(ctx); err != nil {
		return nil, err
	}
	return s.journal.Storage().Records(ctx, cid)
}
