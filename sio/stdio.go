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

package sio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Stdio is a fairly simple Couplings that uses stdin for input and
// stdout for output.
//
// Each input line is a request.  Blank lines and lines starting with
// '#' are ignored, and "quit" ends input.  Each output Message is
// written as one line of JSON.
type Stdio struct {
	// In is coupled to request input.
	In io.Reader

	// Out is coupled to message output.
	Out io.Writer

	// Timestamps prepends a timestamp to each output line.
	Timestamps bool

	// EchoInput writes input lines (prepended with "input") to
	// the output.
	EchoInput bool

	// Tags prefixes the message topic to each output line.
	Tags bool

	// PadTags adds some padding to tags.
	PadTags bool

	// InputEOF will be closed on EOF from stdin.
	InputEOF chan bool

	WG sync.WaitGroup

	out sync.Mutex
}

// NewStdio creates a new Stdio.
//
// In and Out are initialized with os.Stdin and os.Stdout
// respectively.
func NewStdio() *Stdio {
	return &Stdio{
		In:       os.Stdin,
		Out:      os.Stdout,
		InputEOF: make(chan bool),
	}
}

// Start does nothing.
func (s *Stdio) Start(ctx context.Context) error {
	return nil
}

// Stop waits until IO is complete or was terminated via its context.
func (s *Stdio) Stop(ctx context.Context) error {
	s.WG.Wait()
	return nil
}

func (s *Stdio) printf(tag, format string, args ...interface{}) {
	if s.PadTags {
		tag = fmt.Sprintf("% 24s", tag)
	}
	if s.Tags {
		format = tag + " " + format
	}
	if s.Timestamps {
		ts := fmt.Sprintf("%-31s", time.Now().UTC().Format(time.RFC3339Nano))
		format = ts + " " + format
	}

	s.out.Lock()
	fmt.Fprintf(s.Out, format, args...)
	s.out.Unlock()
}

// IO returns channels for reading from stdin and writing to stdout.
func (s *Stdio) IO(ctx context.Context) (chan []byte, chan *Message, chan bool, error) {
	in := make(chan []byte)
	done := make(chan bool)

	s.WG.Add(1)
	go func() {
		defer s.WG.Done()
		stdin := bufio.NewReader(s.In)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line, err := stdin.ReadString('\n')
			if (err == io.EOF && line == "") || strings.TrimSpace(line) == "quit" {
				close(done)
				if s.InputEOF != nil {
					close(s.InputEOF)
				}
				return
			}
			if err != nil && err != io.EOF {
				log.Printf("stdin error %s", err)
				return
			}
			if s.EchoInput {
				s.printf("input", "%s", line)
			}
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "#") || len(line) == 0 {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case in <- []byte(line):
			}
		}
	}()

	out := make(chan *Message)

	s.WG.Add(1)
	go func() {
		defer s.WG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-out:
				if m == nil {
					return
				}
				s.printf(m.Topic, "%s\n", JS(m.Payload))
			}
		}
	}()

	return in, out, done, nil
}
