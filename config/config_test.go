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

package config

import (
	"os"
	"testing"
	"time"

	"github.com/Comcast/opal/attr"
	"github.com/Comcast/opal/core"
)

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Context.StackSize != core.DefaultStackSize {
		t.Fatal(c.Context.StackSize)
	}
	d, err := c.Journal.FlushInterval()
	if err != nil {
		t.Fatal(err)
	}
	if d != time.Second {
		t.Fatal(d)
	}
}

func TestParse(t *testing.T) {
	src := `
context:
  stackSize: 4096
  attr:
    priority: 5
    cpus: [0]
service:
  addr: localhost:9090
  maxConns: 10
journal:
  path: journal.db
  interval: 250ms
mqtt:
  broker: tcp://localhost:1883
  prefix: opal
`
	c, err := Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if c.Context.StackSize != 4096 {
		t.Fatal(c.Context.StackSize)
	}
	if c.Context.Attr == nil || c.Context.Attr.Priority != 5 || len(c.Context.Attr.CPUs) != 1 {
		t.Fatal(c.Context.Attr)
	}
	// Untouched defaults survive.
	if c.Context.Spin != core.DefaultSpin {
		t.Fatal(c.Context.Spin)
	}
	if c.Service.Interpreter != "goja" {
		t.Fatal(c.Service.Interpreter)
	}
	if c.Service.Addr != "localhost:9090" || c.Service.MaxConns != 10 {
		t.Fatal(c.Service)
	}
	if d, _ := c.Journal.FlushInterval(); d != 250*time.Millisecond {
		t.Fatal(d)
	}
	if c.MQTT == nil || c.MQTT.Prefix != "opal" {
		t.Fatal(c.MQTT)
	}

	cc := c.CoreConf()
	if cc.StackSize != 4096 || cc.Attr != c.Context.Attr {
		t.Fatal(cc)
	}
}

func TestParseBad(t *testing.T) {
	tests := map[string]string{
		"stack":    "context: {stackSize: -1}",
		"interval": "journal: {interval: tacos}",
		"zero":     "journal: {interval: 0s}",
		"mqtt":     "mqtt: {prefix: x}",
		"attr":     "context: {attr: {policy: fifo}}",
		"syntax":   "context: [",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(src)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	filename := "test.yaml"
	if err := os.WriteFile(filename, []byte("service: {addr: ':1234'}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove(filename)

	c, err := Load(filename)
	if err != nil {
		t.Fatal(err)
	}
	if c.Service.Addr != ":1234" {
		t.Fatal(c.Service.Addr)
	}

	if _, err := Load("nope.yaml"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestAttrPolicy(t *testing.T) {
	c, err := Parse([]byte("context: {attr: {policy: rr, rtPriority: 10}}"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Context.Attr.Policy != attr.RR {
		t.Fatal(c.Context.Attr.Policy)
	}
}
