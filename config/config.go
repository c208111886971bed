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

// Package config reads the YAML configuration for a control service.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jsccast/yaml"

	"github.com/Comcast/opal/attr"
	"github.com/Comcast/opal/core"
	"github.com/Comcast/opal/sio"
)

// Conf is the whole configuration.
type Conf struct {
	Context ContextConf   `json:"context" yaml:"context"`
	Service ServiceConf   `json:"service" yaml:"service"`
	Journal JournalConf   `json:"journal" yaml:"journal"`
	MQTT    *sio.MQTTConf `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
}

// ContextConf is the template for every Context the service makes.
type ContextConf struct {
	StackSize int        `json:"stackSize,omitempty" yaml:"stackSize,omitempty"`
	Spin      int        `json:"spin,omitempty" yaml:"spin,omitempty"`
	Attr      *attr.Attr `json:"attr,omitempty" yaml:"attr,omitempty"`
	Verbose   bool       `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

type ServiceConf struct {
	// Addr is the HTTP listen address.
	Addr string `json:"addr" yaml:"addr"`

	// MaxConns limits concurrent connections.  Zero means no
	// limit.
	MaxConns int `json:"maxConns,omitempty" yaml:"maxConns,omitempty"`

	// Interpreter names the script interpreter for entries.
	Interpreter string `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`

	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

type JournalConf struct {
	// Path is the bbolt file.  Empty means keep records in
	// memory.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Interval is how often to flush, as a Go duration.
	Interval string `json:"interval,omitempty" yaml:"interval,omitempty"`

	// Limit caps buffered records.
	Limit int `json:"limit,omitempty" yaml:"limit,omitempty"`

	// Disabled turns journaling off.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// FlushInterval parses Interval.
func (c *JournalConf) FlushInterval() (time.Duration, error) {
	if c.Interval == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 0, fmt.Errorf("journal interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("journal interval %s isn't positive", d)
	}
	return d, nil
}

// Default returns a usable Conf.
func Default() *Conf {
	return &Conf{
		Context: ContextConf{
			StackSize: core.DefaultStackSize,
			Spin:      core.DefaultSpin,
		},
		Service: ServiceConf{
			Addr:        ":8080",
			Interpreter: "goja",
		},
		Journal: JournalConf{
			Interval: "1s",
		},
	}
}

// Parse reads YAML (or JSON) on top of Default().
func Parse(bs []byte) (*Conf, error) {
	c := Default()
	if err := yaml.Unmarshal(bs, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load calls Parse on the contents of the given file.
func Load(filename string) (*Conf, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	c, err := Parse(bs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return c, nil
}

func (c *Conf) Validate() error {
	if c.Context.StackSize < 0 {
		return fmt.Errorf("stackSize %d is negative", c.Context.StackSize)
	}
	if err := c.Context.Attr.Validate(); err != nil {
		return err
	}
	if _, err := c.Journal.FlushInterval(); err != nil {
		return err
	}
	if c.MQTT != nil && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt needs a broker")
	}
	return nil
}

// CoreConf returns a template for new Contexts.
func (c *Conf) CoreConf() core.Conf {
	return core.Conf{
		StackSize: c.Context.StackSize,
		Spin:      c.Context.Spin,
		Attr:      c.Context.Attr,
		Verbose:   c.Context.Verbose,
	}
}
