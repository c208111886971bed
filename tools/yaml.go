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

package tools

import (
	"io"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/Comcast/opal/journal"
)

type yamlRecord struct {
	Seq     uint64 `yaml:"seq"`
	At      string `yaml:"at"`
	Context string `yaml:"context"`
	Unit    int64  `yaml:"unit"`
	Event   string `yaml:"event"`
	State   string `yaml:"state"`
	Entry   string `yaml:"entry,omitempty"`
	Id      string `yaml:"id"`
}

// JournalYAML writes records as a YAML list.
func JournalYAML(w io.Writer, rs []*journal.Record) error {
	acc := make([]yamlRecord, 0, len(rs))
	for _, r := range rs {
		acc = append(acc, yamlRecord{
			Seq:     r.Seq,
			At:      r.At.Format(time.RFC3339Nano),
			Context: r.Context,
			Unit:    int64(r.Unit),
			Event:   r.Event.String(),
			State:   r.State.String(),
			Entry:   r.Entry,
			Id:      r.Id,
		})
	}
	return WriteYAML(w, acc)
}

// WriteYAML writes x as YAML.
func WriteYAML(w io.Writer, x interface{}) error {
	bs, err := yaml.Marshal(x)
	if err != nil {
		return err
	}
	_, err = w.Write(bs)
	return err
}
