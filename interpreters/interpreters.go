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

// Package interpreters collects the script interpreters that can
// compile entries.
package interpreters

import (
	"context"
	"fmt"

	"github.com/Comcast/opal/core"
	"github.com/Comcast/opal/interpreters/goja"
	"github.com/Comcast/opal/interpreters/noop"
)

// Interpreter compiles source into an Entry.
type Interpreter interface {
	Compile(ctx context.Context, name string, src interface{}) (*core.Entry, error)
}

// Map maps interpreter names to Interpreters.
type Map map[string]Interpreter

// Standard returns a Map with "goja" and "noop".
func Standard() Map {
	return Map{
		"goja": goja.NewInterpreter(),
		"noop": noop.NewInterpreter(),
	}
}

// Compile finds the named interpreter and compiles the source with
// it.
func (m Map) Compile(ctx context.Context, interpreter, name string, src interface{}) (*core.Entry, error) {
	i, have := m[interpreter]
	if !have {
		return nil, fmt.Errorf("unknown interpreter '%s'", interpreter)
	}
	return i.Compile(ctx, name, src)
}
