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

//go:build !linux

package core

import (
	"bytes"
	"runtime"
	"strconv"

	"github.com/Comcast/opal/trace"
)

// self returns the id of the calling goroutine.  Without thread ids
// the goroutine id is the best we have, and a unit is one goroutine
// anyway.
func self() trace.ID {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 42 [running]: ..."
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return -1
	}
	return trace.ID(id)
}
