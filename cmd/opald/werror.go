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
	"errors"
	"net/http"

	"github.com/Comcast/opal/core"
	"github.com/Comcast/opal/crew"
	"github.com/Comcast/opal/journal"
)

// statusOf maps an error to an HTTP status.
func statusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, crew.NotFound), errors.Is(err, journal.NotFound):
		return http.StatusNotFound
	case errors.Is(err, crew.Exists),
		errors.Is(err, core.ContextIsSwapping),
		errors.Is(err, core.ContextFinished):
		return http.StatusConflict
	case errors.Is(err, core.NilEntry):
		return http.StatusBadRequest
	}
	var rf *core.ContextResumeFailure
	var cf *core.ContextCreateFailure
	if errors.As(err, &rf) || errors.As(err, &cf) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}
