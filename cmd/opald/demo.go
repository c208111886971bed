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
	"log"
	"runtime"
)

var (
	demoCounting = `
_.out("counting");
for (var i = 0; i < _.props.limit; i++) {
  if (i % 10 == 0) {
    _.checkpoint();
  }
}
_.out("finished counting");
`

	demoSwapped = `_.out("swapped!");`
)

// demo makes a Context named "demo", waits for it to be waiting, and
// pushes a counting job.  Then it places one job and swaps another
// in for it.
func (s *Service) demo(ctx context.Context) error {
	counting, err := s.Compile(ctx, "goja", "counting", map[string]interface{}{
		"code": demoCounting,
		"props": map[string]interface{}{
			"limit": 100,
		},
	})
	if err != nil {
		return err
	}
	other, err := s.Compile(ctx, "goja", "other", `_.out("not swapped");`)
	if err != nil {
		return err
	}
	swapped, err := s.Compile(ctx, "goja", "swapped", demoSwapped)
	if err != nil {
		return err
	}

	c, err := s.crew.Make("demo", nil)
	if err != nil {
		return err
	}

	for !c.IsWaiting() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			runtime.Gosched()
		}
	}

	log.Printf("demo pushing %s", counting)
	if err := c.Push(counting, true); err != nil {
		return err
	}

	if err := c.Place(other, false); err != nil {
		return err
	}
	prev, err := c.Swap(swapped, true)
	if err != nil {
		return err
	}
	// Depending on how quickly the unit got going, prev is
	// counting or other.
	log.Printf("demo swapped %s for %s", swapped, prev)

	return nil
}
