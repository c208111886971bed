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
	"encoding/json"
	"log"

	"github.com/Comcast/opal/sio"
)

// Couple runs ops that arrive on the Couplings' input and sends every
// broadcast message to the Couplings' output.  Couple returns when
// the input is exhausted or ctx is done.
func (s *Service) Couple(ctx context.Context, io sio.Couplings) error {
	if err := io.Start(ctx); err != nil {
		return err
	}

	in, out, done, err := io.IO(ctx)
	if err != nil {
		return err
	}

	msgs, unsubscribe := s.Subscribe(1024)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case m := <-msgs:
			select {
			case out <- m:
			case <-ctx.Done():
				return nil
			}
		case bs := <-in:
			var op Op
			if err := json.Unmarshal(bs, &op); err != nil {
				log.Printf("Couple can't parse %s: %v", bs, err)
				continue
			}
			if err := op.Do(ctx, s); err != nil {
				s.logf("op %s error %v", op.Op, err)
			}
		}
	}
}
