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

package attr

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestPolicy(t *testing.T) {
	tests := []struct {
		policy Policy
		want   uint32
	}{
		{"", unix.SCHED_NORMAL},
		{Other, unix.SCHED_NORMAL},
		{"OTHER", unix.SCHED_NORMAL},
		{Batch, unix.SCHED_BATCH},
		{Idle, unix.SCHED_IDLE},
		{FIFO, unix.SCHED_FIFO},
		{"RR", unix.SCHED_RR},
	}

	for _, tt := range tests {
		a := &Attr{Policy: tt.policy}
		if got := a.policy(); got != tt.want {
			t.Fatalf("%q: got %d, wanted %d", tt.policy, got, tt.want)
		}
	}
}
