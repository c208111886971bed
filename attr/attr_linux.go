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

//go:build linux

package attr

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

func (a *Attr) policy() uint32 {
	switch Policy(strings.ToLower(string(a.Policy))) {
	case Batch:
		return unix.SCHED_BATCH
	case Idle:
		return unix.SCHED_IDLE
	case FIFO:
		return unix.SCHED_FIFO
	case RR:
		return unix.SCHED_RR
	}
	return unix.SCHED_NORMAL
}

// apply uses pid 0, which on Linux means the calling thread.
func (a *Attr) apply() error {
	if 0 < len(a.CPUs) {
		var set unix.CPUSet
		set.Zero()
		for _, cpu := range a.CPUs {
			set.Set(cpu)
		}
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return fmt.Errorf("sched_setaffinity %v: %w", a.CPUs, err)
		}
	}

	if a.Policy != "" {
		sa := &unix.SchedAttr{
			Size:     unix.SizeofSchedAttr,
			Policy:   a.policy(),
			Priority: uint32(a.RTPriority),
			Nice:     int32(a.Priority),
		}
		if err := unix.SchedSetAttr(0, sa, 0); err != nil {
			return fmt.Errorf("sched_setattr %s: %w", a.Policy, err)
		}
		return nil
	}

	if a.Priority != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, a.Priority); err != nil {
			return fmt.Errorf("setpriority %d: %w", a.Priority, err)
		}
	}

	return nil
}

// Current returns the affinity set of the calling thread.
func Current() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}
	cpus := make([]int, 0, set.Count())
	for cpu := 0; len(cpus) < set.Count(); cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}
