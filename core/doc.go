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

// Package core provides execution Contexts: long-lived units of
// execution, each locked to its own OS thread, that a controller can
// repeatedly retarget without tearing the thread down.
//
// A Context's life looks like this:
//
//	UNSET → CREATED → WAITING ⇄ STARTED → TERMINATED
//
// with SUSPENDED reachable from CREATED, WAITING, and STARTED (and
// returning to the same state on Resume), SWAPPING held briefly
// around a Swap, and SUICIDE as the terminal state of a Context that
// ends itself.
//
// The unit waits for an Entry, runs it, and goes back to waiting.
// Entries come from controllers: Push ("run this next"), Place ("run
// this eventually"), and Swap ("replace what's next").  Each Entry
// runs on the same goroutine, and successive entries don't grow its
// stack.
//
// A controller halts a unit through a trace.Tracer.  The unit halts
// at safepoints: its own state transitions, each turn of its wait
// loop, and each Checkpoint call from job code.  To abandon a running
// job, a controller rewrites the unit's PC register (see Push).
//
// An Observer hears about every transition, in order, while the
// Context's lock is held.
package core
