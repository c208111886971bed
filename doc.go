// Package opal provides execution Contexts: long-lived, thread-bound
// units of execution that controllers can suspend, resume, and
// retarget (swap, push, pop, place) without tearing them down.
//
// The core code is in package 'core'.  Package 'crew' manages a set
// of named Contexts, 'journal' records their lifecycle events, and
// 'sio' carries those events to the outside world.  The service in
// cmd/opald puts it all together behind HTTP, WebSockets, MQTT, and
// stdio.
package opal
