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

// Package sio couples Contexts to the outside world: a firehose of
// lifecycle events and Couplings that carry control requests in and
// events and replies out.
package sio

import (
	"context"
)

// Message is something to send out.
//
// Topic is relative.  Couplings that have a notion of topics (MQTT)
// prepend their own prefix.  Others might ignore it.
type Message struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// Couplings provide channels for request input and message output.
//
// For example, an implementation could couple a service to an MQTT
// broker or to stdin and stdout.
type Couplings interface {
	// Start initializes the Couplings.
	Start(context.Context) error

	// IO returns the input and output channels and a channel
	// that's closed when input is exhausted.
	IO(context.Context) (chan []byte, chan *Message, chan bool, error)

	// Stop shuts down the Couplings.
	Stop(context.Context) error
}
