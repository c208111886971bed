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
	"net/http"

	"github.com/gorilla/websocket"
)

// webSocket makes the /ws/api handler.
//
// Each text message from the client is an Op.  The connection
// receives every broadcast message: lifecycle events, script output,
// and completed ops (including the client's own).
func (s *Service) webSocket(ctx context.Context) http.HandlerFunc {

	var upgrader = websocket.Upgrader{} // use default options

	return func(w http.ResponseWriter, r *http.Request) {
		s.logf("WebSocket connection from %s", r.RemoteAddr)

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error", err)
			return
		}
		defer c.Close()

		in, unsubscribe := s.Subscribe(1024)
		defer unsubscribe()

		ctl := make(chan bool)
		defer close(ctl)

		go func() {
			mt := websocket.TextMessage

		LOOP:
			for {
				select {
				case <-ctl:
					break LOOP
				case <-ctx.Done():
					break LOOP
				case m := <-in:
					js, err := json.Marshal(m)
					if err != nil {
						log.Printf("WebSocket Marshal error %v on %#v", err, m)
						continue
					}
					if err = c.WriteMessage(mt, js); err != nil {
						log.Println("WebSocket write:", err)
						break LOOP
					}
				}
			}
		}()

		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				s.logf("WebSocket read %v", err)
				break
			}

			var op Op
			if err := json.Unmarshal(message, &op); err != nil {
				op.Op = "parse"
				op.Error, op.Err = erred(err)
				s.broadcast(op.message())
				continue
			}
			if err = op.Do(ctx, s); err != nil {
				// Conveyed via the broadcast op.
				s.logf("op %s error %v", op.Op, err)
			}
		}
	}
}
