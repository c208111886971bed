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
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Comcast/opal/sio"
	. "github.com/Comcast/opal/util/testutil"
)

func post(t *testing.T, url string, op *Op) (*Op, int) {
	js, err := json.Marshal(op)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url+"/api/op", "application/json", bytes.NewReader(js))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got Op
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	return &got, resp.StatusCode
}

func get(t *testing.T, url string) (string, int) {
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	bs, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(bs), resp.StatusCode
}

func TestHTTPOps(t *testing.T) {
	ctx, s := newService(t)

	ts := httptest.NewServer(s.Handler(ctx))
	defer ts.Close()

	op, status := post(t, ts.URL, &Op{
		Op:      "make",
		Context: "homer",
		Entry:   "donut",
		Source:  `_.out("mmm");`,
	})
	if status != http.StatusOK || op.Err != "" {
		t.Fatal(status, JS(op))
	}

	op, status = post(t, ts.URL, &Op{Op: "make", Context: "homer"})
	if status != http.StatusConflict || op.Err == "" {
		t.Fatal(status, JS(op))
	}

	op, status = post(t, ts.URL, &Op{Op: "suspend", Context: "bart"})
	if status != http.StatusNotFound {
		t.Fatal(status, JS(op))
	}

	body, status := get(t, ts.URL+"/api/status")
	if status != http.StatusOK || !strings.Contains(body, `"homer"`) {
		t.Fatal(status, body)
	}

	if !Within(5*time.Second, func() bool {
		body, _ := get(t, ts.URL+"/journal/homer.yaml")
		return strings.Contains(body, "event: started")
	}) {
		t.Fatal("no journal")
	}

	body, status = get(t, ts.URL+"/journal/homer.html")
	if status != http.StatusOK || !strings.Contains(body, "<title>homer</title>") {
		t.Fatal(status, body)
	}

	if _, status = get(t, ts.URL+"/journal/nobody.html"); status != http.StatusNotFound {
		t.Fatal(status)
	}

	body, _ = get(t, ts.URL+"/lifecycle.mmd")
	if !strings.HasPrefix(body, "graph TB") {
		t.Fatal(body)
	}
	body, _ = get(t, ts.URL+"/lifecycle.dot")
	if !strings.HasPrefix(body, "digraph G") {
		t.Fatal(body)
	}

	resp, err := http.Get(ts.URL + "/api/op")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatal(resp.StatusCode)
	}
}

func TestWebSocket(t *testing.T) {
	ctx, s := newService(t)

	ts := httptest.NewServer(s.Handler(ctx))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/api"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// Make sure the server has subscribed us before we make
	// anything happen.
	if err := c.WriteJSON(&Op{Op: "entries"}); err != nil {
		t.Fatal(err)
	}

	read := func(topic string) *sio.Message {
		c.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			var m sio.Message
			if err := c.ReadJSON(&m); err != nil {
				t.Fatal(err)
			}
			if m.Topic == topic {
				return &m
			}
		}
	}

	read("ops/entries")

	if err := c.WriteJSON(&Op{
		Op:      "make",
		Context: "lisa",
		Entry:   "sax",
		Source:  `_.out("toot");`,
	}); err != nil {
		t.Fatal(err)
	}

	// Events travel through the firehose, so they can arrive before
	// or after the op's own message.
	want := map[string]bool{
		"ops/make":            true,
		"events/lisa/created": true,
		"out/lisa":            true,
	}
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	for 0 < len(want) {
		var m sio.Message
		if err := c.ReadJSON(&m); err != nil {
			t.Fatal(err)
		}
		if m.Topic == "out/lisa" && m.Payload != "toot" {
			t.Fatal(JS(m))
		}
		delete(want, m.Topic)
	}

	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"op":`)); err != nil {
		t.Fatal(err)
	}
	m := read("ops/parse")
	if !strings.Contains(JS(m.Payload), `"err"`) {
		t.Fatal(JS(m))
	}
}

type testCouplings struct {
	in   chan []byte
	out  chan *sio.Message
	done chan bool
}

func (c *testCouplings) Start(ctx context.Context) error { return nil }
func (c *testCouplings) Stop(ctx context.Context) error  { return nil }
func (c *testCouplings) IO(ctx context.Context) (chan []byte, chan *sio.Message, chan bool, error) {
	return c.in, c.out, c.done, nil
}

func TestCouple(t *testing.T) {
	ctx, s := newService(t)

	io := &testCouplings{
		in:   make(chan []byte),
		out:  make(chan *sio.Message, 1024),
		done: make(chan bool),
	}

	coupled := make(chan error)
	go func() {
		coupled <- s.Couple(ctx, io)
	}()

	// Couple subscribes before reading input, so this op's result
	// comes back out.
	io.in <- []byte(`{"op":"make","context":"milhouse","entry":"e","source":"_.out('hi')"}`)

	timeout := time.After(5 * time.Second)
	for saw := false; !saw; {
		select {
		case m := <-io.out:
			saw = m.Topic == "out/milhouse"
		case <-timeout:
			t.Fatal("no output")
		}
	}

	close(io.done)
	select {
	case err := <-coupled:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Couple didn't return")
	}
}
