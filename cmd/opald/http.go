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
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net"
	"net/http"
	"runtime/pprof"
	"strings"

	"golang.org/x/net/netutil"

	"github.com/Comcast/opal/core"
	"github.com/Comcast/opal/tools"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Handler returns the Service's HTTP API.
//
//	POST /api/op               an Op in, the completed Op out
//	GET  /api/status           status of every Context
//	GET  /ws/api               WebSocket ops and events
//	GET  /journal/CONTEXT.html journal page
//	GET  /journal/CONTEXT.yaml journal records
//	GET  /lifecycle.mmd        Mermaid lifecycle diagram
//	GET  /lifecycle.dot        Graphviz lifecycle diagram
//	GET  /goroutines           goroutine dump
func (s *Service) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	complain := func(w http.ResponseWriter, x interface{}, status int) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		js, _ := json.Marshal(map[string]string{"error": fmt.Sprint(x)})
		fmt.Fprintf(w, "%s\n", js)
	}

	mux.HandleFunc("/goroutines", func(w http.ResponseWriter, r *http.Request) {
		pprof.Lookup("goroutine").WriteTo(w, 1)
	})

	mux.HandleFunc("/api/op", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			complain(w, "POST an op", http.StatusMethodNotAllowed)
			return
		}
		js, err := ioutil.ReadAll(r.Body)
		if err != nil {
			complain(w, err, http.StatusBadRequest)
			return
		}
		if err := r.Body.Close(); err != nil {
			log.Printf("Service.Handler warning on Body.Close(): %v", err)
		}

		var op Op
		if err := json.Unmarshal(js, &op); err != nil {
			complain(w, err, http.StatusBadRequest)
			return
		}

		// An op outlives its request: a made Context keeps
		// running.
		status := http.StatusOK
		if err = op.Do(ctx, s); err != nil {
			status = statusOf(err)
		}
		js, err = json.Marshal(&op)
		if err != nil {
			complain(w, err, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if _, err = w.Write(js); err != nil {
			log.Printf("Service.Handler warning on Write(): %v", err)
		}
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		op := Op{Op: "status"}
		op.status(s)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(&op); err != nil {
			log.Printf("Service.Handler warning on Encode(): %v", err)
		}
	})

	mux.HandleFunc("/ws/api", s.webSocket(ctx))

	mux.HandleFunc("/journal/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/journal/")
		var cid, format string
		switch {
		case strings.HasSuffix(name, ".html"):
			cid, format = strings.TrimSuffix(name, ".html"), "html"
		case strings.HasSuffix(name, ".yaml"):
			cid, format = strings.TrimSuffix(name, ".yaml"), "yaml"
		default:
			complain(w, "try /journal/CONTEXT.html or /journal/CONTEXT.yaml", http.StatusNotFound)
			return
		}

		rs, err := s.Records(r.Context(), cid)
		if err != nil {
			complain(w, err, statusOf(err))
			return
		}

		switch format {
		case "html":
			w.Header().Set("Content-Type", "text/html")
			err = tools.RenderJournalPage(cid, "", rs, w, nil)
		case "yaml":
			w.Header().Set("Content-Type", "text/yaml")
			err = tools.JournalYAML(w, rs)
		}
		if err != nil {
			log.Printf("Service.Handler journal %s error %v", cid, err)
		}
	})

	mux.HandleFunc("/lifecycle.mmd", func(w http.ResponseWriter, r *http.Request) {
		if err := tools.Mermaid(nopCloser{w}, nil, core.Unset, core.Unset); err != nil {
			complain(w, err, http.StatusInternalServerError)
		}
	})

	mux.HandleFunc("/lifecycle.dot", func(w http.ResponseWriter, r *http.Request) {
		if err := tools.Dot(nopCloser{w}, core.Unset, core.Unset); err != nil {
			complain(w, err, http.StatusInternalServerError)
		}
	})

	return mux
}

// HTTPServer serves Handler on the given address until ctx is done.
//
// If maxConns is positive, at most that many connections are open at
// once.
func (s *Service) HTTPServer(ctx context.Context, addr string, maxConns int) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if 0 < maxConns {
		l = netutil.LimitListener(l, maxConns)
	}

	server := &http.Server{
		Handler: s.Handler(ctx),
	}

	go func() {
		<-ctx.Done()
		if err := server.Close(); err != nil {
			log.Printf("Service.HTTPServer Close error %v", err)
		}
	}()

	log.Printf("HTTP service on %s", l.Addr())
	if err = server.Serve(l); err != http.ErrServerClosed {
		return err
	}
	return nil
}
