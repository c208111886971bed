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

// Package main is a control service for a crew of execution
// Contexts.
//
// Ops arrive as JSON over HTTP (POST /api/op), WebSockets (/ws/api),
// stdin (-stdio), or MQTT (see the "mqtt" configuration).  Lifecycle
// events, script output, and completed ops go back out the same
// ways.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Comcast/opal/config"
	"github.com/Comcast/opal/core"
	"github.com/Comcast/opal/sio"
	"github.com/Comcast/opal/tools"
	"github.com/Comcast/opal/util"
)

func main() {

	var (
		confFile = flag.String("config", "", "YAML configuration file")
		addr     = flag.String("addr", "", "HTTP address (overrides configuration)")
		libDir   = flag.String("l", ".", "script libraries directory")
		bootFile = flag.String("b", "", "file to read for initial ops")
		journal  = flag.String("j", "", "journal bbolt file (overrides configuration)")
		demo     = flag.Bool("demo", false, "run the demo")
		stdio    = flag.Bool("stdio", false, "read ops from stdin and write messages to stdout")
		verbose  = flag.Bool("v", false, "log lots of wonderful things")
		png      = flag.String("png", "", "write the lifecycle diagram to BASENAME.dot and BASENAME.png, then exit")
	)

	flag.BoolVar(&util.Logging, "vv", false, "log even more")

	flag.Parse()

	if *png != "" {
		filename, err := tools.PNG(*png, core.Unset, core.Unset)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(filename)
		return
	}

	conf := config.Default()
	if *confFile != "" {
		var err error
		if conf, err = config.Load(*confFile); err != nil {
			log.Fatal(err)
		}
	}
	if *addr != "" {
		conf.Service.Addr = *addr
	}
	if *journal != "" {
		conf.Journal.Path = *journal
	}
	if *verbose {
		conf.Service.Verbose = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := NewService(ctx, conf, *libDir)
	if err != nil {
		log.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Run(ctx); err != nil {
			log.Printf("Service.Run error %v", err)
			cancel()
		}
	}()

	if *bootFile != "" {
		if err := s.Boot(ctx, *bootFile); err != nil {
			log.Fatal(err)
		}
	}

	if *demo {
		if err := s.demo(ctx); err != nil {
			log.Fatal(err)
		}
	}

	if *stdio {
		io := sio.NewStdio()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Couple(ctx, io); err != nil {
				log.Printf("stdio error %v", err)
			}
			// Input EOF means we're done.  Otherwise the
			// reader might be stuck in a read.
			eof := ctx.Err() == nil
			cancel()
			if eof {
				if err := io.Stop(context.Background()); err != nil {
					log.Printf("stdio stop error %v", err)
				}
			}
		}()
	}

	if conf.MQTT != nil {
		mq, err := sio.NewMQTTCouplings(conf.MQTT)
		if err != nil {
			log.Fatal(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Couple(ctx, mq); err != nil {
				log.Printf("MQTT error %v", err)
			}
			if err := mq.Stop(context.Background()); err != nil {
				log.Printf("MQTT stop error %v", err)
			}
		}()
	}

	if conf.Service.Addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.HTTPServer(ctx, conf.Service.Addr, conf.Service.MaxConns); err != nil {
				log.Printf("HTTP error %v", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()

	if err := s.Close(); err != nil {
		log.Printf("Service.Close error %v", err)
	}
}

// Boot reads ops, one per line, from the given file.  The file can
// %inline("FILE") other files.  Lines starting with '#' or "//" are
// ignored.
func (s *Service) Boot(ctx context.Context, filename string) error {
	bs, err := tools.ReadFileWithInlines(filename)
	if err != nil {
		return err
	}
	return s.boot(ctx, bs)
}
