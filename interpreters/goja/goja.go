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

// Package goja compiles ECMAScript into Context entries using Goja,
// which is a Go implementation of ECMAScript 5.1+.
//
// See https://github.com/dop251/goja.
package goja

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"

	"github.com/Comcast/opal/core"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: interrupted"

	// Interrupted is returned by an entry whose script was
	// interrupted for a reason other than its job being
	// cancelled.
	Interrupted = errors.New(InterruptedMessage)
)

// Interpreter compiles scripts into entries.
type Interpreter struct {

	// Testing is used to expose or hide some runtime
	// capabilities.
	Testing bool

	// LibraryProvider, if not nil, resolves library names.
	// Otherwise DefaultLibraryProvider does.
	LibraryProvider func(ctx context.Context, i *Interpreter, libraryName string) (string, error)

	// Emitter, if not nil, receives whatever a script passes to
	// out().  The ctx is the job's, so core.From(ctx) says which
	// Context emitted.
	Emitter func(ctx context.Context, x interface{})
}

// NewInterpreter makes a new Interpreter.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// ProvideLibrary resolves the library name into a library.
func (i *Interpreter) ProvideLibrary(ctx context.Context, name string) (string, error) {
	if i.LibraryProvider != nil {
		return i.LibraryProvider(ctx, i, name)
	}
	return DefaultLibraryProvider(ctx, i, name)
}

// library provides a library with its own top-level require() calls
// inlined.  Each library is included at most once.
func (i *Interpreter) library(ctx context.Context, name string, seen map[string]bool) (string, error) {
	if seen[name] {
		return "", nil
	}
	seen[name] = true

	src, err := i.ProvideLibrary(ctx, name)
	if err != nil {
		return "", err
	}
	return InlineRequires(ctx, src, func(ctx context.Context, name string) (string, error) {
		return i.library(ctx, name, seen)
	})
}

var DefaultLibraryProvider = MakeFileLibraryProvider(".")

// MakeFileLibraryProvider makes a provider that supports (barely)
// names that are URLs with protocols of "file", "http", and "https".
// There currently is no additional control when using HTTP/HTTPS.
func MakeFileLibraryProvider(dir string) func(context.Context, *Interpreter, string) (string, error) {
	return func(ctx context.Context, i *Interpreter, name string) (string, error) {
		parts := strings.SplitN(name, "://", 2)
		if 2 != len(parts) {
			return "", fmt.Errorf("bad link '%s'", name)
		}
		switch parts[0] {
		case "file":
			// ToDo: Maybe protest any ".."?
			filename := parts[1]
			bs, err := ioutil.ReadFile(dir + "/" + filename)
			if err != nil {
				return "", err
			}
			return string(bs), nil
		case "http", "https":
			req, err := http.NewRequest("GET", name, nil)
			if err != nil {
				return "", err
			}
			req = req.WithContext(ctx)
			client := http.Client{}
			resp, err := client.Do(req)
			if err != nil {
				return "", err
			}
			defer resp.Body.Close()
			switch resp.StatusCode {
			case http.StatusOK:
				bs, err := ioutil.ReadAll(resp.Body)
				if err != nil {
					return "", err
				}
				return string(bs), nil
			default:
				return "", fmt.Errorf("library fetch status %s %d",
					resp.Status, resp.StatusCode)
			}
		default:
			return "", fmt.Errorf("unknown protocol '%s'", parts[0])
		}
	}
}

func MakeMapLibraryProvider(srcs map[string]string) func(context.Context, *Interpreter, string) (string, error) {
	return func(ctx context.Context, i *Interpreter, name string) (string, error) {
		src, have := srcs[name]
		if !have {
			return "", fmt.Errorf("undefined library '%s'", name)
		}
		return src, nil
	}
}

func wrapSrc(src string) string {
	return fmt.Sprintf("(function() {\n%s\n}());\n", src)
}

// Source is a parsed script.
type Source struct {
	Code     string
	Requires []string
	Props    map[string]interface{}
}

// parseSource looks into the given map to try to find "code",
// "requires", and "props" properties.
func parseSource(vv map[string]interface{}) (*Source, error) {
	s := &Source{}

	x, have := vv["code"]
	if !have {
		return nil, errors.New("no code")
	}
	code, is := x.(string)
	if !is {
		return nil, errors.New("bad code")
	}
	s.Code = code

	switch vv := vv["requires"].(type) {
	case nil:
	case string:
		s.Requires = []string{vv}
	case []string:
		s.Requires = vv
	case []interface{}:
		s.Requires = make([]string, 0, len(vv))
		for _, x := range vv {
			lib, is := x.(string)
			if !is {
				return nil, errors.New("bad library")
			}
			s.Requires = append(s.Requires, lib)
		}
	default:
		return nil, fmt.Errorf("bad requires (%T)", vv)
	}

	switch vv := vv["props"].(type) {
	case nil:
	case map[string]interface{}:
		s.Props = vv
	default:
		return nil, fmt.Errorf("bad props (%T)", vv)
	}

	return s, nil
}

// AsSource accepts a string (just code) or a map with "code",
// "requires", and "props".
//
// The YAML parser https://github.com/go-yaml/yaml will return
// map[interface{}]interface{}, so that's accepted, too.
func AsSource(src interface{}) (*Source, error) {
	switch vv := src.(type) {
	case string:
		return &Source{Code: vv}, nil
	case *Source:
		return vv, nil
	case map[interface{}]interface{}:
		m := make(map[string]interface{})
		for k, v := range vv {
			str, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("bad src key (%T)", k)
			}
			m[str] = v
		}
		return parseSource(m)
	case map[string]interface{}:
		return parseSource(vv)
	default:
		return nil, fmt.Errorf("bad Goja source (%T)", src)
	}
}

// Compile makes an Entry that runs the given script.
//
// The "requires" libraries are prepended to the code.  The code runs
// as the body of a function, so it can return.
//
// This method can block if the interpreter's library provider blocks
// in order to obtain external libraries.
func (i *Interpreter) Compile(ctx context.Context, name string, src interface{}) (*core.Entry, error) {
	s, err := AsSource(src)
	if err != nil {
		return nil, err
	}

	var (
		seen    = make(map[string]bool)
		libsSrc string
	)
	for _, lib := range s.Requires {
		libSrc, err := i.library(ctx, lib, seen)
		if err != nil {
			return nil, err
		}
		libsSrc += libSrc + "\n"
	}

	code := libsSrc + wrapSrc(s.Code)

	p, err := goja.Compile(name, code, true)
	if err != nil {
		return nil, errors.New(err.Error() + ": " + code)
	}

	return core.NewEntry(name, func(ctx context.Context) error {
		return i.exec(ctx, name, p, s.Props)
	}), nil
}

func protest(o *goja.Runtime, x interface{}) {
	panic(o.ToValue(x))
}

func export(x interface{}) interface{} {
	if v, is := x.(goja.Value); is {
		return v.Export()
	}
	return x
}

// exec runs a compiled script on the calling Context's unit.
//
// The following properties are available from the runtime at _.
//
//	context: the name of the Context running the script.
//	entry: the name of this entry.
//	props: the "props" given with the source.
//	checkpoint(): let a controller suspend or redirect us.
//	suicide(): end this Context after the script returns.
//	sleep(ms): sleep (with a checkpoint) for the given milliseconds.
//	out(obj): emit the given object.
//	log(obj): log the given object.
//	gensym(): generate a random string.
//	esc(s): URL query-escape the given string.
//	cronNext(expr): the next time for the given cron expression.
//
// If a controller redirects the Context, the script is interrupted
// and the entry returns core.Abandoned or the job's context error.
func (i *Interpreter) exec(ctx context.Context, name string, p *goja.Program, props map[string]interface{}) error {
	o := goja.New()

	c := core.From(ctx)

	env := map[string]interface{}{
		"context": c.Name(),
		"entry":   name,
	}
	if props == nil {
		env["props"] = map[string]interface{}{}
	} else {
		env["props"] = props
	}

	o.Set("_", env)

	// An interrupt takes effect at the runtime's next instruction.
	// Outside of a Context, a checkpoint does nothing.
	checkpoint := func() {
		if err := core.Checkpoint(ctx); err != nil && err != core.ContextHandleNull {
			o.Interrupt(err)
		}
	}

	env["checkpoint"] = func() interface{} {
		checkpoint()
		return true
	}

	env["suicide"] = func() interface{} {
		if err := c.Suicide(); err != nil {
			protest(o, err.Error())
		}
		return true
	}

	env["sleep"] = func(ms int64) interface{} {
		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(ms) * time.Millisecond):
		}
		checkpoint()
		return true
	}

	env["gensym"] = func() interface{} {
		return uuid.New().String()
	}

	env["cronNext"] = func(x interface{}) interface{} {
		cronExpr, is := export(x).(string)
		if !is {
			protest(o, "not a string")
		}

		expr, err := cronexpr.Parse(cronExpr)
		if err != nil {
			protest(o, err.Error())
		}
		return expr.Next(time.Now()).UTC().Format(time.RFC3339Nano)
	}

	env["esc"] = func(x interface{}) interface{} {
		s, is := export(x).(string)
		if !is {
			protest(o, "not a string")
		}
		return url.QueryEscape(s)
	}

	env["out"] = func(x interface{}) interface{} {
		x, err := canonicalize(export(x))
		if err != nil {
			// Will end up as a Javascript exception.
			panic(err)
		}
		if i.Emitter != nil {
			i.Emitter(ctx, x)
		}
		return x
	}

	env["log"] = func(x interface{}) interface{} {
		x = export(x)
		js, err := json.Marshal(&x)
		if err != nil {
			log.Println("goja.log (can't marshal: " + err.Error() + ")")
		} else {
			log.Printf("%s %s %s", c.Name(), name, js)
		}

		return x
	}

	// We want to make sure that the following goroutine is
	// terminated as soon as possible.
	ictx, cancel := context.WithCancel(ctx)
	go func() {
		<-ictx.Done()
		// If exec calls cancel() after RunProgram returns, then
		// the interrupt is harmless: the runtime is finished.
		o.Interrupt(InterruptedMessage)
	}()

	_, err := o.RunProgram(p)
	cancel()

	if err == nil {
		return nil
	}

	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if e, is := ie.Value().(error); is {
			return e
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return Interrupted
	}

	return err
}

// canonicalize is an abomination
func canonicalize(x interface{}) (interface{}, error) {
	js, err := json.Marshal(&x)
	if err != nil {
		return nil, err
	}
	var y interface{}
	if err = json.Unmarshal(js, &y); err != nil {
		return nil, err
	}
	return y, nil
}
