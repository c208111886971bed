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

package tools

// dot -Tpng g.dot > g.png

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/Comcast/opal/core"
)

// Dot makes a Graphviz dot file for the lifecycle state machine.
//
// The optional from and to can be the states of a transition.  If
// they aren't Unset, the edge between them and the to state will be
// red.
func Dot(w io.WriteCloser, from, to core.State) error {

	fmt.Fprintf(w, "digraph G {\n")
	fmt.Fprintf(w, `  graph [ordering=out,rankdir=TB,nodesep=0.3,ranksep=0.6]
  node [shape="record" style="rounded,filled"]
  edge [fontsize = "12"]
`)

	_, order := stateIds()
	for _, s := range order {
		var (
			color     = "black"
			fillcolor = "#99ddc8"
			style     = "rounded,filled"
		)
		switch s {
		case core.Unset:
			fillcolor = "#ffffff"
			style += ",dashed"
		case core.Suspended, core.Swapping:
			fillcolor = "#2d93ad"
		case core.Started:
			fillcolor = "#52aa5e"
			style += ",bold"
		}
		if s.Final() {
			fillcolor = "#f98b8b"
			style += ",dashed"
		}
		if s == to && to != core.Unset {
			color = "red"
		}
		fmt.Fprintf(w, "  %s [style=\"%s\", color=\"%s\", fillcolor=\"%s\", label=<%s> ]\n",
			s, style, color, fillcolor, s)
	}

	for _, t := range core.Transitions() {
		color := "black"
		if t.From == from && t.To == to {
			color = "red"
		}
		fmt.Fprintf(w, "  %s -> %s [ color=\"%s\" label = <<FONT POINT-SIZE=\"8\">%s</FONT>> ]\n",
			t.From, t.To, color, t.By)
	}

	fmt.Fprintf(w, "}\n")
	return w.Close()
}

// PNG generates a PNG image based on output from Dot.
//
// This function with write two files: basename.dot and basename.png,
// where the basename is the given string.
func PNG(basename string, from, to core.State) (string, error) {
	dotname := basename + ".dot"
	pngname := basename + ".png"

	dotfile, err := os.Create(dotname)
	if err != nil {
		return pngname, err
	}
	if err := Dot(dotfile, from, to); err != nil {
		return pngname, err
	}
	cmd := "dot -Tpng -Gstart=1 " + dotname + " > " + pngname
	if err := exec.Command("bash", "-c", cmd).Run(); err != nil {
		return pngname, err
	}
	return pngname, nil
}
