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

// Package tools renders the Context lifecycle and Context journals
// for humans.
package tools

import (
	"fmt"
	"io"

	"github.com/Comcast/opal/core"
)

type MermaidOpts struct {
	// ShowBy labels each edge with what takes it.
	ShowBy bool `json:"showBy"`

	// TerminalFill is the fill color of terminal states.
	TerminalFill string `json:"terminalFill,omitempty"`

	// HighlightFill is the fill color of the highlighted "to"
	// state.
	HighlightFill string `json:"highlightFill,omitempty"`
}

// stateIds gives each state a stable node id.
func stateIds() (map[core.State]string, []core.State) {
	ids := make(map[core.State]string)
	order := make([]core.State, 0, 8)
	for _, t := range core.Transitions() {
		for _, s := range []core.State{t.From, t.To} {
			if _, have := ids[s]; !have {
				ids[s] = fmt.Sprintf("s%d", len(order))
				order = append(order, s)
			}
		}
	}
	return ids, order
}

// Mermaid makes a Mermaid (https://mermaidjs.github.io/) input file
// for the lifecycle state machine.
//
// If from and to are given (not Unset), the edge between them is
// drawn thick and the to state is highlighted.
func Mermaid(w io.WriteCloser, opts *MermaidOpts, from, to core.State) error {

	if opts == nil {
		opts = &MermaidOpts{
			ShowBy:        true,
			TerminalFill:  "#f98b8b",
			HighlightFill: "#bcf2db",
		}
	}

	ids, order := stateIds()

	fmt.Fprintf(w, "graph TB\n")

	for _, s := range order {
		nid := ids[s]
		if s.Final() {
			fmt.Fprintf(w, "  %s((\"%s\"))\n", nid, s)
			if opts.TerminalFill != "" {
				fmt.Fprintf(w, "  style %s fill:%s\n", nid, opts.TerminalFill)
			}
		} else {
			fmt.Fprintf(w, "  %s(\"%s\")\n", nid, s)
		}
		if s == to && to != core.Unset && opts.HighlightFill != "" {
			fmt.Fprintf(w, "  style %s fill:%s\n", nid, opts.HighlightFill)
		}
	}

	for _, t := range core.Transitions() {
		arrow := "-->"
		if t.From == from && t.To == to {
			arrow = "==>"
		}
		label := ""
		if opts.ShowBy && t.By != "" {
			label = fmt.Sprintf(`|"%s"|`, t.By)
		}
		fmt.Fprintf(w, "  %s %s%s %s\n", ids[t.From], arrow, label, ids[t.To])
	}

	fmt.Fprintf(w, "\n")

	return w.Close()
}
