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

import (
	"fmt"
	"html"
	"io"
	"sort"
	"time"

	md "github.com/russross/blackfriday/v2"

	"github.com/Comcast/opal/core"
	"github.com/Comcast/opal/journal"
)

// JournalAnalysis summarizes journal records.
type JournalAnalysis struct {
	Records  int            `json:"records" yaml:"records"`
	Contexts []string       `json:"contexts" yaml:"contexts"`
	Events   map[string]int `json:"events" yaml:"events"`

	// Entries counts how many times each entry started.
	Entries map[string]int `json:"entries,omitempty" yaml:"entries,omitempty"`

	// Terminated lists the Contexts whose last record is
	// terminal.
	Terminated []string `json:"terminated,omitempty" yaml:"terminated,omitempty"`

	// Errors reports records that the lifecycle doesn't allow:
	// illegal state changes and records after a terminal one.
	Errors []string `json:"errors,omitempty" yaml:"errors,omitempty"`

	From time.Time     `json:"from" yaml:"from"`
	To   time.Time     `json:"to" yaml:"to"`
	Span time.Duration `json:"span" yaml:"span"`
}

// Analyze checks records against the lifecycle state machine.
//
// Records are considered per Context in Seq order.
func Analyze(rs []*journal.Record) *JournalAnalysis {
	a := &JournalAnalysis{
		Records: len(rs),
		Events:  make(map[string]int, 8),
		Entries: make(map[string]int),
	}

	byContext := make(map[string][]*journal.Record)
	for _, r := range rs {
		byContext[r.Context] = append(byContext[r.Context], r)
		a.Events[r.Event.String()]++
		if r.Event == core.EventStarted && r.Entry != "" {
			a.Entries[r.Entry]++
		}
		if a.From.IsZero() || r.At.Before(a.From) {
			a.From = r.At
		}
		if r.At.After(a.To) {
			a.To = r.At
		}
	}
	a.Span = a.To.Sub(a.From)

	for cid, rs := range byContext {
		a.Contexts = append(a.Contexts, cid)

		sort.SliceStable(rs, func(i, j int) bool { return rs[i].Seq < rs[j].Seq })

		prev := core.Unset
		for _, r := range rs {
			if prev.Final() && r.Event != core.EventTerminated {
				a.Errors = append(a.Errors,
					fmt.Sprintf("%s seq %d: %s after %s", cid, r.Seq, r.Event, prev))
			}
			// OnResume and OnTerminated after OnSuicide don't
			// change the state.
			if r.State != prev && !core.Legal(prev, r.State) {
				a.Errors = append(a.Errors,
					fmt.Sprintf("%s seq %d: illegal %s -> %s", cid, r.Seq, prev, r.State))
			}
			prev = r.State
		}
		if prev.Final() {
			a.Terminated = append(a.Terminated, cid)
		}
	}

	sort.Strings(a.Contexts)
	sort.Strings(a.Terminated)
	sort.Strings(a.Errors)

	return a
}

// RenderJournalHTML writes an HTML table of the records, preceded by
// the given Markdown doc.
func RenderJournalHTML(doc string, rs []*journal.Record, out io.Writer) error {
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}

	if doc != "" {
		f(`<div class="journalDoc doc">%s</div>`, md.Run([]byte(doc)))
	}

	f(`<div class="journal"><table>`)
	f(`<tr><th>seq</th><th>at</th><th>context</th><th>unit</th><th>event</th><th>state</th><th>entry</th></tr>`)
	for _, r := range rs {
		f(`<tr class="record %s"><td>%d</td><td>%s</td><td><a href="#%s">%s</a></td><td>%d</td><td>%s</td><td>%s</td><td><code>%s</code></td></tr>`,
			r.Event,
			r.Seq,
			r.At.Format(time.RFC3339Nano),
			html.EscapeString(r.Context),
			html.EscapeString(r.Context),
			r.Unit,
			r.Event,
			r.State,
			html.EscapeString(r.Entry))
	}
	f(`</table></div>`)

	return nil
}

// RenderJournalPage writes a complete HTML page with the records and
// their analysis.
func RenderJournalPage(title, doc string, rs []*journal.Record, out io.Writer, cssFiles []string) error {
	if cssFiles == nil {
		cssFiles = []string{"/static/journal.css"}
	}

	fmt.Fprintf(out, `<!DOCTYPE html>
<meta charset="utf-8">
<html>
  <head>
  <title>%s</title>
`, html.EscapeString(title))

	for _, cssFile := range cssFiles {
		fmt.Fprintf(out, "  <link href=\"%s\" rel=\"stylesheet\">\n", cssFile)
	}

	fmt.Fprintf(out, `
  </head>
  <body>
    <h1>%s</h1>
`, html.EscapeString(title))

	a := Analyze(rs)
	fmt.Fprintf(out, "<div class=\"analysis\"><pre>")
	if err := WriteYAML(out, a); err != nil {
		return err
	}
	fmt.Fprintf(out, "</pre></div>\n")

	if err := RenderJournalHTML(doc, rs, out); err != nil {
		return err
	}

	fmt.Fprintf(out, `
  </body>
</html>
`)

	return nil
}
