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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInline(t *testing.T) {
	input := `
I like %inline("tacos"), and
I also like %inline("queso").
Both are delicious.
`
	want := `
I like TACOS, and
I also like QUESO.
Both are delicious.
`

	find := func(name string) ([]byte, error) {
		return []byte(strings.ToUpper(name)), nil
	}

	got, err := Inline([]byte(input), find)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != want {
		t.Fatalf("got %s", got)
	}
}

func TestInlineNested(t *testing.T) {
	files := map[string]string{
		"a": `A %inline("b")`,
		"b": `B`,
		"c": `%inline("c")`,
	}
	find := func(name string) ([]byte, error) {
		return []byte(files[name]), nil
	}

	got, err := Inline([]byte(`%inline("a")!`), find)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "A B!" {
		t.Fatal(string(got))
	}

	if _, err = Inline([]byte(`%inline("c")`), find); err == nil {
		t.Fatal("expected an error")
	}
}

func TestReadFileWithInlines(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lib.js"), []byte("function f() {}"), 0644); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "main.js")
	if err := os.WriteFile(main, []byte(`%inline("lib.js")`+"\nf();"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFileWithInlines(main)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "function f() {}\nf();" {
		t.Fatal(string(got))
	}

	got, err = ReadAllWithInlines(bytes.NewBufferString(`x %inline("lib.js")`), dir)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "x function f() {}" {
		t.Fatal(string(got))
	}
}
