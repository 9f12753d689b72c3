// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prompts

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestDefaultLoadsEveryTemplate(t *testing.T) {
	set, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	for _, name := range All {
		if set.Get(name) == "" {
			t.Errorf("template %s is empty", name)
		}
	}
}

func TestLoadRejectsMissingTemplate(t *testing.T) {
	fsys := fstest.MapFS{"answer.txt": {Data: []byte("answer")}}
	if _, err := Load(fsys); err == nil {
		t.Error("expected error for incomplete template set")
	}
}

func TestLoadRejectsEmptyTemplate(t *testing.T) {
	fsys := fstest.MapFS{}
	for _, name := range All {
		fsys[string(name)+".txt"] = &fstest.MapFile{Data: []byte("text for " + string(name))}
	}
	fsys["gather.txt"] = &fstest.MapFile{Data: []byte("  \n")}

	if _, err := Load(fsys); err == nil {
		t.Error("expected error for empty template")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range All {
		if err := os.WriteFile(filepath.Join(dir, string(name)+".txt"), []byte(" custom "+string(name)+"\n"), 0o600); err != nil {
			t.Fatalf("write template: %v", err)
		}
	}

	set, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if got := set.Get(Answer); got != "custom answer" {
		t.Errorf("Get(Answer) = %q, want %q", got, "custom answer")
	}
	if got := set.Get(Name("missing")); got != "" {
		t.Errorf("Get(missing) = %q, want empty", got)
	}
}
