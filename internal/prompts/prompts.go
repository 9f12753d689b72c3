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

// Package prompts holds the system prompt templates selected per route.
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

//go:embed templates/*.txt
var embedded embed.FS

// Name identifies one template
type Name string

const (
	SpecifyPackage Name = "specify_package"
	Query          Name = "query"
	Answer         Name = "answer"
	Gather         Name = "gather"
	Coupon         Name = "coupon"
	Promo          Name = "promo"
	Pharmacy       Name = "pharmacy"
	Payment        Name = "payment"
	Installment    Name = "installment"
	AppLink        Name = "app_link"
)

// All lists every template the chat flow needs
var All = []Name{SpecifyPackage, Query, Answer, Gather, Coupon, Promo, Pharmacy, Payment, Installment, AppLink}

// Set is a loaded, complete collection of templates
type Set struct {
	templates map[Name]string
}

// Default loads the templates compiled into the binary
func Default() (*Set, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// LoadDir loads templates from a directory, for deployments that tune prompts without a rebuild
func LoadDir(dir string) (*Set, error) {
	return Load(os.DirFS(dir))
}

// Load reads <name>.txt for every template; a missing or empty file is an error
func Load(fsys fs.FS) (*Set, error) {
	set := &Set{templates: make(map[Name]string, len(All))}
	for _, name := range All {
		data, err := fs.ReadFile(fsys, string(name)+".txt")
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt %s: %w", name, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, fmt.Errorf("prompt %s is empty", name)
		}
		set.templates[name] = text
	}
	return set, nil
}

// Get returns a template, or an empty string for an unknown name
func (s *Set) Get(name Name) string {
	return s.templates[name]
}
