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

package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func samplePackage() Package {
	return Package{
		PackageName:  "Annual Checkup",
		URL:          "https://hdmall.co.th/checkup/annual",
		Price:        2990,
		CashDiscount: 150.5,
		Category:     "health checkup package",
		MetaKeywords: "checkup, annual",
		Locations:    "Bangkok",
		FAQ:          "Fasting required",
	}
}

func TestScanTargetsMatchColumns(t *testing.T) {
	var p Package
	assert.Len(t, p.scanTargets(), len(packageColumns))
}

func TestSelectListCoalescesNulls(t *testing.T) {
	list := selectList()
	assert.Contains(t, list, "COALESCE(price, 0)::float8 AS price")
	assert.Contains(t, list, "COALESCE(package_name, '')::text AS package_name")
	assert.Equal(t, len(packageColumns), strings.Count(list, " AS "))
}

func TestBroadContext(t *testing.T) {
	p := samplePackage()
	assert.Equal(t,
		"\npackage_name: Annual Checkup\nurl: https://hdmall.co.th/checkup/annual\nlocations: Bangkok\nprice: 2990\n",
		p.BroadContext())
}

func TestNarrowContextOmitsInternalFields(t *testing.T) {
	ctx := samplePackage().NarrowContext()

	assert.Contains(t, ctx, "cash_discount: 150.5\n")
	assert.Contains(t, ctx, "faq: Fasting required\n")
	assert.NotContains(t, ctx, "category: ")
	assert.NotContains(t, ctx, "meta_keywords")
}

func TestSearchURL(t *testing.T) {
	assert.Equal(t,
		"https://hdmall.co.th/search?q=health+checkup+package",
		samplePackage().SearchURL("https://hdmall.co.th/search"))
}

func TestSourceEntry(t *testing.T) {
	p := samplePackage()
	assert.Equal(t, "["+p.URL+"]:"+p.BroadContext()+"\n\n", SourceEntry(p, false))
	assert.Equal(t, "["+p.URL+"]:"+p.NarrowContext()+"\n\n", SourceEntry(p, true))
}
