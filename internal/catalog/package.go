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

// Package catalog reads health packages from the Postgres/pgvector package table.
package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Package is one marketplace package row, keyed by URL
type Package struct {
	PackageName                  string  `json:"package_name"`
	PackagePicture               string  `json:"package_picture"`
	URL                          string  `json:"url"`
	Price                        float64 `json:"price"`
	CashDiscount                 float64 `json:"cash_discount"`
	InstallmentMonth             string  `json:"installment_month"`
	PriceAfterCashDiscount       float64 `json:"price_after_cash_discount"`
	InstallmentLimit             string  `json:"installment_limit"`
	PriceToReserveForThisPackage float64 `json:"price_to_reserve_for_this_package"`
	ShopName                     string  `json:"shop_name"`
	Category                     string  `json:"category"`
	CategoryTags                 string  `json:"category_tags"`
	Preview1To10                 string  `json:"preview_1_10"`
	SellingPoint                 string  `json:"selling_point"`
	MetaKeywords                 string  `json:"meta_keywords"`
	Brand                        string  `json:"brand"`
	MinMaxAge                    string  `json:"min_max_age"`
	Locations                    string  `json:"locations"`
	MetaDescription              string  `json:"meta_description"`
	PriceDetails                 string  `json:"price_details"`
	PackageDetails               string  `json:"package_details"`
	ImportantInfo                string  `json:"important_info"`
	PaymentBookingInfo           string  `json:"payment_booking_info"`
	GeneralInfo                  string  `json:"general_info"`
	EarlySignsForDiagnosis       string  `json:"early_signs_for_diagnosis"`
	HowToDiagnose                string  `json:"how_to_diagnose"`
	HDCareSummary                string  `json:"hdcare_summary"`
	CommonQuestion               string  `json:"common_question"`
	KnowThisDisease              string  `json:"know_this_disease"`
	CoursesOfAction              string  `json:"courses_of_action"`
	SignalsToProceedSurgery      string  `json:"signals_to_proceed_surgery"`
	GetToKnowThisSurgery         string  `json:"get_to_know_this_surgery"`
	Comparisons                  string  `json:"comparisons"`
	GettingReady                 string  `json:"getting_ready"`
	Recovery                     string  `json:"recovery"`
	SideEffects                  string  `json:"side_effects"`
	Review4To5Stars              string  `json:"review_4_5_stars"`
	BrandOptionInThaiName        string  `json:"brand_option_in_thai_name"`
	FAQ                          string  `json:"faq"`
}

type column struct {
	name    string
	numeric bool
}

// packageColumns lists the table columns in the order scanTargets returns them
var packageColumns = []column{
	{"package_name", false},
	{"package_picture", false},
	{"url", false},
	{"price", true},
	{"cash_discount", true},
	{"installment_month", false},
	{"price_after_cash_discount", true},
	{"installment_limit", false},
	{"price_to_reserve_for_this_package", true},
	{"shop_name", false},
	{"category", false},
	{"category_tags", false},
	{"preview_1_10", false},
	{"selling_point", false},
	{"meta_keywords", false},
	{"brand", false},
	{"min_max_age", false},
	{"locations", false},
	{"meta_description", false},
	{"price_details", false},
	{"package_details", false},
	{"important_info", false},
	{"payment_booking_info", false},
	{"general_info", false},
	{"early_signs_for_diagnosis", false},
	{"how_to_diagnose", false},
	{"hdcare_summary", false},
	{"common_question", false},
	{"know_this_disease", false},
	{"courses_of_action", false},
	{"signals_to_proceed_surgery", false},
	{"get_to_know_this_surgery", false},
	{"comparisons", false},
	{"getting_ready", false},
	{"recovery", false},
	{"side_effects", false},
	{"review_4_5_stars", false},
	{"brand_option_in_thai_name", false},
	{"faq", false},
}

func (p *Package) scanTargets() []any {
	return []any{
		&p.PackageName,
		&p.PackagePicture,
		&p.URL,
		&p.Price,
		&p.CashDiscount,
		&p.InstallmentMonth,
		&p.PriceAfterCashDiscount,
		&p.InstallmentLimit,
		&p.PriceToReserveForThisPackage,
		&p.ShopName,
		&p.Category,
		&p.CategoryTags,
		&p.Preview1To10,
		&p.SellingPoint,
		&p.MetaKeywords,
		&p.Brand,
		&p.MinMaxAge,
		&p.Locations,
		&p.MetaDescription,
		&p.PriceDetails,
		&p.PackageDetails,
		&p.ImportantInfo,
		&p.PaymentBookingInfo,
		&p.GeneralInfo,
		&p.EarlySignsForDiagnosis,
		&p.HowToDiagnose,
		&p.HDCareSummary,
		&p.CommonQuestion,
		&p.KnowThisDisease,
		&p.CoursesOfAction,
		&p.SignalsToProceedSurgery,
		&p.GetToKnowThisSurgery,
		&p.Comparisons,
		&p.GettingReady,
		&p.Recovery,
		&p.SideEffects,
		&p.Review4To5Stars,
		&p.BrandOptionInThaiName,
		&p.FAQ,
	}
}

// selectList renders the package columns with NULLs coalesced to zero values
func selectList() string {
	exprs := make([]string, len(packageColumns))
	for i, col := range packageColumns {
		if col.numeric {
			exprs[i] = fmt.Sprintf("COALESCE(%s, 0)::float8 AS %s", col.name, col.name)
		} else {
			exprs[i] = fmt.Sprintf("COALESCE(%s, '')::text AS %s", col.name, col.name)
		}
	}
	return strings.Join(exprs, ", ")
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// BroadContext renders the short form used when several packages compete for an answer
func (p Package) BroadContext() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\npackage_name: %s\n", p.PackageName)
	fmt.Fprintf(&b, "url: %s\n", p.URL)
	fmt.Fprintf(&b, "locations: %s\n", p.Locations)
	fmt.Fprintf(&b, "price: %s\n", formatPrice(p.Price))
	return b.String()
}

// NarrowContext renders every descriptive field for a package the user named
func (p Package) NarrowContext() string {
	fields := []struct {
		name  string
		value string
	}{
		{"package_name", p.PackageName},
		{"package_picture", p.PackagePicture},
		{"url", p.URL},
		{"price", formatPrice(p.Price)},
		{"cash_discount", formatPrice(p.CashDiscount)},
		{"installment_month", p.InstallmentMonth},
		{"price_after_cash_discount", formatPrice(p.PriceAfterCashDiscount)},
		{"installment_limit", p.InstallmentLimit},
		{"price_to_reserve_for_this_package", formatPrice(p.PriceToReserveForThisPackage)},
		{"shop_name", p.ShopName},
		{"category_tags", p.CategoryTags},
		{"preview_1_10", p.Preview1To10},
		{"selling_point", p.SellingPoint},
		{"brand", p.Brand},
		{"min_max_age", p.MinMaxAge},
		{"locations", p.Locations},
		{"meta_description", p.MetaDescription},
		{"price_details", p.PriceDetails},
		{"package_details", p.PackageDetails},
		{"important_info", p.ImportantInfo},
		{"payment_booking_info", p.PaymentBookingInfo},
		{"general_info", p.GeneralInfo},
		{"early_signs_for_diagnosis", p.EarlySignsForDiagnosis},
		{"how_to_diagnose", p.HowToDiagnose},
		{"hdcare_summary", p.HDCareSummary},
		{"common_question", p.CommonQuestion},
		{"know_this_disease", p.KnowThisDisease},
		{"courses_of_action", p.CoursesOfAction},
		{"signals_to_proceed_surgery", p.SignalsToProceedSurgery},
		{"get_to_know_this_surgery", p.GetToKnowThisSurgery},
		{"comparisons", p.Comparisons},
		{"getting_ready", p.GettingReady},
		{"recovery", p.Recovery},
		{"side_effects", p.SideEffects},
		{"review_4_5_stars", p.Review4To5Stars},
		{"brand_option_in_thai_name", p.BrandOptionInThaiName},
		{"faq", p.FAQ},
	}

	var b strings.Builder
	b.WriteString("\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "%s: %s\n", f.name, f.value)
	}
	return b.String()
}

// SearchURL returns the marketplace search page for the package's category
func (p Package) SearchURL(base string) string {
	return base + "?q=" + strings.ReplaceAll(p.Category, " ", "+")
}

// SourceEntry formats a package as a cited source block for the answer prompt
func SourceEntry(p Package, narrow bool) string {
	body := p.BroadContext()
	if narrow {
		body = p.NarrowContext()
	}
	return fmt.Sprintf("[%s]:%s\n\n", p.URL, body)
}
