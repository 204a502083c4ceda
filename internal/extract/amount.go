// Copyright (c) 2026 John Earle
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

// Package extract finds a monetary amount and a transaction date in
// normalized receipt text.
//
// Both extractors are ordered tables of strategies. The first strategy that
// matches wins; strategies marked largest scan every occurrence and keep the
// one with the highest value.
package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// numberToken matches digits with optional grouping or decimal punctuation,
// e.g. 12, 809.00, 1'234.50, 4,40.
const numberToken = `(\d+(?:[.,']\d+)*)`

// Match is a value found by a named strategy.
type Match struct {
	Value    string
	Strategy string
}

type amountStrategy struct {
	name      string
	pattern   *regexp.Regexp
	normalize func(string) string
	largest   bool
}

// amountStrategies is evaluated in order. Strategy "total" can match digits
// that belong to an unrelated number following the word "Total"; this is a
// known limitation of the heuristic. The currency scans are not anchored to a
// word start: PDF text often glues the label to the preceding word
// ("GesamtbetragCHF 45.00").
var amountStrategies = []amountStrategy{
	{
		name:    "betrag-chf",
		pattern: regexp.MustCompile(`(?i)\bBetrag\s*CHF\s*` + numberToken),
	},
	{
		name:      "total",
		pattern:   regexp.MustCompile(`(?i)\bTotal\s*` + numberToken),
		normalize: normalizeNumber,
	},
	{
		name:    "total-chf",
		pattern: regexp.MustCompile(`(?i)\bTotal\s*CHF\s*` + numberToken),
	},
	{
		name:    "in-fr",
		pattern: regexp.MustCompile(`(?i)\b(?:Summe|Total)\s+in\s+Fr\.\s*` + numberToken),
	},
	{
		name:    "max-chf",
		pattern: regexp.MustCompile(`(?i)CHF\s*` + numberToken),
		largest: true,
	},
	{
		name:    "max-fr",
		pattern: regexp.MustCompile(`(?i)Fr\.\s*` + numberToken),
		largest: true,
	},
}

// Amount returns the best matching amount in text, if any.
func Amount(text string) (string, bool) {
	m, ok := AmountMatch(text)
	return m.Value, ok
}

// AmountMatch is like Amount but also reports which strategy matched.
func AmountMatch(text string) (Match, bool) {
	for _, s := range amountStrategies {
		if v, ok := s.find(text); ok {
			return Match{Value: v, Strategy: s.name}, true
		}
	}
	return Match{}, false
}

func (s amountStrategy) find(text string) (string, bool) {
	if s.largest {
		return largestMatch(s.pattern, text)
	}

	m := s.pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}

	value := strings.TrimSpace(m[1])
	if s.normalize != nil {
		value = s.normalize(value)
	}
	return value, value != ""
}

// largestMatch returns the original form of the occurrence with the highest
// value. Ties keep the earliest occurrence; unparsable tokens are ignored.
func largestMatch(pattern *regexp.Regexp, text string) (string, bool) {
	var (
		best      string
		bestValue decimal.Decimal
		found     bool
	)

	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		raw := strings.TrimSpace(m[1])
		v, err := ParseAmount(raw)
		if err != nil {
			continue
		}
		if !found || v.GreaterThan(bestValue) {
			best, bestValue, found = raw, v, true
		}
	}

	return best, found
}

// normalizeNumber drops apostrophe grouping and turns decimal commas into points.
func normalizeNumber(s string) string {
	s = strings.ReplaceAll(s, "'", "")
	return strings.ReplaceAll(s, ",", ".")
}

// ParseAmount parses an amount in Swiss notation (1'234.50 or 4,40).
func ParseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(normalizeNumber(strings.TrimSpace(s)))
}

// SumAmounts adds up all parseable amounts.
func SumAmounts(values []string) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		d, err := ParseAmount(v)
		if err != nil {
			continue
		}
		total = total.Add(d)
	}
	return total
}
