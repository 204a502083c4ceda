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

package extract

import "regexp"

// dateToken is a DD.MM.YYYY date. It is not checked against the calendar.
const dateToken = `(\d{2}\.\d{2}\.\d{4})`

type dateStrategy struct {
	name    string
	pattern *regexp.Regexp
}

var dateStrategies = []dateStrategy{
	{
		name:    "datum",
		pattern: regexp.MustCompile(`(?i)\bDatum\s*:?\s*` + dateToken),
	},
	{
		name:    "kaufdatum",
		pattern: regexp.MustCompile(`(?i)\bKaufdatum:\s*` + dateToken),
	},
	{
		name: "first-date",
		// Only digits may not touch the date; letters may ("ab12.03.2024").
		pattern: regexp.MustCompile(`(?:^|\D)` + dateToken + `(?:\D|$)`),
	},
}

// Date returns the transaction date in text as DD.MM.YYYY, if any.
func Date(text string) (string, bool) {
	m, ok := DateMatch(text)
	return m.Value, ok
}

// DateMatch is like Date but also reports which strategy matched.
func DateMatch(text string) (Match, bool) {
	for _, s := range dateStrategies {
		if m := s.pattern.FindStringSubmatch(text); m != nil {
			return Match{Value: m[1], Strategy: s.name}, true
		}
	}
	return Match{}, false
}
