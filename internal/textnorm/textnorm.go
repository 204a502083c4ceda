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

// Package textnorm turns raw HTML or plain text into a single line of
// searchable text for the extractors.
package textnorm

import (
	"html"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Normalize strips markup, decodes HTML entities and collapses whitespace.
//
// The result contains no '<' or '>' and no two consecutive whitespace
// characters, and Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	text := tagPattern.ReplaceAllString(s, " ")

	// Nested escapes like "&amp;amp;" are decoded until nothing changes.
	// Every pass that changes the text also shortens it.
	for {
		decoded := html.UnescapeString(text)
		if decoded == text {
			break
		}
		text = tagPattern.ReplaceAllString(decoded, " ")
	}

	text = strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return ' '
		}
		return r
	}, text)

	return strings.Join(strings.Fields(text), " ")
}
