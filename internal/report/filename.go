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

package report

import (
	"strings"
	"unicode"
)

const (
	maxNameRunes    = 50
	fallbackName    = "Email"
	invalidInName   = `\/:*?"<>|`
	fallbackPDFName = "attachment.pdf"
)

// sanitizeName removes characters that are invalid in file names on common
// file systems, including control characters, and trims surrounding space.
func sanitizeName(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(invalidInName, r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(cleaned)
}

// safeName derives the base name of a rendered document from a subject.
func safeName(subject string) string {
	name := sanitizeName(subject)
	if runes := []rune(name); len(runes) > maxNameRunes {
		name = strings.TrimSpace(string(runes[:maxNameRunes]))
	}
	if name == "" {
		return fallbackName
	}
	return name
}

// attachmentName keeps the original attachment name but drops path
// separators and other characters that would escape or break the entry name.
func attachmentName(name string) string {
	if n := sanitizeName(name); n != "" {
		return n
	}
	return fallbackPDFName
}
