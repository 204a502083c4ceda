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

// Package pdftext extracts plain text from PDF attachments so the amount and
// date extractors can run on them. Extraction is best-effort: malformed
// documents yield empty text instead of an error.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoPages is returned for documents without readable pages.
var ErrNoPages = errors.New("pdf has no pages")

// Extractor reads text from PDF payloads.
type Extractor struct{}

// New creates a PDF text extractor.
func New() *Extractor {
	return &Extractor{}
}

// Text returns the text of every page in order, joined by single spaces.
// Any decode failure yields "".
func (e *Extractor) Text(data []byte) string {
	pages, err := e.Pages(data)
	if err != nil {
		slog.Debug("pdf text extraction failed", "size", len(data), "error", err)
		return ""
	}

	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Pages returns the plain text of each page. The PDF library panics on some
// malformed input, so every call into it is guarded.
func (e *Extractor) Pages(data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	n := reader.NumPage()
	if n <= 0 {
		return nil, ErrNoPages
	}

	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		pages = append(pages, pageText(reader, i))
	}
	return pages, nil
}

// pageText extracts one page; a broken page contributes no text.
func pageText(reader *pdf.Reader, i int) (text string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("pdf page panic", "page", i, "panic", r)
			text = ""
		}
	}()

	page := reader.Page(i)
	if page.V.IsNull() {
		return ""
	}

	text, err := page.GetPlainText(nil)
	if err != nil {
		slog.Debug("pdf page text failed", "page", i, "error", err)
		return ""
	}
	return text
}
