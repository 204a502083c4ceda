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
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/easyride/taxreport/internal/models"
)

// cidRef matches an image source pointing at an inline attachment, e.g.
// src="cid:logo@01D9". Groups: prefix up to the quote, token, closing quote.
var cidRef = regexp.MustCompile(`(?i)(\bsrc\s*=\s*["'])cid:([^"']+)(["'])`)

// normalizeCID strips enclosing angle brackets and lower-cases a content ID.
func normalizeCID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.ToLower(strings.TrimSpace(id))
}

// dataURIs maps the content ID of every attachment that has one to a base64
// data URI of its payload. The first attachment wins on duplicate IDs.
func dataURIs(atts []models.Attachment) map[string]string {
	uris := make(map[string]string)
	for _, a := range atts {
		id := normalizeCID(a.ContentID)
		if id == "" || len(a.Data) == 0 {
			continue
		}
		if _, ok := uris[id]; ok {
			continue
		}
		uris[id] = "data:" + mediaType(a.ContentType) + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
	}
	return uris
}

// mediaType drops parameters such as "; name=logo.png" from a content type.
func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	mt = strings.TrimSpace(mt)
	if mt == "" {
		return "application/octet-stream"
	}
	return mt
}

// inlineImages replaces every cid: image reference that has a matching entry
// in uris. Unmatched references stay as they are. Returns the rewritten HTML
// and the number of references resolved.
func inlineImages(html string, uris map[string]string) (string, int) {
	if len(uris) == 0 {
		return html, 0
	}
	resolved := 0
	out := cidRef.ReplaceAllStringFunc(html, func(ref string) string {
		m := cidRef.FindStringSubmatch(ref)
		uri, ok := uris[normalizeCID(m[2])]
		if !ok {
			return ref
		}
		resolved++
		return m[1] + uri + m[3]
	})
	return out, resolved
}
