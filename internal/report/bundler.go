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

// Package report bundles searched receipt emails into a ZIP archive: one
// rendered document per email plus every PDF attachment, in input order.
package report

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/easyride/taxreport/internal/models"
	"github.com/easyride/taxreport/internal/render"
)

// Store fetches message content by ID. Implemented by graph.Client.
type Store interface {
	GetBody(ctx context.Context, messageID string) (string, error)
	ListAttachments(ctx context.Context, messageID string) ([]models.Attachment, error)
}

// Bundle is a finished report archive.
type Bundle struct {
	Data []byte
	// Entries lists the archive entry names in archive order.
	Entries []string
	// Skipped reports the per-email steps that failed. It is not part of
	// the archive.
	Skipped []models.Skipped
}

// Bundler builds report archives.
type Bundler struct {
	store    Store
	renderer render.Renderer
	loc      *time.Location
}

// BundlerConfig holds dependencies for the bundler.
type BundlerConfig struct {
	Store    Store
	Renderer render.Renderer
	// Location is used for received timestamps. Defaults to UTC.
	Location *time.Location
}

// NewBundler creates a report bundler.
func NewBundler(cfg BundlerConfig) *Bundler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	r := cfg.Renderer
	if r == nil {
		r = render.HTML{}
	}
	return &Bundler{
		store:    cfg.Store,
		renderer: r,
		loc:      loc,
	}
}

// Bundle processes records in order. Every record yields exactly one document
// entry named after its 1-based position; failures on a single record are
// logged and recorded in Bundle.Skipped. Only archive errors and context
// cancellation abort the bundle.
func (b *Bundler) Bundle(ctx context.Context, records []models.EmailRecord) (*Bundle, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	out := &Bundle{Skipped: []models.Skipped{}}
	add := func(name string, data []byte) error {
		w, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("create archive entry %s: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write archive entry %s: %w", name, err)
		}
		out.Entries = append(out.Entries, name)
		return nil
	}

	var pdfCount int
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("bundle cancelled after %d of %d emails: %w", i, len(records), err)
		}

		seq := i + 1
		entries, skipped := b.processEmail(ctx, seq, rec)
		out.Skipped = append(out.Skipped, skipped...)

		for j, e := range entries {
			if err := add(e.name, e.data); err != nil {
				return nil, err
			}
			if j > 0 {
				pdfCount++
			}
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	out.Data = buf.Bytes()

	slog.Info("report bundle complete",
		"emails", len(records),
		"pdf_attachments", pdfCount,
		"skipped", len(out.Skipped),
		"bytes", len(out.Data),
	)

	return out, nil
}

type entry struct {
	name string
	data []byte
}

// processEmail returns the entries for one email: the document first, then
// its PDF attachments.
func (b *Bundler) processEmail(ctx context.Context, seq int, rec models.EmailRecord) ([]entry, []models.Skipped) {
	var skipped []models.Skipped
	skip := func(stage string, err error) {
		slog.Warn("email step failed, continuing",
			"message_id", rec.ID,
			"seq", seq,
			"stage", stage,
			"error", err,
		)
		skipped = append(skipped, models.Skipped{
			ID:      rec.ID,
			Subject: rec.Subject,
			Stage:   stage,
			Reason:  err.Error(),
		})
	}

	body := b.fetchBody(ctx, rec, skip)

	atts, err := b.store.ListAttachments(ctx, rec.ID)
	if err != nil {
		skip(models.StageAttachments, err)
		atts = nil
	}

	body, resolved := inlineImages(body, dataURIs(atts))
	if resolved > 0 {
		slog.Debug("inline images resolved", "message_id", rec.ID, "count", resolved)
	}

	doc, ext := b.renderDocument(ctx, rec, body, skip)
	entries := []entry{{
		name: fmt.Sprintf("%03d_%s.%s", seq, safeName(rec.Subject), ext),
		data: doc,
	}}

	for k, att := range models.PDFAttachments(atts) {
		entries = append(entries, entry{
			name: fmt.Sprintf("%03d_%02d_%s", seq, k+1, attachmentName(att.Name)),
			data: att.Data,
		})
	}

	return entries, skipped
}

// fetchBody returns the full HTML body, falling back to the body captured
// during the search when the fetch fails or returns nothing.
func (b *Bundler) fetchBody(ctx context.Context, rec models.EmailRecord, skip func(string, error)) string {
	body, err := b.store.GetBody(ctx, rec.ID)
	if err != nil {
		if rec.BodyText == "" {
			skip(models.StageBody, err)
		} else {
			slog.Warn("body fetch failed, using body from search",
				"message_id", rec.ID,
				"error", err,
			)
		}
		return rec.BodyText
	}
	if body == "" {
		return rec.BodyText
	}
	return body
}

// renderDocument composes and renders the document for one email. When
// rendering fails the composed HTML is returned instead, so the email still
// has an entry in the archive.
func (b *Bundler) renderDocument(ctx context.Context, rec models.EmailRecord, body string, skip func(string, error)) ([]byte, string) {
	html, err := composeDocument(rec, body, b.loc)
	if err != nil {
		skip(models.StageRender, err)
		return []byte(body), "html"
	}

	doc, err := b.renderer.Render(ctx, html)
	if err != nil {
		skip(models.StageRender, err)
		return html, "html"
	}
	return doc, b.renderer.Extension()
}
