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

// Package search finds receipt emails in a mailbox and extracts the amount
// and transaction date of each one, falling back to PDF attachments when the
// message body has no amount.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/easyride/taxreport/internal/extract"
	"github.com/easyride/taxreport/internal/models"
	"github.com/easyride/taxreport/internal/textnorm"
)

// Store is the message store the orchestrator searches. Implemented by
// graph.Client.
type Store interface {
	SearchMessages(ctx context.Context, start, end time.Time, subjects []string, top int) ([]models.EmailRecord, error)
	ListAttachments(ctx context.Context, messageID string) ([]models.Attachment, error)
}

// TextExtractor turns a PDF payload into text. Implemented by pdftext.Extractor.
type TextExtractor interface {
	Text(data []byte) string
}

// Query selects the messages to search.
type Query struct {
	Start    time.Time
	End      time.Time // inclusive
	Subjects []string  // any of; empty matches every subject
}

// DateLayout is the calendar date format of ParseRange.
const DateLayout = "2006-01-02"

// ParseRange parses two YYYY-MM-DD dates into an inclusive UTC range. The
// end covers its whole day.
func ParseRange(from, to string) (start, end time.Time, err error) {
	start, err = time.Parse(DateLayout, strings.TrimSpace(from))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q, want YYYY-MM-DD", from)
	}
	day, err := time.Parse(DateLayout, strings.TrimSpace(to))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q, want YYYY-MM-DD", to)
	}
	if day.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("to date %s is before from date %s", to, from)
	}
	return start, day.Add(24*time.Hour - time.Second), nil
}

// Result is the outcome of a search.
type Result struct {
	Records []models.EmailRecord `json:"records"`
	Skipped []models.Skipped     `json:"skipped"`
	// Total is the sum of every parseable amount, two decimals.
	Total   string        `json:"total"`
	Elapsed time.Duration `json:"-"`
}

// Orchestrator runs searches against a store.
type Orchestrator struct {
	store    Store
	pdf      TextExtractor
	pageSize int
}

// OrchestratorConfig holds dependencies for the orchestrator.
type OrchestratorConfig struct {
	Store    Store
	PDF      TextExtractor
	PageSize int
}

// NewOrchestrator creates a search orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	size := cfg.PageSize
	if size <= 0 {
		size = 100
	}
	return &Orchestrator{
		store:    cfg.Store,
		pdf:      cfg.PDF,
		pageSize: size,
	}
}

// Search queries the store and extracts values from every returned message.
// Only the first page of results is processed. A failing store search is
// returned as error; failures on a single message are logged, reported in
// Result.Skipped and leave that record's fields unset.
func (o *Orchestrator) Search(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()

	records, err := o.store.SearchMessages(ctx, q.Start.UTC(), q.End.UTC(), q.Subjects, o.pageSize)
	if err != nil {
		return nil, fmt.Errorf("search mailbox: %w", err)
	}

	if len(records) >= o.pageSize {
		slog.Warn("search result reached the page size, older messages are not included",
			"page_size", o.pageSize,
		)
	}

	result := &Result{
		Records: make([]models.EmailRecord, 0, len(records)),
		Skipped: []models.Skipped{},
	}

	var amounts []string
	for _, rec := range records {
		if skipped := o.process(ctx, &rec); skipped != nil {
			result.Skipped = append(result.Skipped, *skipped)
		}
		if rec.HasAmount() {
			amounts = append(amounts, *rec.Amount)
		}
		result.Records = append(result.Records, rec)
	}

	result.Total = extract.SumAmounts(amounts).StringFixed(2)
	result.Elapsed = time.Since(start)

	slog.Info("search complete",
		"messages", len(result.Records),
		"with_amount", len(amounts),
		"skipped", len(result.Skipped),
		"total", result.Total,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

// process fills the amount and date of one record.
func (o *Orchestrator) process(ctx context.Context, rec *models.EmailRecord) *models.Skipped {
	text := textnorm.Normalize(rec.BodyText)

	if m, ok := extract.AmountMatch(text); ok {
		rec.SetAmount(m.Value, models.SourceBody)
		slog.Debug("amount found in body", "message_id", rec.ID, "strategy", m.Strategy)
	}
	if m, ok := extract.DateMatch(text); ok {
		rec.SetDate(m.Value, models.SourceBody)
	}

	if rec.HasAmount() {
		return nil
	}

	return o.scanAttachments(ctx, rec)
}

// scanAttachments tries the PDF attachments in listing order and stops at the
// first one that yields an amount. The date is only taken from that PDF.
func (o *Orchestrator) scanAttachments(ctx context.Context, rec *models.EmailRecord) *models.Skipped {
	atts, err := o.store.ListAttachments(ctx, rec.ID)
	if err != nil {
		slog.Warn("attachment listing failed, leaving record without amount",
			"message_id", rec.ID,
			"error", err,
		)
		return &models.Skipped{
			ID:      rec.ID,
			Subject: rec.Subject,
			Stage:   models.StageAttachments,
			Reason:  err.Error(),
		}
	}

	for _, att := range models.PDFAttachments(atts) {
		text := textnorm.Normalize(o.pdf.Text(att.Data))
		if text == "" {
			slog.Debug("no text in PDF attachment", "message_id", rec.ID, "attachment", att.Name)
			continue
		}

		m, ok := extract.AmountMatch(text)
		if !ok {
			continue
		}

		source := models.AttachmentSource(att.Name)
		rec.SetAmount(m.Value, source)
		if !rec.HasDate() {
			if d, ok := extract.Date(text); ok {
				rec.SetDate(d, source)
			}
		}

		slog.Debug("amount found in attachment",
			"message_id", rec.ID,
			"attachment", att.Name,
			"strategy", m.Strategy,
		)
		break
	}

	return nil
}
