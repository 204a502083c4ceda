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

// Package models defines the data structures shared across the tax report service.
package models

import (
	"strings"
	"time"
)

// Sources recorded on an EmailRecord when an amount or date was found.
const (
	SourceBody             = "body"
	sourceAttachmentPrefix = "attachment:"
)

// AttachmentSource returns the source label for a value found in the named attachment.
func AttachmentSource(name string) string {
	return sourceAttachmentPrefix + name
}

// EmailRecord is one searched message together with the values extracted from it.
//
// Amount and TransactionDate are nil when no extraction strategy matched.
// Amount keeps the formatting found in the source text.
type EmailRecord struct {
	ID              string    `json:"id"`
	Subject         string    `json:"subject"`
	ReceivedAt      time.Time `json:"receivedAt"`
	Sender          string    `json:"sender"`
	BodyText        string    `json:"bodyText"`
	Amount          *string   `json:"amount"`
	TransactionDate *string   `json:"transactionDate"`
	AmountSource    string    `json:"amountSource,omitempty"`
	DateSource      string    `json:"dateSource,omitempty"`
}

// HasAmount reports whether an amount was extracted.
func (r *EmailRecord) HasAmount() bool {
	return r.Amount != nil && *r.Amount != ""
}

// HasDate reports whether a transaction date was extracted.
func (r *EmailRecord) HasDate() bool {
	return r.TransactionDate != nil && *r.TransactionDate != ""
}

// SetAmount records an amount unless one is already present.
func (r *EmailRecord) SetAmount(value, source string) bool {
	if r.HasAmount() || value == "" {
		return false
	}
	r.Amount = &value
	r.AmountSource = source
	return true
}

// SetDate records a transaction date unless one is already present.
func (r *EmailRecord) SetDate(value, source string) bool {
	if r.HasDate() || value == "" {
		return false
	}
	r.TransactionDate = &value
	r.DateSource = source
	return true
}

// Attachment is a file attachment of a message, with its payload decoded.
type Attachment struct {
	Name        string
	ContentID   string
	ContentType string
	IsInline    bool
	Data        []byte
}

// IsPDF reports whether the attachment name has a .pdf extension.
func (a Attachment) IsPDF() bool {
	return strings.HasSuffix(strings.ToLower(a.Name), ".pdf")
}

// PDFAttachments filters attachments down to PDFs, keeping listing order.
func PDFAttachments(atts []Attachment) []Attachment {
	var pdfs []Attachment
	for _, a := range atts {
		if a.IsPDF() {
			pdfs = append(pdfs, a)
		}
	}
	return pdfs
}

// Stages at which a single message can fail without aborting the batch.
const (
	StageAttachments = "attachments"
	StageBody        = "body"
	StageRender      = "render"
)

// Skipped describes a per-message failure that was recovered from.
type Skipped struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Stage   string `json:"stage"`
	Reason  string `json:"reason"`
}
