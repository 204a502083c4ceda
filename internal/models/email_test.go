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

package models

import "testing"

func TestAttachment_IsPDF(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"ticket.pdf", true},
		{"Quittung.PDF", true},
		{"scan.pdf.png", false},
		{"logo.png", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Attachment{Name: tt.name}).IsPDF(); got != tt.want {
				t.Errorf("IsPDF(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestPDFAttachments_KeepsOrder(t *testing.T) {
	atts := []Attachment{
		{Name: "b.pdf"},
		{Name: "logo.png"},
		{Name: "a.PDF"},
	}

	pdfs := PDFAttachments(atts)
	if len(pdfs) != 2 {
		t.Fatalf("expected 2 PDFs, got %d", len(pdfs))
	}
	if pdfs[0].Name != "b.pdf" || pdfs[1].Name != "a.PDF" {
		t.Errorf("order = %q, %q; want b.pdf, a.PDF", pdfs[0].Name, pdfs[1].Name)
	}
}

func TestEmailRecord_SetDoesNotOverwrite(t *testing.T) {
	var r EmailRecord

	if !r.SetAmount("12.50", SourceBody) {
		t.Fatal("first SetAmount should succeed")
	}
	if r.SetAmount("99.00", AttachmentSource("x.pdf")) {
		t.Error("second SetAmount should be ignored")
	}
	if *r.Amount != "12.50" || r.AmountSource != SourceBody {
		t.Errorf("amount = %q from %q, want 12.50 from body", *r.Amount, r.AmountSource)
	}

	if r.SetDate("", SourceBody) {
		t.Error("empty date should not be recorded")
	}
	if r.HasDate() {
		t.Error("HasDate should be false")
	}
	r.SetDate("01.02.2024", AttachmentSource("x.pdf"))
	if r.DateSource != "attachment:x.pdf" {
		t.Errorf("DateSource = %q", r.DateSource)
	}
}
