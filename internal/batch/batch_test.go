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

package batch

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/easyride/taxreport/internal/models"
	"github.com/easyride/taxreport/internal/render"
	"github.com/easyride/taxreport/internal/search"
)

// --- Mock mailbox ---

type mockMailbox struct {
	records   []models.EmailRecord
	searchErr error
}

func (m *mockMailbox) SearchMessages(context.Context, time.Time, time.Time, []string, int) ([]models.EmailRecord, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return append([]models.EmailRecord(nil), m.records...), nil
}

func (m *mockMailbox) ListAttachments(context.Context, string) ([]models.Attachment, error) {
	return []models.Attachment{{Name: "beleg.pdf", Data: []byte("Total 1.00")}}, nil
}

func (m *mockMailbox) GetBody(context.Context, string) (string, error) {
	return "<p>full</p>", nil
}

type textPDF struct{}

func (textPDF) Text(data []byte) string { return string(data) }

// --- Mock opener ---

type mockOpener struct {
	mu        sync.Mutex
	mailboxes map[string]*mockMailbox
	opened    []string
}

func (o *mockOpener) open(mailbox string) Mailbox {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, mailbox)
	return o.mailboxes[mailbox]
}

func newRunner(o *mockOpener) *Runner {
	return NewRunner(RunnerConfig{
		Open:     o.open,
		PDF:      textPDF{},
		Renderer: render.HTML{},
	})
}

func TestRun_WritesFilesPerMailbox(t *testing.T) {
	opener := &mockOpener{mailboxes: map[string]*mockMailbox{
		"anna@example.ch": {records: []models.EmailRecord{
			{ID: "a1", Subject: "Quittung", BodyText: "Betrag CHF 12.40"},
			{ID: "a2", Subject: "Beleg", BodyText: "siehe Anhang"},
		}},
		"ben@example.ch": {records: nil},
	}}
	out := t.TempDir()

	result, err := newRunner(opener).Run(context.Background(), Request{
		Mailboxes: []string{"anna@example.ch", "ben@example.ch"},
		Query:     search.Query{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
		OutDir:    out,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Failed != 0 || result.TotalRecords != 2 {
		t.Errorf("result = %+v", result)
	}

	anna := result.MailboxResults[0]
	if anna.Records != 2 || anna.WithAmount != 2 || anna.Total != "13.40" {
		t.Errorf("anna = %+v", anna)
	}
	if len(anna.Files) != 2 {
		t.Fatalf("anna files = %v", anna.Files)
	}

	csvData, err := os.ReadFile(filepath.Join(out, "anna_example.ch_emails.csv"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if lines := strings.Count(string(csvData), "\n"); lines != 3 {
		t.Errorf("csv lines = %d, want header + 2", lines)
	}

	zr, err := zip.OpenReader(filepath.Join(out, "anna_example.ch_report.zip"))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()
	// Two documents plus one PDF attachment each.
	if len(zr.File) != 4 {
		var names []string
		for _, f := range zr.File {
			names = append(names, f.Name)
		}
		t.Errorf("zip entries = %v", names)
	}

	if _, err := os.Stat(filepath.Join(out, "ben_example.ch_report.zip")); err != nil {
		t.Errorf("empty mailbox should still get an archive: %v", err)
	}
}

func TestRun_ContinuesAfterMailboxFailure(t *testing.T) {
	opener := &mockOpener{mailboxes: map[string]*mockMailbox{
		"bad@example.ch":  {searchErr: errors.New("graph API returned HTTP 404: ErrorInvalidUser")},
		"good@example.ch": {records: []models.EmailRecord{{ID: "g1", BodyText: "Total 5.00"}}},
	}}

	result, err := newRunner(opener).Run(context.Background(), Request{
		Mailboxes:  []string{"bad@example.ch", "good@example.ch"},
		OutDir:     t.TempDir(),
		SkipBundle: true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	if result.MailboxResults[0].Err == nil {
		t.Error("bad mailbox should carry its error")
	}
	good := result.MailboxResults[1]
	if good.Err != nil || good.Records != 1 || good.Total != "5.00" {
		t.Errorf("good = %+v", good)
	}
	// SkipBundle writes only the CSV.
	if len(good.Files) != 1 || !strings.HasSuffix(good.Files[0], "_emails.csv") {
		t.Errorf("files = %v", good.Files)
	}
	if strings.Join(opener.opened, ",") != "bad@example.ch,good@example.ch" {
		t.Errorf("opened = %v", opener.opened)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opener := &mockOpener{mailboxes: map[string]*mockMailbox{"a": {}}}
	_, err := newRunner(opener).Run(ctx, Request{Mailboxes: []string{"a"}, OutDir: t.TempDir()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(opener.opened) != 0 {
		t.Error("no mailbox should be opened after cancellation")
	}
}

func TestFilePrefix(t *testing.T) {
	tests := map[string]string{
		"":                     "me",
		"anna.muster@sbb.ch":   "anna.muster_sbb.ch",
		"../etc/passwd":        "..%2Fetc%2Fpasswd",
		"Jörg Müller@test.ch":  "J%C3%B6rg%20M%C3%BCller_test.ch",
		"  spaced@example.ch ": "spaced_example.ch",
		"a+b@x.ch":             "a+b_x.ch",
		"a=b@x.ch":             "a%3Db_x.ch",
	}
	for in, want := range tests {
		if got := filePrefix(in); got != want {
			t.Errorf("filePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFilePrefix_DistinctMailboxes(t *testing.T) {
	mailboxes := []string{"ab@x.ch", "a+b@x.ch", "a-b@x.ch", "a=b@x.ch", "a%3Db@x.ch", "a/b@x.ch", "a b@x.ch"}

	seen := make(map[string]string)
	for _, m := range mailboxes {
		p := filePrefix(m)
		if prev, ok := seen[p]; ok {
			t.Errorf("%q and %q share prefix %q", prev, m, p)
		}
		if strings.ContainsAny(p, `/\`) {
			t.Errorf("prefix %q contains a path separator", p)
		}
		seen[p] = m
	}
}
