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

// Package batch produces tax reports for several mailboxes in one run: for
// each mailbox it searches the date range, writes the CSV export and the
// report archive into an output directory. Used with app-only credentials.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/easyride/taxreport/internal/render"
	"github.com/easyride/taxreport/internal/report"
	"github.com/easyride/taxreport/internal/search"
)

// Mailbox is the message store for one mailbox. Implemented by graph.Client.
type Mailbox interface {
	search.Store
	report.Store
}

// MailboxOpener returns the store for a mailbox address.
type MailboxOpener func(mailbox string) Mailbox

// Request defines the scope of a batch run.
type Request struct {
	Mailboxes []string
	Query     search.Query
	OutDir    string
	// SkipBundle writes only the CSV export.
	SkipBundle bool
}

// Result summarises a completed batch run.
type Result struct {
	MailboxResults []MailboxResult
	TotalRecords   int
	Failed         int
	Elapsed        time.Duration
}

// MailboxResult tracks the outcome for one mailbox.
type MailboxResult struct {
	Mailbox    string
	Records    int
	WithAmount int
	Total      string
	Skipped    int
	Files      []string
	Err        error
}

// Runner performs batch report runs.
type Runner struct {
	open     MailboxOpener
	pdf      search.TextExtractor
	renderer render.Renderer
	loc      *time.Location
	pageSize int
}

// RunnerConfig holds dependencies for the batch runner.
type RunnerConfig struct {
	Open     MailboxOpener
	PDF      search.TextExtractor
	Renderer render.Renderer
	Location *time.Location
	PageSize int
}

// NewRunner creates a batch runner.
func NewRunner(cfg RunnerConfig) *Runner {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Runner{
		open:     cfg.Open,
		pdf:      cfg.PDF,
		renderer: cfg.Renderer,
		loc:      loc,
		pageSize: cfg.PageSize,
	}
}

// Run processes every mailbox in order. A failing mailbox is logged and
// recorded in its MailboxResult; the run continues with the next one. Only
// an unusable output directory or cancellation fails the whole run.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", req.OutDir, err)
	}

	slog.Info("starting batch report run",
		"mailboxes", len(req.Mailboxes),
		"start", req.Query.Start.Format(time.DateOnly),
		"end", req.Query.End.Format(time.DateOnly),
		"out_dir", req.OutDir,
	)

	result := &Result{}

	for _, mailbox := range req.Mailboxes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("batch cancelled: %w", err)
		}

		mr, err := r.runMailbox(ctx, mailbox, req)
		if err != nil {
			slog.Error("batch failed for mailbox",
				"mailbox", mailbox,
				"error", err,
			)
			// Continue with other mailboxes
			mr.Err = err
			result.Failed++
		}

		result.MailboxResults = append(result.MailboxResults, mr)
		result.TotalRecords += mr.Records
	}

	result.Elapsed = time.Since(start)

	slog.Info("batch report run complete",
		"mailboxes", len(result.MailboxResults),
		"records", result.TotalRecords,
		"failed", result.Failed,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

// runMailbox searches one mailbox and writes its files.
func (r *Runner) runMailbox(ctx context.Context, mailbox string, req Request) (MailboxResult, error) {
	mr := MailboxResult{Mailbox: mailbox}
	store := r.open(mailbox)

	orch := search.NewOrchestrator(search.OrchestratorConfig{
		Store:    store,
		PDF:      r.pdf,
		PageSize: r.pageSize,
	})
	res, err := orch.Search(ctx, req.Query)
	if err != nil {
		return mr, err
	}

	mr.Records = len(res.Records)
	mr.Total = res.Total
	mr.Skipped = len(res.Skipped)
	for _, rec := range res.Records {
		if rec.HasAmount() {
			mr.WithAmount++
		}
	}

	prefix := filePrefix(mailbox)

	csvPath := filepath.Join(req.OutDir, prefix+"_emails.csv")
	if err := writeFile(csvPath, func(f *os.File) error {
		return report.WriteCSV(f, res.Records, r.loc)
	}); err != nil {
		return mr, err
	}
	mr.Files = append(mr.Files, csvPath)

	if !req.SkipBundle {
		bundler := report.NewBundler(report.BundlerConfig{
			Store:    store,
			Renderer: r.renderer,
			Location: r.loc,
		})
		bundle, err := bundler.Bundle(ctx, res.Records)
		if err != nil {
			return mr, fmt.Errorf("bundle %s: %w", mailbox, err)
		}
		mr.Skipped += len(bundle.Skipped)

		zipPath := filepath.Join(req.OutDir, prefix+"_report.zip")
		if err := os.WriteFile(zipPath, bundle.Data, 0o644); err != nil {
			return mr, fmt.Errorf("write %s: %w", zipPath, err)
		}
		mr.Files = append(mr.Files, zipPath)
	}

	slog.Info("mailbox report complete",
		"mailbox", mailbox,
		"records", mr.Records,
		"with_amount", mr.WithAmount,
		"total", mr.Total,
		"skipped", mr.Skipped,
	)

	return mr, nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// filePrefix turns a mailbox address into a file name prefix. The signed-in
// user's own mailbox (empty address) is "me". '@' becomes '_'; any other byte
// outside [A-Za-z0-9.+_-] is written as %XX so distinct addresses keep
// distinct prefixes.
func filePrefix(mailbox string) string {
	mailbox = strings.TrimSpace(mailbox)
	if mailbox == "" {
		return "me"
	}

	var b strings.Builder
	for i := 0; i < len(mailbox); i++ {
		c := mailbox[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '+', c == '-', c == '_':
			b.WriteByte(c)
		case c == '@':
			b.WriteByte('_')
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
