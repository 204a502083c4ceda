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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/easyride/taxreport/internal/batch"
	"github.com/easyride/taxreport/internal/config"
	"github.com/easyride/taxreport/internal/discovery"
	"github.com/easyride/taxreport/internal/graph"
	"github.com/easyride/taxreport/internal/pdftext"
	"github.com/easyride/taxreport/internal/render"
	"github.com/easyride/taxreport/internal/report"
	"github.com/easyride/taxreport/internal/search"
)

func newSearchCmd(opts *options) *cobra.Command {
	var csvPath string

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search receipts and print the records as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			client, err := openClient(ctx, cfg, opts)
			if err != nil {
				return err
			}
			result, err := runSearch(ctx, cfg, opts, client)
			if err != nil {
				return err
			}

			if csvPath != "" {
				if err := writeCSV(csvPath, cfg, result); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "Also write the CSV export to this file")
	return cmd
}

func newBundleCmd(opts *options) *cobra.Command {
	var outPath, csvPath string

	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Search receipts and write the report archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			client, err := openClient(ctx, cfg, opts)
			if err != nil {
				return err
			}
			result, err := runSearch(ctx, cfg, opts, client)
			if err != nil {
				return err
			}

			if csvPath != "" {
				if err := writeCSV(csvPath, cfg, result); err != nil {
					return err
				}
			}

			bundler := report.NewBundler(report.BundlerConfig{
				Store:    client,
				Renderer: render.New(cfg.RendererURL, cfg.RenderTimeout),
				Location: cfg.Location(),
			})
			bundle, err := bundler.Bundle(ctx, result.Records)
			if err != nil {
				return fmt.Errorf("create report: %w", err)
			}

			if err := os.WriteFile(outPath, bundle.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}

			slog.Info("report written",
				"path", outPath,
				"emails", len(result.Records),
				"entries", len(bundle.Entries),
				"total", result.Total,
				"skipped", len(result.Skipped)+len(bundle.Skipped),
			)
			for _, s := range append(result.Skipped, bundle.Skipped...) {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s (%s): %s: %s\n", s.ID, s.Subject, s.Stage, s.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "report.zip", "Archive file to write")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Also write the CSV export to this file")
	return cmd
}

func newBatchCmd(opts *options) *cobra.Command {
	var (
		mailboxes []string
		exclude   []string
		outDir    string
		csvOnly   bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Write CSV exports and report archives for several mailboxes (app credentials)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(opts)
			if err != nil {
				return err
			}
			if !cfg.Graph.HasAppCredentials() {
				return errors.New("batch needs graph app credentials in the configuration")
			}
			ctx := cmd.Context()

			q, err := query(cfg, opts)
			if err != nil {
				return err
			}

			httpClient := graph.NewAppHTTPClient(ctx, cfg.Graph.TenantID, cfg.Graph.ClientID, cfg.Graph.ClientSecret)

			targets, err := discovery.Mailboxes(ctx, newGraphClient(httpClient, cfg, ""), mailboxes, exclude)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				return errors.New("no mailboxes to process")
			}

			runner := batch.NewRunner(batch.RunnerConfig{
				Open: func(mailbox string) batch.Mailbox {
					return newGraphClient(httpClient, cfg, mailbox)
				},
				PDF:      pdftext.New(),
				Renderer: render.New(cfg.RendererURL, cfg.RenderTimeout),
				Location: cfg.Location(),
				PageSize: cfg.Graph.PageSize,
			})

			result, err := runner.Run(ctx, batch.Request{
				Mailboxes:  targets,
				Query:      q,
				OutDir:     outDir,
				SkipBundle: csvOnly,
			})
			if err != nil {
				return err
			}

			for _, mr := range result.MailboxResults {
				slog.Info("mailbox result",
					"mailbox", mr.Mailbox,
					"records", mr.Records,
					"with_amount", mr.WithAmount,
					"total", mr.Total,
					"files", mr.Files,
					"error", mr.Err,
				)
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d mailboxes failed", result.Failed, len(result.MailboxResults))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&mailboxes, "mailboxes", nil, "Comma-separated mailbox addresses (default: every licensed user of the tenant)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Mailbox addresses to leave out")
	cmd.Flags().StringVar(&outDir, "out-dir", "reports", "Directory for the generated files")
	cmd.Flags().BoolVar(&csvOnly, "csv-only", false, "Write only the CSV exports")
	return cmd
}

// openClient builds the Graph client from the delegated token, falling back
// to the configured app credentials.
func openClient(ctx context.Context, cfg *config.Config, opts *options) (*graph.Client, error) {
	mailbox := opts.mailbox
	if mailbox == "" {
		mailbox = cfg.Graph.Mailbox
	}

	if opts.token != "" {
		return newGraphClient(graph.NewTokenHTTPClient(ctx, opts.token), cfg, mailbox), nil
	}

	if !cfg.Graph.HasAppCredentials() {
		return nil, errors.New("no credential: pass --token, set GRAPH_TOKEN or configure graph app credentials")
	}
	// App-only tokens have no /me.
	if mailbox == "" {
		return nil, errors.New("app credentials need a mailbox: pass --mailbox or set graph.mailbox")
	}
	httpClient := graph.NewAppHTTPClient(ctx, cfg.Graph.TenantID, cfg.Graph.ClientID, cfg.Graph.ClientSecret)
	return newGraphClient(httpClient, cfg, mailbox), nil
}

func newGraphClient(httpClient *http.Client, cfg *config.Config, mailbox string) *graph.Client {
	return graph.NewClient(httpClient, graph.ClientConfig{
		BaseURL:    cfg.Graph.BaseURL,
		Mailbox:    mailbox,
		MaxRetries: cfg.Graph.MaxRetries,
		RetryDelay: cfg.Graph.RetryDelay,
	})
}

func query(cfg *config.Config, opts *options) (search.Query, error) {
	start, end, err := search.ParseRange(opts.from, opts.to)
	if err != nil {
		return search.Query{}, err
	}
	subjects := opts.subjects
	if len(subjects) == 0 {
		subjects = cfg.DefaultSubjects
	}
	return search.Query{Start: start, End: end, Subjects: subjects}, nil
}

func runSearch(ctx context.Context, cfg *config.Config, opts *options, store search.Store) (*search.Result, error) {
	q, err := query(cfg, opts)
	if err != nil {
		return nil, err
	}
	orch := search.NewOrchestrator(search.OrchestratorConfig{
		Store:    store,
		PDF:      pdftext.New(),
		PageSize: cfg.Graph.PageSize,
	})
	return orch.Search(ctx, q)
}

func writeCSV(path string, cfg *config.Config, result *search.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := report.WriteCSV(f, result.Records, cfg.Location()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
