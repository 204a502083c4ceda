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

// EasyRide Tax Report CLI
//
// Searches a Microsoft 365 mailbox for receipt emails in a date range,
// extracts amounts and transaction dates, and writes the CSV export and the
// report archive. Uses a delegated access token (--token or GRAPH_TOKEN) or
// the app credentials from config.yaml.
//
// Usage:
//
//	taxreport search --from 2024-01-01 --to 2024-12-31 [--subject EasyRide] [--csv out.csv]
//	taxreport bundle --from 2024-01-01 --to 2024-12-31 --out report.zip
//	taxreport batch  --from 2024-01-01 --to 2024-12-31 [--mailboxes a@x.ch,b@x.ch] [--exclude c@x.ch] --out-dir reports/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/easyride/taxreport/internal/config"
)

// options are the flags shared by every subcommand.
type options struct {
	from     string
	to       string
	subjects []string
	token    string
	mailbox  string
	logLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "taxreport",
		Short:         "Collect EasyRide receipts from a mailbox for the tax declaration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.from, "from", "", "First day of the range, YYYY-MM-DD (required)")
	pf.StringVar(&opts.to, "to", "", "Last day of the range, YYYY-MM-DD, inclusive (required)")
	pf.StringSliceVar(&opts.subjects, "subject", nil, "Subject substring to match; repeatable (default: search.subjects from config)")
	pf.StringVar(&opts.token, "token", os.Getenv("GRAPH_TOKEN"), "Delegated Graph access token (default $GRAPH_TOKEN)")
	pf.StringVar(&opts.mailbox, "mailbox", "", "Mailbox address for app credentials (default: graph.mailbox from config)")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (default: from config)")
	_ = rootCmd.MarkPersistentFlagRequired("from")
	_ = rootCmd.MarkPersistentFlagRequired("to")

	rootCmd.AddCommand(
		newSearchCmd(opts),
		newBundleCmd(opts),
		newBatchCmd(opts),
	)
	return rootCmd
}

// setup loads the configuration and installs the JSON logger on stderr;
// stdout is reserved for command output.
func setup(opts *options) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	level := cfg.SlogLevel()
	if opts.logLevel != "" {
		level = config.ParseLevel(opts.logLevel)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return cfg, nil
}
