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

// Package discovery resolves the mailboxes of a batch run: an explicit list
// when one is given, otherwise every licensed user of the tenant, minus the
// excluded addresses.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/easyride/taxreport/internal/graph"
)

// UserLister lists directory users. Implemented by graph.Client.
type UserLister interface {
	ListMailboxUsers(ctx context.Context) ([]graph.User, error)
}

// Mailboxes returns the mailbox addresses to process.
//
//   - If include is non-empty, returns those addresses without a directory call.
//   - Otherwise lists the tenant's mailbox users.
//   - In both cases addresses in exclude are removed (case-insensitive) and
//     duplicates are dropped, keeping the first occurrence.
func Mailboxes(ctx context.Context, lister UserLister, include, exclude []string) ([]string, error) {
	skip := make(map[string]bool, len(exclude))
	for _, m := range exclude {
		skip[strings.ToLower(strings.TrimSpace(m))] = true
	}

	candidates := include
	if len(include) > 0 {
		slog.Info("using explicit mailbox list", "count", len(include))
	} else {
		slog.Info("discovering mailboxes from the directory")
		users, err := lister.ListMailboxUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover mailboxes: %w", err)
		}
		for _, u := range users {
			candidates = append(candidates, u.Mail)
		}
	}

	var out []string
	for _, m := range candidates {
		m = strings.TrimSpace(m)
		key := strings.ToLower(m)
		if m == "" || skip[key] {
			continue
		}
		skip[key] = true
		out = append(out, m)
	}

	slog.Info("mailboxes resolved", "count", len(out))
	return out, nil
}
