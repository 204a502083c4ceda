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

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
)

// User is a directory user with a mailbox.
type User struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

type usersResponse struct {
	Value    []User `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// ListMailboxUsers returns the licensed users of the tenant that have a
// mailbox. Needs app credentials with User.Read.All.
func (c *Client) ListMailboxUsers(ctx context.Context) ([]User, error) {
	params := url.Values{}
	params.Set("$filter", "assignedLicenses/$count ne 0")
	params.Set("$count", "true")
	params.Set("$select", "id,mail,displayName,userPrincipalName")
	params.Set("$top", "100")

	// $count in a filter is an advanced query.
	header := requestHeader("ConsistencyLevel", "eventual")

	var users []User
	for nextURL := fmt.Sprintf("%s/users?%s", c.baseURL, params.Encode()); nextURL != ""; {
		body, err := c.get(ctx, nextURL, header)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}

		var page usersResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode users response: %w", err)
		}

		for _, u := range page.Value {
			if u.Mail == "" {
				continue
			}
			users = append(users, u)
		}
		nextURL = page.NextLink
	}

	slog.Info("mailbox users listed", "count", len(users))
	return users, nil
}
