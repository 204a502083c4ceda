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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListMailboxUsers(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if got := r.Header.Get("ConsistencyLevel"); got != "eventual" {
			t.Errorf("ConsistencyLevel = %q, want eventual", got)
		}
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/users":
			if got := r.URL.Query().Get("$filter"); got != "assignedLicenses/$count ne 0" {
				t.Errorf("$filter = %q", got)
			}
			w.Write([]byte(`{
				"value": [
					{"id": "1", "mail": "alice@example.com", "displayName": "Alice"},
					{"id": "2", "mail": "bob@example.com", "displayName": "Bob"}
				],
				"@odata.nextLink": "http://` + r.Host + `/page2"
			}`))
		case "/page2":
			w.Write([]byte(`{
				"value": [
					{"id": "3", "mail": "carol@example.com", "displayName": "Carol"},
					{"id": "4", "mail": "", "displayName": "Service Account"}
				]
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	users, err := testClient(server, "").ListMailboxUsers(context.Background())
	if err != nil {
		t.Fatalf("ListMailboxUsers: %v", err)
	}
	if requests != 2 {
		t.Errorf("expected 2 requests, got %d", requests)
	}
	if len(users) != 3 {
		t.Fatalf("expected 3 users with a mailbox, got %d", len(users))
	}
	if users[2].Mail != "carol@example.com" || users[2].DisplayName != "Carol" {
		t.Errorf("unexpected last user: %+v", users[2])
	}
}

func TestListMailboxUsers_Forbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"Authorization_RequestDenied"}}`))
	}))
	defer server.Close()

	_, err := testClient(server, "").ListMailboxUsers(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected APIError 403, got %v", err)
	}
}
