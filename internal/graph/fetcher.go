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

// Package graph is the message store client. It searches a Microsoft 365
// mailbox through the Graph REST API and fetches message bodies and
// attachments by message ID.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/easyride/taxreport/internal/models"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// DefaultPageSize caps a search. Only the first page is requested.
const DefaultPageSize = 100

// Client retrieves messages from one mailbox.
type Client struct {
	httpClient *http.Client
	baseURL    string
	mailbox    string
	maxRetries int
	retryDelay time.Duration
}

// ClientConfig holds the settings for a Graph client.
type ClientConfig struct {
	BaseURL string
	// Mailbox selects /users/{Mailbox}; empty uses /me (delegated token).
	Mailbox    string
	MaxRetries int
	RetryDelay time.Duration
}

// NewClient creates a Graph client. The HTTP client must attach the bearer
// credential (see NewTokenHTTPClient and NewAppHTTPClient).
func NewClient(httpClient *http.Client, cfg ClientConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	delay := cfg.RetryDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(base, "/"),
		mailbox:    cfg.Mailbox,
		maxRetries: retries,
		retryDelay: delay,
	}
}

func (c *Client) root() string {
	if c.mailbox == "" {
		return c.baseURL + "/me"
	}
	return c.baseURL + "/users/" + url.PathEscape(c.mailbox)
}

// SearchMessages lists messages received in [start, end] whose subject
// contains at least one of subjects (all messages if subjects is empty),
// newest first, at most top results.
func (c *Client) SearchMessages(ctx context.Context, start, end time.Time, subjects []string, top int) ([]models.EmailRecord, error) {
	if top <= 0 {
		top = DefaultPageSize
	}

	params := url.Values{}
	params.Set("$filter", searchFilter(start, end, subjects))
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$top", fmt.Sprintf("%d", top))
	params.Set("$select", "id,subject,receivedDateTime,from,body")

	searchURL := fmt.Sprintf("%s/messages?%s", c.root(), params.Encode())

	body, err := c.get(ctx, searchURL, preferHTML)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}

	records, err := parseMessages(body)
	if err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}

	slog.Info("mailbox search complete",
		"start", start.UTC().Format(time.RFC3339),
		"end", end.UTC().Format(time.RFC3339),
		"subjects", len(subjects),
		"messages", len(records),
	)

	return records, nil
}

// LatestSubject returns the subject of the newest message, or "" for an
// empty mailbox. Used to check that a credential can read the mailbox.
func (c *Client) LatestSubject(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("$select", "subject")
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$top", "1")

	body, err := c.get(ctx, fmt.Sprintf("%s/messages?%s", c.root(), params.Encode()), nil)
	if err != nil {
		return "", fmt.Errorf("fetch latest message: %w", err)
	}

	records, err := parseMessages(body)
	if err != nil {
		return "", fmt.Errorf("parse messages: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[0].Subject, nil
}

// GetBody fetches the full HTML body of a message.
func (c *Client) GetBody(ctx context.Context, messageID string) (string, error) {
	msgURL := fmt.Sprintf("%s/messages/%s?$select=body", c.root(), url.PathEscape(messageID))

	body, err := c.get(ctx, msgURL, preferHTML)
	if err != nil {
		return "", fmt.Errorf("fetch message %s: %w", messageID, err)
	}

	content, err := parseBody(body)
	if err != nil {
		return "", fmt.Errorf("parse message %s: %w", messageID, err)
	}
	return content, nil
}

// ListAttachments fetches the file attachments of a message with their
// payload decoded. Item and reference attachments are left out.
func (c *Client) ListAttachments(ctx context.Context, messageID string) ([]models.Attachment, error) {
	listURL := fmt.Sprintf("%s/messages/%s/attachments", c.root(), url.PathEscape(messageID))

	var atts []models.Attachment
	for nextURL := listURL; nextURL != ""; {
		body, err := c.get(ctx, nextURL, nil)
		if err != nil {
			return nil, fmt.Errorf("list attachments of %s: %w", messageID, err)
		}

		page, next, err := parseAttachments(body)
		if err != nil {
			return nil, fmt.Errorf("parse attachments of %s: %w", messageID, err)
		}
		atts = append(atts, page...)
		nextURL = next
	}

	slog.Debug("attachments listed", "message_id", messageID, "count", len(atts))
	return atts, nil
}

// searchFilter builds the OData $filter for a date range and subject terms.
func searchFilter(start, end time.Time, subjects []string) string {
	filter := fmt.Sprintf("receivedDateTime ge %s and receivedDateTime le %s",
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))

	var terms []string
	for _, s := range subjects {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		terms = append(terms, fmt.Sprintf("contains(subject,'%s')", strings.ReplaceAll(s, "'", "''")))
	}
	if len(terms) > 0 {
		filter += " and (" + strings.Join(terms, " or ") + ")"
	}
	return filter
}
