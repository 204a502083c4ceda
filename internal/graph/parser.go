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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/easyride/taxreport/internal/models"
)

const fileAttachmentType = "#microsoft.graph.fileAttachment"

// graphMessage represents the relevant fields from a Graph API message response.
type graphMessage struct {
	ID               string    `json:"id"`
	Subject          string    `json:"subject"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	From             struct {
		EmailAddress struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

// messagesResponse represents a page of the /messages list response.
type messagesResponse struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

// graphAttachment represents an entry of the /attachments response.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentID    string `json:"contentId"`
	IsInline     bool   `json:"isInline"`
	Size         int    `json:"size"`
	ContentBytes string `json:"contentBytes"`
}

type attachmentsResponse struct {
	Value    []graphAttachment `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// parseMessages converts a search response into email records.
func parseMessages(body []byte) ([]models.EmailRecord, error) {
	var page messagesResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode messages response: %w", err)
	}

	records := make([]models.EmailRecord, 0, len(page.Value))
	for _, m := range page.Value {
		records = append(records, models.EmailRecord{
			ID:         m.ID,
			Subject:    m.Subject,
			ReceivedAt: m.ReceivedDateTime.UTC(),
			Sender:     m.From.EmailAddress.Address,
			BodyText:   m.Body.Content,
		})
	}
	return records, nil
}

// parseBody extracts the body content of a single message response.
func parseBody(body []byte) (string, error) {
	var msg graphMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", fmt.Errorf("decode graph message: %w", err)
	}
	return msg.Body.Content, nil
}

// parseAttachments decodes one page of attachments and returns the next link.
func parseAttachments(body []byte) ([]models.Attachment, string, error) {
	var page attachmentsResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, "", fmt.Errorf("decode attachments response: %w", err)
	}

	atts := make([]models.Attachment, 0, len(page.Value))
	for _, a := range page.Value {
		if a.ODataType != "" && a.ODataType != fileAttachmentType {
			slog.Debug("skipping non-file attachment", "name", a.Name, "type", a.ODataType)
			continue
		}

		data, err := base64.StdEncoding.DecodeString(a.ContentBytes)
		if err != nil {
			slog.Warn("attachment payload is not valid base64",
				"name", a.Name,
				"error", err,
			)
			continue
		}

		atts = append(atts, models.Attachment{
			Name:        a.Name,
			ContentID:   a.ContentID,
			ContentType: a.ContentType,
			IsInline:    a.IsInline,
			Data:        data,
		})
	}
	return atts, page.NextLink, nil
}
