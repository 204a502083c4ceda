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

// Package render converts the composed HTML report page of an email into
// the document stored in the bundle.
package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Renderer turns a self-contained HTML document into a paginated document.
type Renderer interface {
	Render(ctx context.Context, html []byte) ([]byte, error)
	// Extension is the file extension of rendered documents, without dot.
	Extension() string
}

// New returns a Gotenberg renderer for url, or the HTML passthrough when url is empty.
func New(url string, timeout time.Duration) Renderer {
	if strings.TrimSpace(url) == "" {
		slog.Warn("no renderer configured, bundling HTML documents")
		return HTML{}
	}
	return NewGotenberg(&http.Client{Timeout: timeout}, url)
}

// HTML keeps the document as HTML. Used when no PDF renderer is available.
type HTML struct{}

// Render returns html unchanged.
func (HTML) Render(_ context.Context, html []byte) ([]byte, error) {
	return html, nil
}

// Extension returns "html".
func (HTML) Extension() string { return "html" }

// Gotenberg renders through the Chromium HTML route of a Gotenberg service.
type Gotenberg struct {
	httpClient *http.Client
	baseURL    string
}

// NewGotenberg creates a renderer for the Gotenberg service at baseURL.
func NewGotenberg(httpClient *http.Client, baseURL string) *Gotenberg {
	return &Gotenberg{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Extension returns "pdf".
func (g *Gotenberg) Extension() string { return "pdf" }

// Render posts the document as index.html and returns the PDF.
func (g *Gotenberg) Render(ctx context.Context, html []byte) ([]byte, error) {
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)

	part, err := mw.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(html); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	// Keep CSS backgrounds of the header block.
	if err := mw.WriteField("printBackground", "true"); err != nil {
		return nil, fmt.Errorf("write form field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/forms/chromium/convert/html", &form)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("renderer returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rendered document: %w", err)
	}
	return pdf, nil
}
