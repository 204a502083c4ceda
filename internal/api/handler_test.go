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

package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/easyride/taxreport/internal/graph"
	"github.com/easyride/taxreport/internal/inflight"
	"github.com/easyride/taxreport/internal/models"
	"github.com/easyride/taxreport/internal/render"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- Mock mailbox ---

type mockMailbox struct {
	records   []models.EmailRecord
	searchErr error
	bodies    map[string]string

	// block holds SearchMessages until closed, when set.
	block   chan struct{}
	entered chan struct{}

	mu          sync.Mutex
	gotStart    time.Time
	gotEnd      time.Time
	gotSubjects []string
}

func (m *mockMailbox) SearchMessages(_ context.Context, start, end time.Time, subjects []string, _ int) ([]models.EmailRecord, error) {
	m.mu.Lock()
	m.gotStart, m.gotEnd, m.gotSubjects = start, end, subjects
	m.mu.Unlock()
	if m.entered != nil {
		close(m.entered)
	}
	if m.block != nil {
		<-m.block
	}
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return append([]models.EmailRecord(nil), m.records...), nil
}

func (m *mockMailbox) ListAttachments(context.Context, string) ([]models.Attachment, error) {
	return nil, nil
}

func (m *mockMailbox) GetBody(_ context.Context, id string) (string, error) {
	return m.bodies[id], nil
}

func (m *mockMailbox) LatestSubject(context.Context) (string, error) {
	if m.searchErr != nil {
		return "", m.searchErr
	}
	return "Ihre Quittung", nil
}

type textPDF struct{}

func (textPDF) Text(data []byte) string { return string(data) }

type fixture struct {
	handler *Handler
	router  *gin.Engine
	mailbox *mockMailbox
	tokens  []string
}

func newFixture(t *testing.T, mb *mockMailbox, guard *inflight.Guard) *fixture {
	t.Helper()
	f := &fixture{mailbox: mb}
	f.handler = NewHandler(HandlerConfig{
		Mailboxes: func(_ context.Context, token string) Mailbox {
			f.tokens = append(f.tokens, token)
			return mb
		},
		PDF:             textPDF{},
		Renderer:        render.HTML{},
		Location:        time.UTC,
		Guard:           guard,
		DefaultSubjects: []string{"EasyRide"},
	})
	f.router = f.handler.Router()
	return f
}

func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &mockMailbox{}, nil)
	w := f.do(http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"healthy"`) {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	f.handler.ping = func(context.Context) error { return errors.New("redis down") }
	w = f.do(http.MethodGet, "/health", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d", w.Code)
	}
}

func TestRequiresBearerToken(t *testing.T) {
	f := newFixture(t, &mockMailbox{}, nil)

	for _, path := range []string{"/api/emails/search", "/api/emails/export", "/api/reports"} {
		w := f.do(http.MethodPost, path, "", `{}`)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s without token = %d, want 401", path, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/mailbox/check", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("basic auth = %d, want 401", w.Code)
	}
}

func TestSearch(t *testing.T) {
	mb := &mockMailbox{records: []models.EmailRecord{
		{ID: "m1", Subject: "Quittung", BodyText: "<p>Datum: 05.03.2024 Betrag CHF 12.40</p>"},
		{ID: "m2", Subject: "Quittung", BodyText: "<p>Total 3.20</p>"},
	}}
	f := newFixture(t, mb, nil)

	w := f.do(http.MethodPost, "/api/emails/search", "tok-1", `{"from":"2024-01-01","to":"2024-03-31"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp searchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Records) != 2 || resp.Total != "15.60" {
		t.Errorf("response = %+v", resp)
	}
	if *resp.Records[0].Amount != "12.40" || *resp.Records[0].TransactionDate != "05.03.2024" {
		t.Errorf("record 0 = %+v", resp.Records[0])
	}
	if resp.RequestID == "" || resp.RequestID != w.Header().Get("X-Request-ID") {
		t.Errorf("requestId = %q, header %q", resp.RequestID, w.Header().Get("X-Request-ID"))
	}

	if len(f.tokens) != 1 || f.tokens[0] != "tok-1" {
		t.Errorf("mailbox opened with %v", f.tokens)
	}
	if !mb.gotStart.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", mb.gotStart)
	}
	if !mb.gotEnd.Equal(time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)) {
		t.Errorf("end = %v, want end of day", mb.gotEnd)
	}
	// No subjects in the request: defaults apply.
	if strings.Join(mb.gotSubjects, ",") != "EasyRide" {
		t.Errorf("subjects = %v", mb.gotSubjects)
	}
}

func TestSearch_BadRequest(t *testing.T) {
	f := newFixture(t, &mockMailbox{}, nil)

	for _, body := range []string{
		`not json`,
		`{"from":"2024-01-01"}`,
		`{"from":"01.01.2024","to":"2024-01-31"}`,
		`{"from":"2024-02-01","to":"2024-01-31"}`,
	} {
		w := f.do(http.MethodPost, "/api/emails/search", "tok", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
	if len(f.tokens) != 0 {
		t.Error("mailbox must not be opened for invalid requests")
	}
}

func TestSearch_StoreErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&graph.APIError{StatusCode: 401, Body: "InvalidAuthenticationToken"}, http.StatusUnauthorized},
		{&graph.APIError{StatusCode: 503, Body: "unavailable"}, http.StatusBadGateway},
		{errors.New("dial tcp: connection refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		f := newFixture(t, &mockMailbox{searchErr: tt.err}, nil)
		w := f.do(http.MethodPost, "/api/emails/search", "tok", `{"from":"2024-01-01","to":"2024-01-31","subjects":["x"]}`)
		if w.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, w.Code, tt.want)
		}
		if !strings.Contains(w.Body.String(), tt.err.Error()) {
			t.Errorf("response should carry the store error: %s", w.Body.String())
		}
	}
}

func TestExport(t *testing.T) {
	mb := &mockMailbox{records: []models.EmailRecord{
		{ID: "m1", Subject: "Quittung", Sender: "noreply@sbb.ch", ReceivedAt: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), BodyText: "Betrag CHF 12.40"},
	}}
	f := newFixture(t, mb, nil)

	w := f.do(http.MethodPost, "/api/emails/export", "tok", `{"from":"2024-01-01","to":"2024-12-31"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, ".csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	rows, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "05.03.2024" || rows[1][4] != "12.40" {
		t.Errorf("rows = %v", rows)
	}
}

func TestCreateReport(t *testing.T) {
	mb := &mockMailbox{bodies: map[string]string{"m1": "<p>full body</p>"}}
	f := newFixture(t, mb, nil)

	body, _ := json.Marshal(reportRequest{Records: []models.EmailRecord{
		{ID: "m1", Subject: "Quittung 1"},
		{ID: "m2", Subject: "Quittung 2", BodyText: "<p>from search</p>"},
	}})
	w := f.do(http.MethodPost, "/api/reports", "tok", string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Header().Get("X-Report-Skipped") != "0" {
		t.Errorf("X-Report-Skipped = %q", w.Header().Get("X-Report-Skipped"))
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "report_"+w.Header().Get("X-Request-ID")+".zip") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatalf("invalid zip: %v", err)
	}
	var names []string
	for _, file := range zr.File {
		names = append(names, file.Name)
	}
	if strings.Join(names, ",") != "001_Quittung 1.html,002_Quittung 2.html" {
		t.Errorf("entries = %v", names)
	}
}

func TestCreateReport_BadRequest(t *testing.T) {
	f := newFixture(t, &mockMailbox{}, nil)
	w := f.do(http.MethodPost, "/api/reports", "tok", `{"ids":["a"]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCheckMailbox(t *testing.T) {
	f := newFixture(t, &mockMailbox{}, nil)
	w := f.do(http.MethodGet, "/api/mailbox/check", "tok", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Ihre Quittung") {
		t.Errorf("check = %d %s", w.Code, w.Body.String())
	}
}

func TestInflightConflict(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mb := &mockMailbox{block: make(chan struct{}), entered: make(chan struct{})}
	f := newFixture(t, mb, inflight.NewGuard(rdb, time.Minute))

	first := make(chan int)
	go func() {
		w := f.do(http.MethodPost, "/api/emails/search", "same-token", `{"from":"2024-01-01","to":"2024-01-31"}`)
		first <- w.Code
	}()
	<-mb.entered

	w := f.do(http.MethodPost, "/api/emails/search", "same-token", `{"from":"2024-01-01","to":"2024-01-31"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("concurrent request = %d, want 409", w.Code)
	}

	close(mb.block)
	if code := <-first; code != http.StatusOK {
		t.Errorf("first request = %d", code)
	}

	// The lease is released once the first request finished.
	mb.entered = nil
	w = f.do(http.MethodPost, "/api/emails/search", "same-token", `{"from":"2024-01-01","to":"2024-01-31"}`)
	if w.Code != http.StatusOK {
		t.Errorf("request after release = %d, want 200", w.Code)
	}
}
