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

// Package api serves the tax report HTTP API. Every mailbox endpoint takes
// the caller's Microsoft Graph access token as bearer credential and talks to
// the mailbox on the caller's behalf; nothing is kept between requests.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/easyride/taxreport/internal/graph"
	"github.com/easyride/taxreport/internal/inflight"
	"github.com/easyride/taxreport/internal/models"
	"github.com/easyride/taxreport/internal/render"
	"github.com/easyride/taxreport/internal/report"
	"github.com/easyride/taxreport/internal/search"
)

// Mailbox is the message store used for one request. Implemented by
// graph.Client.
type Mailbox interface {
	search.Store
	report.Store
	LatestSubject(ctx context.Context) (string, error)
}

// MailboxFactory opens the mailbox behind an access token.
type MailboxFactory func(ctx context.Context, accessToken string) Mailbox

// Handler serves the API endpoints.
type Handler struct {
	mailboxes       MailboxFactory
	pdf             search.TextExtractor
	renderer        render.Renderer
	loc             *time.Location
	guard           *inflight.Guard
	pageSize        int
	defaultSubjects []string
	ping            func(ctx context.Context) error
}

// HandlerConfig holds dependencies for the handler.
type HandlerConfig struct {
	Mailboxes       MailboxFactory
	PDF             search.TextExtractor
	Renderer        render.Renderer
	Location        *time.Location
	Guard           *inflight.Guard // nil disables the in-flight check
	PageSize        int
	DefaultSubjects []string
	// Ping checks backing services for /health. Optional.
	Ping func(ctx context.Context) error
}

// NewHandler creates the API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		mailboxes:       cfg.Mailboxes,
		pdf:             cfg.PDF,
		renderer:        cfg.Renderer,
		loc:             cfg.Location,
		guard:           cfg.Guard,
		pageSize:        cfg.PageSize,
		defaultSubjects: cfg.DefaultSubjects,
		ping:            cfg.Ping,
	}
}

// Router builds the gin engine with all routes.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger())

	r.GET("/health", h.health)

	authed := r.Group("/api", requireToken())
	{
		authed.GET("/mailbox/check", h.checkMailbox)
		authed.POST("/emails/search", h.searchEmails)
		authed.POST("/emails/export", h.exportEmails)
		authed.POST("/reports", h.createReport)
	}
	return r
}

type searchRequest struct {
	From     string   `json:"from" binding:"required"`
	To       string   `json:"to" binding:"required"`
	Subjects []string `json:"subjects"`
}

type searchResponse struct {
	RequestID string               `json:"requestId"`
	Records   []models.EmailRecord `json:"records"`
	Skipped   []models.Skipped     `json:"skipped"`
	Total     string               `json:"total"`
}

type reportRequest struct {
	Records []models.EmailRecord `json:"records" binding:"required"`
}

func (h *Handler) health(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			slog.Warn("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) checkMailbox(c *gin.Context) {
	ctx := c.Request.Context()
	subject, err := h.mailboxes(ctx, accessToken(c)).LatestSubject(ctx)
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "latestSubject": subject})
}

func (h *Handler) searchEmails(c *gin.Context) {
	result, ok := h.runSearch(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, searchResponse{
		RequestID: c.GetString(requestIDKey),
		Records:   result.Records,
		Skipped:   result.Skipped,
		Total:     result.Total,
	})
}

func (h *Handler) exportEmails(c *gin.Context) {
	result, ok := h.runSearch(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, result.Records, h.loc); err != nil {
		slog.Error("csv export failed", "request_id", c.GetString(requestIDKey), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "csv export failed"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="emails_%s.csv"`, c.GetString(requestIDKey)))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// runSearch parses the request, takes the in-flight lease and searches. It
// writes the error response itself and returns false on failure.
func (h *Handler) runSearch(c *gin.Context) (*search.Result, bool) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	q, err := h.parseQuery(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	release, ok := h.acquire(c)
	if !ok {
		return nil, false
	}
	defer release()

	ctx := c.Request.Context()
	orch := search.NewOrchestrator(search.OrchestratorConfig{
		Store:    h.mailboxes(ctx, accessToken(c)),
		PDF:      h.pdf,
		PageSize: h.pageSize,
	})

	result, err := orch.Search(ctx, q)
	if err != nil {
		h.storeError(c, err)
		return nil, false
	}

	slog.Info("search served",
		"request_id", c.GetString(requestIDKey),
		"records", len(result.Records),
		"skipped", len(result.Skipped),
		"elapsed", result.Elapsed,
	)
	return result, true
}

func (h *Handler) createReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	release, ok := h.acquire(c)
	if !ok {
		return
	}
	defer release()

	ctx := c.Request.Context()
	bundler := report.NewBundler(report.BundlerConfig{
		Store:    h.mailboxes(ctx, accessToken(c)),
		Renderer: h.renderer,
		Location: h.loc,
	})

	bundle, err := bundler.Bundle(ctx, req.Records)
	if err != nil {
		slog.Error("report bundle failed",
			"request_id", c.GetString(requestIDKey),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("create report: %v", err)})
		return
	}

	for _, s := range bundle.Skipped {
		slog.Warn("report entry incomplete",
			"request_id", c.GetString(requestIDKey),
			"message_id", s.ID,
			"stage", s.Stage,
			"reason", s.Reason,
		)
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="report_%s.zip"`, c.GetString(requestIDKey)))
	c.Header("X-Report-Skipped", strconv.Itoa(len(bundle.Skipped)))
	c.Data(http.StatusOK, "application/zip", bundle.Data)
}

// parseQuery builds the search query, applying the default subjects when
// the request names none.
func (h *Handler) parseQuery(req searchRequest) (search.Query, error) {
	start, end, err := search.ParseRange(req.From, req.To)
	if err != nil {
		return search.Query{}, err
	}

	subjects := req.Subjects
	if len(subjects) == 0 {
		subjects = h.defaultSubjects
	}

	return search.Query{
		Start:    start,
		End:      end,
		Subjects: subjects,
	}, nil
}

// acquire takes the in-flight lease for the caller's credential. A busy
// credential gets 409; a guard failure is logged and the request proceeds.
func (h *Handler) acquire(c *gin.Context) (func(), bool) {
	lease, err := h.guard.Acquire(c.Request.Context(), accessToken(c))
	switch {
	case errors.Is(err, inflight.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return nil, false
	case err != nil:
		slog.Warn("in-flight guard unavailable, proceeding", "error", err)
		return func() {}, true
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(ctx); err != nil {
			slog.Warn("in-flight release failed", "error", err)
		}
	}, true
}

// storeError maps a mailbox failure to a response. A rejected credential
// is reported as 401; anything else from the store is a bad gateway.
func (h *Handler) storeError(c *gin.Context, err error) {
	slog.Error("mailbox request failed",
		"request_id", c.GetString(requestIDKey),
		"error", err,
	)

	var apiErr *graph.APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	if errors.Is(err, context.Canceled) {
		c.Status(499)
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
