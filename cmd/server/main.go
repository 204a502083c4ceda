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

// EasyRide Tax Report Service
//
// Entry point for the HTTP service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to Redis for the in-flight guard, when configured
//  3. Wires the Graph mailbox client, PDF extractor and document renderer
//  4. Serves the search, export and report API
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/easyride/taxreport/internal/api"
	"github.com/easyride/taxreport/internal/config"
	"github.com/easyride/taxreport/internal/graph"
	"github.com/easyride/taxreport/internal/inflight"
	"github.com/easyride/taxreport/internal/pdftext"
	"github.com/easyride/taxreport/internal/render"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("starting EasyRide tax report service",
		"graph", cfg.Graph.BaseURL,
		"renderer", cfg.RendererURL != "",
		"redis", cfg.RedisURL != "",
		"timezone", cfg.Timezone,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Connect to Redis (optional) ---
	var guard *inflight.Guard
	var ping func(context.Context) error
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to Redis")

		guard = inflight.NewGuard(rdb, cfg.InflightTTL)
		ping = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		slog.Info("no Redis configured, in-flight guard disabled")
	}

	// --- Graph mailbox per request token ---
	clientCfg := graph.ClientConfig{
		BaseURL:    cfg.Graph.BaseURL,
		Mailbox:    cfg.Graph.Mailbox,
		MaxRetries: cfg.Graph.MaxRetries,
		RetryDelay: cfg.Graph.RetryDelay,
	}
	mailboxes := func(ctx context.Context, token string) api.Mailbox {
		return graph.NewClient(graph.NewTokenHTTPClient(ctx, token), clientCfg)
	}

	handler := api.NewHandler(api.HandlerConfig{
		Mailboxes:       mailboxes,
		PDF:             pdftext.New(),
		Renderer:        render.New(cfg.RendererURL, cfg.RenderTimeout),
		Location:        cfg.Location(),
		Guard:           guard,
		PageSize:        cfg.Graph.PageSize,
		DefaultSubjects: cfg.DefaultSubjects,
		Ping:            ping,
	})

	done, err := api.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start API server", "error", err)
		os.Exit(1)
	}

	if err := <-done; err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("tax report service stopped")
}
