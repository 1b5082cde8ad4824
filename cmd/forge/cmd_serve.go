// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// readyTimeout bounds how long serve waits for its own health check.
const readyTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the forge HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Server
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			cfg.LLM = a.cfg.clientConfig()
			return a.serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 12310, "HTTP port")
	return cmd
}

// check share an errgroup so a failed listen also ends the check.
// probe share an errgroup so a failed listen also ends the probe.
func (a *app) serve(ctx context.Context, cfg forge.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := forge.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create forge service: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		port := cfg.Port
		if port == 0 {
			port = 12310
		}
		url := fmt.Sprintf("http://localhost:%d/health", port)
		if err := waitReady(gctx, url, readyTimeout); err != nil {
			slog.Warn("Forge service did not report healthy", "url", url, "error", err)
			return nil
		}
		a.printer.Success(fmt.Sprintf("Forge listening on :%d", port))
		return nil
	})
	return g.Wait()
}

// waitReady polls url until it answers 200, ctx ends or timeout passes.
func waitReady(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
