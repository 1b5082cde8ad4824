// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/operations"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var forgeTracer = otel.Tracer("aleutian.forge.handlers")

// HandleGenerate serves POST /v1/generate.
//
// # Description
//
// Generates code for a requirement and returns {code, explanation, language}.
// Missing requirements and unsupported languages are rejected with 400. Model
// failures return 500 with a generic message, except a missing API key which
// has its own message.
//
// # Inputs
//
//   - ops: The prompted operations.
//   - metrics: Optional. nil disables operation metrics.
func HandleGenerate(ops operations.Operations, metrics *observability.ForgeMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := forgeTracer.Start(c.Request.Context(), "HandleGenerate")
		defer span.End()
		rec := startRecording(metrics, observability.OperationGenerate)

		var req datatypes.GenerateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			rejectBody(c, span, rec, err)
			return
		}
		if err := req.Validate(); err != nil {
			rejectInvalid(c, span, rec, err)
			return
		}
		span.SetAttributes(attribute.String("forge.language", req.Language))

		out, err := ops.Generate(ctx, operations.GenerateInput{
			Requirement: req.Requirement,
			Language:    req.Language,
			Framework:   req.Framework,
		})
		if err != nil {
			respondOperationError(c, span, rec, operations.KindGenerate, err)
			return
		}

		rec.done(nil)
		c.JSON(http.StatusOK, datatypes.GenerateResponse{
			Code:        out.Code,
			Explanation: out.Explanation,
			Language:    out.Language,
		})
	}
}

// HandleTest serves POST /v1/test. The response is the normalized test
// report with success recomputed from the test cases.
func HandleTest(ops operations.Operations, metrics *observability.ForgeMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := forgeTracer.Start(c.Request.Context(), "HandleTest")
		defer span.End()
		rec := startRecording(metrics, observability.OperationTest)

		var req datatypes.TestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			rejectBody(c, span, rec, err)
			return
		}
		if err := req.Validate(); err != nil {
			rejectInvalid(c, span, rec, err)
			return
		}
		span.SetAttributes(attribute.String("forge.language", req.Language))

		report, err := ops.Test(ctx, operations.TestInput{
			Code:        req.Code,
			Language:    req.Language,
			Requirement: req.Requirement,
		})
		if err != nil {
			respondOperationError(c, span, rec, operations.KindTest, err)
			return
		}

		result := operations.NormalizeTestReport(report.Raw)
		span.SetAttributes(
			attribute.Bool("forge.test.success", result.Success),
			attribute.Int("forge.test.cases", len(result.Tests)),
		)
		rec.done(nil)
		c.JSON(http.StatusOK, result)
	}
}

// HandleFix serves POST /v1/fix.
func HandleFix(ops operations.Operations, metrics *observability.ForgeMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := forgeTracer.Start(c.Request.Context(), "HandleFix")
		defer span.End()
		rec := startRecording(metrics, observability.OperationFix)

		var req datatypes.FixRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			rejectBody(c, span, rec, err)
			return
		}
		if err := req.Validate(); err != nil {
			rejectInvalid(c, span, rec, err)
			return
		}
		span.SetAttributes(
			attribute.String("forge.language", req.Language),
			attribute.Int("forge.fix.errors", len(req.Errors)),
		)

		fix, err := ops.Fix(ctx, operations.FixInput{
			Code:        req.Code,
			Language:    req.Language,
			Errors:      req.Errors,
			TestResults: string(req.TestResults),
		})
		if err != nil {
			respondOperationError(c, span, rec, operations.KindFix, err)
			return
		}

		rec.done(nil)
		c.JSON(http.StatusOK, datatypes.FixResponse{
			Code:        fix.Code,
			Changes:     fix.Changes,
			Explanation: fix.Explanation,
		})
	}
}

// =============================================================================
// Response Helpers
// =============================================================================

// recording times one operation for metrics. A nil metrics is a no-op.
type recording struct {
	metrics *observability.ForgeMetrics
	op      observability.Operation
	start   time.Time
}

func startRecording(metrics *observability.ForgeMetrics, op observability.Operation) *recording {
	return &recording{metrics: metrics, op: op, start: time.Now()}
}

func (r *recording) done(err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordOperation(r.op, time.Since(r.start).Seconds(), err == nil)
	if err != nil {
		r.metrics.RecordError(r.op, errorCodeFor(err))
	}
}

func rejectBody(c *gin.Context, span trace.Span, rec *recording, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "invalid request body")
	slog.Warn("Failed to parse forge request", "operation", string(rec.op), "error", err)
	rec.done(operations.ErrValidation)
	c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
}

func rejectInvalid(c *gin.Context, span trace.Span, rec *recording, err error) {
	msg := datatypes.DescribeValidation(err)
	span.SetStatus(codes.Error, msg)
	rec.done(operations.ErrValidation)
	c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: msg})
}

func respondOperationError(c *gin.Context, span trace.Span, rec *recording, kind operations.Kind, err error) {
	status := statusForError(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if status >= http.StatusInternalServerError {
		slog.Error("Forge operation failed", "operation", string(kind), "error", err)
	}
	rec.done(err)
	c.JSON(status, datatypes.ErrorResponse{Error: operations.UserMessage(kind, err)})
}
