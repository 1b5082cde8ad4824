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
	"github.com/AleutianAI/AleutianForge/services/forge/runs"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// wsWriteTimeout bounds a single websocket write.
const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleCreateRun serves POST /v1/runs. The run starts in the background and
// the response (202) carries its ID and initial state. With mode "generate"
// the run stops at "generated" until POST /v1/runs/:runId/test.
func HandleCreateRun(registry *runs.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := forgeTracer.Start(c.Request.Context(), "HandleCreateRun")
		defer span.End()

		var req datatypes.RunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid request body")
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			msg := datatypes.DescribeValidation(err)
			span.SetStatus(codes.Error, msg)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: msg})
			return
		}

		resp, err := registry.Start(req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(statusForError(err), datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		span.SetAttributes(attribute.String("forge.run_id", resp.RunID))
		c.JSON(http.StatusAccepted, resp)
	}
}

// HandleGetRun serves GET /v1/runs/:runId.
func HandleGetRun(registry *runs.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := registry.Get(c.Param("runId"))
		if err != nil {
			c.JSON(statusForError(err), datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleCancelRun serves DELETE /v1/runs/:runId. The run moves to "error"
// with a cancellation message at its next suspend point.
func HandleCancelRun(registry *runs.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")
		if err := registry.Cancel(runID); err != nil {
			c.JSON(statusForError(err), datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "cancelling"})
	}
}

// HandleTestRun serves POST /v1/runs/:runId/test.
//
// # Description
//
// Re-tests a finished run in the background and runs the fix loop again,
// answering 202 with the snapshot as the phase starts. The optional body
// {"continue": bool, "code": string} keeps the spent fix budget or replaces
// the code with an edited version. A run that is still going, or has no
// code yet, is a 409.
func HandleTestRun(registry *runs.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := forgeTracer.Start(c.Request.Context(), "HandleTestRun")
		defer span.End()

		runID := c.Param("runId")
		span.SetAttributes(attribute.String("forge.run_id", runID))

		var req datatypes.TestRunRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "invalid request body")
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
				return
			}
		}
		if err := req.Validate(); err != nil {
			msg := datatypes.DescribeValidation(err)
			span.SetStatus(codes.Error, msg)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: msg})
			return
		}

		resp, err := registry.Test(runID, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(statusForError(err), datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, resp)
	}
}

// HandleResetRun serves POST /v1/runs/:runId/reset. The run returns to idle
// and the reply carries the cleared state. A run that is still going is a 409.
func HandleResetRun(registry *runs.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := registry.Reset(c.Param("runId"))
		if err != nil {
			c.JSON(statusForError(err), datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleRunWebSocket serves GET /v1/runs/:runId/ws.
//
// # Description
//
// Streams a datatypes.RunEvent for every state transition, starting with the
// current state, and closes the connection after the event with Done set.
// A later test or reset phase needs a new connection.
// Unknown runs are rejected with 404 before the upgrade. Closing the socket
// from the client side only unsubscribes; the run keeps going.
func HandleRunWebSocket(registry *runs.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")
		events, unsubscribe, err := registry.Subscribe(runID)
		if err != nil {
			c.JSON(statusForError(err), datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		defer unsubscribe()

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Run observer connected", "run_id", runID)

		// The read loop only exists to notice the client going away.
		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		var last datatypes.RunEvent
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					// Slow observers can miss the final event.
					if !last.Done {
						if final, err := registry.Get(runID); err == nil {
							_ = sendJSON(ws, datatypes.RunEvent{RunID: runID, Seq: last.Seq + 1, State: final.State, Done: final.Done})
						}
					}
					closeNormally(ws)
					return
				}
				last = ev
				if err := sendJSON(ws, ev); err != nil {
					return
				}
			case <-clientGone:
				slog.Info("Run observer disconnected", "run_id", runID)
				return
			}
		}
	}
}

func closeNormally(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}
