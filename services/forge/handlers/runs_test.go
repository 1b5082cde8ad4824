// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/operations"
	"github.com/AleutianAI/AleutianForge/services/forge/runs"
	"github.com/AleutianAI/AleutianForge/services/forge/workflow"
	"github.com/AleutianAI/AleutianForge/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingModel holds every call until release is closed or the context ends.
type blockingModel struct {
	release chan struct{}
	inner   llm.ChatModel
}

func (m *blockingModel) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	select {
	case <-m.release:
		return m.inner.Complete(ctx, req)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newRunsRouter(t *testing.T, model llm.ChatModel) (*gin.Engine, *runs.Registry) {
	t.Helper()
	registry := runs.NewRegistry(operations.NewService(model), runs.Config{Workflow: workflow.Config{MaxIterations: 1}}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
	})

	router := gin.New()
	router.POST("/v1/runs", HandleCreateRun(registry))
	router.GET("/v1/runs/:runId", HandleGetRun(registry))
	router.DELETE("/v1/runs/:runId", HandleCancelRun(registry))
	router.POST("/v1/runs/:runId/test", HandleTestRun(registry))
	router.POST("/v1/runs/:runId/reset", HandleResetRun(registry))
	router.GET("/v1/runs/:runId/ws", HandleRunWebSocket(registry))
	return router, registry
}

func createRun(t *testing.T, router http.Handler) datatypes.RunResponse {
	t.Helper()
	w := postJSON(t, router, "/v1/runs", `{"requirement":"Create a REST API","language":"go"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp datatypes.RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleCreateRun_RunsToEnd(t *testing.T) {
	router, registry := newRunsRouter(t, &routedModel{})

	created := createRun(t, router)
	require.NotEmpty(t, created.RunID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := registry.Wait(ctx, created.RunID)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/"+created.RunID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got datatypes.RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.Done)
	// The routed model always fails one test, so the single fix is spent.
	assert.Equal(t, datatypes.StepTested, got.State.Step)
	assert.Equal(t, 1, got.State.Iteration)
	assert.Equal(t, "fixed", got.State.Code)
	require.Len(t, got.State.FixHistory, 1)
}

func TestHandleCreateRun_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{`, "invalid request body"},
		{"missing requirement", `{"language":"go"}`, "Requirement is required"},
		{"unsupported language", `{"requirement":"x","language":"cobol"}`,
			"Invalid language. Supported: typescript, python, go, java, rust"},
		{"budget too large", `{"requirement":"x","language":"go","max_iterations":11}`, "MaxIterations is out of range"},
		{"unknown mode", `{"requirement":"x","language":"go","mode":"manual"}`, "Mode is invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newRunsRouter(t, &routedModel{})

			w := postJSON(t, router, "/v1/runs", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, errorBody(t, w))
		})
	}
}

func TestHandleGetRun_NotFound(t *testing.T) {
	router, _ := newRunsRouter(t, &routedModel{})

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, "/v1/runs/nope", nil))
		assert.Equal(t, http.StatusNotFound, w.Code, method)
	}
	for _, path := range []string{"/v1/runs/nope/test", "/v1/runs/nope/reset"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

// =============================================================================
// Manual Test and Reset
// =============================================================================

func waitRun(t *testing.T, registry *runs.Registry, id string) datatypes.RunResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := registry.Wait(ctx, id)
	require.NoError(t, err)
	return resp
}

func TestHandleTestRun_GenerateModeThenEditedTest(t *testing.T) {
	model := &routedModel{}
	router, registry := newRunsRouter(t, model)

	w := postJSON(t, router, "/v1/runs", `{"requirement":"Create a REST API","language":"go","mode":"generate"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var created datatypes.RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	generated := waitRun(t, registry, created.RunID)
	require.Equal(t, datatypes.StepGenerated, generated.State.Step)
	require.Len(t, model.requests, 1, "generate mode never tests")

	w = postJSON(t, router, "/v1/runs/"+created.RunID+"/test", `{"code":"package edited"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	final := waitRun(t, registry, created.RunID)
	assert.True(t, final.Done)
	assert.Equal(t, datatypes.StepTested, final.State.Step)
	assert.Equal(t, 1, final.State.Iteration)
	assert.Equal(t, "fixed", final.State.Code)
	assert.Contains(t, model.requests[1].System, "software tester")
	assert.Contains(t, model.requests[1].User, "package edited")
}

func TestHandleTestRun_EmptyBodyStartsFreshBudget(t *testing.T) {
	router, registry := newRunsRouter(t, &routedModel{})
	created := createRun(t, router)
	require.Equal(t, 1, waitRun(t, registry, created.RunID).State.Iteration)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/runs/"+created.RunID+"/test", nil))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	final := waitRun(t, registry, created.RunID)
	assert.Equal(t, datatypes.StepTested, final.State.Step)
	assert.Equal(t, 1, final.State.Iteration)
	assert.Len(t, final.State.FixHistory, 1, "history restarts with a fresh budget")
}

func TestHandleTestRun_ContinueKeepsSpentBudget(t *testing.T) {
	model := &routedModel{}
	router, registry := newRunsRouter(t, model)
	created := createRun(t, router)
	waitRun(t, registry, created.RunID)
	calls := len(model.requests)

	w := postJSON(t, router, "/v1/runs/"+created.RunID+"/test", `{"continue":true}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	final := waitRun(t, registry, created.RunID)
	assert.Equal(t, datatypes.StepTested, final.State.Step)
	assert.Len(t, final.State.FixHistory, 1)
	assert.Len(t, model.requests, calls+1, "only the test call, no fix")
}

func TestHandleTestRun_BadBody(t *testing.T) {
	router, registry := newRunsRouter(t, &routedModel{})
	created := createRun(t, router)
	waitRun(t, registry, created.RunID)

	w := postJSON(t, router, "/v1/runs/"+created.RunID+"/test", `{"continue":"yes"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid request body", errorBody(t, w))
}

func TestHandleTestRun_ConflictWhileRunning(t *testing.T) {
	model := &blockingModel{release: make(chan struct{}), inner: &routedModel{}}
	router, registry := newRunsRouter(t, model)
	created := createRun(t, router)

	for _, path := range []string{"/test", "/reset"} {
		w := postJSON(t, router, "/v1/runs/"+created.RunID+path, `{}`)
		assert.Equal(t, http.StatusConflict, w.Code, path)
		assert.Equal(t, runs.ErrRunBusy.Error(), errorBody(t, w))
	}

	close(model.release)
	waitRun(t, registry, created.RunID)
}

func TestHandleResetRun(t *testing.T) {
	router, registry := newRunsRouter(t, &routedModel{})
	created := createRun(t, router)
	waitRun(t, registry, created.RunID)

	w := postJSON(t, router, "/v1/runs/"+created.RunID+"/reset", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reset datatypes.RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reset))
	assert.True(t, reset.Done)
	assert.Equal(t, datatypes.StepIdle, reset.State.Step)
	assert.Empty(t, reset.State.Code)
	assert.Empty(t, reset.State.FixHistory)

	w = postJSON(t, router, "/v1/runs/"+created.RunID+"/test", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, workflow.ErrNoCode.Error(), errorBody(t, w))
}

func TestHandleCancelRun(t *testing.T) {
	model := &blockingModel{release: make(chan struct{}), inner: &routedModel{}}
	router, registry := newRunsRouter(t, model)
	created := createRun(t, router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/runs/"+created.RunID, nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := registry.Wait(ctx, created.RunID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StepError, final.State.Step)
	assert.Equal(t, operations.MsgCancelled, final.State.LastError)
}

func TestHandleRunWebSocket_StreamsUntilDone(t *testing.T) {
	model := &blockingModel{release: make(chan struct{}), inner: &routedModel{}}
	router, _ := newRunsRouter(t, model)
	server := httptest.NewServer(router)
	defer server.Close()

	created := createRun(t, router)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/runs/" + created.RunID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	close(model.release)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var events []datatypes.RunEvent
	for {
		var ev datatypes.RunEvent
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		events = append(events, ev)
		if ev.Done {
			break
		}
	}

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.Done)
	assert.Equal(t, datatypes.StepTested, last.State.Step)
	for _, ev := range events {
		assert.Equal(t, created.RunID, ev.RunID)
	}
}

func TestHandleRunWebSocket_UnknownRun(t *testing.T) {
	router, _ := newRunsRouter(t, &routedModel{})
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/runs/nope/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
