package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gin "github.com/gin-gonic/gin"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	zap "go.uber.org/zap"

	config "github.com/i-am-bee/acp-go/server/config"
	types "github.com/i-am-bee/acp-go/types"
)

// newTestServer builds a server hosting a greeting agent and returns it with
// its configured router
func newTestServer(t *testing.T) (*ACPServerImpl, *gin.Engine) {
	t.Helper()

	cfg, err := config.NewWithDefaults(context.Background(), nil)
	require.NoError(t, err)

	s := NewACPServer(cfg, zap.NewNop(), nil)

	agent := &Agent{
		Name:        "greeter",
		Description: "greets the caller",
		Handler: HandlerFunc(func(ctx context.Context, input []types.Message, run *RunContext) error {
			last, _ := types.LastMessage(input)
			return run.Yield(ctx, types.NewTextPart("Hello "+last.Text()+"!"))
		}),
	}
	require.NoError(t, s.RegisterAgent(agent))

	return s, s.setupRouter(cfg)
}

func performJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewBuffer(payload)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestServer_Ping(t *testing.T) {
	_, router := newTestServer(t)

	w := performJSON(router, "GET", "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_ListAgents(t *testing.T) {
	s, router := newTestServer(t)

	require.NoError(t, s.RegisterAgent(&Agent{
		Name: "another",
		Handler: HandlerFunc(func(ctx context.Context, input []types.Message, run *RunContext) error {
			return nil
		}),
	}))

	t.Run("all agents in name order", func(t *testing.T) {
		w := performJSON(router, "GET", "/agents", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var list types.AgentsListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		require.Len(t, list.Agents, 2)
		assert.Equal(t, "another", list.Agents[0].Name)
		assert.Equal(t, "greeter", list.Agents[1].Name)
	})

	t.Run("limit and offset", func(t *testing.T) {
		w := performJSON(router, "GET", "/agents?limit=1&offset=1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var list types.AgentsListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		require.Len(t, list.Agents, 1)
		assert.Equal(t, "greeter", list.Agents[0].Name)
	})
}

func TestServer_GetAgent(t *testing.T) {
	_, router := newTestServer(t)

	t.Run("known agent", func(t *testing.T) {
		w := performJSON(router, "GET", "/agents/greeter", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var manifest types.AgentManifest
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &manifest))
		assert.Equal(t, "greeter", manifest.Name)
		assert.Equal(t, "greets the caller", manifest.Description)
	})

	t.Run("unknown agent", func(t *testing.T) {
		w := performJSON(router, "GET", "/agents/missing", nil)
		require.Equal(t, http.StatusNotFound, w.Code)

		var protocolErr types.Error
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &protocolErr))
		assert.Equal(t, types.ErrorCodeNotFound, protocolErr.Code)
	})
}

func TestServer_CreateRunSync(t *testing.T) {
	_, router := newTestServer(t)

	w := performJSON(router, "POST", "/runs", types.RunCreateRequest{
		AgentName: "greeter",
		Input:     []types.Message{types.NewUserMessage("Alice")},
		Mode:      types.RunModeSync,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var run types.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, types.RunStatusCompleted, run.Status)
	require.Len(t, run.Output, 1)
	assert.Equal(t, "Hello Alice!", run.Output[0].Text())
}

func TestServer_CreateRunSyncDefaultsMode(t *testing.T) {
	_, router := newTestServer(t)

	// no mode in the request defaults to sync
	w := performJSON(router, "POST", "/runs", types.RunCreateRequest{
		AgentName: "greeter",
		Input:     []types.Message{types.NewUserMessage("Bob")},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var run types.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, types.RunStatusCompleted, run.Status)
}

func TestServer_CreateRunAsync(t *testing.T) {
	s, router := newTestServer(t)

	w := performJSON(router, "POST", "/runs", types.RunCreateRequest{
		AgentName: "greeter",
		Input:     []types.Message{types.NewUserMessage("Carol")},
		Mode:      types.RunModeAsync,
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var run types.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.NotEmpty(t, run.RunID)
	assert.False(t, run.Status.IsTerminal())

	// the run settles in the background
	deadline := newTestDeadline(t)
	for {
		stored, exists := s.runs.GetRun(run.RunID)
		require.True(t, exists)
		if stored.Status.IsTerminal() {
			assert.Equal(t, types.RunStatusCompleted, stored.Status)
			break
		}
		deadline.tick()
	}
}

func TestServer_CreateRunStream(t *testing.T) {
	_, router := newTestServer(t)

	w := performJSON(router, "POST", "/runs", types.RunCreateRequest{
		AgentName: "greeter",
		Input:     []types.Message{types.NewUserMessage("Dave")},
		Mode:      types.RunModeStream,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var eventSequence []types.EventType
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event types.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		eventSequence = append(eventSequence, event.Type)
	}

	assert.Equal(t, []types.EventType{
		types.EventRunCreated,
		types.EventRunInProgress,
		types.EventMessageCreated,
		types.EventMessagePart,
		types.EventMessageCompleted,
		types.EventRunCompleted,
	}, eventSequence)
}

func TestServer_CreateRunValidation(t *testing.T) {
	tests := []struct {
		name        string
		request     types.RunCreateRequest
		wantStatus  int
		wantErrCode types.ErrorCode
	}{
		{
			name: "empty input",
			request: types.RunCreateRequest{
				AgentName: "greeter",
				Input:     []types.Message{},
			},
			wantStatus:  http.StatusBadRequest,
			wantErrCode: types.ErrorCodeInvalidInput,
		},
		{
			name: "message without parts",
			request: types.RunCreateRequest{
				AgentName: "greeter",
				Input:     []types.Message{{Role: types.RoleUser}},
			},
			wantStatus:  http.StatusBadRequest,
			wantErrCode: types.ErrorCodeInvalidInput,
		},
		{
			name: "invalid mode",
			request: types.RunCreateRequest{
				AgentName: "greeter",
				Input:     []types.Message{types.NewUserMessage("x")},
				Mode:      types.RunMode("batch"),
			},
			wantStatus:  http.StatusBadRequest,
			wantErrCode: types.ErrorCodeInvalidInput,
		},
		{
			name: "unknown agent",
			request: types.RunCreateRequest{
				AgentName: "missing",
				Input:     []types.Message{types.NewUserMessage("x")},
			},
			wantStatus:  http.StatusNotFound,
			wantErrCode: types.ErrorCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := newTestServer(t)

			w := performJSON(router, "POST", "/runs", tt.request)
			require.Equal(t, tt.wantStatus, w.Code)

			var protocolErr types.Error
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &protocolErr))
			assert.Equal(t, tt.wantErrCode, protocolErr.Code)
		})
	}
}

func TestServer_GetRun(t *testing.T) {
	s, router := newTestServer(t)

	t.Run("known run", func(t *testing.T) {
		run, err := s.runs.CreateRun("greeter", nil)
		require.NoError(t, err)

		w := performJSON(router, "GET", "/runs/"+run.RunID, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var retrieved types.Run
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &retrieved))
		assert.Equal(t, run.RunID, retrieved.RunID)
		assert.Equal(t, types.RunStatusCreated, retrieved.Status)
	})

	t.Run("unknown run", func(t *testing.T) {
		w := performJSON(router, "GET", "/runs/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestServer_CancelRun(t *testing.T) {
	s, router := newTestServer(t)

	t.Run("cancel a created run", func(t *testing.T) {
		run, err := s.runs.CreateRun("greeter", nil)
		require.NoError(t, err)

		w := performJSON(router, "POST", "/runs/"+run.RunID+"/cancel", nil)
		require.Equal(t, http.StatusAccepted, w.Code)

		var cancelled types.Run
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
		assert.Equal(t, types.RunStatusCancelled, cancelled.Status)
	})

	t.Run("cancel an unknown run", func(t *testing.T) {
		w := performJSON(router, "POST", "/runs/missing/cancel", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("cancel a finished run", func(t *testing.T) {
		run, err := s.runs.CreateRun("greeter", nil)
		require.NoError(t, err)
		_, err = s.runs.CompleteRun(run.RunID, nil)
		require.NoError(t, err)

		w := performJSON(router, "POST", "/runs/"+run.RunID+"/cancel", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestServer_ResumeRunNotAwaiting(t *testing.T) {
	s, router := newTestServer(t)

	run, err := s.runs.CreateRun("greeter", nil)
	require.NoError(t, err)

	w := performJSON(router, "POST", "/runs/"+run.RunID, types.RunResumeRequest{
		AwaitResume: types.AwaitResume{Type: types.AwaitTypeMessage},
	})
	require.Equal(t, http.StatusConflict, w.Code)

	var protocolErr types.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &protocolErr))
	assert.Equal(t, types.ErrorCodeInvalidInput, protocolErr.Code)
}

func TestServer_ResumeUnknownRun(t *testing.T) {
	_, router := newTestServer(t)

	w := performJSON(router, "POST", "/runs/missing", types.RunResumeRequest{
		AwaitResume: types.AwaitResume{Type: types.AwaitTypeMessage},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_RunEventsForFinishedRun(t *testing.T) {
	s, router := newTestServer(t)

	run, err := s.runs.CreateRun("greeter", nil)
	require.NoError(t, err)
	_, err = s.runs.CompleteRun(run.RunID, []types.Message{types.NewAgentMessage("greeter", "done")})
	require.NoError(t, err)

	w := performJSON(router, "GET", "/runs/"+run.RunID+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	require.True(t, strings.HasPrefix(body, "data: "))

	var event types.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(body), "data: ")), &event))
	assert.Equal(t, types.EventRunCompleted, event.Type)
	require.NotNil(t, event.Run)
	assert.Equal(t, types.RunStatusCompleted, event.Run.Status)
}

func TestServer_GetSession(t *testing.T) {
	s, router := newTestServer(t)

	t.Run("session created by a run", func(t *testing.T) {
		sessionID := "session-1"
		w := performJSON(router, "POST", "/runs", types.RunCreateRequest{
			AgentName: "greeter",
			SessionID: &sessionID,
			Input:     []types.Message{types.NewUserMessage("Eve")},
			Mode:      types.RunModeSync,
		})
		require.Equal(t, http.StatusOK, w.Code)

		// history is appended after the run settles; sync mode returns on the
		// terminal event, so poll briefly
		deadline := newTestDeadline(t)
		for {
			if _, exists := s.store.GetSessionHistory(sessionID); exists {
				break
			}
			deadline.tick()
		}

		w = performJSON(router, "GET", "/sessions/"+sessionID, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var session types.SessionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
		assert.Equal(t, sessionID, session.SessionID)
		require.Len(t, session.History, 2)
		assert.Equal(t, "Eve", session.History[0].Text())
		assert.Equal(t, "Hello Eve!", session.History[1].Text())
	})

	t.Run("unknown session", func(t *testing.T) {
		w := performJSON(router, "GET", "/sessions/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestServer_LoadAgentManifestFromFile(t *testing.T) {
	s, router := newTestServer(t)

	manifestPath := filepath.Join(t.TempDir(), "agent.json")
	manifestJSON := `{
		"name": "greeter",
		"description": "original description",
		"metadata": {"tags": ["Demo"]}
	}`
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifestJSON), 0644))

	err := s.LoadAgentManifestFromFile("greeter", manifestPath, map[string]any{
		"description": "overridden description",
	})
	require.NoError(t, err)

	w := performJSON(router, "GET", "/agents/greeter", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var manifest types.AgentManifest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &manifest))
	assert.Equal(t, "overridden description", manifest.Description)
	require.NotNil(t, manifest.Metadata)
	assert.Equal(t, []string{"Demo"}, manifest.Metadata.Tags)
}

func TestServer_StartRequiresAnAgent(t *testing.T) {
	cfg, err := config.NewWithDefaults(context.Background(), nil)
	require.NoError(t, err)

	s := NewACPServer(cfg, zap.NewNop(), nil)
	err = s.Start(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least one agent")
}

func TestValidateInput(t *testing.T) {
	assert.Error(t, validateInput(nil))
	assert.Error(t, validateInput([]types.Message{{Role: types.RoleUser}}))
	assert.NoError(t, validateInput([]types.Message{types.NewUserMessage("ok")}))
}

func TestRunStatusEventType(t *testing.T) {
	assert.Equal(t, types.EventRunCompleted, runStatusEventType(types.RunStatusCompleted))
	assert.Equal(t, types.EventRunFailed, runStatusEventType(types.RunStatusFailed))
	assert.Equal(t, types.EventRunCancelled, runStatusEventType(types.RunStatusCancelled))
	assert.Equal(t, types.EventRunAwaiting, runStatusEventType(types.RunStatusAwaiting))
	assert.Equal(t, types.EventRunInProgress, runStatusEventType(types.RunStatusCancelling))
	assert.Equal(t, types.EventRunCreated, runStatusEventType(types.RunStatusCreated))
}
