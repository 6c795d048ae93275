package server_test

import (
	"context"
	"testing"

	server "github.com/i-am-bee/acp-go/server"
	types "github.com/i-am-bee/acp-go/types"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

// collectEmitted builds a run context whose emitted events are appended to
// the returned slice
func collectEmitted(opts server.RunContextOptions, events *[]types.Event) *server.RunContext {
	opts.Emit = func(ctx context.Context, event types.Event) error {
		*events = append(*events, event)
		return nil
	}
	return server.NewRunContext(opts)
}

func TestRunContext_Accessors(t *testing.T) {
	history := []types.Message{types.NewUserMessage("earlier")}

	rc := server.NewRunContext(server.RunContextOptions{
		RunID:     "run-1",
		AgentName: "helloworld",
		SessionID: "session-1",
		History:   history,
	})

	assert.Equal(t, "run-1", rc.RunID())
	assert.Equal(t, "helloworld", rc.AgentName())
	assert.Equal(t, "session-1", rc.SessionID())

	got := rc.History()
	require.Len(t, got, 1)
	got[0] = types.NewUserMessage("mutated")
	assert.Equal(t, "earlier", rc.History()[0].Text())
}

func TestRunContext_YieldAccumulatesOneMessage(t *testing.T) {
	ctx := context.Background()
	var events []types.Event
	rc := collectEmitted(server.RunContextOptions{RunID: "run-1", AgentName: "helloworld"}, &events)

	require.NoError(t, rc.Yield(ctx, types.NewTextPart("first ")))
	require.NoError(t, rc.Yield(ctx, types.NewTextPart("second")))
	assert.Equal(t, 2, rc.PartsYielded())

	// nothing in Output until the message is completed
	assert.Empty(t, rc.Output())

	require.NoError(t, rc.CompleteMessage(ctx))

	output := rc.Output()
	require.Len(t, output, 1)
	assert.Equal(t, "agent/helloworld", output[0].Role)
	assert.Equal(t, "first second", output[0].Text())
	assert.NotNil(t, output[0].CompletedAt)

	eventTypes := make([]types.EventType, 0, len(events))
	for _, event := range events {
		eventTypes = append(eventTypes, event.Type)
	}
	assert.Equal(t, []types.EventType{
		types.EventMessageCreated,
		types.EventMessagePart,
		types.EventMessagePart,
		types.EventMessageCompleted,
	}, eventTypes)
}

func TestRunContext_CompleteMessageWithoutYieldIsNoop(t *testing.T) {
	ctx := context.Background()
	var events []types.Event
	rc := collectEmitted(server.RunContextOptions{RunID: "run-1", AgentName: "helloworld"}, &events)

	require.NoError(t, rc.CompleteMessage(ctx))
	assert.Empty(t, events)
	assert.Empty(t, rc.Output())
}

func TestRunContext_YieldMessage(t *testing.T) {
	ctx := context.Background()
	var events []types.Event
	rc := collectEmitted(server.RunContextOptions{RunID: "run-1", AgentName: "helloworld"}, &events)

	// an open message is closed before the complete message is emitted
	require.NoError(t, rc.Yield(ctx, types.NewTextPart("partial")))

	message := types.NewAgentMessage("helloworld", "whole message")
	require.NoError(t, rc.YieldMessage(ctx, message))

	output := rc.Output()
	require.Len(t, output, 2)
	assert.Equal(t, "partial", output[0].Text())
	assert.Equal(t, "whole message", output[1].Text())
	assert.Equal(t, 2, rc.PartsYielded())
}

func TestRunContext_Await(t *testing.T) {
	ctx := context.Background()

	t.Run("completes the open message and returns the resume", func(t *testing.T) {
		var events []types.Event
		var awaitedReq types.AwaitRequest

		opts := server.RunContextOptions{
			RunID:     "run-1",
			AgentName: "helloworld",
			Await: func(ctx context.Context, req types.AwaitRequest) (*types.AwaitResume, error) {
				awaitedReq = req
				message := types.NewUserMessage("resumed")
				return &types.AwaitResume{Type: types.AwaitTypeMessage, Message: &message}, nil
			},
		}
		rc := collectEmitted(opts, &events)

		require.NoError(t, rc.Yield(ctx, types.NewTextPart("before await")))

		resume, err := rc.Await(ctx, types.AwaitRequest{Type: types.AwaitTypeMessage})
		require.NoError(t, err)
		require.NotNil(t, resume)
		assert.Equal(t, "resumed", resume.Message.Text())
		assert.Equal(t, types.AwaitTypeMessage, awaitedReq.Type)

		// the pending message was flushed to output before parking
		require.Len(t, rc.Output(), 1)
		assert.Equal(t, "before await", rc.Output()[0].Text())
	})

	t.Run("await unsupported without an await func", func(t *testing.T) {
		rc := server.NewRunContext(server.RunContextOptions{RunID: "run-1", AgentName: "helloworld"})

		_, err := rc.Await(ctx, types.AwaitRequest{Type: types.AwaitTypeMessage})
		assert.Error(t, err)
	})
}

func TestRunContext_NilEmitAccumulatesOutput(t *testing.T) {
	ctx := context.Background()
	rc := server.NewRunContext(server.RunContextOptions{RunID: "run-1", AgentName: "helloworld"})

	require.NoError(t, rc.Yield(ctx, types.NewTextPart("silent")))
	require.NoError(t, rc.CompleteMessage(ctx))

	require.Len(t, rc.Output(), 1)
	assert.Equal(t, "silent", rc.Output()[0].Text())
}
