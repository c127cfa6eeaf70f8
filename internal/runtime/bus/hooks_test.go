package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/edgeflow/internal/runtime/metadata"
)

func hookMessage() *message.Message {
	msg := message.NewMessage("test-uuid", []byte("payload"))
	msg.Metadata.Set(metadata.KeyKind, string(metadata.KindState))
	msg.Metadata.Set(metadata.KeyService, "svc-1")
	msg.SetContext(context.Background())
	return msg
}

func TestJobHooksStartAndDone(t *testing.T) {
	var started, done JobContext
	hooks := JobHooks{
		OnJobStart: func(ctx JobContext) { started = ctx },
		OnJobDone:  func(ctx JobContext) { done = ctx },
	}

	handler := jobHooksMiddleware(hooks)(func(*message.Message) ([]*message.Message, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	})
	_, err := handler(hookMessage())
	require.NoError(t, err)

	assert.Equal(t, "test-uuid", started.MessageUUID)
	assert.Equal(t, metadata.KindState, started.Kind)
	assert.Equal(t, "svc-1", started.Service)
	assert.False(t, started.StartedAt.IsZero())
	assert.GreaterOrEqual(t, done.Duration, 5*time.Millisecond)
}

func TestJobHooksError(t *testing.T) {
	expected := errors.New("handler error")
	var captured error
	doneCalled := false
	hooks := JobHooks{
		OnJobDone:  func(JobContext) { doneCalled = true },
		OnJobError: func(_ JobContext, err error) { captured = err },
	}

	handler := jobHooksMiddleware(hooks)(func(*message.Message) ([]*message.Message, error) {
		return nil, expected
	})
	_, err := handler(hookMessage())
	assert.ErrorIs(t, err, expected)
	assert.ErrorIs(t, captured, expected)
	assert.False(t, doneCalled)
}

func TestJobHooksMerge(t *testing.T) {
	var order []string
	first := JobHooks{OnJobStart: func(JobContext) { order = append(order, "first") }}
	second := JobHooks{
		OnJobStart: func(JobContext) { order = append(order, "second") },
		OnJobError: func(JobContext, error) { order = append(order, "error") },
	}

	merged := first.Merge(second)
	merged.OnJobStart(JobContext{})
	merged.OnJobError(JobContext{}, errors.New("x"))
	assert.Equal(t, []string{"first", "second", "error"}, order)
	assert.Nil(t, merged.OnJobDone)

	assert.True(t, JobHooks{}.empty())
	assert.False(t, merged.empty())
}

func TestLoggingHooks(t *testing.T) {
	logger := &recordingServiceLogger{}
	hooks := LoggingHooks(logger)

	hooks.OnJobStart(JobContext{Topic: "t"})
	hooks.OnJobDone(JobContext{Topic: "t", Duration: time.Millisecond})
	hooks.OnJobError(JobContext{Topic: "t"}, errors.New("failed"))

	debugs, errs := logger.counts()
	assert.Equal(t, 2, debugs)
	assert.Equal(t, 1, errs)
}
