package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqhawk/cqevent/internal/model"
	"github.com/cqhawk/cqevent/internal/pipeline"
	"github.com/cqhawk/cqevent/pkg/classifier"
	"github.com/cqhawk/cqevent/pkg/shape"
)

func newPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	reg, err := shape.NewRegistry(shape.DefaultCatalog())
	require.NoError(t, err)
	return pipeline.New(classifier.New(reg), nil)
}

func TestPipeline_Process(t *testing.T) {
	p := newPipeline(t)
	env := model.NewEnvelope("test", []byte(`{"time":1,"self_id":2,"post_type":"notice","notice_type":"friend_recall","user_id":3,"message_id":4}`))

	ev, err := p.Process(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, "FriendRecallEvent", ev.Shape().Name)
	assert.Equal(t, "notice.friend_recall", ev.Name())
	assert.Equal(t, "4", ev.ID().MustGet())
}

func TestPipeline_ProcessErrors(t *testing.T) {
	p := newPipeline(t)

	tests := []struct {
		name    string
		payload string
		reason  string
		target  error
	}{
		{
			name:    "not json",
			payload: `hello`,
			reason:  pipeline.ReasonDecode,
			target:  pipeline.ErrDecode,
		},
		{
			name:    "missing self_id",
			payload: `{"time":1,"post_type":"notice","notice_type":"friend_add","user_id":3}`,
			reason:  "missing_field",
			target:  classifier.ErrMissingField,
		},
		{
			name:    "time not a number",
			payload: `{"time":"soon","self_id":1,"post_type":"notice","notice_type":"friend_add","user_id":3}`,
			reason:  "type_mismatch",
			target:  classifier.ErrTypeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Process(context.Background(), model.NewEnvelope("test", []byte(tt.payload)))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.reason, pipeline.Reason(err))
		})
	}
}

func TestPipeline_NotConfigured(t *testing.T) {
	var p *pipeline.Pipeline
	_, err := p.Process(context.Background(), model.NewEnvelope("test", nil))
	assert.Error(t, err)

	_, err = newPipeline(t).Process(context.Background(), nil)
	assert.ErrorIs(t, err, pipeline.ErrDecode)
}

func TestPipeline_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(t).Process(ctx, model.NewEnvelope("test", []byte(`{}`)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReason_Internal(t *testing.T) {
	assert.Equal(t, pipeline.ReasonInternal, pipeline.Reason(errors.New("boom")))
}

func TestMarshalResult(t *testing.T) {
	p := newPipeline(t)
	payload := `{"time":1,"self_id":2,"post_type":"request","request_type":"friend","user_id":3,"comment":"hi","flag":"abc","extra_key":[1,2]}`

	ev, err := p.Process(context.Background(), model.NewEnvelope("test", []byte(payload)))
	require.NoError(t, err)

	data, err := pipeline.MarshalResult("env-1", ev)
	require.NoError(t, err)

	var decoded struct {
		EnvelopeID string          `json:"envelope_id"`
		Name       string          `json:"name"`
		Shape      string          `json:"shape"`
		Match      string          `json:"match"`
		Event      json.RawMessage `json:"event"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "env-1", decoded.EnvelopeID)
	assert.Equal(t, "request.friend", decoded.Name)
	assert.Equal(t, "FriendRequestEvent", decoded.Shape)
	assert.Equal(t, "exact", decoded.Match)
	assert.JSONEq(t, payload, string(decoded.Event))

	_, err = pipeline.MarshalResult("", nil)
	assert.Error(t, err)
}
