package dlq_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqhawk/cqevent/internal/dlq"
	"github.com/cqhawk/cqevent/internal/model"
	"github.com/cqhawk/cqevent/pkg/classifier"
)

func TestFileQueue_DeleteMatchesExactID(t *testing.T) {
	q, err := dlq.NewFileQueue(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"abc", "x_abc", "abc_1"} {
		env := model.NewEnvelope("test", []byte(`{}`))
		env.ID = id
		require.NoError(t, q.Write(ctx, env, errors.New("decode payload"), "decode"))
	}

	for _, pattern := range []string{"*", "?bc", "[a]bc", ""} {
		assert.Error(t, q.Delete(ctx, pattern), "pattern %q", pattern)
	}
	events, err := q.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	require.NoError(t, q.Delete(ctx, "abc"))
	events, err = q.List(ctx, 0)
	require.NoError(t, err)
	var ids []string
	for _, e := range events {
		ids = append(ids, e.Envelope.ID)
	}
	assert.ElementsMatch(t, []string{"x_abc", "abc_1"}, ids)
}

func TestNewFailedEvent(t *testing.T) {
	env := model.NewEnvelope("test", []byte(`{}`))

	verr := &classifier.ValidationError{Kind: classifier.KindMissingField, Field: "self_id", Shape: "FriendAddNoticeEvent"}
	failed := dlq.NewFailedEvent(env, verr, "missing_field")
	assert.Equal(t, "self_id", failed.Field)
	assert.Equal(t, "FriendAddNoticeEvent", failed.Shape)
	assert.Equal(t, verr.Error(), failed.Error)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, env, failed.Envelope)
	assert.Equal(t, failed.Timestamp, failed.LastAttempt)

	plain := dlq.NewFailedEvent(env, errors.New("decode payload"), "decode")
	assert.Empty(t, plain.Field)
	assert.Empty(t, plain.Shape)

	none := dlq.NewFailedEvent(env, nil, "internal")
	assert.Empty(t, none.Error)
}

func TestFileQueue_WriteListDelete(t *testing.T) {
	q, err := dlq.NewFileQueue(filepath.Join(t.TempDir(), "dlq"), nil)
	require.NoError(t, err)
	ctx := context.Background()

	first := model.NewEnvelope("test", []byte(`{"post_type":1}`))
	second := model.NewEnvelope("test", []byte(`nope`))
	require.NoError(t, q.Write(ctx, first, &classifier.ValidationError{Kind: classifier.KindTypeMismatch, Field: "post_type", Shape: "UnknownEvent"}, "type_mismatch"))
	require.NoError(t, q.Write(ctx, second, errors.New("decode payload"), "decode"))

	events, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, first.ID, events[0].Envelope.ID)
	assert.Equal(t, "post_type", events[0].Field)
	assert.Equal(t, []byte(`nope`), events[1].Envelope.Payload)

	limited, err := q.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats := q.Stats(ctx)
	assert.Equal(t, true, stats["enabled"])
	assert.Equal(t, 2, stats["pending_files"])
	assert.Equal(t, uint64(2), stats["written"])

	require.NoError(t, q.Delete(ctx, first.ID))
	assert.Error(t, q.Delete(ctx, first.ID))

	events, err = q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, second.ID, events[0].Envelope.ID)
}

func TestFileQueue_SkipsForeignAndCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	q, err := dlq.NewFileQueue(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failed_1_bad.json"), []byte("{"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "failed_sub.json"), 0o755))
	require.NoError(t, q.Write(ctx, model.NewEnvelope("test", nil), errors.New("x"), "internal"))

	events, err := q.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	require.NoError(t, q.Purge(ctx))
	events, err = q.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = os.Stat(filepath.Join(dir, "README.txt"))
	assert.NoError(t, err, "purge only touches queue files")
}

func TestFileQueue_NilEnvelope(t *testing.T) {
	q, err := dlq.NewFileQueue(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, q.Write(context.Background(), nil, errors.New("x"), "internal"))
	events, err := q.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Envelope)
}

func TestFileQueue_Disabled(t *testing.T) {
	var q *dlq.FileQueue
	ctx := context.Background()

	assert.NoError(t, q.Write(ctx, nil, errors.New("x"), "internal"))
	_, err := q.List(ctx, 0)
	assert.ErrorIs(t, err, dlq.ErrDisabled)
	assert.ErrorIs(t, q.Purge(ctx), dlq.ErrDisabled)
	assert.ErrorIs(t, q.Delete(ctx, "id"), dlq.ErrDisabled)
	assert.Equal(t, false, q.Stats(ctx)["enabled"])
}

func TestNewFileQueue_RequiresPath(t *testing.T) {
	_, err := dlq.NewFileQueue("", nil)
	assert.Error(t, err)
}

func TestJetStreamQueue_Disabled(t *testing.T) {
	var q *dlq.JetStreamQueue
	ctx := context.Background()

	assert.NoError(t, q.Write(ctx, nil, errors.New("x"), "internal"))
	_, err := q.List(ctx, 10)
	assert.ErrorIs(t, err, dlq.ErrDisabled)
	assert.ErrorIs(t, q.Purge(ctx), dlq.ErrDisabled)
	assert.Equal(t, "jetstream", q.Stats(ctx)["backend"])

	_, err = dlq.NewJetStreamQueue(ctx, nil, nil)
	assert.Error(t, err)
}

var (
	_ dlq.Queue = (*dlq.FileQueue)(nil)
	_ dlq.Queue = (*dlq.JetStreamQueue)(nil)
)
