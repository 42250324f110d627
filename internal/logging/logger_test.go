package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_Formats(t *testing.T) {
	tests := []struct {
		name   string
		format string
		isJSON bool
	}{
		{name: "json", format: "json", isJSON: true},
		{name: "text", format: "text", isJSON: false},
		{name: "default is json", format: "", isJSON: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, slog.LevelInfo, tt.format)
			logger.Info("classified", EventName("message.private.friend"))

			var entry map[string]any
			err := json.Unmarshal(buf.Bytes(), &entry)
			if tt.isJSON {
				require.NoError(t, err)
				assert.Equal(t, "message.private.friend", entry[FieldEventName])
			} else {
				assert.Error(t, err)
				assert.Contains(t, buf.String(), "event_name=message.private.friend")
			}
		})
	}
}

func TestWithContext_EnvelopeID(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	ctx := ContextWithEnvelopeID(context.Background(), "env-123")
	logger.InfoContext(ctx, "processing")
	assert.Contains(t, buf.String(), `"envelope_id":"env-123"`)

	buf.Reset()
	logger.InfoContext(context.Background(), "processing")
	assert.NotContains(t, buf.String(), "envelope_id")
}

func TestEnvelopeIDFromContext(t *testing.T) {
	assert.Equal(t, "", EnvelopeIDFromContext(context.Background()))
	assert.Equal(t, "abc", EnvelopeIDFromContext(ContextWithEnvelopeID(context.Background(), "abc")))
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelWarn, "json")

	logger.DebugContext(context.Background(), "hidden debug")
	logger.InfoContext(context.Background(), "hidden info")
	logger.WarnContext(context.Background(), "shown warn")
	logger.ErrorContext(context.Background(), "shown error")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown warn")
	assert.Contains(t, out, "shown error")
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json").With(Component("processor"))

	logger.Info("started")
	assert.Contains(t, buf.String(), `"component":"processor"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{input: "debug", expected: slog.LevelDebug},
		{input: "DEBUG", expected: slog.LevelDebug},
		{input: "info", expected: slog.LevelInfo},
		{input: "warn", expected: slog.LevelWarn},
		{input: "warning", expected: slog.LevelWarn},
		{input: "error", expected: slog.LevelError},
		{input: "bogus", expected: slog.LevelInfo},
		{input: "", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	logger := New(slog.LevelInfo, "json")
	SetDefault(logger)
	assert.Same(t, logger.Logger, slog.Default())
}

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		attr  slog.Attr
		key   string
		value string
	}{
		{attr: Service("cqevent"), key: FieldService, value: "cqevent"},
		{attr: Component("dlq"), key: FieldComponent, value: "dlq"},
		{attr: EnvelopeID("e1"), key: FieldEnvelopeID, value: "e1"},
		{attr: EventName("notice.notify.poke"), key: FieldEventName, value: "notice.notify.poke"},
		{attr: Shape("PokeNotifyEvent"), key: FieldShape, value: "PokeNotifyEvent"},
		{attr: Match("partial"), key: FieldMatch, value: "partial"},
		{attr: PostType("notice"), key: FieldPostType, value: "notice"},
		{attr: Subject("cqhttp.raw.bot1"), key: FieldSubject, value: "cqhttp.raw.bot1"},
		{attr: Error(errors.New("boom")), key: FieldError, value: "boom"},
		{attr: Error(nil), key: FieldError, value: "<nil>"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.value, tt.attr.Value.String())
		})
	}

	assert.Equal(t, int64(12), Duration(12).Value.Int64())
}
