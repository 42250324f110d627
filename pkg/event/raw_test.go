package event_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqhawk/cqevent/pkg/event"
	"github.com/cqhawk/cqevent/pkg/message"
)

func TestParseRaw_PreservesOrder(t *testing.T) {
	payload := `{"time":1700000000,"self_id":10001,"post_type":"notice","zeta":true,"notice_type":"notify","alpha":{"x":1},"sub_type":"poke"}`

	raw, err := event.ParseRaw([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, []string{"time", "self_id", "post_type", "zeta", "notice_type", "alpha", "sub_type"}, raw.Keys())
	assert.Equal(t, 7, raw.Len())

	out, err := json.Marshal(raw)
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))
}

func TestParseRaw_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `post_type=message`},
		{name: "array", payload: `[{"post_type":"message"}]`},
		{name: "truncated", payload: `{"post_type":"message"`},
		{name: "trailing data", payload: `{"post_type":"message"} {}`},
		{name: "empty", payload: ``},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := event.ParseRaw([]byte(tc.payload))
			assert.Error(t, err)
		})
	}
}

func TestParseRaw_NotAnObject(t *testing.T) {
	for _, payload := range []string{`null`, `[]`, `5`, `"post_type"`, ` true`} {
		t.Run(payload, func(t *testing.T) {
			_, err := event.ParseRaw([]byte(payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, event.ErrNotObject)
			assert.Contains(t, err.Error(), "payload is not a JSON object")
		})
	}
}

func TestParseRaw_NumbersKeepPrecision(t *testing.T) {
	raw, err := event.ParseRaw([]byte(`{"message_id":9007199254740993,"ratio":0.5,"nested":{"n":12}}`))
	require.NoError(t, err)

	v, _ := raw.Get("message_id")
	assert.Equal(t, json.Number("9007199254740993"), v)
	v, _ = raw.Get("ratio")
	assert.Equal(t, json.Number("0.5"), v)
	v, _ = raw.Get("nested")
	assert.Equal(t, map[string]any{"n": json.Number("12")}, v)
}

func TestRawEvent_MessageCoercion(t *testing.T) {
	testCases := []struct {
		name     string
		value    any
		expected any
	}{
		{
			name:     "bare string",
			value:    "hello",
			expected: message.New("hello"),
		},
		{
			name: "segment list",
			value: []any{
				map[string]any{"type": "text", "data": map[string]any{"text": "a"}},
				map[string]any{"type": "face", "data": map[string]any{"id": "14"}},
			},
			expected: message.Message{
				message.Text("a"),
				{Type: "face", Data: map[string]any{"id": "14"}},
			},
		},
		{
			name:     "null",
			value:    nil,
			expected: message.Message{},
		},
		{
			name:     "unconvertible value is stored verbatim",
			value:    42,
			expected: 42,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw := event.NewRawEvent()
			raw.Set(event.KeyMessage, tc.value)

			got, ok := raw.Get(event.KeyMessage)
			require.True(t, ok)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestParseRaw_CoercesMessage(t *testing.T) {
	raw, err := event.ParseRaw([]byte(`{"post_type":"message","message":"hi [CQ:face,id=1]"}`))
	require.NoError(t, err)

	got, _ := raw.Get(event.KeyMessage)
	assert.IsType(t, message.Message{}, got)
	assert.Equal(t, "hi [CQ:face,id=1]", got.(message.Message).ExtractPlainText())
}

func TestRawEvent_Mutation(t *testing.T) {
	raw := event.NewRawEvent()
	raw.Set("a", 1)
	raw.Set("b", 2)
	raw.Set("c", nil)

	assert.True(t, raw.Contains("c"), "explicit null counts as present")
	assert.False(t, raw.Contains("d"))

	raw.Set("a", 10)
	assert.Equal(t, []string{"a", "b", "c"}, raw.Keys(), "overwriting keeps position")

	assert.True(t, raw.Delete("b"))
	assert.False(t, raw.Delete("b"))
	assert.Equal(t, []string{"a", "c"}, raw.Keys())

	v, ok := raw.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)

	assert.Equal(t, map[string]any{"a": 10, "c": nil}, raw.ToMap())
}

func TestRawEvent_Clone(t *testing.T) {
	raw := event.NewRawEvent()
	raw.Set("post_type", "message")
	raw.Set(event.KeyMessage, "hi")

	clone := raw.Clone()
	clone.Set("post_type", "notice")
	clone.Delete(event.KeyMessage)

	v, _ := raw.Get("post_type")
	assert.Equal(t, "message", v)
	assert.True(t, raw.Contains(event.KeyMessage))
	assert.Equal(t, []string{"post_type"}, clone.Keys())
}

func TestRawFromMap_SortsKeys(t *testing.T) {
	raw := event.RawFromMap(map[string]any{
		"self_id":   1,
		"post_type": "message",
		"message":   "x",
		"time":      2,
	})

	assert.Equal(t, []string{"message", "post_type", "self_id", "time"}, raw.Keys())
	v, _ := raw.Get(event.KeyMessage)
	assert.Equal(t, message.New("x"), v)
}

func TestRawEvent_UnmarshalReplacesContent(t *testing.T) {
	raw := event.NewRawEvent()
	raw.Set("stale", true)

	require.NoError(t, json.Unmarshal([]byte(`{"post_type":"request"}`), raw))
	assert.Equal(t, []string{"post_type"}, raw.Keys())
}
