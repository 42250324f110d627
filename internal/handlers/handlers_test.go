package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqhawk/cqevent/internal/dedup"
	"github.com/cqhawk/cqevent/internal/dlq"
	"github.com/cqhawk/cqevent/internal/handlers"
	"github.com/cqhawk/cqevent/internal/messaging"
	"github.com/cqhawk/cqevent/internal/pipeline"
	"github.com/cqhawk/cqevent/internal/service"
	"github.com/cqhawk/cqevent/pkg/classifier"
	"github.com/cqhawk/cqevent/pkg/shape"
)

type fakeBroker struct {
	messaging.Client
	connected  bool
	publishErr error
	subjects   []string
}

func (f *fakeBroker) IsConnected() bool { return f.connected }

func (f *fakeBroker) Request(context.Context, string, []byte, time.Duration) (*messaging.Message, error) {
	return nil, errors.New("no responders")
}

func (f *fakeBroker) Publish(_ context.Context, subject string, _ []byte, _ ...messaging.PublishOption) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.subjects = append(f.subjects, subject)
	return nil
}

type setup struct {
	handler *handlers.Handler
	queue   *dlq.FileQueue
	broker  *fakeBroker
}

func newSetup(t *testing.T, opts service.Options) setup {
	t.Helper()
	reg, err := shape.NewRegistry(shape.DefaultCatalog())
	require.NoError(t, err)

	queue, err := dlq.NewFileQueue(filepath.Join(t.TempDir(), "dlq"), nil)
	require.NoError(t, err)

	broker, _ := opts.Publisher.(*fakeBroker)
	if broker == nil {
		broker = &fakeBroker{connected: true}
		opts.Publisher = broker
	}
	opts.DLQ = queue

	proc := service.NewProcessor(pipeline.New(classifier.New(reg), nil), opts)
	t.Cleanup(proc.Stop)

	return setup{handler: handlers.New(proc, reg, queue, broker), queue: queue, broker: broker}
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	req.Header.Set("X-Self-ID", "10001")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

const groupMessage = `{"time":1700000000,"self_id":10001,"post_type":"message","message_type":"group","sub_type":"normal","message_id":1,"group_id":2,"user_id":3,"anonymous":null,"message":"hello","raw_message":"hello","font":0,"sender":{"nickname":"bob"}}`

func TestEvent_Success(t *testing.T) {
	s := newSetup(t, service.Options{})

	rec := post(s.handler.Event, groupMessage)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		EnvelopeID string          `json:"envelope_id"`
		Name       string          `json:"name"`
		Shape      string          `json:"shape"`
		Match      string          `json:"match"`
		Event      json.RawMessage `json:"event"`
		Duplicate  bool            `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.EnvelopeID)
	assert.Equal(t, "message.group.normal", resp.Name)
	assert.Equal(t, "GroupMessageEvent", resp.Shape)
	assert.Equal(t, "exact", resp.Match)
	assert.False(t, resp.Duplicate)
	assert.Contains(t, string(resp.Event), `"message":[{"type":"text","data":{"text":"hello"}}]`)

	assert.Equal(t, []string{"cqhttp.events.message.group.normal"}, s.broker.subjects)
}

func TestEvent_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "not json", body: `hello`, status: http.StatusBadRequest, code: "invalid_payload"},
		{name: "missing post_type", body: `{"time":1}`, status: http.StatusUnprocessableEntity, code: "missing_field"},
		{name: "user id not a number", body: `{"time":1,"self_id":1,"post_type":"notice","notice_type":"notify","sub_type":"poke","group_id":1,"user_id":"x","target_id":1}`, status: http.StatusUnprocessableEntity, code: "type_mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSetup(t, service.Options{})

			rec := post(s.handler.Event, tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var body struct {
				Code string `json:"code"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)

			events, err := s.queue.List(context.Background(), 0)
			require.NoError(t, err)
			assert.Len(t, events, 1)
		})
	}
}

func TestEvent_ValidationDetail(t *testing.T) {
	s := newSetup(t, service.Options{})

	rec := post(s.handler.Event, `{"time":1,"self_id":1,"post_type":"notice","notice_type":"group_upload","group_id":1,"user_id":2,"file":{"id":"a","name":"b","size":"big","busid":1}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Validation classifier.ValidationError `json:"validation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "file.size", body.Validation.Field)
	assert.Equal(t, "GroupUploadEvent", body.Validation.Shape)
}

func TestEvent_PublishFailure(t *testing.T) {
	s := newSetup(t, service.Options{Publisher: &fakeBroker{connected: true, publishErr: errors.New("down")}})

	rec := post(s.handler.Event, groupMessage)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestEvent_Duplicate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := newSetup(t, service.Options{Dedup: dedup.NewRedisDeduplicator(client, time.Minute)})

	require.Equal(t, http.StatusOK, post(s.handler.Event, groupMessage).Code)
	rec := post(s.handler.Event, groupMessage)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicate":true`)
	assert.Len(t, s.broker.subjects, 1)
}

func TestEvent_MethodNotAllowed(t *testing.T) {
	s := newSetup(t, service.Options{})

	rec := httptest.NewRecorder()
	s.handler.Event(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))
}

func TestEvent_TooLarge(t *testing.T) {
	s := newSetup(t, service.Options{})

	rec := post(s.handler.Event, `{"x":"`+strings.Repeat("a", 1<<20)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newSetup(t, service.Options{})
	post(s.handler.Event, groupMessage)

	rec := httptest.NewRecorder()
	s.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, uint64(1), resp.Processor.Processed)
	require.NotNil(t, resp.Broker)
	assert.True(t, resp.Broker.Connected)
	assert.Equal(t, "file", resp.DLQ["backend"])

	s.broker.connected = false
	rec = httptest.NewRecorder()
	s.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	s.handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCatalog(t *testing.T) {
	s := newSetup(t, service.Options{})

	rec := httptest.NewRecorder()
	s.handler.Catalog(rec, httptest.NewRequest(http.MethodGet, "/api/v1/catalog?post_type=request", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Version string `json:"version"`
		Shapes  []struct {
			Name  string `json:"name"`
			Level string `json:"level"`
		} `json:"shapes"`
		Records []struct {
			Name string `json:"name"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "11", resp.Version)

	var names []string
	for _, sh := range resp.Shapes {
		names = append(names, sh.Name)
	}
	assert.ElementsMatch(t, []string{"RequestEvent", "FriendRequestEvent", "GroupRequestEvent"}, names)
	assert.Len(t, resp.Records, 4)
}

func TestDLQ(t *testing.T) {
	s := newSetup(t, service.Options{})
	post(s.handler.Event, `{"post_type":7}`)
	post(s.handler.Event, `{"post_type":8}`)

	rec := httptest.NewRecorder()
	s.handler.DLQ(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dlq?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []dlq.FailedEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "type_mismatch", resp.Events[0].Reason)
	assert.Equal(t, "post_type", resp.Events[0].Field)
	assert.Equal(t, "10001", resp.Events[0].Envelope.Attribute("self_id"))

	rec = httptest.NewRecorder()
	s.handler.DLQ(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dlq?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.handler.DLQ(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/dlq", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	s.handler.DLQ(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dlq", nil))
	assert.JSONEq(t, `{"events":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.handler.DLQ(rec, httptest.NewRequest(http.MethodPut, "/api/v1/dlq", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
