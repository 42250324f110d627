package dedup_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqhawk/cqevent/internal/dedup"
	"github.com/cqhawk/cqevent/pkg/classifier"
	"github.com/cqhawk/cqevent/pkg/event"
	"github.com/cqhawk/cqevent/pkg/shape"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func classify(t *testing.T, payload string) *event.Event {
	t.Helper()
	reg, err := shape.NewRegistry(shape.DefaultCatalog())
	require.NoError(t, err)
	raw, err := event.ParseRaw([]byte(payload))
	require.NoError(t, err)
	ev, err := classifier.New(reg).Classify(raw)
	require.NoError(t, err)
	return ev
}

const privateMessage = `{"time":1,"self_id":10001,"post_type":"message","message_type":"private","sub_type":"friend","message_id":55,"user_id":2,"message":"hi","raw_message":"hi","font":0,"sender":{}}`

func TestRedisDeduplicator_Seen(t *testing.T) {
	mr, client := setupTestRedis(t)
	d := dedup.NewRedisDeduplicator(client, time.Minute)
	ctx := context.Background()
	ev := classify(t, privateMessage)

	seen, err := d.Seen(ctx, ev)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, ev)
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(2 * time.Minute)
	seen, err = d.Seen(ctx, ev)
	require.NoError(t, err)
	assert.False(t, seen, "key expires after the ttl")
}

func TestRedisDeduplicator_Forget(t *testing.T) {
	mr, client := setupTestRedis(t)
	d := dedup.NewRedisDeduplicator(client, time.Minute)
	ctx := context.Background()
	ev := classify(t, privateMessage)

	_, err := d.Seen(ctx, ev)
	require.NoError(t, err)
	key, err := dedup.Key(ev)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	require.NoError(t, d.Forget(ctx, ev))
	assert.False(t, mr.Exists(key))

	seen, err := d.Seen(ctx, ev)
	require.NoError(t, err)
	assert.False(t, seen, "a released event is processed again")

	mr.Close()
	assert.Error(t, d.Forget(ctx, ev))
}

func TestRedisDeduplicator_DistinctBots(t *testing.T) {
	_, client := setupTestRedis(t)
	d := dedup.NewRedisDeduplicator(client, time.Minute)
	ctx := context.Background()

	first := classify(t, privateMessage)
	second := classify(t, privateMessage)
	second.Raw().Set("self_id", 10002)

	seen, err := d.Seen(ctx, first)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, second)
	require.NoError(t, err)
	assert.False(t, seen, "same message id on another bot is a different event")
}

func TestRedisDeduplicator_ServerDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	d := dedup.NewRedisDeduplicator(client, time.Minute)
	mr.Close()

	_, err := d.Seen(context.Background(), classify(t, privateMessage))
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	withID, err := dedup.Key(classify(t, privateMessage))
	require.NoError(t, err)
	assert.Equal(t, "cqevent:dedup:10001:message:55", withID)

	heartbeat := `{"time":1,"self_id":10001,"post_type":"meta_event","meta_event_type":"heartbeat","status":{},"interval":5000}`
	a, err := dedup.Key(classify(t, heartbeat))
	require.NoError(t, err)
	b, err := dedup.Key(classify(t, heartbeat))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "cqevent:dedup:h:10001:")

	later := classify(t, heartbeat)
	later.Raw().Set("time", 2)
	c, err := dedup.Key(later)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	d, err := dedup.Connect(context.Background(), "redis://"+mr.Addr()+"/0", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, d.Close())

	_, err = dedup.Connect(context.Background(), "not a url", time.Minute)
	assert.Error(t, err)
}

func TestNoOp(t *testing.T) {
	var d dedup.Deduplicator = dedup.NoOp{}
	seen, err := d.Seen(context.Background(), nil)
	assert.NoError(t, d.Forget(context.Background(), nil))
	assert.NoError(t, err)
	assert.False(t, seen)
	assert.NoError(t, d.Close())
}
