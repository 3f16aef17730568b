package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/annelo/go-world-server/internal/events"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "world.main.chunk.evicted", events.Subject("main", events.KindEvicted))
}

func TestRecorder_Count(t *testing.T) {
	var r events.Recorder
	r.Publish(events.Event{Kind: events.KindLoaded})
	r.Publish(events.Event{Kind: events.KindSaved})
	r.Publish(events.Event{Kind: events.KindLoaded})

	assert.Equal(t, 2, r.Count(events.KindLoaded))
	assert.Len(t, r.Events(), 3)
}

func TestNATSPublisher_DeliversJSON(t *testing.T) {
	srv, err := events.StartEmbedded("127.0.0.1", -1, 5*time.Second)
	require.NoError(t, err)
	defer srv.Shutdown()

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("world.test.chunk.>", received)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := events.ConnectNATS(srv.ClientURL(), "test", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer pub.Close()

	pub.Publish(events.Event{Kind: events.KindGenerated, X: 5, Z: -7})

	select {
	case msg := <-received:
		assert.Equal(t, "world.test.chunk.generated", msg.Subject)
		var ev events.Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, "test", ev.World)
		assert.Equal(t, int32(-7), ev.Z)
		assert.False(t, ev.At.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("событие не доставлено")
	}
}
