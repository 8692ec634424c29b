package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micro-ha/follower-watch/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHubBroadcastsAlerts(t *testing.T) {
	hub := NewHub(discardLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	alert := model.Alert{ID: 3, DeviceID: "ble_1", Score: 88, Level: model.ThreatLevelHigh}
	require.NoError(t, hub.Notify(context.Background(), alert))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, "alert", event.Type)
	assert.Equal(t, int64(3), event.Alert.ID)
	assert.Equal(t, model.ThreatLevelHigh, event.Alert.Level)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

type fakeToken struct {
	err      error
	timedOut bool
}

func (t fakeToken) Wait() bool { return !t.timedOut }

func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }

func (t fakeToken) Error() error { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	token    fakeToken
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	return p.token
}

func TestMQTTNotifierPublishesPerDeviceTopic(t *testing.T) {
	pub := &fakePublisher{}
	n := NewMQTTNotifier(pub, "follower/alerts/{device_id}", discardLogger())

	require.NoError(t, n.Notify(context.Background(), model.Alert{ID: 1, DeviceID: "ble_9", TrackerKind: model.TrackerTile}))
	require.Equal(t, []string{"follower/alerts/ble_9"}, pub.topics)

	var got model.Alert
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, model.TrackerTile, got.TrackerKind)
}

func TestMQTTNotifierReportsFailures(t *testing.T) {
	pub := &fakePublisher{token: fakeToken{err: errors.New("not connected")}}
	n := NewMQTTNotifier(pub, "alerts", discardLogger())
	err := n.Notify(context.Background(), model.Alert{DeviceID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	pub.token = fakeToken{timedOut: true}
	err = n.Notify(context.Background(), model.Alert{DeviceID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

type notifierFunc func(context.Context, model.Alert) error

func (f notifierFunc) Notify(ctx context.Context, a model.Alert) error { return f(ctx, a) }

func TestFanoutDeliversToAllAndJoinsErrors(t *testing.T) {
	calls := 0
	ok := notifierFunc(func(context.Context, model.Alert) error { calls++; return nil })
	bad := notifierFunc(func(context.Context, model.Alert) error { calls++; return errors.New("down") })

	err := Fanout{bad, nil, ok}.Notify(context.Background(), model.Alert{})
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	assert.NoError(t, Fanout{ok}.Notify(context.Background(), model.Alert{}))
}
