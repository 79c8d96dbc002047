package broker

import (
	"encoding/json"
	"errors"
	"evsim/emulator"
	"evsim/internal"
	"evsim/ocpp"
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = internal.NewLogger(time.UTC)

type warnings struct {
	internal.LogHandler
	mutex sync.Mutex
	lines []string
}

func (w *warnings) Warn(text string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.lines = append(w.lines, text)
}

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }

func (t *doneToken) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records publications instead of talking to a broker.
type fakeClient struct {
	mutex      sync.Mutex
	messages   []published
	connected  bool
	publishErr error
}

func (c *fakeClient) IsConnected() bool      { return c.connected }
func (c *fakeClient) IsConnectionOpen() bool { return c.connected }
func (c *fakeClient) Disconnect(uint)        { c.connected = false }

func (c *fakeClient) Connect() mqtt.Token {
	c.connected = true
	return &doneToken{}
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}
	c.messages = append(c.messages, published{topic: topic, retained: retained, payload: data})
	return &doneToken{err: c.publishErr}
}

func (c *fakeClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token { return &doneToken{} }
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &doneToken{}
}
func (c *fakeClient) Unsubscribe(...string) mqtt.Token        { return &doneToken{} }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) last() published {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.messages[len(c.messages)-1]
}

func TestMqttPublisherState(t *testing.T) {
	client := &fakeClient{}
	publisher := newMqttPublisher(client, "evsim", testLogger)

	require.NoError(t, publisher.Connect(time.Second))
	assert.Equal(t, published{topic: "evsim/bridge/state", retained: true, payload: []byte("online")}, client.last())

	publisher.OnMeterValues(&internal.EventMessage{
		Type:          internal.EventMeterValues,
		ChargePointId: "CP-1",
		ConnectorId:   2,
		TransactionId: 100,
		Status:        "Charging",
	})
	message := client.last()
	assert.Equal(t, "evsim/CP-1/2/state", message.topic)
	assert.True(t, message.retained)
	var event internal.EventMessage
	require.NoError(t, json.Unmarshal(message.payload, &event))
	assert.Equal(t, 100, event.TransactionId)
	assert.Equal(t, "Charging", event.Status)

	publisher.Close()
	assert.Equal(t, "offline", string(client.last().payload))
	assert.False(t, client.IsConnected())
}

func TestNatsSubjects(t *testing.T) {
	feed := newNatsFeed(nil, "evsim", 0, testLogger)
	assert.Equal(t, "evsim.CP-1.frames", feed.FramesSubject("CP-1"))
	assert.Equal(t, "evsim.command", feed.CommandSubject())
	assert.Equal(t, 30*time.Second, feed.timeout)
}

func TestCloseReportsFailures(t *testing.T) {
	logger := &warnings{LogHandler: testLogger}

	client := &fakeClient{connected: true, publishErr: errors.New("broker gone")}
	newMqttPublisher(client, "evsim", logger).Close()
	require.Len(t, logger.lines, 1)
	assert.Contains(t, logger.lines[0], "broker gone")
	assert.False(t, client.IsConnected())

	feed := newNatsFeed(nil, "evsim", 0, logger)
	feed.subscription = &nats.Subscription{}
	feed.Close()
	require.Len(t, logger.lines, 2)
	assert.Contains(t, logger.lines[1], "unsubscribe evsim.command")
}

func TestNewResponse(t *testing.T) {
	response := NewResponse(nil, fmt.Errorf("send: %w", ocpp.ErrNotConnected))
	require.NotNil(t, response.Error)
	assert.Equal(t, "not_connected", response.Error.Code)

	response = NewResponse(nil, ocpp.NewError(ocpp.NotSupported, "no"))
	assert.Equal(t, "NotSupported", response.Error.Code)

	response = NewResponse(emulator.Snapshot{Id: "CP-1"}, nil)
	assert.Nil(t, response.Error)
	data, err := json.Marshal(response)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"result":{"id":"CP-1"`)
}
