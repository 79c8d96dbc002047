package emulator

import (
	"encoding/json"
	"evsim/ocpp"
	"evsim/ocpp/core"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// callHandler answers a CALL from a charge point; a nil message leaves the call unanswered.
type callHandler func(call *ocpp.Call) ocpp.Message

// fakeCsms is a central system that answers every charge point call and records what it receives.
type fakeCsms struct {
	t             *testing.T
	server        *httptest.Server
	upgrader      websocket.Upgrader
	mutex         sync.Mutex
	connections   map[string]*csmsConnection
	handlers      map[string]callHandler
	transactionId atomic.Int64
}

func newFakeCsms(t *testing.T) *fakeCsms {
	csms := &fakeCsms{
		t: t,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{"ocpp1.6"},
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
		connections: make(map[string]*csmsConnection),
		handlers:    make(map[string]callHandler),
	}
	csms.transactionId.Store(99)

	router := httprouter.New()
	router.GET("/ws/:id", csms.handleWsRequest)
	csms.server = httptest.NewServer(router)
	t.Cleanup(csms.server.Close)
	return csms
}

func (s *fakeCsms) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
}

func (s *fakeCsms) onCall(action string, handler callHandler) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.handlers[action] = handler
}

func (s *fakeCsms) handleWsRequest(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Logf("upgrade failed: %s", err)
		return
	}
	c := &csmsConnection{id: params.ByName("id"), conn: conn, csms: s}
	s.mutex.Lock()
	s.connections[c.id] = c
	s.mutex.Unlock()
	go c.read()
}

// connection waits for the charge point to connect.
func (s *fakeCsms) connection(t *testing.T, id string) *csmsConnection {
	var c *csmsConnection
	require.Eventually(t, func() bool {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		c = s.connections[id]
		return c != nil
	}, waitTimeout, 10*time.Millisecond, "charge point %s did not connect", id)
	return c
}

// reconnection waits for a connection of the charge point other than previous.
func (s *fakeCsms) reconnection(t *testing.T, id string, previous *csmsConnection) *csmsConnection {
	var c *csmsConnection
	require.Eventually(t, func() bool {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		c = s.connections[id]
		return c != nil && c != previous
	}, waitTimeout, 10*time.Millisecond, "charge point %s did not reconnect", id)
	return c
}

func (s *fakeCsms) reply(call *ocpp.Call) ocpp.Message {
	s.mutex.Lock()
	handler, ok := s.handlers[call.Action]
	s.mutex.Unlock()
	if ok {
		return handler(call)
	}

	var payload interface{}
	switch call.Action {
	case core.BootNotificationFeatureName:
		payload = map[string]interface{}{"currentTime": time.Now().UTC().Format(time.RFC3339), "interval": 300, "status": "Accepted"}
	case core.AuthorizeFeatureName, core.StopTransactionFeatureName:
		payload = map[string]interface{}{"idTagInfo": map[string]string{"status": "Accepted"}}
	case core.StartTransactionFeatureName:
		payload = map[string]interface{}{
			"idTagInfo":     map[string]string{"status": "Accepted"},
			"transactionId": s.transactionId.Add(1),
		}
	default:
		payload = map[string]interface{}{}
	}
	return result(call, payload)
}

func result(call *ocpp.Call, payload interface{}) ocpp.Message {
	data, _ := json.Marshal(payload)
	return &ocpp.CallResult{UniqueId: call.UniqueId, Payload: data}
}

type csmsConnection struct {
	id         string
	conn       *websocket.Conn
	csms       *fakeCsms
	writeMutex sync.Mutex
	mutex      sync.Mutex
	received   []ocpp.Message
	closed     bool
	sequence   int
}

func (c *csmsConnection) read() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mutex.Lock()
			c.closed = true
			c.mutex.Unlock()
			return
		}
		message, err := ocpp.Decode(data)
		if err != nil {
			c.csms.t.Logf("csms: undecodable frame %s: %s", data, err)
			continue
		}
		c.mutex.Lock()
		c.received = append(c.received, message)
		c.mutex.Unlock()

		if call, ok := message.(*ocpp.Call); ok {
			if reply := c.csms.reply(call); reply != nil {
				_ = c.write(reply)
			}
		}
	}
}

func (c *csmsConnection) write(message ocpp.Message) error {
	data, err := ocpp.Encode(message)
	if err != nil {
		return err
	}
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *csmsConnection) writeRaw(data string) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(data))
}

func (c *csmsConnection) isClosed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

func (c *csmsConnection) messages() []ocpp.Message {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	messages := make([]ocpp.Message, len(c.received))
	copy(messages, c.received)
	return messages
}

// calls returns the received calls of an action, in arrival order.
func (c *csmsConnection) calls(action string) []*ocpp.Call {
	calls := make([]*ocpp.Call, 0)
	for _, message := range c.messages() {
		if call, ok := message.(*ocpp.Call); ok && call.Action == action {
			calls = append(calls, call)
		}
	}
	return calls
}

// waitCalls waits until count calls of the action have arrived.
func (c *csmsConnection) waitCalls(t *testing.T, action string, count int) []*ocpp.Call {
	var calls []*ocpp.Call
	require.Eventually(t, func() bool {
		calls = c.calls(action)
		return len(calls) >= count
	}, waitTimeout, 10*time.Millisecond, "expected %d %s calls", count, action)
	return calls
}

func (c *csmsConnection) waitCall(t *testing.T, action string) *ocpp.Call {
	return c.waitCalls(t, action, 1)[0]
}

// waitMatch waits for a call of the action, arriving after position after, whose payload
// satisfies match.
func (c *csmsConnection) waitMatch(t *testing.T, action string, after int, match func(payload map[string]interface{}) bool) *ocpp.Call {
	var found *ocpp.Call
	require.Eventually(t, func() bool {
		for i, message := range c.messages() {
			call, ok := message.(*ocpp.Call)
			if !ok || i <= after || call.Action != action {
				continue
			}
			var payload map[string]interface{}
			if json.Unmarshal(call.Payload, &payload) == nil && match(payload) {
				found = call
				return true
			}
		}
		return false
	}, waitTimeout, 10*time.Millisecond, "no matching %s call", action)
	return found
}

// statusIs matches a StatusNotification of the connector.
func statusIs(connectorId int, status string) func(payload map[string]interface{}) bool {
	return func(payload map[string]interface{}) bool {
		return payload["connectorId"] == float64(connectorId) && payload["status"] == status
	}
}

// index is the arrival position of the message with the unique id, -1 when absent.
func (c *csmsConnection) index(uniqueId string) int {
	for i, message := range c.messages() {
		if message.GetUniqueId() == uniqueId {
			return i
		}
	}
	return -1
}

// request sends a CALL to the charge point and waits for its answer.
func (c *csmsConnection) request(t *testing.T, action string, payload string) ocpp.Message {
	c.mutex.Lock()
	c.sequence++
	uniqueId := fmt.Sprintf("csms-%d", c.sequence)
	c.mutex.Unlock()

	require.NoError(t, c.write(&ocpp.Call{UniqueId: uniqueId, Action: action, Payload: json.RawMessage(payload)}))
	var answer ocpp.Message
	require.Eventually(t, func() bool {
		for _, message := range c.messages() {
			if _, isCall := message.(*ocpp.Call); !isCall && message.GetUniqueId() == uniqueId {
				answer = message
				return true
			}
		}
		return false
	}, waitTimeout, 10*time.Millisecond, "no answer to %s", action)
	return answer
}

// requestResult sends a CALL and decodes the CALLRESULT payload into a map.
func (c *csmsConnection) requestResult(t *testing.T, action string, payload string) (string, map[string]interface{}) {
	answer := c.request(t, action, payload)
	callResult, ok := answer.(*ocpp.CallResult)
	require.True(t, ok, "expected CALLRESULT to %s, got %T", action, answer)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(callResult.Payload, &decoded))
	return callResult.UniqueId, decoded
}

func payloadOf(t *testing.T, call *ocpp.Call) map[string]interface{} {
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(call.Payload, &payload))
	return payload
}
