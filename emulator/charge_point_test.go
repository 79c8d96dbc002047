package emulator

import (
	"context"
	"encoding/json"
	"evsim/internal"
	"evsim/internal/config"
	"evsim/meter"
	"evsim/ocpp"
	"evsim/ocpp/core"
	"evsim/ocpp/firmware"
	"evsim/ocpp/remotetrigger"
	"evsim/ocpp/reservation"
	"evsim/ocpp/smartcharging"
	"evsim/types"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = internal.NewLogger(time.UTC)

func testConfig(id, url string) config.ChargePointConfig {
	return config.ChargePointConfig{
		Id:         id,
		Url:        url,
		Connectors: 2,
		MaxPowerKW: 22,
	}
}

func testOptions(store meter.Store) Options {
	return Options{
		Simulation: config.Simulation{CallTimeoutSeconds: 5, FirmwareStepSeconds: 1},
		Store:      store,
		Logger:     testLogger,
		TickPeriod: 50 * time.Millisecond,
	}
}

// connect starts a charge point and waits until its boot has been accepted.
func connect(t *testing.T, csms *fakeCsms, conf config.ChargePointConfig, options Options) (*ChargePoint, *csmsConnection) {
	cp := NewChargePoint(conf, options)
	t.Cleanup(cp.Close)
	require.NoError(t, cp.Connect(context.Background()))
	c := csms.connection(t, conf.Id)
	c.waitCall(t, core.BootNotificationFeatureName)
	c.waitCalls(t, core.StatusNotificationFeatureName, conf.Connectors+1)
	return cp, c
}

func connectorOf(cp *ChargePoint, connectorId int) ConnectorSnapshot {
	snapshot := cp.Snapshot()
	connector, _ := snapshot.Connector(connectorId)
	return connector
}

func waitTransaction(t *testing.T, cp *ChargePoint, connectorId int) int {
	var transactionId int
	require.Eventually(t, func() bool {
		connector := connectorOf(cp, connectorId)
		if connector.TransactionId == nil || connector.Status != types.ChargePointStatusCharging {
			return false
		}
		transactionId = *connector.TransactionId
		return true
	}, waitTimeout, 10*time.Millisecond, "no transaction on connector %d", connectorId)
	return transactionId
}

func requireCallError(t *testing.T, message ocpp.Message, code ocpp.ErrorCode) {
	callError, ok := message.(*ocpp.CallError)
	require.True(t, ok, "expected CALLERROR, got %T", message)
	assert.Equal(t, code, callError.ErrorCode)
}

func TestConnectSendsBootNotification(t *testing.T) {
	csms := newFakeCsms(t)
	cp, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))

	assert.Equal(t, StatusConnected, cp.Status())
	boot := payloadOf(t, c.waitCall(t, core.BootNotificationFeatureName))
	assert.Equal(t, "EVS-Sim", boot["chargePointVendor"])
	assert.Equal(t, "EVSE-Sim v1", boot["chargePointModel"])
	assert.Equal(t, "1.0.0-web", boot["firmwareVersion"])

	c.waitMatch(t, core.StatusNotificationFeatureName, -1, statusIs(0, "Available"))
	c.waitMatch(t, core.StatusNotificationFeatureName, -1, statusIs(1, "Available"))
	c.waitMatch(t, core.StatusNotificationFeatureName, -1, statusIs(2, "Available"))

	_, response := c.requestResult(t, core.GetConfigurationFeatureName, `{"key":["HeartbeatInterval","Unknown"]}`)
	keys := response["configurationKey"].([]interface{})
	require.Len(t, keys, 1)
	assert.Equal(t, "300", keys[0].(map[string]interface{})["value"])
	assert.Equal(t, []interface{}{"Unknown"}, response["unknownKey"])
}

func TestRemoteStartStopFlow(t *testing.T) {
	csms := newFakeCsms(t)
	cp, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))

	uniqueId, response := c.requestResult(t, core.RemoteStartTransactionFeatureName, `{"connectorId":1,"idTag":"TAG-1"}`)
	assert.Equal(t, "Accepted", response["status"])

	authorize := c.waitCall(t, core.AuthorizeFeatureName)
	start := c.waitCall(t, core.StartTransactionFeatureName)
	preparing := c.waitMatch(t, core.StatusNotificationFeatureName, -1, statusIs(1, "Preparing"))
	charging := c.waitMatch(t, core.StatusNotificationFeatureName, -1, statusIs(1, "Charging"))
	assert.Less(t, c.index(uniqueId), c.index(authorize.UniqueId), "response goes out before the flow starts")
	assert.Less(t, c.index(authorize.UniqueId), c.index(preparing.UniqueId))
	assert.Less(t, c.index(preparing.UniqueId), c.index(start.UniqueId))
	assert.Less(t, c.index(start.UniqueId), c.index(charging.UniqueId))

	startPayload := payloadOf(t, start)
	assert.Equal(t, "TAG-1", startPayload["idTag"])
	assert.Equal(t, float64(1), startPayload["connectorId"])
	assert.Equal(t, float64(0), startPayload["meterStart"])

	transactionId := waitTransaction(t, cp, 1)
	assert.Equal(t, 100, transactionId)
	assert.Equal(t, "TAG-1", connectorOf(cp, 1).IdTag)
	c.waitMatch(t, core.MeterValuesFeatureName, -1, func(payload map[string]interface{}) bool {
		return payload["transactionId"] == float64(100)
	})

	_, response = c.requestResult(t, core.RemoteStopTransactionFeatureName, `{"transactionId":100}`)
	assert.Equal(t, "Accepted", response["status"])

	stop := c.waitCall(t, core.StopTransactionFeatureName)
	finishing := c.waitMatch(t, core.StatusNotificationFeatureName, -1, statusIs(1, "Finishing"))
	assert.Less(t, c.index(finishing.UniqueId), c.index(stop.UniqueId))
	stopPayload := payloadOf(t, stop)
	assert.Equal(t, float64(100), stopPayload["transactionId"])
	assert.Equal(t, "Remote", stopPayload["reason"])
	assert.Equal(t, "TAG-1", stopPayload["idTag"])
	assert.GreaterOrEqual(t, stopPayload["meterStop"], float64(0))
	assert.NotEmpty(t, stopPayload["transactionData"])

	c.waitMatch(t, core.StatusNotificationFeatureName, c.index(stop.UniqueId), statusIs(1, "Available"))
	require.Eventually(t, func() bool {
		connector := connectorOf(cp, 1)
		return connector.TransactionId == nil && connector.Status == types.ChargePointStatusAvailable
	}, waitTimeout, 10*time.Millisecond)
	assert.Empty(t, connectorOf(cp, 1).IdTag)
}

func TestRemoteStartMissingIdTag(t *testing.T) {
	csms := newFakeCsms(t)
	cp, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))

	requireCallError(t, c.request(t, core.RemoteStartTransactionFeatureName, `{"connectorId":1}`), ocpp.FormationViolation)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, c.calls(core.AuthorizeFeatureName))
	assert.Empty(t, c.calls(core.StartTransactionFeatureName))
	assert.Nil(t, connectorOf(cp, 1).TransactionId)
	assert.Equal(t, types.ChargePointStatusAvailable, connectorOf(cp, 1).Status)
}

func TestRemoteStartRejectedWhenBusy(t *testing.T) {
	csms := newFakeCsms(t)
	cp, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))

	require.NoError(t, cp.StartLocalFlow(1, "TAG-1"))
	waitTransaction(t, cp, 1)

	_, response := c.requestResult(t, core.RemoteStartTransactionFeatureName, `{"connectorId":1,"idTag":"TAG-2"}`)
	assert.Equal(t, "Rejected", response["status"])
	assert.ErrorIs(t, cp.StartLocalFlow(1, "TAG-2"), ErrConnectorBusy)
	assert.ErrorIs(t, cp.StartLocalFlow(7, "TAG-2"), ErrUnknownConnector)

	// without a connector id the first free connector is used
	_, response = c.requestResult(t, core.RemoteStartTransactionFeatureName, `{"idTag":"TAG-2"}`)
	assert.Equal(t, "Accepted", response["status"])
	assert.Equal(t, 101, waitTransaction(t, cp, 2))
}

func TestUnauthorizedIdTagDoesNotStart(t *testing.T) {
	csms := newFakeCsms(t)
	csms.onCall(core.AuthorizeFeatureName, func(call *ocpp.Call) ocpp.Message {
		return result(call, map[string]interface{}{"idTagInfo": map[string]string{"status": "Blocked"}})
	})
	cp, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))

	require.NoError(t, cp.StartLocalFlow(1, "BLOCKED"))
	c.waitCall(t, core.AuthorizeFeatureName)
	require.Eventually(t, func() bool {
		connector := connectorOf(cp, 1)
		return !connector.starting && connector.Status == types.ChargePointStatusAvailable
	}, waitTimeout, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, c.calls(core.StartTransactionFeatureName))
	assert.NoError(t, cp.StartLocalFlow(1, "BLOCKED"), "connector is free again")
}

func TestStartTransactionDeauthorized(t *testing.T) {
	csms := newFakeCsms(t)
	csms.onCall(core.StartTransactionFeatureName, func(call *ocpp.Call) ocpp.Message {
		return result(call, map[string]interface{}{"idTagInfo": map[string]string{"status": "Invalid"}, "transactionId": 500})
	})
	_, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))

	_, response := c.requestResult(t, core.RemoteStartTransactionFeatureName, `{"connectorId":1,"idTag":"TAG-1"}`)
	assert.Equal(t, "Accepted", response["status"])

	stop := payloadOf(t, c.waitCall(t, core.StopTransactionFeatureName))
	assert.Equal(t, float64(500), stop["transactionId"])
	assert.Equal(t, "DeAuthorized", stop["reason"])
}

func TestStartTransactionCallErrorReleasesConnector(t *testing.T) {
	csms := newFakeCsms(t)
	csms.onCall(core.StartTransactionFeatureName, func(call *ocpp.Call) ocpp.Message {
		return ocpp.NewCallError(call.UniqueId, ocpp.NewError(ocpp.InternalError, "database down"))
	})
	cp, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))

	require.NoError(t, cp.StartLocalFlow(1, "TAG-1"))
	start := c.waitCall(t, core.StartTransactionFeatureName)
	c.waitMatch(t, core.StatusNotificationFeatureName, c.index(start.UniqueId), statusIs(1, "Available"))
	assert.Nil(t, connectorOf(cp, 1).TransactionId)
}

func TestUnknownActionNotImplemented(t *testing.T) {
	csms := newFakeCsms(t)
	cp, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))

	requireCallError(t, c.request(t, "SomethingElse", `{}`), ocpp.NotImplemented)
	assert.Equal(t, StatusConnected, cp.Status())

	// the session survives malformed frames
	require.NoError(t, c.writeRaw(`[9,"x"]`))
	_, response := c.requestResult(t, core.ClearCacheFeatureName, `{}`)
	assert.Equal(t, "Accepted", response["status"])
	require.Eventually(t, func() bool {
		for _, frame := range cp.Frames() {
			if frame.Type == FrameParseError {
				return true
			}
		}
		return false
	}, waitTimeout, 10*time.Millisecond)
}

func TestCloseRejectsPendingCalls(t *testing.T) {
	csms := newFakeCsms(t)
	csms.onCall(core.DataTransferFeatureName, func(call *ocpp.Call) ocpp.Message { return nil })
	cp, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))

	errs := make(chan error, 1)
	go func() {
		_, err := cp.CallAction(context.Background(), core.DataTransferFeatureName, json.RawMessage(`{"vendorId":"evsim"}`))
		errs <- err
	}()
	c.waitCall(t, core.DataTransferFeatureName)
	require.Eventually(t, func() bool { return cp.Snapshot().PendingCalls > 0 }, waitTimeout, 10*time.Millisecond)

	cp.Close()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ocpp.ErrConnectionClosed)
	case <-time.After(waitTimeout):
		t.Fatal("pending call was not rejected")
	}
	assert.Equal(t, StatusDisconnected, cp.Status())
	assert.Equal(t, FrameClose, cp.Frames()[0].Type)
	require.Eventually(t, c.isClosed, waitTimeout, 10*time.Millisecond)

	_, err := cp.Call(context.Background(), &core.HeartbeatRequest{})
	assert.ErrorIs(t, err, ocpp.ErrNotConnected)
	assert.ErrorIs(t, cp.Connect(context.Background()), ErrAlreadyConnected)
}

func TestCallAnswersCallError(t *testing.T) {
	csms := newFakeCsms(t)
	csms.onCall(core.DataTransferFeatureName, func(call *ocpp.Call) ocpp.Message {
		return ocpp.NewCallError(call.UniqueId, ocpp.NewError(ocpp.NotSupported, "no vendor"))
	})
	cp, _ := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))

	_, err := cp.CallAction(context.Background(), core.DataTransferFeatureName, json.RawMessage(`{"vendorId":"evsim"}`))
	require.Error(t, err)
	assert.True(t, ocpp.IsCode(err, ocpp.NotSupported))

	payload, err := cp.Call(context.Background(), &core.HeartbeatRequest{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(payload))
}

func TestCallWhileDisconnected(t *testing.T) {
	cp := NewChargePoint(testConfig("CP-1", "ws://127.0.0.1:1/ws"), testOptions(nil))
	defer cp.Close()

	_, err := cp.Call(context.Background(), &core.HeartbeatRequest{})
	assert.ErrorIs(t, err, ocpp.ErrNotConnected)
	assert.ErrorIs(t, cp.StartLocalFlow(1, "TAG-1"), ocpp.ErrNotConnected)
	assert.Equal(t, StatusDisconnected, cp.Status())
	assert.Empty(t, cp.Frames())
}

func TestConnectFailureRecordsError(t *testing.T) {
	csms := newFakeCsms(t)
	url := csms.url()
	csms.server.Close()

	cp := NewChargePoint(testConfig("CP-1", url), testOptions(nil))
	require.Error(t, cp.Connect(context.Background()))
	frames := cp.Frames()
	require.NotEmpty(t, frames)
	assert.Equal(t, FrameError, frames[0].Type)
	assert.Equal(t, StatusDisconnected, cp.Status())
	assert.ErrorIs(t, cp.Connect(context.Background()), ErrAlreadyConnected)
	cp.Close()
}

func TestFramesNewestFirst(t *testing.T) {
	csms := newFakeCsms(t)
	cp, _ := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))

	frames := cp.Frames()
	require.Greater(t, len(frames), 2)
	assert.Equal(t, FrameOpen, frames[len(frames)-1].Type)
	for i := 1; i < len(frames); i++ {
		assert.False(t, frames[i].Time.After(frames[i-1].Time))
	}
	boot := frames[len(frames)-2]
	assert.Equal(t, DirectionOut, boot.Direction)
	assert.Equal(t, FrameCall, boot.Type)
	assert.Equal(t, core.BootNotificationFeatureName, boot.Action)
	assert.Contains(t, boot.Raw, `"chargePointVendor":"EVS-Sim"`)
}

func TestTwoChargePointsIndependent(t *testing.T) {
	csms := newFakeCsms(t)
	first := testConfig("CP-A", csms.url())
	first.BatteryStartPercent = 20
	second := testConfig("CP-B", csms.url())
	second.BatteryStartPercent = 70
	manager := NewManager([]config.ChargePointConfig{first, second}, testOptions(meter.NewMemoryStore()))
	t.Cleanup(manager.CloseAll)

	a, err := manager.Connect(context.Background(), "CP-A")
	require.NoError(t, err)
	b, err := manager.Connect(context.Background(), "CP-B")
	require.NoError(t, err)
	ca := csms.connection(t, "CP-A")
	cb := csms.connection(t, "CP-B")
	ca.waitCalls(t, core.StatusNotificationFeatureName, 3)
	cb.waitCalls(t, core.StatusNotificationFeatureName, 3)

	require.NoError(t, a.StartLocalFlow(1, "TAG-A"))
	require.NoError(t, b.StartLocalFlow(1, "TAG-B"))
	txA := waitTransaction(t, a, 1)
	txB := waitTransaction(t, b, 1)
	assert.NotEqual(t, txA, txB)

	ca.waitMatch(t, core.MeterValuesFeatureName, -1, func(p map[string]interface{}) bool { return p["transactionId"] == float64(txA) })
	cb.waitMatch(t, core.MeterValuesFeatureName, -1, func(p map[string]interface{}) bool { return p["transactionId"] == float64(txB) })

	meterA := connectorOf(a, 1).Meter
	meterB := connectorOf(b, 1).Meter
	assert.InDelta(t, 20, meterA.SocPct, 1)
	assert.InDelta(t, 70, meterB.SocPct, 1)
	assert.Equal(t, "TAG-A", payloadOf(t, ca.waitCall(t, core.StartTransactionFeatureName))["idTag"])
	assert.Equal(t, "TAG-B", payloadOf(t, cb.waitCall(t, core.StartTransactionFeatureName))["idTag"])
	assert.Len(t, ca.calls(core.StartTransactionFeatureName), 1)
	assert.Len(t, cb.calls(core.StartTransactionFeatureName), 1)
}

func TestReconnectResumesTransaction(t *testing.T) {
	csms := newFakeCsms(t)
	manager := NewManager([]config.ChargePointConfig{testConfig("CP-1", csms.url())}, testOptions(meter.NewMemoryStore()))
	t.Cleanup(manager.CloseAll)

	cp, err := manager.Connect(context.Background(), "CP-1")
	require.NoError(t, err)
	first := csms.connection(t, "CP-1")
	first.waitCalls(t, core.StatusNotificationFeatureName, 3)
	require.NoError(t, cp.StartLocalFlow(1, "TAG-1"))
	transactionId := waitTransaction(t, cp, 1)
	first.waitMatch(t, core.MeterValuesFeatureName, -1, func(p map[string]interface{}) bool { return p["transactionId"] == float64(transactionId) })

	require.NoError(t, manager.Disconnect("CP-1"))
	require.Eventually(t, first.isClosed, waitTimeout, 10*time.Millisecond)

	cp, err = manager.Connect(context.Background(), "CP-1")
	require.NoError(t, err)
	second := csms.reconnection(t, "CP-1", first)
	second.waitCall(t, core.BootNotificationFeatureName)
	assert.Equal(t, transactionId, waitTransaction(t, cp, 1))
	second.waitMatch(t, core.MeterValuesFeatureName, -1, func(p map[string]interface{}) bool { return p["transactionId"] == float64(transactionId) })
	assert.Empty(t, second.calls(core.StartTransactionFeatureName))

	frames, ok := manager.Frames("CP-1")
	require.True(t, ok)
	opens := 0
	for _, frame := range frames {
		if frame.Type == FrameOpen || frame.Type == FrameClose {
			opens++
		}
	}
	assert.GreaterOrEqual(t, opens, 2)
}

func TestReconnectKeepsCompletedTransaction(t *testing.T) {
	csms := newFakeCsms(t)
	options := testOptions(meter.NewMemoryStore())
	options.Simulation.VirtualCapacityKWh = 0.001
	manager := NewManager([]config.ChargePointConfig{testConfig("CP-1", csms.url())}, options)
	t.Cleanup(manager.CloseAll)

	cp, err := manager.Connect(context.Background(), "CP-1")
	require.NoError(t, err)
	first := csms.connection(t, "CP-1")
	first.waitCalls(t, core.StatusNotificationFeatureName, 3)
	require.NoError(t, cp.StartLocalFlow(1, "TAG-1"))
	var transactionId int
	require.Eventually(t, func() bool {
		connector := connectorOf(cp, 1)
		if connector.TransactionId == nil || connector.Status != types.ChargePointStatusSuspendedEV {
			return false
		}
		transactionId = *connector.TransactionId
		return true
	}, waitTimeout, 10*time.Millisecond, "transaction did not reach full charge")

	require.NoError(t, manager.Disconnect("CP-1"))
	require.Eventually(t, first.isClosed, waitTimeout, 10*time.Millisecond)

	cp, err = manager.Connect(context.Background(), "CP-1")
	require.NoError(t, err)
	second := csms.reconnection(t, "CP-1", first)
	second.waitMatch(t, core.StatusNotificationFeatureName, -1, statusIs(1, "SuspendedEV"))

	assert.Never(t, func() bool {
		return connectorOf(cp, 1).Status == types.ChargePointStatusCharging
	}, 300*time.Millisecond, 20*time.Millisecond)
	assert.Empty(t, second.calls(core.MeterValuesFeatureName))
	connector := connectorOf(cp, 1)
	require.NotNil(t, connector.TransactionId)
	assert.Equal(t, transactionId, *connector.TransactionId)

	require.NoError(t, cp.StopLocalFlow(transactionId, core.ReasonEVDisconnected))
	stop := second.waitCall(t, core.StopTransactionFeatureName)
	assert.Equal(t, float64(transactionId), payloadOf(t, stop)["transactionId"])
}

func TestChangeAvailabilityScheduledWhileCharging(t *testing.T) {
	csms := newFakeCsms(t)
	cp, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))

	require.NoError(t, cp.StartLocalFlow(1, "TAG-1"))
	transactionId := waitTransaction(t, cp, 1)

	_, response := c.requestResult(t, core.ChangeAvailabilityFeatureName, `{"connectorId":1,"type":"Inoperative"}`)
	assert.Equal(t, "Scheduled", response["status"])
	uniqueId, response := c.requestResult(t, core.ChangeAvailabilityFeatureName, `{"connectorId":2,"type":"Inoperative"}`)
	assert.Equal(t, "Accepted", response["status"])
	c.waitMatch(t, core.StatusNotificationFeatureName, c.index(uniqueId), statusIs(2, "Unavailable"))
	_, response = c.requestResult(t, core.ChangeAvailabilityFeatureName, `{"connectorId":3,"type":"Inoperative"}`)
	assert.Equal(t, "Rejected", response["status"])

	require.NoError(t, cp.StopLocalFlow(transactionId, core.ReasonLocal))
	stop := c.waitCall(t, core.StopTransactionFeatureName)
	assert.Equal(t, "Local", payloadOf(t, stop)["reason"])
	c.waitMatch(t, core.StatusNotificationFeatureName, c.index(stop.UniqueId), statusIs(1, "Unavailable"))
	assert.ErrorIs(t, cp.StopLocalFlow(transactionId, core.ReasonLocal), ErrNoTransaction)
}

func TestTriggerMessage(t *testing.T) {
	csms := newFakeCsms(t)
	cp, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))
	require.NoError(t, cp.StartLocalFlow(1, "TAG-1"))
	transactionId := waitTransaction(t, cp, 1)

	uniqueId, response := c.requestResult(t, remotetrigger.TriggerMessageFeatureName, `{"requestedMessage":"MeterValues","connectorId":1}`)
	assert.Equal(t, "Accepted", response["status"])
	triggered := c.waitMatch(t, core.MeterValuesFeatureName, c.index(uniqueId), func(p map[string]interface{}) bool {
		values := p["meterValue"].([]interface{})
		sampled := values[0].(map[string]interface{})["sampledValue"].([]interface{})
		return sampled[0].(map[string]interface{})["context"] == string(types.ReadingContextTrigger)
	})
	assert.Equal(t, float64(transactionId), payloadOf(t, triggered)["transactionId"])

	uniqueId, response = c.requestResult(t, remotetrigger.TriggerMessageFeatureName, `{"requestedMessage":"StatusNotification","connectorId":2}`)
	assert.Equal(t, "Accepted", response["status"])
	c.waitMatch(t, core.StatusNotificationFeatureName, c.index(uniqueId), statusIs(2, "Available"))

	uniqueId, response = c.requestResult(t, remotetrigger.TriggerMessageFeatureName, `{"requestedMessage":"Heartbeat"}`)
	assert.Equal(t, "Accepted", response["status"])
	heartbeat := c.waitCall(t, core.HeartbeatFeatureName)
	assert.Less(t, c.index(uniqueId), c.index(heartbeat.UniqueId))

	_, response = c.requestResult(t, remotetrigger.TriggerMessageFeatureName, `{"requestedMessage":"MeterValues","connectorId":9}`)
	assert.Equal(t, "Rejected", response["status"])
}

func TestReservationGuardsConnector(t *testing.T) {
	csms := newFakeCsms(t)
	cp, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))
	expiry := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	uniqueId, response := c.requestResult(t, reservation.ReserveNowFeatureName,
		fmt.Sprintf(`{"connectorId":1,"expiryDate":"%s","idTag":"TAG-R","reservationId":7}`, expiry))
	assert.Equal(t, "Accepted", response["status"])
	c.waitMatch(t, core.StatusNotificationFeatureName, c.index(uniqueId), statusIs(1, "Reserved"))

	_, response = c.requestResult(t, reservation.ReserveNowFeatureName,
		fmt.Sprintf(`{"connectorId":1,"expiryDate":"%s","idTag":"TAG-X","reservationId":8}`, expiry))
	assert.Equal(t, "Occupied", response["status"])

	_, response = c.requestResult(t, core.RemoteStartTransactionFeatureName, `{"connectorId":1,"idTag":"TAG-X"}`)
	assert.Equal(t, "Rejected", response["status"])
	_, response = c.requestResult(t, core.RemoteStartTransactionFeatureName, `{"connectorId":1,"idTag":"TAG-R"}`)
	assert.Equal(t, "Accepted", response["status"])

	start := payloadOf(t, c.waitCall(t, core.StartTransactionFeatureName))
	assert.Equal(t, float64(7), start["reservationId"])
	waitTransaction(t, cp, 1)
	assert.Nil(t, connectorOf(cp, 1).ReservationId)

	_, response = c.requestResult(t, reservation.CancelReservationFeatureName, `{"reservationId":7}`)
	assert.Equal(t, "Rejected", response["status"])
}

func TestReservationExpires(t *testing.T) {
	csms := newFakeCsms(t)
	cp, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))
	expiry := time.Now().Add(300 * time.Millisecond).UTC().Format(time.RFC3339Nano)

	uniqueId, response := c.requestResult(t, reservation.ReserveNowFeatureName,
		fmt.Sprintf(`{"connectorId":2,"expiryDate":"%s","idTag":"TAG-R","reservationId":3}`, expiry))
	assert.Equal(t, "Accepted", response["status"])
	reserved := c.waitMatch(t, core.StatusNotificationFeatureName, c.index(uniqueId), statusIs(2, "Reserved"))
	c.waitMatch(t, core.StatusNotificationFeatureName, c.index(reserved.UniqueId), statusIs(2, "Available"))
	assert.Nil(t, connectorOf(cp, 2).ReservationId)
}

func TestChargingProfileSuspendsCharging(t *testing.T) {
	csms := newFakeCsms(t)
	cp, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))
	require.NoError(t, cp.StartLocalFlow(1, "TAG-1"))
	waitTransaction(t, cp, 1)

	profile := `{"connectorId":1,"csChargingProfiles":{"chargingProfileId":1,"stackLevel":0,` +
		`"chargingProfilePurpose":"TxProfile","chargingProfileKind":"Absolute",` +
		`"chargingSchedule":{"chargingRateUnit":"W","chargingSchedulePeriod":[{"startPeriod":0,"limit":0}]}}}`
	uniqueId, response := c.requestResult(t, smartcharging.SetChargingProfileFeatureName, profile)
	assert.Equal(t, string(smartcharging.ChargingProfileStatusAccepted), response["status"])
	c.waitMatch(t, core.StatusNotificationFeatureName, c.index(uniqueId), statusIs(1, "SuspendedEVSE"))

	_, response = c.requestResult(t, smartcharging.GetCompositeScheduleFeatureName, `{"connectorId":1,"duration":60,"chargingRateUnit":"W"}`)
	assert.Equal(t, "Accepted", response["status"])
	schedule := response["chargingSchedule"].(map[string]interface{})
	periods := schedule["chargingSchedulePeriod"].([]interface{})
	assert.Equal(t, float64(0), periods[0].(map[string]interface{})["limit"])

	uniqueId, response = c.requestResult(t, smartcharging.ClearChargingProfileFeatureName, `{"id":1}`)
	assert.Equal(t, "Accepted", response["status"])
	c.waitMatch(t, core.StatusNotificationFeatureName, c.index(uniqueId), statusIs(1, "Charging"))
	assert.Nil(t, connectorOf(cp, 1).LimitKW)

	// a transaction profile needs a running transaction
	_, response = c.requestResult(t, smartcharging.SetChargingProfileFeatureName, `{"connectorId":2,"csChargingProfiles":{"chargingProfileId":2,"stackLevel":0,`+
		`"chargingProfilePurpose":"TxProfile","chargingProfileKind":"Absolute",`+
		`"chargingSchedule":{"chargingRateUnit":"A","chargingSchedulePeriod":[{"startPeriod":0,"limit":16}]}}}`)
	assert.Equal(t, "Rejected", response["status"])
}

func TestFirmwareLifecycle(t *testing.T) {
	csms := newFakeCsms(t)
	cp := NewChargePoint(testConfig("CP-1", csms.url()), testOptions(nil))
	cp.firmwareStep = 20 * time.Millisecond
	t.Cleanup(cp.Close)
	require.NoError(t, cp.Connect(context.Background()))
	c := csms.connection(t, "CP-1")
	c.waitCall(t, core.BootNotificationFeatureName)

	retrieve := time.Now().UTC().Format(time.RFC3339)
	uniqueId, response := c.requestResult(t, firmware.UpdateFirmwareFeatureName, fmt.Sprintf(`{"location":"https://fw.example/1.1.bin","retrieveDate":"%s"}`, retrieve))
	assert.Empty(t, response)

	calls := c.waitCalls(t, firmware.FirmwareStatusNotificationFeatureName, len(firmware.FirmwareLifecycle))
	for i, status := range firmware.FirmwareLifecycle {
		assert.Equal(t, string(status), payloadOf(t, calls[i])["status"])
	}
	assert.Less(t, c.index(uniqueId), c.index(calls[0].UniqueId))
	require.Eventually(t, func() bool {
		return cp.Snapshot().FirmwareStatus == firmware.FirmwareStatusInstalled
	}, waitTimeout, 10*time.Millisecond)

	_, response = c.requestResult(t, firmware.GetDiagnosticsFeatureName, `{"location":"ftp://logs.example/"}`)
	assert.Contains(t, response["fileName"], "diagnostics-CP-1-")
	diagnostics := c.waitCalls(t, firmware.DiagnosticsStatusNotificationFeatureName, len(firmware.DiagnosticsLifecycle))
	assert.Equal(t, "Uploaded", payloadOf(t, diagnostics[len(diagnostics)-1])["status"])
}

func TestChangeConfigurationRearmsHeartbeat(t *testing.T) {
	csms := newFakeCsms(t)
	_, c := connect(t, csms, testConfig("CP-1", csms.url()), testOptions(nil))

	_, response := c.requestResult(t, core.ChangeConfigurationFeatureName, `{"key":"HeartbeatInterval","value":"1"}`)
	assert.Equal(t, "Accepted", response["status"])
	c.waitCall(t, core.HeartbeatFeatureName)

	_, response = c.requestResult(t, core.ChangeConfigurationFeatureName, `{"key":"NumberOfConnectors","value":"4"}`)
	assert.Equal(t, "Rejected", response["status"])
	_, response = c.requestResult(t, core.ChangeConfigurationFeatureName, `{"key":"NoSuchKey","value":"1"}`)
	assert.Equal(t, "NotSupported", response["status"])
}

func TestSampleIntervalDrivesMeterTick(t *testing.T) {
	csms := newFakeCsms(t)
	conf := testConfig("CP-1", csms.url())
	conf.Ocpp = map[string]string{KeyMeterValueSampleInterval: "60"}
	options := testOptions(nil)
	options.TickPeriod = 0
	cp, c := connect(t, csms, conf, options)

	require.NoError(t, cp.StartLocalFlow(1, "TAG-1"))
	transactionId := waitTransaction(t, cp, 1)

	uniqueId, response := c.requestResult(t, core.ChangeConfigurationFeatureName, `{"key":"MeterValueSampleInterval","value":"1"}`)
	assert.Equal(t, "Accepted", response["status"])
	c.waitMatch(t, core.MeterValuesFeatureName, c.index(uniqueId), func(p map[string]interface{}) bool {
		return p["transactionId"] == float64(transactionId)
	})
}
