package telegram

import (
	"evsim/emulator"
	"evsim/internal"
	"evsim/meter"
	"evsim/types"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource []emulator.Snapshot

func (s staticSource) List() []emulator.Snapshot {
	return s
}

func queued(t *testing.T, b *TgBot) string {
	select {
	case message := <-b.event:
		return message.Text
	default:
		t.Fatal("no message queued")
		return ""
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, `CP\-1 \(AC\)`, sanitize("CP-1 (AC)"))
	assert.Equal(t, `12\.5 kWh\!`, sanitize("12.5 kWh!"))
	assert.Equal(t, "plain", sanitize("plain"))
}

func TestEventMessages(t *testing.T) {
	b := newBot(internal.NewLogger(time.UTC))

	b.OnStatusNotification(&internal.EventMessage{Type: internal.EventStatus, ChargePointId: "CP-1", ConnectorId: 0, Status: "Available"})
	assert.Empty(t, b.event)

	b.OnStatusNotification(&internal.EventMessage{Type: internal.EventStatus, ChargePointId: "CP-1", ConnectorId: 1, Status: "Charging", TransactionId: 100})
	assert.Equal(t, "*CP\\-1*: Connector 1: `Charging`\nTransaction ID: 100\n", queued(t, b))

	b.OnTransactionStart(&internal.EventMessage{ChargePointId: "CP-1", ConnectorId: 1, Status: "Charging", TransactionId: 100, IdTag: "TAG_1"})
	assert.Contains(t, queued(t, b), "ID Tag: TAG\\_1")

	b.OnMeterValues(&internal.EventMessage{Type: internal.EventMeterValues, ChargePointId: "CP-1", ConnectorId: 1})
	assert.Empty(t, b.event)
	b.OnMeterValues(&internal.EventMessage{Type: internal.EventChargeComplete, ChargePointId: "CP-1", ConnectorId: 1, TransactionId: 100, Info: "100.0%"})
	assert.Contains(t, queued(t, b), "COMPLETE")

	b.OnStatusNotification(&internal.EventMessage{Type: internal.EventConnectionChanged, ChargePointId: "CP-1", Status: "connected"})
	assert.Equal(t, "*CP\\-1*: `connected`\n", queued(t, b))
}

func TestEventQueueDoesNotBlock(t *testing.T) {
	b := newBot(internal.NewLogger(time.UTC))
	for i := 0; i < cap(b.event)+10; i++ {
		b.OnTransactionStop(&internal.EventMessage{ChargePointId: "CP-1", ConnectorId: 1})
	}
	assert.Len(t, b.event, cap(b.event))
}

func TestStatusMessage(t *testing.T) {
	b := newBot(internal.NewLogger(time.UTC))
	transactionId := 7
	b.SetStatusSource(staticSource{{
		Id:     "CP-1",
		Status: emulator.StatusConnected,
		Connectors: []emulator.ConnectorSnapshot{
			{Connector: emulator.Connector{Id: 1, Status: types.ChargePointStatusCharging, TransactionId: &transactionId}, Meter: meter.State{PowerKW: 11, SocPct: 42.5}},
			{Connector: emulator.Connector{Id: 2, Status: types.ChargePointStatusAvailable}},
		},
	}})
	b.Subscribe(1, "operator")

	msg := b.composeStatusMessage()
	require.Contains(t, msg, "*CP\\-1*: `connected`")
	assert.Contains(t, msg, "Connector 1: `Charging` tx 7, 11\\.0 kW, 42\\.5\\%")
	assert.Contains(t, msg, "Connector 2: `Available`")
	assert.Contains(t, msg, "Active subscriptions: 1")
}
