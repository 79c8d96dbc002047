package internal

import "time"

const (
	EventStatus            = "status"
	EventTransactionStart  = "transaction_start"
	EventTransactionStop   = "transaction_stop"
	EventChargeComplete    = "charge_complete"
	EventMeterValues       = "meter_values"
	EventConnectionChanged = "connection"
)

// EventHandler receives charge point activity, for notifiers and publishers.
type EventHandler interface {
	OnStatusNotification(event *EventMessage)
	OnTransactionStart(event *EventMessage)
	OnTransactionStop(event *EventMessage)
	OnMeterValues(event *EventMessage)
}

type EventMessage struct {
	Type          string      `json:"type" bson:"type"`
	ChargePointId string      `json:"charge_point_id" bson:"charge_point_id"`
	ConnectorId   int         `json:"connector_id" bson:"connector_id"`
	Time          time.Time   `json:"time" bson:"time"`
	IdTag         string      `json:"id_tag" bson:"id_tag"`
	TransactionId int         `json:"transaction_id" bson:"transaction_id"`
	Status        string      `json:"status" bson:"status"`
	Info          string      `json:"info" bson:"info"`
	Payload       interface{} `json:"payload" bson:"payload"`
}

// EventHandlers fans an event out to every handler.
type EventHandlers []EventHandler

func (h EventHandlers) OnStatusNotification(event *EventMessage) {
	for _, handler := range h {
		handler.OnStatusNotification(event)
	}
}

func (h EventHandlers) OnTransactionStart(event *EventMessage) {
	for _, handler := range h {
		handler.OnTransactionStart(event)
	}
}

func (h EventHandlers) OnTransactionStop(event *EventMessage) {
	for _, handler := range h {
		handler.OnTransactionStop(event)
	}
}

func (h EventHandlers) OnMeterValues(event *EventMessage) {
	for _, handler := range h {
		handler.OnMeterValues(event)
	}
}
