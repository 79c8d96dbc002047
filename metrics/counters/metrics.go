package counters

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "emulator",
	Name:      "connections_active",
	Help:      "Number of charge points connected to the central system",
}, []string{"url"})

var connectionStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "emulator",
	Name:      "connection_state",
	Help:      "Connection state of a charge point: 0 disconnected, 1 connecting, 2 connected",
}, []string{"charge_point_id"})

var activeTransactionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "emulator",
	Name:      "transactions_active",
	Help:      "Number of active transactions",
}, []string{"charge_point_id"})

var transactionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "transaction_count",
	Help:      "Total number of started transactions.",
}, []string{"charge_point_id"})

var powerRateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ocpp",
	Name:      "current_power_rate",
	Help:      "Simulated power on active transactions, kW.",
}, []string{"charge_point_id", "connector_id"})

var socGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ocpp",
	Name:      "state_of_charge",
	Help:      "Simulated battery state of charge, percent.",
}, []string{"charge_point_id", "connector_id"})

var energyGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ocpp",
	Name:      "energy_register",
	Help:      "Energy register of the connector meter, Wh.",
}, []string{"charge_point_id", "connector_id"})

var frameCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "frame_count",
	Help:      "Total number of protocol frames by direction and type.",
}, []string{"charge_point_id", "direction", "type"})

var callErrorCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "call_error_count",
	Help:      "Total number of CALLERROR frames by error code.",
}, []string{"charge_point_id", "code"})

func ObserveConnections(url string, count int) {
	if len(url) == 0 {
		return
	}
	connectionsGauge.With(prometheus.Labels{"url": url}).Set(float64(count))
}

func ObserveConnectionState(chargePointId string, state int) {
	if len(chargePointId) == 0 {
		return
	}
	connectionStateGauge.With(prometheus.Labels{"charge_point_id": chargePointId}).Set(float64(state))
}

func ObserveTransactions(chargePointId string, count int) {
	if len(chargePointId) == 0 {
		return
	}
	activeTransactionsGauge.With(prometheus.Labels{"charge_point_id": chargePointId}).Set(float64(count))
}

func CountTransaction(chargePointId string) {
	if len(chargePointId) == 0 {
		return
	}
	transactionCounter.With(prometheus.Labels{"charge_point_id": chargePointId}).Inc()
}

// ObserveMeter records the latest sample of a connector meter.
func ObserveMeter(chargePointId, connectorId string, powerKW, socPct, energyWh float64) {
	if len(chargePointId) == 0 || len(connectorId) == 0 {
		return
	}
	labels := prometheus.Labels{
		"charge_point_id": chargePointId,
		"connector_id":    connectorId,
	}
	powerRateGauge.With(labels).Set(powerKW)
	socGauge.With(labels).Set(socPct)
	energyGauge.With(labels).Set(energyWh)
}

func CountFrame(chargePointId, direction, frameType string) {
	if len(chargePointId) == 0 || len(frameType) == 0 {
		return
	}
	frameCounter.With(
		prometheus.Labels{
			"charge_point_id": chargePointId,
			"direction":       direction,
			"type":            frameType,
		}).Inc()
}

func CountCallError(chargePointId, code string) {
	if len(chargePointId) == 0 || len(code) == 0 {
		return
	}
	callErrorCounter.With(prometheus.Labels{"charge_point_id": chargePointId, "code": code}).Inc()
}
