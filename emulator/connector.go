package emulator

import (
	"context"
	"encoding/json"
	"evsim/meter"
	"evsim/ocpp/core"
	"evsim/types"
	"fmt"
)

// Connector is the runtime state of one outlet. It is persisted so that a reconnect resumes
// the transaction it was running.
type Connector struct {
	Id                  int                     `json:"id"`
	Status              types.ChargePointStatus `json:"status"`
	Availability        core.AvailabilityType   `json:"availability"`
	PendingAvailability core.AvailabilityType   `json:"pendingAvailability,omitempty"`
	IdTag               string                  `json:"idTag,omitempty"`
	TransactionId       *int                    `json:"transactionId,omitempty"`
	ReservationId       *int                    `json:"reservationId,omitempty"`
	MeterWh             float64                 `json:"meterWh"`
	starting            bool
	stopping            bool
}

func newConnector(id int, meterWh float64) *Connector {
	return &Connector{
		Id:           id,
		Status:       types.ChargePointStatusAvailable,
		Availability: core.AvailabilityTypeOperative,
		MeterWh:      meterWh,
	}
}

func connectorKey(chargePointId string, connectorId int) string {
	return fmt.Sprintf("connector:%s:%d", chargePointId, connectorId)
}

func (c *Connector) busy() bool {
	return c.TransactionId != nil || c.starting
}

func (c *Connector) operative() bool {
	return c.Availability != core.AvailabilityTypeInoperative &&
		c.Status != types.ChargePointStatusFaulted &&
		c.Status != types.ChargePointStatusUnavailable
}

// idleStatus is the status of the connector once nothing is running on it.
func (c *Connector) idleStatus() types.ChargePointStatus {
	switch {
	case c.Availability == core.AvailabilityTypeInoperative:
		return types.ChargePointStatusUnavailable
	case c.ReservationId != nil:
		return types.ChargePointStatusReserved
	default:
		return types.ChargePointStatusAvailable
	}
}

func loadConnector(ctx context.Context, store meter.Store, chargePointId string, connectorId int) (*Connector, bool, error) {
	data, found, err := store.Load(ctx, connectorKey(chargePointId, connectorId))
	if err != nil || !found {
		return nil, false, err
	}
	connector := &Connector{}
	if err = json.Unmarshal(data, connector); err != nil {
		return nil, false, err
	}
	connector.Id = connectorId
	if connector.Availability == "" {
		connector.Availability = core.AvailabilityTypeOperative
	}
	return connector, true, nil
}

func storeConnector(ctx context.Context, store meter.Store, chargePointId string, connector *Connector) error {
	data, err := json.Marshal(connector)
	if err != nil {
		return err
	}
	return store.Save(ctx, connectorKey(chargePointId, connector.Id), data)
}
