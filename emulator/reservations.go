package emulator

import (
	"evsim/ocpp/reservation"
	"evsim/types"
	"fmt"
	"time"
)

type reservationEntry struct {
	id          int
	connectorId int
	idTag       string
	expiry      time.Time
	timer       *time.Timer
}

// reserve books a connector for an id tag until the expiry date.
func (cp *ChargePoint) reserve(request *reservation.ReserveNowRequest) reservation.ReservationStatus {
	connectorId := *request.ConnectorId
	c, ok := cp.connectors[connectorId]
	if !ok {
		return reservation.ReservationStatusRejected
	}
	now := cp.clock()
	if !request.ExpiryDate.After(now) {
		return reservation.ReservationStatusRejected
	}

	id := *request.ReservationId
	if previous, ok := cp.reservations[id]; ok && previous.connectorId == connectorId {
		previous.idTag = request.IdTag
		previous.expiry = request.ExpiryDate.Time
		previous.timer.Reset(previous.expiry.Sub(now))
		return reservation.ReservationStatusAccepted
	}

	switch {
	case c.Status == types.ChargePointStatusFaulted:
		return reservation.ReservationStatusFaulted
	case !c.operative():
		return reservation.ReservationStatusUnavailable
	case c.busy() || c.ReservationId != nil || c.Status != types.ChargePointStatusAvailable:
		return reservation.ReservationStatusOccupied
	}
	if previous, ok := cp.reservations[id]; ok {
		cp.release(previous)
	}

	entry := &reservationEntry{
		id:          id,
		connectorId: connectorId,
		idTag:       request.IdTag,
		expiry:      request.ExpiryDate.Time,
	}
	entry.timer = cp.after(entry.expiry.Sub(now), func() {
		if current, ok := cp.reservations[id]; ok && current == entry {
			cp.logger.FeatureEvent(featureName, cp.id, fmt.Sprintf("reservation %d on connector %d expired", id, connectorId))
			cp.release(entry)
		}
	})
	cp.reservations[id] = entry
	c.ReservationId = &entry.id
	cp.setConnectorStatus(c, types.ChargePointStatusReserved)
	return reservation.ReservationStatusAccepted
}

func (cp *ChargePoint) cancelReservation(id int) reservation.CancelReservationStatus {
	entry, ok := cp.reservations[id]
	if !ok {
		return reservation.CancelReservationStatusRejected
	}
	cp.release(entry)
	return reservation.CancelReservationStatusAccepted
}

// release frees a reservation; the connector returns to its idle status unless it is in use.
func (cp *ChargePoint) release(entry *reservationEntry) {
	entry.timer.Stop()
	delete(cp.reservations, entry.id)
	c, ok := cp.connectors[entry.connectorId]
	if !ok || c.ReservationId == nil || *c.ReservationId != entry.id {
		return
	}
	c.ReservationId = nil
	if !c.busy() {
		cp.setConnectorStatus(c, c.idleStatus())
	} else {
		cp.saveConnector(c)
	}
}

// reservationFor reports whether the id tag may use the connector and the reservation it consumes.
func (cp *ChargePoint) reservationFor(connectorId int, idTag string) (*int, bool) {
	c, ok := cp.connectors[connectorId]
	if !ok || c.ReservationId == nil {
		return nil, true
	}
	entry, ok := cp.reservations[*c.ReservationId]
	if !ok {
		return nil, true
	}
	if entry.idTag != idTag {
		return nil, false
	}
	id := entry.id
	return &id, true
}
