package emulator

import (
	"evsim/ocpp/core"
	"evsim/ocpp/firmware"
	"evsim/ocpp/localauth"
	"evsim/ocpp/remotetrigger"
	"evsim/ocpp/reservation"
	"evsim/ocpp/smartcharging"
	"evsim/types"
	"fmt"
	"time"
)

// commands exposes the charge point to the dispatcher; it runs on the charge point goroutine.
type commands struct {
	cp *ChargePoint
}

func (c *commands) ChargePointId() string {
	return c.cp.id
}

func (c *commands) Now() time.Time {
	return c.cp.clock()
}

func (c *commands) CanStartTransaction(connectorId *int, idTag string) bool {
	connector, ok := c.cp.freeConnector(connectorId)
	if !ok || connector.busy() || !connector.operative() {
		return false
	}
	_, allowed := c.cp.reservationFor(connector.Id, idTag)
	return allowed
}

func (c *commands) StartLocalFlow(connectorId *int, idTag string, profile *types.ChargingProfile) {
	cp := c.cp
	connector, ok := cp.freeConnector(connectorId)
	if !ok {
		return
	}
	connector.starting = true
	if profile != nil {
		profile.ChargingProfilePurpose = types.ChargingProfilePurposeTxProfile
		cp.profiles.Set(connector.Id, profile)
	}
	id := connector.Id
	cp.schedule(func() {
		go cp.runStartFlow(id, idTag)
	})
}

func (c *commands) StopLocalFlow(transactionId int, reason core.Reason) {
	if c.cp.connectorByTransaction(transactionId) == nil {
		c.cp.logger.Warn(fmt.Sprintf("[%s] stop requested for unknown transaction %d", c.cp.id, transactionId))
		return
	}
	c.cp.startStopFlow(transactionId, reason)
}

func (c *commands) ChangeAvailability(connectorId int, availability core.AvailabilityType) core.AvailabilityStatus {
	cp := c.cp
	var targets []*Connector
	if connectorId == 0 {
		for _, id := range cp.connectorIds() {
			targets = append(targets, cp.connectors[id])
		}
	} else if connector, ok := cp.connectors[connectorId]; ok {
		targets = append(targets, connector)
	} else {
		return core.AvailabilityStatusRejected
	}

	status := core.AvailabilityStatusAccepted
	for _, connector := range targets {
		if connector.busy() {
			connector.PendingAvailability = availability
			cp.saveConnector(connector)
			status = core.AvailabilityStatusScheduled
			continue
		}
		connector.Availability = availability
		connector.PendingAvailability = ""
		cp.setConnectorStatus(connector, connector.idleStatus())
	}
	return status
}

func (c *commands) ChangeConfiguration(key, value string) core.ConfigurationStatus {
	status := c.cp.configuration.Set(key, value)
	if status == core.ConfigurationStatusAccepted {
		c.cp.onConfigurationChanged(key)
	}
	return status
}

func (c *commands) GetConfiguration(keys []string) ([]core.ConfigurationKey, []string) {
	return c.cp.configuration.Get(keys)
}

func (c *commands) SetChargingProfile(connectorId int, profile *types.ChargingProfile) smartcharging.ChargingProfileStatus {
	cp := c.cp
	if connectorId != 0 {
		if _, ok := cp.connectors[connectorId]; !ok {
			return smartcharging.ChargingProfileStatusRejected
		}
	}
	if profile.StackLevel > cp.configuration.Int(KeyChargeProfileMaxStackLevel) {
		return smartcharging.ChargingProfileStatusRejected
	}
	switch profile.ChargingProfilePurpose {
	case types.ChargingProfilePurposeChargePointMaxProfile:
		if connectorId != 0 {
			return smartcharging.ChargingProfileStatusRejected
		}
	case types.ChargingProfilePurposeTxProfile:
		connector, ok := cp.connectors[connectorId]
		if !ok || connector.TransactionId == nil {
			return smartcharging.ChargingProfileStatusRejected
		}
		if profile.TransactionId != 0 && profile.TransactionId != *connector.TransactionId {
			return smartcharging.ChargingProfileStatusRejected
		}
	}
	cp.profiles.Set(connectorId, profile)
	cp.applyLimits()
	return smartcharging.ChargingProfileStatusAccepted
}

func (c *commands) ClearChargingProfile(filter *smartcharging.ClearChargingProfileRequest) smartcharging.ClearChargingProfileStatus {
	if c.cp.profiles.Clear(filter) == 0 {
		return smartcharging.ClearChargingProfileStatusUnknown
	}
	c.cp.applyLimits()
	return smartcharging.ClearChargingProfileStatusAccepted
}

// CompositeSchedule reports the limit in force as a single period covering the duration.
func (c *commands) CompositeSchedule(connectorId int, duration int, unit types.ChargingRateUnitType) (*types.ChargingSchedule, bool) {
	cp := c.cp
	if connectorId != 0 {
		if _, ok := cp.connectors[connectorId]; !ok {
			return nil, false
		}
	}
	now := cp.clock()
	limitKW, ok := cp.profiles.LimitKW(connectorId, now, cp.electrical)
	if !ok {
		limitKW = cp.conf.MaxPowerKW
	}
	return &types.ChargingSchedule{
		Duration:         &duration,
		StartSchedule:    types.NewDateTime(now),
		ChargingRateUnit: unit,
		ChargingSchedulePeriod: []types.ChargingSchedulePeriod{
			{StartPeriod: 0, Limit: cp.electrical.fromKW(limitKW, unit)},
		},
	}, true
}

func (c *commands) ReserveNow(request *reservation.ReserveNowRequest) reservation.ReservationStatus {
	return c.cp.reserve(request)
}

func (c *commands) CancelReservation(reservationId int) reservation.CancelReservationStatus {
	return c.cp.cancelReservation(reservationId)
}

func (c *commands) Reset(resetType core.ResetType) core.ResetStatus {
	c.cp.logger.FeatureEvent(featureName, c.cp.id, fmt.Sprintf("%s reset requested, not simulated", resetType))
	return core.ResetStatusAccepted
}

func (c *commands) UnlockConnector(connectorId int) core.UnlockStatus {
	connector, ok := c.cp.connectors[connectorId]
	if !ok {
		return core.UnlockStatusNotSupported
	}
	if connector.TransactionId != nil {
		c.cp.startStopFlow(*connector.TransactionId, core.ReasonUnlockCommand)
	}
	return core.UnlockStatusUnlocked
}

func (c *commands) UpdateFirmware(location string, retrieveDate time.Time) {
	c.cp.updateFirmware(location, retrieveDate)
}

func (c *commands) GetDiagnostics(location string) string {
	return c.cp.getDiagnostics(location)
}

func (c *commands) SendLocalList(request *localauth.SendLocalListRequest) localauth.UpdateStatus {
	if !c.cp.configuration.Bool(KeyLocalAuthListEnabled) {
		return localauth.UpdateStatusNotSupported
	}
	return c.cp.localList.Apply(request, c.cp.configuration.Int(KeySendLocalListMaxLength))
}

func (c *commands) LocalListVersion() int {
	return c.cp.localList.Version()
}

// Trigger schedules the requested message so that it follows the response.
func (c *commands) Trigger(message remotetrigger.MessageTrigger, connectorId *int) remotetrigger.TriggerMessageStatus {
	cp := c.cp
	if connectorId != nil && *connectorId != 0 {
		if _, ok := cp.connectors[*connectorId]; !ok {
			return remotetrigger.TriggerMessageStatusRejected
		}
	}

	var task func()
	switch message {
	case remotetrigger.BootNotification:
		task = func() { cp.notify(cp.bootNotification()) }
	case remotetrigger.Heartbeat:
		task = func() { cp.notify(&core.HeartbeatRequest{}) }
	case remotetrigger.StatusNotification:
		task = func() { cp.triggerStatus(connectorId) }
	case remotetrigger.MeterValues:
		task = func() { cp.triggerMeterValues(connectorId) }
	case remotetrigger.FirmwareStatusNotification:
		task = func() { cp.notify(&firmware.FirmwareStatusNotificationRequest{Status: cp.firmwareStatus}) }
	case remotetrigger.DiagnosticsStatusNotification:
		task = func() { cp.notify(&firmware.DiagnosticsStatusNotificationRequest{Status: cp.diagnosticsStatus}) }
	default:
		return remotetrigger.TriggerMessageStatusNotImplemented
	}
	cp.schedule(task)
	return remotetrigger.TriggerMessageStatusAccepted
}

func (cp *ChargePoint) triggerStatus(connectorId *int) {
	if connectorId == nil || *connectorId == 0 {
		cp.notify(core.NewStatusNotificationRequest(0, cp.chargePointStatus(), cp.clock()))
		if connectorId != nil {
			return
		}
		for _, id := range cp.connectorIds() {
			cp.notify(core.NewStatusNotificationRequest(id, cp.connectors[id].Status, cp.clock()))
		}
		return
	}
	c := cp.connectors[*connectorId]
	cp.notify(core.NewStatusNotificationRequest(c.Id, c.Status, cp.clock()))
}

// triggerMeterValues reports the current reading of the connector, or of every connector.
func (cp *ChargePoint) triggerMeterValues(connectorId *int) {
	ids := cp.connectorIds()
	if connectorId != nil && *connectorId != 0 {
		ids = []int{*connectorId}
	}
	now := cp.clock()
	measurands := cp.configuration.Measurands(KeyMeterValuesSampledData)
	for _, id := range ids {
		c := cp.connectors[id]
		state, ok := cp.engine.GetState(id)
		if !ok || c.TransactionId == nil {
			state = cp.engine.IdleState(c.MeterWh, now)
		}
		cp.notify(cp.engine.MeterValues(id, c.TransactionId, state, measurands, types.ReadingContextTrigger, now))
	}
}
