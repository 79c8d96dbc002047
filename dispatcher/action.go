package dispatcher

import (
	"evsim/ocpp/core"
	"evsim/ocpp/firmware"
	"evsim/ocpp/localauth"
	"evsim/ocpp/remotetrigger"
	"evsim/ocpp/reservation"
	"evsim/ocpp/smartcharging"
)

// Action is a CSMS-initiated operation the charge point understands.
type Action int

const (
	ActionUnknown Action = iota
	RemoteStartTransaction
	RemoteStopTransaction
	ChangeAvailability
	ChangeConfiguration
	GetConfiguration
	ClearCache
	SetChargingProfile
	ClearChargingProfile
	GetCompositeSchedule
	ReserveNow
	CancelReservation
	Reset
	UnlockConnector
	UpdateFirmware
	GetDiagnostics
	SendLocalList
	GetLocalListVersion
	DataTransfer
	TriggerMessage
)

var actionNames = map[Action]string{
	RemoteStartTransaction: core.RemoteStartTransactionFeatureName,
	RemoteStopTransaction:  core.RemoteStopTransactionFeatureName,
	ChangeAvailability:     core.ChangeAvailabilityFeatureName,
	ChangeConfiguration:    core.ChangeConfigurationFeatureName,
	GetConfiguration:       core.GetConfigurationFeatureName,
	ClearCache:             core.ClearCacheFeatureName,
	SetChargingProfile:     smartcharging.SetChargingProfileFeatureName,
	ClearChargingProfile:   smartcharging.ClearChargingProfileFeatureName,
	GetCompositeSchedule:   smartcharging.GetCompositeScheduleFeatureName,
	ReserveNow:             reservation.ReserveNowFeatureName,
	CancelReservation:      reservation.CancelReservationFeatureName,
	Reset:                  core.ResetFeatureName,
	UnlockConnector:        core.UnlockConnectorFeatureName,
	UpdateFirmware:         firmware.UpdateFirmwareFeatureName,
	GetDiagnostics:         firmware.GetDiagnosticsFeatureName,
	SendLocalList:          localauth.SendLocalListFeatureName,
	GetLocalListVersion:    localauth.GetLocalListVersionFeatureName,
	DataTransfer:           core.DataTransferFeatureName,
	TriggerMessage:         remotetrigger.TriggerMessageFeatureName,
}

var actionsByName = func() map[string]Action {
	m := make(map[string]Action, len(actionNames))
	for action, name := range actionNames {
		m[name] = action
	}
	return m
}()

func ParseAction(name string) Action {
	if action, ok := actionsByName[name]; ok {
		return action
	}
	return ActionUnknown
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "Unknown"
}

// Actions lists every supported action in declaration order.
func Actions() []Action {
	actions := make([]Action, 0, len(actionNames))
	for a := RemoteStartTransaction; a <= TriggerMessage; a++ {
		actions = append(actions, a)
	}
	return actions
}
