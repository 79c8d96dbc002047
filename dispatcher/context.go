package dispatcher

import (
	"evsim/ocpp/core"
	"evsim/ocpp/localauth"
	"evsim/ocpp/remotetrigger"
	"evsim/ocpp/reservation"
	"evsim/ocpp/smartcharging"
	"evsim/types"
	"time"
)

// Context is the charge point state a handler works against. Every method is called
// from the charge point's own goroutine. Methods that start outbound traffic must
// schedule it so that it is sent after the handler's response.
type Context interface {
	ChargePointId() string
	Now() time.Time

	CanStartTransaction(connectorId *int, idTag string) bool
	StartLocalFlow(connectorId *int, idTag string, profile *types.ChargingProfile)
	StopLocalFlow(transactionId int, reason core.Reason)

	ChangeAvailability(connectorId int, availability core.AvailabilityType) core.AvailabilityStatus
	ChangeConfiguration(key, value string) core.ConfigurationStatus
	GetConfiguration(keys []string) (known []core.ConfigurationKey, unknown []string)

	SetChargingProfile(connectorId int, profile *types.ChargingProfile) smartcharging.ChargingProfileStatus
	ClearChargingProfile(filter *smartcharging.ClearChargingProfileRequest) smartcharging.ClearChargingProfileStatus
	CompositeSchedule(connectorId int, duration int, unit types.ChargingRateUnitType) (*types.ChargingSchedule, bool)

	ReserveNow(request *reservation.ReserveNowRequest) reservation.ReservationStatus
	CancelReservation(reservationId int) reservation.CancelReservationStatus

	Reset(resetType core.ResetType) core.ResetStatus
	UnlockConnector(connectorId int) core.UnlockStatus

	UpdateFirmware(location string, retrieveDate time.Time)
	GetDiagnostics(location string) string

	SendLocalList(request *localauth.SendLocalListRequest) localauth.UpdateStatus
	LocalListVersion() int

	Trigger(message remotetrigger.MessageTrigger, connectorId *int) remotetrigger.TriggerMessageStatus
}
