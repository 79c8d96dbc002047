package dispatcher

import (
	"errors"
	"evsim/internal"
	"evsim/ocpp"
	"evsim/ocpp/core"
	"evsim/ocpp/firmware"
	"evsim/ocpp/localauth"
	"evsim/ocpp/remotetrigger"
	"evsim/ocpp/reservation"
	"evsim/ocpp/smartcharging"
	"evsim/types"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const featureName = "Dispatcher"

// Dispatcher answers CSMS-initiated CALLs.
type Dispatcher struct {
	validate *validator.Validate
	logger   internal.LogHandler
}

func New(logger internal.LogHandler) *Dispatcher {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Dispatcher{validate: validate, logger: logger}
}

// Dispatch never panics: handler failures become an InternalError CALLERROR.
func (d *Dispatcher) Dispatch(ctx Context, call *ocpp.Call) (message ocpp.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(fmt.Sprintf("[%s] %s handler", ctx.ChargePointId(), call.Action), fmt.Errorf("%v", r))
			message = ocpp.NewCallError(call.UniqueId, ocpp.NewError(ocpp.InternalError, fmt.Sprintf("%v", r)))
		}
	}()

	response, err := d.handle(ctx, ParseAction(call.Action), call)
	if err != nil {
		var ocppErr *ocpp.Error
		if !errors.As(err, &ocppErr) {
			ocppErr = ocpp.NewError(ocpp.InternalError, err.Error())
		}
		d.logger.FeatureEvent(featureName, ctx.ChargePointId(), fmt.Sprintf("%s rejected: %s", call.Action, ocppErr))
		return ocpp.NewCallError(call.UniqueId, ocppErr)
	}
	result, err := ocpp.NewCallResult(call.UniqueId, response)
	if err != nil {
		return ocpp.NewCallError(call.UniqueId, ocpp.NewError(ocpp.InternalError, err.Error()))
	}
	return result
}

func (d *Dispatcher) handle(ctx Context, action Action, call *ocpp.Call) (ocpp.Response, error) {
	switch action {
	case RemoteStartTransaction:
		return decodeAndRun(d, call, func(r *core.RemoteStartTransactionRequest) ocpp.Response { return remoteStartTransaction(ctx, r) })
	case RemoteStopTransaction:
		return decodeAndRun(d, call, func(r *core.RemoteStopTransactionRequest) ocpp.Response { return remoteStopTransaction(ctx, r) })
	case ChangeAvailability:
		return decodeAndRun(d, call, func(r *core.ChangeAvailabilityRequest) ocpp.Response {
			return core.ChangeAvailabilityResponse{Status: ctx.ChangeAvailability(*r.ConnectorId, r.Type)}
		})
	case ChangeConfiguration:
		return decodeAndRun(d, call, func(r *core.ChangeConfigurationRequest) ocpp.Response {
			return core.ChangeConfigurationResponse{Status: ctx.ChangeConfiguration(r.Key, *r.Value)}
		})
	case GetConfiguration:
		return decodeAndRun(d, call, func(r *core.GetConfigurationRequest) ocpp.Response { return getConfiguration(ctx, r) })
	case ClearCache:
		return decodeAndRun(d, call, func(r *core.ClearCacheRequest) ocpp.Response {
			return core.ClearCacheResponse{Status: core.ClearCacheStatusAccepted}
		})
	case SetChargingProfile:
		return decodeAndRun(d, call, func(r *smartcharging.SetChargingProfileRequest) ocpp.Response {
			return smartcharging.SetChargingProfileResponse{Status: ctx.SetChargingProfile(*r.ConnectorId, r.CsChargingProfiles)}
		})
	case ClearChargingProfile:
		return decodeAndRun(d, call, func(r *smartcharging.ClearChargingProfileRequest) ocpp.Response {
			return smartcharging.ClearChargingProfileResponse{Status: ctx.ClearChargingProfile(r)}
		})
	case GetCompositeSchedule:
		return decodeAndRun(d, call, func(r *smartcharging.GetCompositeScheduleRequest) ocpp.Response { return getCompositeSchedule(ctx, r) })
	case ReserveNow:
		return decodeAndRun(d, call, func(r *reservation.ReserveNowRequest) ocpp.Response {
			return reservation.ReserveNowResponse{Status: ctx.ReserveNow(r)}
		})
	case CancelReservation:
		return decodeAndRun(d, call, func(r *reservation.CancelReservationRequest) ocpp.Response {
			return reservation.CancelReservationResponse{Status: ctx.CancelReservation(*r.ReservationId)}
		})
	case Reset:
		return decodeAndRun(d, call, func(r *core.ResetRequest) ocpp.Response {
			return core.ResetResponse{Status: ctx.Reset(r.Type)}
		})
	case UnlockConnector:
		return decodeAndRun(d, call, func(r *core.UnlockConnectorRequest) ocpp.Response {
			return core.UnlockConnectorResponse{Status: ctx.UnlockConnector(*r.ConnectorId)}
		})
	case UpdateFirmware:
		return decodeAndRun(d, call, func(r *firmware.UpdateFirmwareRequest) ocpp.Response {
			ctx.UpdateFirmware(r.Location, r.RetrieveDate.Time)
			return firmware.UpdateFirmwareResponse{}
		})
	case GetDiagnostics:
		return decodeAndRun(d, call, func(r *firmware.GetDiagnosticsRequest) ocpp.Response {
			return firmware.GetDiagnosticsResponse{FileName: ctx.GetDiagnostics(r.Location)}
		})
	case SendLocalList:
		return decodeAndRun(d, call, func(r *localauth.SendLocalListRequest) ocpp.Response {
			return localauth.SendLocalListResponse{Status: ctx.SendLocalList(r)}
		})
	case GetLocalListVersion:
		return decodeAndRun(d, call, func(r *localauth.GetLocalListVersionRequest) ocpp.Response {
			return localauth.GetLocalListVersionResponse{ListVersion: ctx.LocalListVersion()}
		})
	case DataTransfer:
		return decodeAndRun(d, call, func(r *core.DataTransferRequest) ocpp.Response { return dataTransfer(r) })
	case TriggerMessage:
		return decodeAndRun(d, call, func(r *remotetrigger.TriggerMessageRequest) ocpp.Response {
			return remotetrigger.TriggerMessageResponse{Status: ctx.Trigger(r.RequestedMessage, r.ConnectorId)}
		})
	default:
		return nil, ocpp.NewError(ocpp.NotImplemented, fmt.Sprintf("Action %s not handled", call.Action))
	}
}

// decodeAndRun decodes and validates the payload into a fresh request before calling fn.
func decodeAndRun[T any](d *Dispatcher, call *ocpp.Call, fn func(*T) ocpp.Response) (ocpp.Response, error) {
	request := new(T)
	if err := ocpp.UnmarshalPayload(call.Payload, request); err != nil {
		return nil, ocpp.NewError(ocpp.FormationViolation, fmt.Sprintf("invalid %s payload: %s", call.Action, err))
	}
	if err := d.validate.Struct(request); err != nil {
		return nil, formationViolation(call.Action, err)
	}
	return fn(request), nil
}

func formationViolation(action string, err error) *ocpp.Error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		fieldError := validationErrors[0]
		return ocpp.NewError(ocpp.FormationViolation, fmt.Sprintf("%s: field '%s' failed on '%s'", action, fieldError.Namespace(), fieldError.Tag()))
	}
	return ocpp.NewError(ocpp.FormationViolation, fmt.Sprintf("%s: %s", action, err))
}

func remoteStartTransaction(ctx Context, request *core.RemoteStartTransactionRequest) ocpp.Response {
	if !ctx.CanStartTransaction(request.ConnectorId, request.IdTag) {
		return core.RemoteStartTransactionResponse{Status: types.RemoteStartStopStatusRejected}
	}
	ctx.StartLocalFlow(request.ConnectorId, request.IdTag, request.ChargingProfile)
	return core.RemoteStartTransactionResponse{Status: types.RemoteStartStopStatusAccepted}
}

func remoteStopTransaction(ctx Context, request *core.RemoteStopTransactionRequest) ocpp.Response {
	ctx.StopLocalFlow(*request.TransactionId, core.ReasonRemote)
	return core.RemoteStopTransactionResponse{Status: types.RemoteStartStopStatusAccepted}
}

func getConfiguration(ctx Context, request *core.GetConfigurationRequest) ocpp.Response {
	known, unknown := ctx.GetConfiguration(request.Key)
	if known == nil {
		known = []core.ConfigurationKey{}
	}
	if unknown == nil {
		unknown = []string{}
	}
	return core.GetConfigurationResponse{ConfigurationKey: known, UnknownKey: unknown}
}

func getCompositeSchedule(ctx Context, request *smartcharging.GetCompositeScheduleRequest) ocpp.Response {
	unit := request.ChargingRateUnit
	if unit == "" {
		unit = types.ChargingRateUnitAmperes
	}
	schedule, ok := ctx.CompositeSchedule(*request.ConnectorId, *request.Duration, unit)
	if !ok {
		return smartcharging.GetCompositeScheduleResponse{Status: smartcharging.GetCompositeScheduleStatusRejected}
	}
	connectorId := *request.ConnectorId
	return smartcharging.GetCompositeScheduleResponse{
		Status:           smartcharging.GetCompositeScheduleStatusAccepted,
		ConnectorId:      &connectorId,
		ScheduleStart:    types.NewDateTime(ctx.Now()),
		ChargingSchedule: schedule,
	}
}

func dataTransfer(request *core.DataTransferRequest) ocpp.Response {
	data := request.Data
	if data == nil {
		data = "ok"
	}
	return core.DataTransferResponse{Status: core.DataTransferStatusAccepted, Data: data}
}
