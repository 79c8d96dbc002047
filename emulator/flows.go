package emulator

import (
	"errors"
	"evsim/ocpp"
	"evsim/ocpp/core"
	"evsim/types"
	"fmt"
	"math"
)

// StartLocalFlow starts a transaction on the connector as if idTag had been presented locally.
// The flow continues in the background; its progress shows in the frames and the snapshot.
func (cp *ChargePoint) StartLocalFlow(connectorId int, idTag string) error {
	if cp.Status() != StatusConnected {
		return ocpp.ErrNotConnected
	}
	var err error
	done := cp.do(func() {
		c, ok := cp.connectors[connectorId]
		if !ok {
			err = ErrUnknownConnector
			return
		}
		if c.busy() || !c.operative() {
			err = ErrConnectorBusy
			return
		}
		if _, allowed := cp.reservationFor(connectorId, idTag); !allowed {
			err = fmt.Errorf("%w: reserved for another id tag", ErrConnectorBusy)
			return
		}
		c.starting = true
		cp.schedule(func() {
			go cp.runStartFlow(connectorId, idTag)
		})
	})
	if !done {
		return ocpp.ErrConnectionClosed
	}
	return err
}

// StopLocalFlow stops a running transaction in the background.
func (cp *ChargePoint) StopLocalFlow(transactionId int, reason core.Reason) error {
	if cp.Status() != StatusConnected {
		return ocpp.ErrNotConnected
	}
	var err error
	done := cp.do(func() {
		if cp.connectorByTransaction(transactionId) == nil {
			err = ErrNoTransaction
			return
		}
		cp.startStopFlow(transactionId, reason)
	})
	if !done {
		return ocpp.ErrConnectionClosed
	}
	return err
}

func (cp *ChargePoint) startStopFlow(transactionId int, reason core.Reason) {
	cp.schedule(func() {
		go cp.runStopFlow(transactionId, reason)
	})
}

// runStartFlow authorizes the id tag and sends StartTransaction. The result hook binds the
// transaction; failures return the connector to its idle status.
func (cp *ChargePoint) runStartFlow(connectorId int, idTag string) {
	authorized := false
	cp.do(func() {
		if cp.configuration.Bool(KeyLocalPreAuthorize) {
			info, ok := cp.localList.Lookup(idTag)
			authorized = ok && info.Status == types.AuthorizationStatusAccepted
		}
	})

	if !authorized {
		payload, err := cp.Call(cp.ctx, core.NewAuthorizeRequest(idTag))
		switch {
		case errors.Is(err, ocpp.ErrConnectionClosed) || errors.Is(err, ocpp.ErrNotConnected):
			return
		case err != nil:
			cp.logger.Warn(fmt.Sprintf("[%s] authorize %s: %s", cp.id, idTag, err))
		default:
			var response core.AuthorizeResponse
			if err = ocpp.UnmarshalPayload(payload, &response); err == nil && response.IdTagInfo != nil &&
				response.IdTagInfo.Status != types.AuthorizationStatusAccepted {
				cp.logger.FeatureEvent(featureName, cp.id, fmt.Sprintf("id tag %s not authorized: %s", idTag, response.IdTagInfo.Status))
				cp.do(func() { cp.abortStart(connectorId) })
				return
			}
		}
	}

	var request *core.StartTransactionRequest
	cp.do(func() {
		c, ok := cp.connectors[connectorId]
		if !ok || c.TransactionId != nil {
			return
		}
		reservationId, allowed := cp.reservationFor(connectorId, idTag)
		if !allowed {
			cp.abortStart(connectorId)
			return
		}
		cp.setConnectorStatus(c, types.ChargePointStatusPreparing)
		request = &core.StartTransactionRequest{
			ConnectorId:   connectorId,
			IdTag:         idTag,
			MeterStart:    int(math.Floor(c.MeterWh)),
			ReservationId: reservationId,
			Timestamp:     types.NewDateTime(cp.clock()),
		}
	})
	if request == nil {
		return
	}

	if _, err := cp.Call(cp.ctx, request); err != nil {
		cp.logger.Warn(fmt.Sprintf("[%s] start transaction on connector %d: %s", cp.id, connectorId, err))
		cp.do(func() { cp.abortStart(connectorId) })
	}
}

// runStopFlow takes a final reading and sends StopTransaction. The connector is released when
// the central system answers, or locally when the call fails.
func (cp *ChargePoint) runStopFlow(transactionId int, reason core.Reason) {
	var request *core.StopTransactionRequest
	cp.do(func() {
		c := cp.connectorByTransaction(transactionId)
		if c == nil || c.stopping {
			return
		}
		c.stopping = true
		now := cp.clock()
		cp.report(cp.engine.Tick(cp.ctx, now), now)
		cp.engine.Stop(cp.ctx, &transactionId)

		state, ok := cp.engine.GetState(c.Id)
		if !ok {
			state = cp.engine.IdleState(c.MeterWh, now)
		}
		if state.EnergyWh > c.MeterWh {
			c.MeterWh = state.EnergyWh
		}
		cp.setConnectorStatus(c, types.ChargePointStatusFinishing)

		measurands := cp.configuration.Measurands(KeyStopTxnSampledData)
		values := cp.engine.MeterValues(c.Id, &transactionId, state, measurands, types.ReadingContextTransactionEnd, now)
		request = &core.StopTransactionRequest{
			IdTag:           c.IdTag,
			MeterStop:       int(math.Floor(c.MeterWh)),
			Timestamp:       types.NewDateTime(now),
			TransactionId:   transactionId,
			Reason:          reason,
			TransactionData: values.MeterValue,
		}
	})
	if request == nil {
		return
	}

	if _, err := cp.Call(cp.ctx, request); err != nil {
		cp.logger.Warn(fmt.Sprintf("[%s] stop transaction %d: %s", cp.id, transactionId, err))
		cp.do(func() { cp.transactionStopped(transactionId, reason) })
	}
}
