package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"evsim/ocpp"
	"evsim/ocpp/core"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
	CommandStatus     = "status"
	CommandCall       = "call"
	CommandStart      = "start"
	CommandStop       = "stop"
)

var ErrInvalidCommand = errors.New("invalid command")

var commandValidator = validator.New()

// Command is an operator request addressed to one charge point, received over HTTP or NATS.
type Command struct {
	Action        string          `json:"action" validate:"required,oneof=connect disconnect status call start stop"`
	ChargePointId string          `json:"charge_point_id" validate:"required"`
	ConnectorId   int             `json:"connector_id" validate:"gte=0"`
	IdTag         string          `json:"id_tag" validate:"max=20"`
	TransactionId int             `json:"transaction_id"`
	Reason        core.Reason     `json:"reason"`
	FeatureName   string          `json:"feature_name" validate:"required_if=Action call"`
	Payload       json.RawMessage `json:"payload"`
}

// Execute runs the command and returns what the caller should see: a snapshot for session
// commands, the CALLRESULT payload for calls.
func (m *Manager) Execute(ctx context.Context, command *Command) (interface{}, error) {
	if err := commandValidator.Struct(command); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCommand, err)
	}
	id := command.ChargePointId
	conf, ok := m.Config(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChargePoint, id)
	}

	switch command.Action {
	case CommandConnect:
		if _, err := m.Connect(ctx, id); err != nil {
			return nil, err
		}
	case CommandDisconnect:
		if err := m.Disconnect(id); err != nil {
			return nil, err
		}
	case CommandStatus:
	case CommandCall:
		cp, ok := m.Get(id)
		if !ok {
			return nil, ocpp.ErrNotConnected
		}
		return cp.CallAction(ctx, command.FeatureName, command.Payload)
	case CommandStart:
		cp, ok := m.Get(id)
		if !ok {
			return nil, ocpp.ErrNotConnected
		}
		connectorId := command.ConnectorId
		if connectorId == 0 {
			connectorId = 1
		}
		idTag := command.IdTag
		if idTag == "" {
			idTag = conf.IdTag
		}
		if err := cp.StartLocalFlow(connectorId, idTag); err != nil {
			return nil, err
		}
	case CommandStop:
		cp, ok := m.Get(id)
		if !ok {
			return nil, ocpp.ErrNotConnected
		}
		transactionId, err := stopTarget(cp, command)
		if err != nil {
			return nil, err
		}
		reason := command.Reason
		if reason == "" {
			reason = core.ReasonLocal
		}
		if err = cp.StopLocalFlow(transactionId, reason); err != nil {
			return nil, err
		}
	}

	snapshot, _ := m.Snapshot(id)
	return snapshot, nil
}

// stopTarget picks the transaction named by the command, or the one running on its connector.
func stopTarget(cp *ChargePoint, command *Command) (int, error) {
	if command.TransactionId != 0 {
		return command.TransactionId, nil
	}
	connectorId := command.ConnectorId
	if connectorId == 0 {
		connectorId = 1
	}
	snapshot := cp.Snapshot()
	connector, ok := snapshot.Connector(connectorId)
	if !ok {
		return 0, ErrUnknownConnector
	}
	if connector.TransactionId == nil {
		return 0, ErrNoTransaction
	}
	return *connector.TransactionId, nil
}

// ErrorCode classifies a command failure for API responses.
func ErrorCode(err error) string {
	var ocppErr *ocpp.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ocppErr):
		return string(ocppErr.Code)
	case errors.Is(err, ErrInvalidCommand):
		return "invalid_command"
	case errors.Is(err, ErrUnknownChargePoint):
		return "unknown_charge_point"
	case errors.Is(err, ErrUnknownConnector):
		return "unknown_connector"
	case errors.Is(err, ErrAlreadyConnected):
		return "already_connected"
	case errors.Is(err, ErrConnectorBusy):
		return "connector_busy"
	case errors.Is(err, ErrNoTransaction):
		return "no_transaction"
	case errors.Is(err, ocpp.ErrNotConnected), errors.Is(err, ocpp.ErrConnectionClosed):
		return "not_connected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "failed"
	}
}
