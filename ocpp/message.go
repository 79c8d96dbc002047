package ocpp

import (
	"encoding/json"
	"evsim/utility"
	"fmt"
)

type CallType int

const (
	CallTypeRequest CallType = 2
	CallTypeResult  CallType = 3
	CallTypeError   CallType = 4
)

func (t CallType) String() string {
	switch t {
	case CallTypeRequest:
		return "CALL"
	case CallTypeResult:
		return "CALLRESULT"
	case CallTypeError:
		return "CALLERROR"
	default:
		return fmt.Sprintf("CallType(%d)", int(t))
	}
}

// Message is one of *Call, *CallResult or *CallError.
type Message interface {
	GetMessageTypeId() CallType
	GetUniqueId() string
	json.Marshaler
}

// Call An OCPP-J Call message, containing an OCPP Request.
type Call struct {
	UniqueId string
	Action   string
	Payload  json.RawMessage
}

// CallResult An OCPP-J CallResult message, containing an OCPP Response.
type CallResult struct {
	UniqueId string
	Payload  json.RawMessage
}

// CallError An OCPP-J CallError message.
type CallError struct {
	UniqueId         string
	ErrorCode        ErrorCode
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

func (c *Call) GetMessageTypeId() CallType       { return CallTypeRequest }
func (c *Call) GetUniqueId() string              { return c.UniqueId }
func (c *CallResult) GetMessageTypeId() CallType { return CallTypeResult }
func (c *CallResult) GetUniqueId() string        { return c.UniqueId }
func (c *CallError) GetMessageTypeId() CallType  { return CallTypeError }
func (c *CallError) GetUniqueId() string         { return c.UniqueId }

func (c *Call) MarshalJSON() ([]byte, error) {
	fields := make([]interface{}, 4)
	fields[0] = int(CallTypeRequest)
	fields[1] = c.UniqueId
	fields[2] = c.Action
	fields[3] = payloadOrEmpty(c.Payload)
	return json.Marshal(fields)
}

func (c *CallResult) MarshalJSON() ([]byte, error) {
	fields := make([]interface{}, 3)
	fields[0] = int(CallTypeResult)
	fields[1] = c.UniqueId
	fields[2] = payloadOrEmpty(c.Payload)
	return json.Marshal(fields)
}

func (c *CallError) MarshalJSON() ([]byte, error) {
	fields := make([]interface{}, 5)
	fields[0] = int(CallTypeError)
	fields[1] = c.UniqueId
	fields[2] = c.ErrorCode
	fields[3] = c.ErrorDescription
	fields[4] = payloadOrEmpty(c.ErrorDetails)
	return json.Marshal(fields)
}

// AsError converts a received CALLERROR into a Go error.
func (c *CallError) AsError() *Error {
	var details interface{}
	if len(c.ErrorDetails) > 0 {
		_ = json.Unmarshal(c.ErrorDetails, &details)
	}
	return &Error{Code: c.ErrorCode, Description: c.ErrorDescription, Details: details}
}

func payloadOrEmpty(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return json.RawMessage("{}")
	}
	return payload
}

// NewCall builds a CALL with a fresh random message id.
func NewCall(action string, request Request) (*Call, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	return &Call{UniqueId: utility.NewUUID(), Action: action, Payload: payload}, nil
}

func NewCallResult(uniqueId string, response Response) (*CallResult, error) {
	payload, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}
	return &CallResult{UniqueId: uniqueId, Payload: payload}, nil
}

func NewCallError(uniqueId string, err *Error) *CallError {
	callError := &CallError{
		UniqueId:         uniqueId,
		ErrorCode:        err.Code,
		ErrorDescription: err.Description,
	}
	if err.Details != nil {
		if details, e := json.Marshal(err.Details); e == nil {
			callError.ErrorDetails = details
		}
	}
	return callError
}

// Encode serializes a frame to its wire representation.
func Encode(message Message) ([]byte, error) {
	return message.MarshalJSON()
}

// Decode parses raw bytes into a frame. Malformed input yields a *ParseError.
func Decode(data []byte) (Message, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &ParseError{Reason: "not a json array", Raw: data}
	}
	message, err := ParseMessage(fields)
	if err != nil {
		if parseErr, ok := err.(*ParseError); ok {
			parseErr.Raw = data
		}
		return nil, err
	}
	return message, nil
}

// ParseMessage classifies the elements of a decoded array by type id and arity.
func ParseMessage(fields []json.RawMessage) (Message, error) {
	if len(fields) < 3 {
		return nil, &ParseError{Reason: fmt.Sprintf("array of %d elements", len(fields))}
	}
	var typeId int
	if err := json.Unmarshal(fields[0], &typeId); err != nil {
		return nil, &ParseError{Reason: "message type id is not a number"}
	}
	var uniqueId string
	if err := json.Unmarshal(fields[1], &uniqueId); err != nil || uniqueId == "" {
		return nil, &ParseError{Reason: "message id is not a string"}
	}

	switch CallType(typeId) {
	case CallTypeRequest:
		if len(fields) != 4 {
			return nil, &ParseError{Reason: "CALL must have 4 elements"}
		}
		var action string
		if err := json.Unmarshal(fields[2], &action); err != nil || action == "" {
			return nil, &ParseError{Reason: "action is not a string"}
		}
		return &Call{UniqueId: uniqueId, Action: action, Payload: fields[3]}, nil
	case CallTypeResult:
		if len(fields) != 3 {
			return nil, &ParseError{Reason: "CALLRESULT must have 3 elements"}
		}
		return &CallResult{UniqueId: uniqueId, Payload: fields[2]}, nil
	case CallTypeError:
		if len(fields) < 4 || len(fields) > 5 {
			return nil, &ParseError{Reason: "CALLERROR must have 5 elements"}
		}
		callError := &CallError{UniqueId: uniqueId}
		var code string
		if err := json.Unmarshal(fields[2], &code); err != nil {
			return nil, &ParseError{Reason: "error code is not a string"}
		}
		callError.ErrorCode = ErrorCode(code)
		_ = json.Unmarshal(fields[3], &callError.ErrorDescription)
		if len(fields) == 5 {
			callError.ErrorDetails = fields[4]
		}
		return callError, nil
	default:
		return nil, &ParseError{Reason: fmt.Sprintf("unknown message type id %d", typeId)}
	}
}
