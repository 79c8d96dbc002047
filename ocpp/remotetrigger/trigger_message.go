package remotetrigger

const TriggerMessageFeatureName = "TriggerMessage"

type MessageTrigger string

type TriggerMessageStatus string

const (
	BootNotification                   MessageTrigger       = "BootNotification"
	DiagnosticsStatusNotification      MessageTrigger       = "DiagnosticsStatusNotification"
	FirmwareStatusNotification         MessageTrigger       = "FirmwareStatusNotification"
	Heartbeat                          MessageTrigger       = "Heartbeat"
	MeterValues                        MessageTrigger       = "MeterValues"
	StatusNotification                 MessageTrigger       = "StatusNotification"
	TriggerMessageStatusAccepted       TriggerMessageStatus = "Accepted"
	TriggerMessageStatusRejected       TriggerMessageStatus = "Rejected"
	TriggerMessageStatusNotImplemented TriggerMessageStatus = "NotImplemented"
)

type TriggerMessageRequest struct {
	RequestedMessage MessageTrigger `json:"requestedMessage" validate:"required,max=50"`
	ConnectorId      *int           `json:"connectorId,omitempty" validate:"omitempty,gt=0"`
}

type TriggerMessageResponse struct {
	Status TriggerMessageStatus `json:"status"`
}

func (r TriggerMessageRequest) GetFeatureName() string {
	return TriggerMessageFeatureName
}

func (c TriggerMessageResponse) GetFeatureName() string {
	return TriggerMessageFeatureName
}
