package core

import (
	"evsim/types"
	"time"
)

const StatusNotificationFeatureName = "StatusNotification"

type StatusNotificationRequest struct {
	ConnectorId     int                        `json:"connectorId" validate:"gte=0"`
	ErrorCode       types.ChargePointErrorCode `json:"errorCode" validate:"required"`
	Info            string                     `json:"info,omitempty" validate:"max=50"`
	Status          types.ChargePointStatus    `json:"status" validate:"required"`
	Timestamp       *types.DateTime            `json:"timestamp,omitempty" validate:"omitempty"`
	VendorId        string                     `json:"vendorId,omitempty" validate:"max=255"`
	VendorErrorCode string                     `json:"vendorErrorCode,omitempty" validate:"max=50"`
}

type StatusNotificationResponse struct {
}

func (r StatusNotificationRequest) GetFeatureName() string {
	return StatusNotificationFeatureName
}

func (c StatusNotificationResponse) GetFeatureName() string {
	return StatusNotificationFeatureName
}

func NewStatusNotificationRequest(connectorId int, status types.ChargePointStatus, now time.Time) *StatusNotificationRequest {
	return &StatusNotificationRequest{
		ConnectorId: connectorId,
		ErrorCode:   types.NoError,
		Status:      status,
		Timestamp:   types.NewDateTime(now),
	}
}
