package smartcharging

import "evsim/types"

const SetChargingProfileFeatureName = "SetChargingProfile"

type ChargingProfileStatus string

const (
	ChargingProfileStatusAccepted       ChargingProfileStatus = "Accepted"
	ChargingProfileStatusRejected       ChargingProfileStatus = "Rejected"
	ChargingProfileStatusNotSupported   ChargingProfileStatus = "NotSupported"
	ChargingProfileStatusNotImplemented ChargingProfileStatus = "NotImplemented"
)

type SetChargingProfileRequest struct {
	ConnectorId        *int                   `json:"connectorId" validate:"required,gte=0"`
	CsChargingProfiles *types.ChargingProfile `json:"csChargingProfiles" validate:"required"`
}

type SetChargingProfileResponse struct {
	Status ChargingProfileStatus `json:"status"`
}

func (r SetChargingProfileRequest) GetFeatureName() string {
	return SetChargingProfileFeatureName
}

func (c SetChargingProfileResponse) GetFeatureName() string {
	return SetChargingProfileFeatureName
}
