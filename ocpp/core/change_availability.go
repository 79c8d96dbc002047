package core

const ChangeAvailabilityFeatureName = "ChangeAvailability"

type AvailabilityType string
type AvailabilityStatus string

const (
	AvailabilityTypeOperative   AvailabilityType   = "Operative"
	AvailabilityTypeInoperative AvailabilityType   = "Inoperative"
	AvailabilityStatusAccepted  AvailabilityStatus = "Accepted"
	AvailabilityStatusRejected  AvailabilityStatus = "Rejected"
	AvailabilityStatusScheduled AvailabilityStatus = "Scheduled"
)

type ChangeAvailabilityRequest struct {
	ConnectorId *int             `json:"connectorId" validate:"required,gte=0"`
	Type        AvailabilityType `json:"type" validate:"required,oneof=Operative Inoperative"`
}

type ChangeAvailabilityResponse struct {
	Status AvailabilityStatus `json:"status"`
}

func (r ChangeAvailabilityRequest) GetFeatureName() string {
	return ChangeAvailabilityFeatureName
}

func (c ChangeAvailabilityResponse) GetFeatureName() string {
	return ChangeAvailabilityFeatureName
}
