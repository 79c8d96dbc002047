package firmware

const FirmwareStatusNotificationFeatureName = "FirmwareStatusNotification"

type FirmwareStatus string

const (
	FirmwareStatusDownloaded         FirmwareStatus = "Downloaded"
	FirmwareStatusDownloadFailed     FirmwareStatus = "DownloadFailed"
	FirmwareStatusDownloading        FirmwareStatus = "Downloading"
	FirmwareStatusIdle               FirmwareStatus = "Idle"
	FirmwareStatusInstallationFailed FirmwareStatus = "InstallationFailed"
	FirmwareStatusInstalling         FirmwareStatus = "Installing"
	FirmwareStatusInstalled          FirmwareStatus = "Installed"
)

// FirmwareLifecycle is the order in which an accepted update reports progress.
var FirmwareLifecycle = []FirmwareStatus{
	FirmwareStatusDownloading,
	FirmwareStatusDownloaded,
	FirmwareStatusInstalling,
	FirmwareStatusInstalled,
}

type FirmwareStatusNotificationRequest struct {
	Status FirmwareStatus `json:"status" validate:"required"`
}

type FirmwareStatusNotificationResponse struct {
}

func (r FirmwareStatusNotificationRequest) GetFeatureName() string {
	return FirmwareStatusNotificationFeatureName
}

func (c FirmwareStatusNotificationResponse) GetFeatureName() string {
	return FirmwareStatusNotificationFeatureName
}
