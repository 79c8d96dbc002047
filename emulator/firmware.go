package emulator

import (
	"evsim/ocpp/firmware"
	"evsim/utility"
	"fmt"
	"time"
)

// updateFirmware reports the download and install steps one firmware step apart, starting at
// the retrieve date.
func (cp *ChargePoint) updateFirmware(location string, retrieveDate time.Time) {
	for _, timer := range cp.firmwareTimers {
		timer.Stop()
	}
	cp.firmwareTimers = nil

	delay := retrieveDate.Sub(cp.clock())
	if delay < 0 {
		delay = 0
	}
	cp.logger.FeatureEvent(featureName, cp.id, fmt.Sprintf("firmware update from %s in %s", location, delay.Round(time.Second)))
	for i, status := range firmware.FirmwareLifecycle {
		status := status
		timer := cp.after(delay+time.Duration(i+1)*cp.firmwareStep, func() {
			cp.firmwareStatus = status
			cp.notify(&firmware.FirmwareStatusNotificationRequest{Status: status})
			if status == firmware.FirmwareStatusInstalled {
				cp.logger.FeatureEvent(featureName, cp.id, fmt.Sprintf("firmware from %s installed", location))
			}
		})
		cp.firmwareTimers = append(cp.firmwareTimers, timer)
	}
}

// getDiagnostics names the file right away and reports the upload afterwards.
func (cp *ChargePoint) getDiagnostics(location string) string {
	fileName := fmt.Sprintf("diagnostics-%s-%s.log", cp.id, utility.NewUUID()[:8])
	for i, status := range firmware.DiagnosticsLifecycle {
		status := status
		cp.after(time.Duration(i+1)*cp.firmwareStep, func() {
			cp.diagnosticsStatus = status
			cp.notify(&firmware.DiagnosticsStatusNotificationRequest{Status: status})
		})
	}
	cp.logger.FeatureEvent(featureName, cp.id, fmt.Sprintf("uploading %s to %s", fileName, location))
	return fileName
}
