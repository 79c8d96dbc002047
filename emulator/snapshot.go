package emulator

import (
	"evsim/meter"
	"evsim/ocpp/firmware"
	"time"
)

// Snapshot is a read-only view of a charge point, refreshed after every event it handles.
type Snapshot struct {
	Id                string                     `json:"id"`
	Status            Status                     `json:"status"`
	Url               string                     `json:"url"`
	Protocol          string                     `json:"protocol"`
	Mode              string                     `json:"mode"`
	Vendor            string                     `json:"vendor"`
	Model             string                     `json:"model"`
	FirmwareVersion   string                     `json:"firmware_version"`
	FirmwareStatus    firmware.FirmwareStatus    `json:"firmware_status"`
	DiagnosticsStatus firmware.DiagnosticsStatus `json:"diagnostics_status"`
	PendingCalls      int                        `json:"pending_calls"`
	LocalListVersion  int                        `json:"local_list_version"`
	Connectors        []ConnectorSnapshot        `json:"connectors"`
	UpdatedAt         time.Time                  `json:"updated_at"`
}

type ConnectorSnapshot struct {
	Connector
	Meter   meter.State `json:"meter"`
	LimitKW *float64    `json:"limit_kw,omitempty"`
}

// Connector returns the snapshot of one connector.
func (s *Snapshot) Connector(connectorId int) (ConnectorSnapshot, bool) {
	for _, c := range s.Connectors {
		if c.Id == connectorId {
			return c, true
		}
	}
	return ConnectorSnapshot{}, false
}

func (cp *ChargePoint) Snapshot() Snapshot {
	cp.mutex.RLock()
	defer cp.mutex.RUnlock()
	snapshot := cp.snapshot
	snapshot.Status = cp.status
	snapshot.Connectors = make([]ConnectorSnapshot, len(cp.snapshot.Connectors))
	copy(snapshot.Connectors, cp.snapshot.Connectors)
	return snapshot
}

// publish copies the state owned by the charge point goroutine into the snapshot.
func (cp *ChargePoint) publish() {
	now := cp.clock()
	snapshot := Snapshot{
		Id:                cp.id,
		Url:               cp.conf.Url,
		Protocol:          cp.conf.Protocol,
		Mode:              cp.conf.Mode,
		Vendor:            cp.conf.Vendor,
		Model:             cp.conf.Model,
		FirmwareVersion:   cp.conf.FirmwareVersion,
		FirmwareStatus:    cp.firmwareStatus,
		DiagnosticsStatus: cp.diagnosticsStatus,
		PendingCalls:      cp.pending.Len(),
		LocalListVersion:  cp.localList.Version(),
		Connectors:        make([]ConnectorSnapshot, 0, len(cp.connectors)),
		UpdatedAt:         now,
	}
	for _, id := range cp.connectorIds() {
		c := cp.connectors[id]
		state, ok := cp.engine.GetState(id)
		if !ok || c.TransactionId == nil {
			state = cp.engine.IdleState(c.MeterWh, now)
		}
		connector := ConnectorSnapshot{Connector: *c, Meter: state.Rounded()}
		if limit, ok := cp.profiles.LimitKW(id, now, cp.electrical); ok {
			connector.LimitKW = &limit
		}
		snapshot.Connectors = append(snapshot.Connectors, connector)
	}

	cp.mutex.Lock()
	cp.snapshot = snapshot
	cp.mutex.Unlock()
}
