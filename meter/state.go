package meter

import (
	"encoding/json"
	"evsim/utility"
	"fmt"
	"time"
)

// Key identifies one persisted session.
type Key struct {
	ChargePointId string
	ConnectorId   int
	TransactionId int
}

func (k Key) String() string {
	return fmt.Sprintf("meter:%s:%d:%d", k.ChargePointId, k.ConnectorId, k.TransactionId)
}

type State struct {
	SocPct     float64   `json:"socPct"`
	EnergyWh   float64   `json:"energyWh"`
	PowerKW    float64   `json:"powerKW"`
	CurrentA   float64   `json:"currentA"`
	VoltageV   float64   `json:"voltageV"`
	LastSample time.Time `json:"lastSample"`
}

type persistedState struct {
	SocPct        float64 `json:"socPct"`
	EnergyWh      float64 `json:"energyWh"`
	PowerKW       float64 `json:"powerKW"`
	CurrentA      float64 `json:"currentA"`
	VoltageV      float64 `json:"voltageV"`
	LastSampleIso string  `json:"lastSampleIso"`
}

// Rounded returns the state at the precision it is persisted with.
func (s State) Rounded() State {
	return State{
		SocPct:     utility.Round(s.SocPct, 4),
		EnergyWh:   utility.Round(s.EnergyWh, 3),
		PowerKW:    utility.Round(s.PowerKW, 4),
		CurrentA:   utility.Round(s.CurrentA, 3),
		VoltageV:   utility.Round(s.VoltageV, 2),
		LastSample: s.LastSample,
	}
}

func encodeState(s State) ([]byte, error) {
	r := s.Rounded()
	return json.Marshal(persistedState{
		SocPct:        r.SocPct,
		EnergyWh:      r.EnergyWh,
		PowerKW:       r.PowerKW,
		CurrentA:      r.CurrentA,
		VoltageV:      r.VoltageV,
		LastSampleIso: r.LastSample.UTC().Format(time.RFC3339Nano),
	})
}

// decodeState tolerates an unparsable timestamp; the next tick then integrates over one sample period.
func decodeState(data []byte) (State, error) {
	var p persistedState
	if err := json.Unmarshal(data, &p); err != nil {
		return State{}, err
	}
	state := State{
		SocPct:   utility.Clamp(p.SocPct, 0, 100),
		EnergyWh: maxFloat(0, p.EnergyWh),
		PowerKW:  p.PowerKW,
		CurrentA: p.CurrentA,
		VoltageV: p.VoltageV,
	}
	if t, err := time.Parse(time.RFC3339Nano, p.LastSampleIso); err == nil {
		state.LastSample = t
	}
	return state, nil
}
