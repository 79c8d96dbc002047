package emulator

import (
	"evsim/ocpp/smartcharging"
	"evsim/types"
	"math"
	"time"
)

const (
	acPhaseVoltage = 230.0
	acPhases       = 3
)

// profileStore keeps installed charging profiles per connector, connector 0 being the whole
// charge point.
type profileStore struct {
	profiles map[int][]*types.ChargingProfile
}

func newProfileStore() *profileStore {
	return &profileStore{profiles: make(map[int][]*types.ChargingProfile)}
}

// Set installs a profile, replacing one with the same id or the same purpose and stack level.
func (s *profileStore) Set(connectorId int, profile *types.ChargingProfile) {
	for id, list := range s.profiles {
		kept := list[:0]
		for _, p := range list {
			samePlace := id == connectorId && p.ChargingProfilePurpose == profile.ChargingProfilePurpose && p.StackLevel == profile.StackLevel
			if p.ChargingProfileId == profile.ChargingProfileId || samePlace {
				continue
			}
			kept = append(kept, p)
		}
		s.profiles[id] = kept
	}
	s.profiles[connectorId] = append(s.profiles[connectorId], profile)
}

// Clear removes the profiles matching every field set in the filter and reports how many went.
func (s *profileStore) Clear(filter *smartcharging.ClearChargingProfileRequest) int {
	removed := 0
	for id, list := range s.profiles {
		kept := list[:0]
		for _, p := range list {
			if matches(filter, id, p) {
				removed++
				continue
			}
			kept = append(kept, p)
		}
		s.profiles[id] = kept
	}
	return removed
}

func matches(filter *smartcharging.ClearChargingProfileRequest, connectorId int, profile *types.ChargingProfile) bool {
	if filter == nil {
		return true
	}
	if filter.Id != nil && *filter.Id != profile.ChargingProfileId {
		return false
	}
	if filter.ConnectorId != nil && *filter.ConnectorId != connectorId {
		return false
	}
	if filter.ChargingProfilePurpose != "" && filter.ChargingProfilePurpose != profile.ChargingProfilePurpose {
		return false
	}
	if filter.StackLevel != nil && *filter.StackLevel != profile.StackLevel {
		return false
	}
	return true
}

// ClearTransaction drops the transaction profiles of a connector once its transaction ended.
func (s *profileStore) ClearTransaction(connectorId int) {
	purpose := types.ChargingProfilePurposeTxProfile
	s.Clear(&smartcharging.ClearChargingProfileRequest{ConnectorId: &connectorId, ChargingProfilePurpose: purpose})
}

func (s *profileStore) Len() int {
	n := 0
	for _, list := range s.profiles {
		n += len(list)
	}
	return n
}

// top returns the valid profile with the highest stack level among the connectors and purpose.
func (s *profileStore) top(purpose types.ChargingProfilePurposeType, now time.Time, connectorIds ...int) *types.ChargingProfile {
	var best *types.ChargingProfile
	for _, id := range connectorIds {
		for _, p := range s.profiles[id] {
			if p.ChargingProfilePurpose != purpose || !valid(p, now) {
				continue
			}
			if best == nil || p.StackLevel > best.StackLevel {
				best = p
			}
		}
	}
	return best
}

func valid(profile *types.ChargingProfile, now time.Time) bool {
	if profile.ValidFrom != nil && !profile.ValidFrom.IsZero() && now.Before(profile.ValidFrom.Time) {
		return false
	}
	if profile.ValidTo != nil && !profile.ValidTo.IsZero() && now.After(profile.ValidTo.Time) {
		return false
	}
	return profile.ChargingSchedule != nil
}

// electrical converts schedule limits between amperes, watts and kilowatts for one charge point.
type electrical struct {
	dc       bool
	voltageV float64
}

func (e electrical) toKW(limit float64, unit types.ChargingRateUnitType, phases *int) float64 {
	if unit == types.ChargingRateUnitWatts {
		return limit / 1000
	}
	if e.dc {
		return limit * e.voltageV / 1000
	}
	n := acPhases
	if phases != nil && *phases > 0 {
		n = *phases
	}
	return limit * acPhaseVoltage * float64(n) / 1000
}

func (e electrical) fromKW(kw float64, unit types.ChargingRateUnitType) float64 {
	if unit == types.ChargingRateUnitWatts {
		return math.Round(kw * 1000)
	}
	if e.dc {
		return math.Round(kw*1000/e.voltageV*10) / 10
	}
	return math.Round(kw*1000/(acPhaseVoltage*acPhases)*10) / 10
}

func profileKW(profile *types.ChargingProfile, e electrical) float64 {
	schedule := profile.ChargingSchedule
	var phases *int
	for _, period := range schedule.ChargingSchedulePeriod {
		if period.StartPeriod == 0 {
			phases = period.NumberPhases
			break
		}
	}
	return e.toKW(schedule.FirstLimit(), schedule.ChargingRateUnit, phases)
}

// LimitKW is the power cap of a connector: the lower of the charge point maximum and the
// transaction (or default) profile.
func (s *profileStore) LimitKW(connectorId int, now time.Time, e electrical) (float64, bool) {
	limit := math.Inf(1)
	if p := s.top(types.ChargingProfilePurposeChargePointMaxProfile, now, 0); p != nil {
		limit = math.Min(limit, profileKW(p, e))
	}
	tx := s.top(types.ChargingProfilePurposeTxProfile, now, connectorId)
	if tx == nil {
		tx = s.top(types.ChargingProfilePurposeTxDefaultProfile, now, connectorId)
	}
	if tx == nil {
		tx = s.top(types.ChargingProfilePurposeTxDefaultProfile, now, 0)
	}
	if tx != nil {
		limit = math.Min(limit, profileKW(tx, e))
	}
	if math.IsInf(limit, 1) {
		return 0, false
	}
	return limit, true
}
