package emulator

import (
	"evsim/ocpp/smartcharging"
	"evsim/types"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profile(id, stackLevel int, purpose types.ChargingProfilePurposeType, unit types.ChargingRateUnitType, limit float64) *types.ChargingProfile {
	return &types.ChargingProfile{
		ChargingProfileId:      id,
		StackLevel:             stackLevel,
		ChargingProfilePurpose: purpose,
		ChargingProfileKind:    types.ChargingProfileKindAbsolute,
		ChargingSchedule: &types.ChargingSchedule{
			ChargingRateUnit:       unit,
			ChargingSchedulePeriod: []types.ChargingSchedulePeriod{{StartPeriod: 0, Limit: limit}},
		},
	}
}

func TestElectricalConversion(t *testing.T) {
	ac := electrical{}
	dc := electrical{dc: true, voltageV: 500}
	single := 1

	assert.InDelta(t, 11.04, ac.toKW(16, types.ChargingRateUnitAmperes, nil), 0.001)
	assert.InDelta(t, 3.68, ac.toKW(16, types.ChargingRateUnitAmperes, &single), 0.001)
	assert.InDelta(t, 7.4, ac.toKW(7400, types.ChargingRateUnitWatts, nil), 0.001)
	assert.InDelta(t, 50, dc.toKW(100, types.ChargingRateUnitAmperes, nil), 0.001)

	assert.Equal(t, 7400.0, ac.fromKW(7.4, types.ChargingRateUnitWatts))
	assert.Equal(t, 16.0, ac.fromKW(11.04, types.ChargingRateUnitAmperes))
	assert.Equal(t, 100.0, dc.fromKW(50, types.ChargingRateUnitAmperes))
}

func TestProfileLimit(t *testing.T) {
	s := newProfileStore()
	e := electrical{}
	now := time.Now()

	_, ok := s.LimitKW(1, now, e)
	assert.False(t, ok)

	s.Set(0, profile(1, 0, types.ChargingProfilePurposeTxDefaultProfile, types.ChargingRateUnitWatts, 11000))
	limit, ok := s.LimitKW(1, now, e)
	require.True(t, ok)
	assert.InDelta(t, 11, limit, 0.001)

	s.Set(1, profile(2, 0, types.ChargingProfilePurposeTxProfile, types.ChargingRateUnitWatts, 7000))
	limit, _ = s.LimitKW(1, now, e)
	assert.InDelta(t, 7, limit, 0.001)
	limit, _ = s.LimitKW(2, now, e)
	assert.InDelta(t, 11, limit, 0.001)

	// the charge point maximum caps every connector
	s.Set(0, profile(3, 0, types.ChargingProfilePurposeChargePointMaxProfile, types.ChargingRateUnitWatts, 5000))
	limit, _ = s.LimitKW(1, now, e)
	assert.InDelta(t, 5, limit, 0.001)

	// higher stack level wins
	s.Set(1, profile(4, 2, types.ChargingProfilePurposeTxProfile, types.ChargingRateUnitWatts, 2000))
	limit, _ = s.LimitKW(1, now, e)
	assert.InDelta(t, 2, limit, 0.001)

	s.ClearTransaction(1)
	limit, _ = s.LimitKW(1, now, e)
	assert.InDelta(t, 5, limit, 0.001)
	assert.Equal(t, 2, s.Len())
}

func TestProfileValidity(t *testing.T) {
	s := newProfileStore()
	now := time.Now()
	p := profile(1, 0, types.ChargingProfilePurposeTxDefaultProfile, types.ChargingRateUnitWatts, 3000)
	p.ValidFrom = types.NewDateTime(now.Add(time.Hour))
	s.Set(0, p)

	_, ok := s.LimitKW(1, now, electrical{})
	assert.False(t, ok)
	_, ok = s.LimitKW(1, now.Add(2*time.Hour), electrical{})
	assert.True(t, ok)
}

func TestProfileSetReplaces(t *testing.T) {
	s := newProfileStore()
	s.Set(1, profile(1, 0, types.ChargingProfilePurposeTxDefaultProfile, types.ChargingRateUnitWatts, 3000))
	s.Set(1, profile(2, 0, types.ChargingProfilePurposeTxDefaultProfile, types.ChargingRateUnitWatts, 4000))
	assert.Equal(t, 1, s.Len(), "same purpose and stack level")

	s.Set(2, profile(2, 0, types.ChargingProfilePurposeTxDefaultProfile, types.ChargingRateUnitWatts, 5000))
	assert.Equal(t, 1, s.Len(), "same id moves to the new connector")
	_, ok := s.LimitKW(1, time.Now(), electrical{})
	assert.False(t, ok)
}

func TestProfileClearFilter(t *testing.T) {
	s := newProfileStore()
	s.Set(0, profile(1, 0, types.ChargingProfilePurposeChargePointMaxProfile, types.ChargingRateUnitWatts, 20000))
	s.Set(1, profile(2, 0, types.ChargingProfilePurposeTxDefaultProfile, types.ChargingRateUnitWatts, 3000))
	s.Set(2, profile(3, 1, types.ChargingProfilePurposeTxDefaultProfile, types.ChargingRateUnitWatts, 3000))

	id := 9
	assert.Equal(t, 0, s.Clear(&smartcharging.ClearChargingProfileRequest{Id: &id}))

	level := 1
	assert.Equal(t, 1, s.Clear(&smartcharging.ClearChargingProfileRequest{
		ChargingProfilePurpose: types.ChargingProfilePurposeTxDefaultProfile,
		StackLevel:             &level,
	}))
	assert.Equal(t, 2, s.Clear(&smartcharging.ClearChargingProfileRequest{}))
	assert.Equal(t, 0, s.Len())
}
