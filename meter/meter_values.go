package meter

import (
	"evsim/ocpp/core"
	"evsim/types"
	"evsim/utility"
	"math"
	"time"
)

// DefaultMeasurands are sampled when configuration names none.
var DefaultMeasurands = []types.Measurand{
	types.MeasurandEnergyActiveImportRegister,
	types.MeasurandPowerActiveImport,
	types.MeasurandCurrentImport,
	types.MeasurandVoltage,
	types.MeasurandSoC,
}

// MeterValues builds the request reporting state, restricted to the given measurands.
func (e *Engine) MeterValues(connectorId int, transactionId *int, state State, measurands []types.Measurand, sampleContext types.ReadingContext, now time.Time) *core.MeterValuesRequest {
	if len(measurands) == 0 {
		measurands = DefaultMeasurands
	}
	sampled := make([]types.SampledValue, 0, len(measurands))
	add := func(measurand types.Measurand, unit types.UnitOfMeasure, value string, location types.Location) {
		sampled = append(sampled, types.SampledValue{
			Value:     value,
			Context:   sampleContext,
			Measurand: measurand,
			Location:  location,
			Unit:      unit,
		})
	}
	for _, measurand := range measurands {
		switch measurand {
		case types.MeasurandEnergyActiveImportRegister:
			add(measurand, types.UnitOfMeasureWh, utility.Decimal(math.Max(0, state.EnergyWh), 3), "")
		case types.MeasurandPowerActiveImport:
			add(measurand, types.UnitOfMeasureW, utility.Decimal(math.Max(0, state.PowerKW*1000), 0), "")
		case types.MeasurandPowerOffered:
			add(measurand, types.UnitOfMeasureW, utility.Decimal(e.config.StationMaxKW*1000, 0), "")
		case types.MeasurandCurrentImport:
			add(measurand, types.UnitOfMeasureA, utility.Decimal(math.Max(0, state.CurrentA), 3), "")
		case types.MeasurandCurrentOffered:
			add(measurand, types.UnitOfMeasureA, utility.Decimal(e.config.OfferedCurrent(state.VoltageV), 3), "")
		case types.MeasurandVoltage:
			add(measurand, types.UnitOfMeasureV, utility.Decimal(math.Max(0, state.VoltageV), 2), "")
		case types.MeasurandSoC:
			add(measurand, types.UnitOfMeasurePercent, utility.Decimal(utility.Clamp(state.SocPct, 0, 100), 3), e.config.SocLocation)
		}
	}
	return &core.MeterValuesRequest{
		ConnectorId:   connectorId,
		TransactionId: transactionId,
		MeterValue: []types.MeterValue{
			{Timestamp: types.NewDateTime(now), SampledValue: sampled},
		},
	}
}
