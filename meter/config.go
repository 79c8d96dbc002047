package meter

import (
	"evsim/types"
	"evsim/utility"
	"time"
)

// Config describes the electrical envelope of a simulated charging session.
type Config struct {
	StationMaxKW       float64
	PackVoltageMinV    float64
	PackVoltageMaxV    float64
	SocStartPct        float64
	SamplePeriod       time.Duration
	NoiseKW            float64
	VirtualCapacityKWh float64
	OfferedCurrentA    float64
	MinPowerKW         float64
	// SocLocation tags SoC samples; empty omits the location.
	SocLocation types.Location
}

func DefaultConfig() Config {
	return Config{
		StationMaxKW:       120,
		PackVoltageMinV:    350,
		PackVoltageMaxV:    800,
		SocStartPct:        30,
		SamplePeriod:       5 * time.Second,
		NoiseKW:            0.5,
		VirtualCapacityKWh: 60,
		OfferedCurrentA:    32,
		MinPowerKW:         2,
		SocLocation:        types.LocationEV,
	}
}

// TaperKW is the power the pack accepts at the given state of charge.
func (c Config) TaperKW(socPct float64) float64 {
	soc := utility.Clamp(socPct, 0, 100)
	maxKW := c.StationMaxKW
	switch {
	case soc >= 100:
		return 0
	case soc < 60:
		return maxKW
	case soc < 80:
		t := (soc - 60) / 20
		return maxKW - t*(maxKW-0.5*maxKW)
	default:
		t := (soc - 80) / 20
		return 0.5*maxKW - t*(0.5*maxKW-0.15*maxKW)
	}
}

// VoltageAt interpolates pack voltage between min and max by state of charge.
func (c Config) VoltageAt(socPct float64) float64 {
	ratio := utility.Clamp(socPct/100, 0, 1)
	v := c.PackVoltageMinV + (c.PackVoltageMaxV-c.PackVoltageMinV)*ratio
	return utility.Clamp(v, 50, 1000)
}

// OfferedCurrent is the current the station offers at the given voltage.
func (c Config) OfferedCurrent(voltageV float64) float64 {
	if voltageV <= 0 {
		voltageV = c.PackVoltageMaxV
	}
	byPower := c.StationMaxKW * 1000 / maxFloat(1, voltageV)
	return maxFloat(0, minFloat(c.OfferedCurrentA, byPower))
}

func (c Config) capacity() float64 {
	if c.VirtualCapacityKWh <= 0 {
		return 60
	}
	return c.VirtualCapacityKWh
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
