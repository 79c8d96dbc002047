package meter

import (
	"context"
	"evsim/internal"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = internal.NewLogger(time.UTC)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func quietConfig() Config {
	config := DefaultConfig()
	config.NoiseKW = 0
	return config
}

func TestTaperCurve(t *testing.T) {
	config := quietConfig()
	config.StationMaxKW = 100

	assert.Equal(t, 100.0, config.TaperKW(0))
	assert.Equal(t, 100.0, config.TaperKW(50))
	assert.Equal(t, 100.0, config.TaperKW(59.99))
	p70 := config.TaperKW(70)
	assert.Greater(t, p70, 50.0)
	assert.Less(t, p70, 100.0)
	assert.InDelta(t, 75.0, p70, 1e-9)
	assert.InDelta(t, 50.0, config.TaperKW(80), 1e-9)
	assert.InDelta(t, 32.5, config.TaperKW(90), 1e-9)
	assert.Equal(t, 0.0, config.TaperKW(100))
	assert.Equal(t, 0.0, config.TaperKW(120))
}

func TestVoltageInterpolation(t *testing.T) {
	config := quietConfig()
	assert.Equal(t, 350.0, config.VoltageAt(0))
	assert.Equal(t, 575.0, config.VoltageAt(50))
	assert.Equal(t, 800.0, config.VoltageAt(100))

	config.PackVoltageMinV = 10
	config.PackVoltageMaxV = 2000
	assert.Equal(t, 50.0, config.VoltageAt(0))
	assert.Equal(t, 1000.0, config.VoltageAt(100))
}

func TestClosedFormIntegration(t *testing.T) {
	config := quietConfig()
	config.StationMaxKW = 50
	config.SocStartPct = 30
	engine := NewEngine("CP-1", config, NewMemoryStore(), testLogger)
	ctx := context.Background()

	_, err := engine.Start(ctx, 7, 1, 0, nil, epoch)
	require.NoError(t, err)
	for i := 1; i <= 120; i++ {
		engine.Tick(ctx, epoch.Add(time.Duration(i*5)*time.Second))
	}

	state, ok := engine.GetState(1)
	require.True(t, ok)
	// 600 s below 60 % runs at full power: 50 kW for 1/6 h.
	expectedWh := 50.0 * 600 / 3600 * 1000
	expectedSoc := 30 + 50.0*600/3600/60*100
	assert.InDelta(t, expectedWh, state.EnergyWh, 1e-6)
	assert.InDelta(t, expectedSoc, state.SocPct, 1e-9)
	assert.InDelta(t, 50.0, state.PowerKW, 1e-9)
	assert.InDelta(t, 50000/config.VoltageAt(state.SocPct-50.0*5/3600/60*100), state.CurrentA, 1e-6)
}

func TestSocAndEnergyMonotonic(t *testing.T) {
	config := DefaultConfig()
	config.NoiseKW = 5
	config.VirtualCapacityKWh = 10
	engine := NewEngine("CP-1", config, NewMemoryStore(), testLogger)
	engine.SetRandom(rand.New(rand.NewSource(1)))
	ctx := context.Background()

	_, err := engine.Start(ctx, 1, 1, 1000, nil, epoch)
	require.NoError(t, err)

	lastSoc, lastEnergy := 30.0, 1000.0
	completed := false
	for i := 1; i <= 2000 && !completed; i++ {
		for _, sample := range engine.Tick(ctx, epoch.Add(time.Duration(i*30)*time.Second)) {
			assert.GreaterOrEqual(t, sample.State.SocPct, lastSoc)
			assert.GreaterOrEqual(t, sample.State.EnergyWh, lastEnergy)
			assert.LessOrEqual(t, sample.State.SocPct, 100.0)
			assert.GreaterOrEqual(t, sample.State.SocPct, 0.0)
			lastSoc, lastEnergy = sample.State.SocPct, sample.State.EnergyWh
			completed = sample.Completed
		}
	}
	assert.True(t, completed)
	assert.Equal(t, 100.0, lastSoc)
}

func TestCompletionTearsDownSession(t *testing.T) {
	config := quietConfig()
	store := NewMemoryStore()
	engine := NewEngine("CP-1", config, store, testLogger)
	ctx := context.Background()
	soc := 99.99
	_, err := engine.Start(ctx, 3, 2, 5000, &soc, epoch)
	require.NoError(t, err)
	require.Len(t, store.Keys(), 1)

	samples := engine.Tick(ctx, epoch.Add(time.Minute))
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Completed)
	assert.Equal(t, 100.0, samples[0].State.SocPct)

	_, active := engine.Active(2)
	assert.False(t, active)
	assert.Empty(t, store.Keys())
	assert.Empty(t, engine.Tick(ctx, epoch.Add(2*time.Minute)))

	state, ok := engine.GetState(2)
	require.True(t, ok)
	assert.Equal(t, 100.0, state.SocPct)
}

func TestMinimumPowerFloor(t *testing.T) {
	config := quietConfig()
	config.StationMaxKW = 1
	engine := NewEngine("CP-1", config, NewMemoryStore(), testLogger)
	ctx := context.Background()
	_, err := engine.Start(ctx, 1, 1, 0, nil, epoch)
	require.NoError(t, err)

	samples := engine.Tick(ctx, epoch.Add(5*time.Second))
	require.Len(t, samples, 1)
	assert.Equal(t, 2.0, samples[0].State.PowerKW)
}

func TestLimitSuspendsCharging(t *testing.T) {
	engine := NewEngine("CP-1", quietConfig(), NewMemoryStore(), testLogger)
	ctx := context.Background()
	_, err := engine.Start(ctx, 1, 1, 100, nil, epoch)
	require.NoError(t, err)

	zero := 0.0
	engine.SetLimit(1, &zero)
	samples := engine.Tick(ctx, epoch.Add(time.Minute))
	assert.Equal(t, 0.0, samples[0].State.PowerKW)
	assert.Equal(t, 0.0, samples[0].State.CurrentA)
	assert.Equal(t, 100.0, samples[0].State.EnergyWh)

	eleven := 11.0
	engine.SetLimit(1, &eleven)
	samples = engine.Tick(ctx, epoch.Add(2*time.Minute))
	assert.Equal(t, 11.0, samples[0].State.PowerKW)

	engine.SetLimit(1, nil)
	samples = engine.Tick(ctx, epoch.Add(3*time.Minute))
	assert.Equal(t, 120.0, samples[0].State.PowerKW)
}

func TestResumeRestoresPersistedState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	first := NewEngine("CP-1", quietConfig(), store, testLogger)
	_, err := first.Start(ctx, 42, 1, 1234, nil, epoch)
	require.NoError(t, err)
	first.Tick(ctx, epoch.Add(15*time.Second))
	first.Tick(ctx, epoch.Add(30*time.Second))
	before, _ := first.GetState(1)

	second := NewEngine("CP-1", quietConfig(), store, testLogger)
	restored, err := second.Start(ctx, 42, 1, 0, nil, epoch.Add(time.Hour))
	require.NoError(t, err)

	expected := before.Rounded()
	assert.Equal(t, expected.SocPct, restored.SocPct)
	assert.Equal(t, expected.EnergyWh, restored.EnergyWh)
	assert.Equal(t, expected.PowerKW, restored.PowerKW)
	assert.Equal(t, expected.CurrentA, restored.CurrentA)
	assert.Equal(t, expected.VoltageV, restored.VoltageV)
	assert.True(t, expected.LastSample.Equal(restored.LastSample))
}

func TestStartIsIdempotentAndGuardsConnector(t *testing.T) {
	engine := NewEngine("CP-1", quietConfig(), NewMemoryStore(), testLogger)
	ctx := context.Background()
	first, err := engine.Start(ctx, 1, 1, 10, nil, epoch)
	require.NoError(t, err)
	again, err := engine.Start(ctx, 1, 1, 99999, nil, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = engine.Start(ctx, 2, 1, 0, nil, epoch)
	assert.ErrorIs(t, err, ErrConnectorBusy)
}

func TestStopClearsPersistedState(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine("CP-1", quietConfig(), store, testLogger)
	ctx := context.Background()
	_, _ = engine.Start(ctx, 1, 1, 0, nil, epoch)
	_, _ = engine.Start(ctx, 2, 2, 0, nil, epoch)
	engine.Tick(ctx, epoch.Add(time.Minute))

	tx := 1
	stopped := engine.Stop(ctx, &tx)
	require.Len(t, stopped, 1)
	assert.Equal(t, 0.0, stopped[0].State.PowerKW)
	assert.Equal(t, 0.0, stopped[0].State.CurrentA)
	assert.Greater(t, stopped[0].State.EnergyWh, 0.0)
	assert.Equal(t, []string{Key{ChargePointId: "CP-1", ConnectorId: 2, TransactionId: 2}.String()}, store.Keys())

	state, ok := engine.GetState(1)
	require.True(t, ok)
	assert.Equal(t, stopped[0].State.EnergyWh, state.EnergyWh)

	// a fresh start after stop begins from the given values
	restarted, err := engine.Start(ctx, 1, 1, 0, nil, epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0.0, restarted.EnergyWh)

	assert.Len(t, engine.Stop(ctx, nil), 2)
	assert.Empty(t, store.Keys())
}

func TestUnparsableTimestampFallsBackToSamplePeriod(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := Key{ChargePointId: "CP-1", ConnectorId: 1, TransactionId: 5}
	require.NoError(t, store.Save(ctx, key.String(), []byte(`{"socPct":40,"energyWh":100,"powerKW":0,"currentA":0,"voltageV":530,"lastSampleIso":"garbage"}`)))

	config := quietConfig()
	config.SamplePeriod = 36 * time.Second
	engine := NewEngine("CP-1", config, store, testLogger)
	_, err := engine.Start(ctx, 5, 1, 0, nil, epoch)
	require.NoError(t, err)
	samples := engine.Tick(ctx, epoch)
	require.Len(t, samples, 1)
	// 120 kW for 36 s
	assert.InDelta(t, 100+1200, samples[0].State.EnergyWh, 1e-9)
}

func TestKeyFormat(t *testing.T) {
	assert.Equal(t, "meter:CP-9:2:77", Key{ChargePointId: "CP-9", ConnectorId: 2, TransactionId: 77}.String())
}

func TestPersistedPrecision(t *testing.T) {
	data, err := encodeState(State{SocPct: 33.123456, EnergyWh: 10.12345, PowerKW: 1.234567, CurrentA: 2.34567, VoltageV: 400.126, LastSample: epoch})
	require.NoError(t, err)
	assert.JSONEq(t, `{"socPct":33.1235,"energyWh":10.123,"powerKW":1.2346,"currentA":2.346,"voltageV":400.13,"lastSampleIso":"2024-05-01T12:00:00Z"}`, string(data))
	state, err := decodeState(data)
	require.NoError(t, err)
	assert.True(t, state.LastSample.Equal(epoch))
	assert.False(t, math.IsNaN(state.SocPct))
}
