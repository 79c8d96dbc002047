package meter

import (
	"context"
	"errors"
	"evsim/internal"
	"evsim/utility"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

const featureName = "Meter"

var ErrConnectorBusy = errors.New("connector already has an active session")

// Session is the simulation of one transaction on one connector.
type Session struct {
	TransactionId int
	ConnectorId   int
	State         State
	LimitKW       *float64
}

// Sample is the outcome of one tick for one session.
type Sample struct {
	ConnectorId   int
	TransactionId int
	State         State
	// Completed is set on the last sample of a session that reached full charge.
	Completed bool
}

// Engine simulates the charging sessions of one charge point.
// It is not safe for concurrent use; the owning charge point serializes access.
type Engine struct {
	chargePointId string
	config        Config
	store         Store
	logger        internal.LogHandler
	random        *rand.Rand
	sessions      map[int]*Session
	finished      map[int]State
	limits        map[int]*float64
}

func NewEngine(chargePointId string, config Config, store Store, logger internal.LogHandler) *Engine {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Engine{
		chargePointId: chargePointId,
		config:        config,
		store:         store,
		logger:        logger,
		random:        rand.New(rand.NewSource(time.Now().UnixNano())),
		sessions:      make(map[int]*Session),
		finished:      make(map[int]State),
		limits:        make(map[int]*float64),
	}
}

func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) SetSamplePeriod(period time.Duration) {
	if period > 0 {
		e.config.SamplePeriod = period
	}
}

// SetRandom replaces the jitter source.
func (e *Engine) SetRandom(random *rand.Rand) {
	e.random = random
}

func (e *Engine) key(connectorId, transactionId int) Key {
	return Key{ChargePointId: e.chargePointId, ConnectorId: connectorId, TransactionId: transactionId}
}

// Start seeds a session, resuming the persisted state of the same transaction when one exists.
func (e *Engine) Start(ctx context.Context, transactionId, connectorId int, initialEnergyWh float64, initialSocPct *float64, now time.Time) (State, error) {
	if connectorId <= 0 {
		connectorId = 1
	}
	if session, ok := e.sessions[connectorId]; ok {
		if session.TransactionId == transactionId {
			return session.State, nil
		}
		return State{}, fmt.Errorf("%w: connector %d, transaction %d", ErrConnectorBusy, connectorId, session.TransactionId)
	}

	key := e.key(connectorId, transactionId)
	session := &Session{
		TransactionId: transactionId,
		ConnectorId:   connectorId,
		LimitKW:       e.limits[connectorId],
	}

	restored := false
	data, found, err := e.store.Load(ctx, key.String())
	if err != nil {
		e.logger.Error(fmt.Sprintf("load %s", key), err)
	}
	if found {
		state, err := decodeState(data)
		if err != nil {
			e.logger.Error(fmt.Sprintf("decode %s", key), err)
		} else {
			session.State = state
			restored = true
		}
	}
	if !restored {
		soc := e.config.SocStartPct
		if initialSocPct != nil {
			soc = *initialSocPct
		}
		soc = utility.Clamp(soc, 0, 100)
		session.State = State{
			SocPct:     soc,
			EnergyWh:   math.Max(0, initialEnergyWh),
			VoltageV:   e.config.VoltageAt(soc),
			LastSample: now,
		}
		e.persist(ctx, key, session.State)
	}

	e.sessions[connectorId] = session
	delete(e.finished, connectorId)
	if restored {
		e.logger.FeatureEvent(featureName, e.chargePointId, fmt.Sprintf("resumed transaction %d on connector %d at %.1f%%", transactionId, connectorId, session.State.SocPct))
	} else {
		e.logger.FeatureEvent(featureName, e.chargePointId, fmt.Sprintf("started transaction %d on connector %d at %.1f%%", transactionId, connectorId, session.State.SocPct))
	}
	return session.State, nil
}

// Stop halts the sessions of the given transaction, or all sessions when transactionId is nil.
// The returned sessions carry the final energy and state of charge with power and current zeroed.
func (e *Engine) Stop(ctx context.Context, transactionId *int) []Session {
	stopped := make([]Session, 0)
	for _, connectorId := range e.connectorIds() {
		session := e.sessions[connectorId]
		if transactionId != nil && *transactionId != session.TransactionId {
			continue
		}
		key := e.key(connectorId, session.TransactionId)
		if err := e.store.Delete(ctx, key.String()); err != nil {
			e.logger.Error(fmt.Sprintf("delete %s", key), err)
		}
		session.State.PowerKW = 0
		session.State.CurrentA = 0
		e.finished[connectorId] = session.State
		delete(e.sessions, connectorId)
		stopped = append(stopped, *session)
		e.logger.FeatureEvent(featureName, e.chargePointId, fmt.Sprintf("stopped transaction %d on connector %d: %.3f Wh", session.TransactionId, connectorId, session.State.EnergyWh))
	}
	return stopped
}

// Tick advances every active session to now.
func (e *Engine) Tick(ctx context.Context, now time.Time) []Sample {
	samples := make([]Sample, 0, len(e.sessions))
	for _, connectorId := range e.connectorIds() {
		session := e.sessions[connectorId]
		dt := now.Sub(session.State.LastSample).Seconds()
		if session.State.LastSample.IsZero() {
			dt = e.config.SamplePeriod.Seconds()
		}
		if dt < 0 {
			dt = 0
		}
		e.advance(session, dt)
		session.State.LastSample = now

		key := e.key(connectorId, session.TransactionId)
		sample := Sample{ConnectorId: connectorId, TransactionId: session.TransactionId, State: session.State}
		if session.State.SocPct >= 100 {
			sample.Completed = true
			if err := e.store.Delete(ctx, key.String()); err != nil {
				e.logger.Error(fmt.Sprintf("delete %s", key), err)
			}
			e.finished[connectorId] = session.State
			delete(e.sessions, connectorId)
			e.logger.FeatureEvent(featureName, e.chargePointId, fmt.Sprintf("transaction %d on connector %d reached full charge", session.TransactionId, connectorId))
		} else {
			e.persist(ctx, key, session.State)
		}
		samples = append(samples, sample)
	}
	return samples
}

func (e *Engine) advance(session *Session, dt float64) {
	st := &session.State
	c := e.config

	power := c.TaperKW(st.SocPct)
	if st.SocPct < 100 {
		power = math.Max(power, c.MinPowerKW)
	}
	if session.LimitKW != nil {
		power = math.Min(power, math.Max(0, *session.LimitKW))
	}
	power = math.Max(0, power+e.jitter())
	if st.SocPct >= 100 || power <= 0.0001 {
		power = 0
	}

	voltage := c.VoltageAt(st.SocPct)
	current := 0.0
	if power > 0 {
		current = power * 1000 / voltage
	}

	if st.SocPct < 100 && power > 0 {
		hours := dt / 3600
		st.EnergyWh = math.Max(0, st.EnergyWh+power*hours*1000)
		st.SocPct = utility.Clamp(st.SocPct+power*hours/c.capacity()*100, 0, 100)
	}

	st.PowerKW = power
	st.VoltageV = voltage
	st.CurrentA = current
}

func (e *Engine) jitter() float64 {
	if e.config.NoiseKW <= 0 || e.random == nil {
		return 0
	}
	return (e.random.Float64()*2 - 1) * e.config.NoiseKW
}

func (e *Engine) persist(ctx context.Context, key Key, state State) {
	data, err := encodeState(state)
	if err != nil {
		e.logger.Error(fmt.Sprintf("encode %s", key), err)
		return
	}
	if err = e.store.Save(ctx, key.String(), data); err != nil {
		e.logger.Error(fmt.Sprintf("save %s", key), err)
	}
}

// GetState returns the latest sample of the connector's session, or of its last finished session.
func (e *Engine) GetState(connectorId int) (State, bool) {
	if session, ok := e.sessions[connectorId]; ok {
		return session.State, true
	}
	if state, ok := e.finished[connectorId]; ok {
		return state, true
	}
	return State{}, false
}

// IdleState is what the meter reads with no session: no power, pack at the starting charge.
func (e *Engine) IdleState(energyWh float64, now time.Time) State {
	return State{
		SocPct:     e.config.SocStartPct,
		EnergyWh:   energyWh,
		VoltageV:   e.config.VoltageAt(e.config.SocStartPct),
		LastSample: now,
	}
}

func (e *Engine) Active(connectorId int) (Session, bool) {
	session, ok := e.sessions[connectorId]
	if !ok {
		return Session{}, false
	}
	return *session, true
}

func (e *Engine) Sessions() []Session {
	sessions := make([]Session, 0, len(e.sessions))
	for _, connectorId := range e.connectorIds() {
		sessions = append(sessions, *e.sessions[connectorId])
	}
	return sessions
}

// SetLimit caps the power of the connector's current and future sessions; nil removes the cap.
func (e *Engine) SetLimit(connectorId int, limitKW *float64) {
	if limitKW != nil {
		v := math.Max(0, *limitKW)
		limitKW = &v
	}
	if limitKW == nil {
		delete(e.limits, connectorId)
	} else {
		e.limits[connectorId] = limitKW
	}
	if session, ok := e.sessions[connectorId]; ok {
		session.LimitKW = limitKW
	}
}

func (e *Engine) connectorIds() []int {
	ids := make([]int, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
