package emulator

import (
	"context"
	"errors"
	"evsim/internal/config"
	"evsim/metrics/counters"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownChargePoint = errors.New("charge point is not configured")

// Manager owns the charge point sessions of the process. A session is created on Connect and
// removed when its connection closes; frame logs outlive sessions so a reconnect keeps history.
type Manager struct {
	mutex    sync.RWMutex
	configs  map[string]config.ChargePointConfig
	sessions map[string]*ChargePoint
	frames   map[string]*FrameLog
	sinks    []FrameSink
	options  Options
}

// NewManager takes the charge point list and the options shared by every session. Frame sinks
// receive the frames of all charge points.
func NewManager(chargePoints []config.ChargePointConfig, options Options, sinks ...FrameSink) *Manager {
	m := &Manager{
		configs:  make(map[string]config.ChargePointConfig),
		sessions: make(map[string]*ChargePoint),
		frames:   make(map[string]*FrameLog),
		sinks:    sinks,
		options:  options,
	}
	for _, conf := range chargePoints {
		conf.Normalize()
		m.configs[conf.Id] = conf
	}
	return m
}

// Configured lists the known charge point ids in order.
func (m *Manager) Configured() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ids := make([]string, 0, len(m.configs))
	for id := range m.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Config returns the configuration of a charge point.
func (m *Manager) Config(id string) (config.ChargePointConfig, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	conf, ok := m.configs[id]
	return conf, ok
}

// Connect starts a session for the charge point; a live session gives ErrAlreadyConnected.
func (m *Manager) Connect(ctx context.Context, id string) (*ChargePoint, error) {
	m.mutex.Lock()
	conf, ok := m.configs[id]
	if !ok {
		m.mutex.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownChargePoint, id)
	}
	if current, ok := m.sessions[id]; ok {
		select {
		case <-current.Done():
			delete(m.sessions, id)
		default:
			m.mutex.Unlock()
			return current, ErrAlreadyConnected
		}
	}

	frames, ok := m.frames[id]
	if !ok {
		frames = NewFrameLog(frameLogSize, m.sinks...)
		m.frames[id] = frames
	}
	options := m.options
	options.Frames = frames
	cp := NewChargePoint(conf, options)
	cp.onClosed = m.remove
	m.sessions[id] = cp
	counters.ObserveConnections(conf.Url, m.countByUrl(conf.Url))
	m.mutex.Unlock()

	if err := cp.Connect(ctx); err != nil {
		return nil, err
	}
	return cp, nil
}

// Disconnect closes the session of the charge point, if any.
func (m *Manager) Disconnect(id string) error {
	m.mutex.RLock()
	_, configured := m.configs[id]
	cp, ok := m.sessions[id]
	m.mutex.RUnlock()
	if !configured {
		return fmt.Errorf("%w: %s", ErrUnknownChargePoint, id)
	}
	if !ok {
		return nil
	}
	cp.Close()
	return nil
}

// Get returns the live session of the charge point.
func (m *Manager) Get(id string) (*ChargePoint, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	cp, ok := m.sessions[id]
	return cp, ok
}

// List returns a snapshot of every configured charge point, connected or not.
func (m *Manager) List() []Snapshot {
	ids := m.Configured()
	snapshots := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if snapshot, ok := m.Snapshot(id); ok {
			snapshots = append(snapshots, snapshot)
		}
	}
	return snapshots
}

// Snapshot returns the state of the live session, or the configured device when disconnected.
func (m *Manager) Snapshot(id string) (Snapshot, bool) {
	m.mutex.RLock()
	conf, configured := m.configs[id]
	cp, ok := m.sessions[id]
	m.mutex.RUnlock()
	if ok {
		return cp.Snapshot(), true
	}
	if !configured {
		return Snapshot{}, false
	}
	return Snapshot{
		Id:              conf.Id,
		Status:          StatusDisconnected,
		Url:             conf.Url,
		Protocol:        conf.Protocol,
		Mode:            conf.Mode,
		Vendor:          conf.Vendor,
		Model:           conf.Model,
		FirmwareVersion: conf.FirmwareVersion,
		Connectors:      []ConnectorSnapshot{},
	}, true
}

// Frames returns the frame log of the charge point, newest first.
func (m *Manager) Frames(id string) ([]Frame, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if _, ok := m.configs[id]; !ok {
		return nil, false
	}
	frames, ok := m.frames[id]
	if !ok {
		return []Frame{}, true
	}
	return frames.List(), true
}

// CloseAll closes every session and waits for them to stop.
func (m *Manager) CloseAll() {
	m.mutex.RLock()
	sessions := make([]*ChargePoint, 0, len(m.sessions))
	for _, cp := range m.sessions {
		sessions = append(sessions, cp)
	}
	m.mutex.RUnlock()

	var wg sync.WaitGroup
	for _, cp := range sessions {
		wg.Add(1)
		go func(cp *ChargePoint) {
			defer wg.Done()
			cp.Close()
		}(cp)
	}
	wg.Wait()
}

func (m *Manager) remove(cp *ChargePoint) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if current, ok := m.sessions[cp.id]; ok && current == cp {
		delete(m.sessions, cp.id)
	}
	counters.ObserveConnections(cp.conf.Url, m.countByUrl(cp.conf.Url))
}

func (m *Manager) countByUrl(url string) int {
	count := 0
	for _, cp := range m.sessions {
		if cp.conf.Url == url {
			count++
		}
	}
	return count
}
