package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"evsim/dispatcher"
	"evsim/internal"
	"evsim/internal/config"
	"evsim/meter"
	"evsim/metrics/counters"
	"evsim/ocpp"
	"evsim/ocpp/core"
	"evsim/ocpp/firmware"
	"evsim/types"
	"evsim/utility"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	featureName   = "ChargePoint"
	inboxCapacity = 64
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

var (
	ErrAlreadyConnected = errors.New("charge point is already connected")
	ErrUnknownConnector = errors.New("unknown connector")
	ErrConnectorBusy    = errors.New("connector is busy or unavailable")
	ErrNoTransaction    = errors.New("no active transaction")
)

// Options are the collaborators shared by every charge point of the process.
type Options struct {
	Simulation config.Simulation
	Dialer     Dialer
	Store      meter.Store
	Logger     internal.LogHandler
	Events     internal.EventHandler
	Dispatcher *dispatcher.Dispatcher
	Frames     *FrameLog
	// TickPeriod overrides the meter tick derived from the simulation settings.
	TickPeriod time.Duration
	Clock      func() time.Time
}

// ChargePoint emulates one OCPP 1.6 charge point over a single connection. Inbound frames,
// outbound calls and timers are all handled by one goroutine; a closed charge point cannot
// be connected again.
type ChargePoint struct {
	id          string
	conf        config.ChargePointConfig
	dialer      Dialer
	store       meter.Store
	logger      internal.LogHandler
	events      internal.EventHandler
	dispatcher  *dispatcher.Dispatcher
	frames      *FrameLog
	clock       func() time.Time
	callTimeout time.Duration
	tickPeriod  time.Duration
	electrical  electrical

	mutex    sync.RWMutex
	status   Status
	started  bool
	snapshot Snapshot

	inbox    chan func()
	done     chan struct{}
	doneOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	onClosed func(cp *ChargePoint)

	// owned by the run goroutine
	transport         Transport
	pending           *ocpp.PendingTable
	engine            *meter.Engine
	connectors        map[int]*Connector
	configuration     *Configuration
	profiles          *profileStore
	reservations      map[int]*reservationEntry
	localList         *localList
	firmwareStatus    firmware.FirmwareStatus
	diagnosticsStatus firmware.DiagnosticsStatus
	firmwareStep      time.Duration
	firmwareTimers    []*time.Timer
	timers            []*time.Timer
	meterTicker       *time.Ticker
	heartbeatTicker   *time.Ticker
	bootTicker        *time.Ticker
	scheduled         []func()
	registered        bool
	closed            bool
}

func NewChargePoint(conf config.ChargePointConfig, options Options) *ChargePoint {
	conf.Normalize()
	if options.Store == nil {
		options.Store = meter.NewMemoryStore()
	}
	if options.Logger == nil {
		options.Logger = internal.NewLogger(nil)
	}
	if options.Events == nil {
		options.Events = internal.EventHandlers{}
	}
	if options.Dispatcher == nil {
		options.Dispatcher = dispatcher.New(options.Logger)
	}
	if options.Dialer == nil {
		options.Dialer = NewWebsocketDialer()
	}
	if options.Frames == nil {
		options.Frames = NewFrameLog(frameLogSize)
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	cp := &ChargePoint{
		id:                conf.Id,
		conf:              conf,
		dialer:            options.Dialer,
		store:             options.Store,
		logger:            options.Logger,
		events:            options.Events,
		dispatcher:        options.Dispatcher,
		frames:            options.Frames,
		clock:             options.Clock,
		electrical:        electrical{dc: conf.Mode == "DC", voltageV: conf.NominalVoltageV},
		status:            StatusDisconnected,
		inbox:             make(chan func(), inboxCapacity),
		done:              make(chan struct{}),
		ctx:               ctx,
		cancel:            cancel,
		pending:           ocpp.NewPendingTable(),
		connectors:        make(map[int]*Connector),
		configuration:     NewConfiguration(conf.Connectors, conf.Ocpp),
		profiles:          newProfileStore(),
		reservations:      make(map[int]*reservationEntry),
		localList:         newLocalList(),
		firmwareStatus:    firmware.FirmwareStatusIdle,
		diagnosticsStatus: firmware.DiagnosticsStatusIdle,
	}

	cp.configuration.describe(KeyFirmwareVersion, conf.FirmwareVersion)
	cp.configuration.describe(KeyWsSecure, strconv.FormatBool(strings.HasPrefix(conf.Url, "wss://")))

	sim := options.Simulation
	cp.callTimeout = seconds(sim.CallTimeoutSeconds, 30)
	cp.firmwareStep = seconds(sim.FirmwareStepSeconds, 5)
	cp.tickPeriod = options.TickPeriod
	if cp.tickPeriod <= 0 && sim.TickSeconds > 0 {
		cp.tickPeriod = time.Duration(sim.TickSeconds) * time.Second
	}

	cp.engine = meter.NewEngine(cp.id, cp.meterConfig(sim), cp.store, cp.logger)
	for id := 1; id <= conf.Connectors; id++ {
		cp.connectors[id] = newConnector(id, conf.EnergyKWh*1000)
	}
	cp.publish()
	return cp
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

// meterConfig derives the session envelope from the device ratings.
func (cp *ChargePoint) meterConfig(sim config.Simulation) meter.Config {
	c := meter.DefaultConfig()
	c.StationMaxKW = cp.conf.MaxPowerKW
	c.PackVoltageMinV = math.Max(100, cp.conf.NominalVoltageV*0.8)
	c.PackVoltageMaxV = math.Min(1000, cp.conf.NominalVoltageV*1.2)
	c.SocStartPct = cp.conf.BatteryStartPercent
	c.OfferedCurrentA = cp.conf.MaxCurrentA
	c.NoiseKW = sim.NoiseKW
	if sim.VirtualCapacityKWh > 0 {
		c.VirtualCapacityKWh = sim.VirtualCapacityKWh
	}
	if interval := cp.configuration.Int(KeyMeterValueSampleInterval); interval > 0 {
		c.SamplePeriod = time.Duration(interval) * time.Second
	}
	if cp.electrical.dc {
		c.SocLocation = types.LocationEV
	} else {
		c.SocLocation = types.LocationOutlet
	}
	return c
}

func (cp *ChargePoint) Id() string {
	return cp.id
}

func (cp *ChargePoint) Status() Status {
	cp.mutex.RLock()
	defer cp.mutex.RUnlock()
	return cp.status
}

func (cp *ChargePoint) setStatus(status Status) {
	cp.mutex.Lock()
	cp.status = status
	cp.mutex.Unlock()
	switch status {
	case StatusConnected:
		counters.ObserveConnectionState(cp.id, 2)
	case StatusConnecting:
		counters.ObserveConnectionState(cp.id, 1)
	default:
		counters.ObserveConnectionState(cp.id, 0)
	}
}

func (cp *ChargePoint) Frames() []Frame {
	return cp.frames.List()
}

// Done is closed when the charge point has shut down.
func (cp *ChargePoint) Done() <-chan struct{} {
	return cp.done
}

// Connect opens the transport and starts the charge point goroutine.
func (cp *ChargePoint) Connect(ctx context.Context) error {
	cp.mutex.Lock()
	if cp.started {
		cp.mutex.Unlock()
		return ErrAlreadyConnected
	}
	cp.started = true
	cp.mutex.Unlock()
	cp.setStatus(StatusConnecting)

	endpoint := Endpoint(cp.conf.Url, cp.id)
	cp.logger.FeatureEvent(featureName, cp.id, fmt.Sprintf("connecting to %s", endpoint))
	transport, err := cp.dialer.Dial(ctx, endpoint, cp.conf.Protocol)
	if err == nil && transport.Subprotocol() != cp.conf.Protocol {
		_ = transport.Close()
		err = fmt.Errorf("central system did not accept subprotocol %s", cp.conf.Protocol)
	}
	if err != nil {
		cp.addFrame(DirectionIn, FrameError, "", "", err.Error())
		cp.setStatus(StatusDisconnected)
		cp.publish()
		cp.finish()
		return err
	}

	cp.transport = transport
	cp.setStatus(StatusConnected)
	cp.post(cp.onOpen)
	go cp.run()
	go cp.read(transport)
	return nil
}

// Close shuts the connection down, rejects pending calls and waits for the goroutine to stop.
func (cp *ChargePoint) Close() {
	cp.mutex.RLock()
	started := cp.started
	cp.mutex.RUnlock()
	if !started {
		cp.finish()
		return
	}
	cp.post(func() { cp.shutdown("closed locally") })
	<-cp.done
}

func (cp *ChargePoint) finish() {
	cp.doneOnce.Do(func() {
		cp.cancel()
		close(cp.done)
		if cp.onClosed != nil {
			cp.onClosed(cp)
		}
	})
}

// post queues a task for the charge point goroutine; false once it has stopped.
func (cp *ChargePoint) post(task func()) bool {
	select {
	case <-cp.done:
		return false
	default:
	}
	select {
	case cp.inbox <- task:
		return true
	case <-cp.done:
		return false
	}
}

// do runs fn on the charge point goroutine and waits for it.
func (cp *ChargePoint) do(fn func()) bool {
	finished := make(chan struct{})
	if !cp.post(func() { fn(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-cp.done:
		select {
		case <-finished:
			return true
		default:
			return false
		}
	}
}

// schedule defers a task until the current event has been handled, so replies go out first.
func (cp *ChargePoint) schedule(task func()) {
	cp.scheduled = append(cp.scheduled, task)
}

// after runs fn on the charge point goroutine once d has elapsed.
func (cp *ChargePoint) after(d time.Duration, fn func()) *time.Timer {
	timer := time.AfterFunc(d, func() { cp.post(fn) })
	cp.timers = append(cp.timers, timer)
	return timer
}

func tick(ticker *time.Ticker) <-chan time.Time {
	if ticker == nil {
		return nil
	}
	return ticker.C
}

func (cp *ChargePoint) run() {
	defer cp.finish()
	for !cp.closed {
		select {
		case task := <-cp.inbox:
			task()
		case <-tick(cp.meterTicker):
			cp.onMeterTick()
		case <-tick(cp.heartbeatTicker):
			cp.notify(&core.HeartbeatRequest{})
		case <-tick(cp.bootTicker):
			cp.notify(cp.bootNotification())
		}
		for len(cp.scheduled) > 0 && !cp.closed {
			task := cp.scheduled[0]
			cp.scheduled = cp.scheduled[1:]
			task()
		}
		cp.publish()
	}
}

func (cp *ChargePoint) read(transport Transport) {
	for {
		data, err := transport.ReadMessage()
		if err != nil {
			cp.post(func() { cp.onTransportError(err) })
			return
		}
		cp.post(func() { cp.handleMessage(data) })
	}
}

func (cp *ChargePoint) onOpen() {
	if cp.closed {
		return
	}
	cp.addFrame(DirectionIn, FrameOpen, cp.conf.Protocol, "", Endpoint(cp.conf.Url, cp.id))
	cp.logger.FeatureEvent(featureName, cp.id, "connected")
	cp.events.OnStatusNotification(cp.event(internal.EventConnectionChanged, 0, string(StatusConnected)))

	cp.loadConnectors()
	cp.armTimers()
	cp.notify(cp.bootNotification())
	cp.resumeTransactions()
}

func (cp *ChargePoint) onTransportError(err error) {
	if cp.closed {
		return
	}
	if !isNormalClose(err) {
		cp.addFrame(DirectionIn, FrameError, "", "", err.Error())
	}
	cp.shutdown(err.Error())
}

// shutdown stops timers, closes the transport and fails every pending call. Persisted meter and
// connector state is kept so that the next connection resumes running transactions.
func (cp *ChargePoint) shutdown(reason string) {
	if cp.closed {
		return
	}
	cp.closed = true
	for _, ticker := range []*time.Ticker{cp.meterTicker, cp.heartbeatTicker, cp.bootTicker} {
		if ticker != nil {
			ticker.Stop()
		}
	}
	for _, timer := range cp.timers {
		timer.Stop()
	}
	cp.cancel()
	if cp.transport != nil {
		if err := cp.transport.Close(); err != nil {
			cp.logger.Debug(fmt.Sprintf("[%s] closing transport: %s", cp.id, err))
		}
	}
	rejected := cp.pending.RejectAll(ocpp.ErrConnectionClosed)
	cp.addFrame(DirectionIn, FrameClose, "", "", reason)
	cp.setStatus(StatusDisconnected)
	cp.logger.FeatureEvent(featureName, cp.id, fmt.Sprintf("disconnected: %s; %d pending calls rejected", reason, rejected))
	cp.events.OnStatusNotification(cp.event(internal.EventConnectionChanged, 0, string(StatusDisconnected)))
	counters.ObserveTransactions(cp.id, 0)
}

func (cp *ChargePoint) bootNotification() *core.BootNotificationRequest {
	return core.NewBootNotificationRequest(cp.conf.Vendor, cp.conf.Model, cp.conf.FirmwareVersion)
}

func (cp *ChargePoint) armTimers() {
	if cp.tickPeriod > 0 {
		cp.resetTicker(&cp.meterTicker, cp.tickPeriod)
	} else {
		cp.resetTicker(&cp.meterTicker, seconds(cp.configuration.Int(KeyMeterValueSampleInterval), 5))
	}
	cp.resetTicker(&cp.heartbeatTicker, time.Duration(cp.configuration.Int(KeyHeartbeatInterval))*time.Second)
	cp.resetTicker(&cp.bootTicker, time.Duration(cp.configuration.Int(KeyBootIntervalHint))*time.Second)
}

// resetTicker replaces a ticker; a zero period leaves it stopped.
func (cp *ChargePoint) resetTicker(ticker **time.Ticker, period time.Duration) {
	if *ticker != nil {
		(*ticker).Stop()
		*ticker = nil
	}
	if period > 0 && !cp.closed {
		*ticker = time.NewTicker(period)
	}
}

// onConfigurationChanged re-arms the timer driven by an interval key.
func (cp *ChargePoint) onConfigurationChanged(key string) {
	switch key {
	case KeyHeartbeatInterval:
		if cp.Status() == StatusConnected {
			cp.resetTicker(&cp.heartbeatTicker, time.Duration(cp.configuration.Int(key))*time.Second)
		}
	case KeyBootIntervalHint:
		if cp.Status() == StatusConnected {
			cp.resetTicker(&cp.bootTicker, time.Duration(cp.configuration.Int(key))*time.Second)
		}
	case KeyMeterValueSampleInterval:
		period := seconds(cp.configuration.Int(key), 5)
		cp.engine.SetSamplePeriod(period)
		if cp.tickPeriod <= 0 && cp.Status() == StatusConnected {
			cp.resetTicker(&cp.meterTicker, period)
		}
	}
}

func (cp *ChargePoint) loadConnectors() {
	for _, id := range cp.connectorIds() {
		c, found, err := loadConnector(cp.ctx, cp.store, cp.id, id)
		if err != nil {
			cp.logger.Error(fmt.Sprintf("[%s] load connector %d", cp.id, id), err)
			continue
		}
		if !found {
			continue
		}
		// reservations and half-finished flows do not survive a reconnect
		c.ReservationId = nil
		if c.TransactionId == nil {
			c.Status = c.idleStatus()
		}
		cp.connectors[id] = c
	}
}

// resumeTransactions restarts the meter of every transaction that was running when the
// previous connection dropped. A transaction that reached full charge keeps its SuspendedEV
// status and waits for its stop.
func (cp *ChargePoint) resumeTransactions() {
	now := cp.clock()
	for _, id := range cp.connectorIds() {
		c := cp.connectors[id]
		if c.TransactionId == nil || c.Status == types.ChargePointStatusSuspendedEV {
			continue
		}
		if _, err := cp.engine.Start(cp.ctx, *c.TransactionId, id, c.MeterWh, nil, now); err != nil {
			cp.logger.Error(fmt.Sprintf("[%s] resume transaction %d", cp.id, *c.TransactionId), err)
			continue
		}
		cp.applyLimit(id)
		cp.setConnectorStatus(c, types.ChargePointStatusCharging)
	}
	counters.ObserveTransactions(cp.id, len(cp.engine.Sessions()))
}

func (cp *ChargePoint) handleMessage(data []byte) {
	if cp.closed {
		return
	}
	cp.logger.RawDataEvent("IN", cp.id, string(data))
	message, err := ocpp.Decode(data)
	if err != nil {
		cp.addFrame(DirectionIn, FrameParseError, "", "", string(data))
		cp.logger.Warn(fmt.Sprintf("[%s] %s", cp.id, err))
		return
	}

	switch m := message.(type) {
	case *ocpp.Call:
		cp.addFrame(DirectionIn, FrameCall, m.Action, m.UniqueId, string(data))
		response := cp.dispatcher.Dispatch(&commands{cp: cp}, m)
		if err = cp.write(response, m.Action); err != nil {
			cp.logger.Error(fmt.Sprintf("[%s] reply to %s", cp.id, m.Action), err)
		}
	case *ocpp.CallResult:
		pending, ok := cp.pending.Resolve(m.UniqueId, m.Payload)
		if !ok {
			cp.addFrame(DirectionIn, FrameCallResult, "", m.UniqueId, string(data))
			cp.logger.Warn(fmt.Sprintf("[%s] result for unknown message %s", cp.id, m.UniqueId))
			return
		}
		cp.addFrame(DirectionIn, FrameCallResult, pending.Action, m.UniqueId, string(data))
		cp.onCallResult(pending, m.Payload)
	case *ocpp.CallError:
		callError := m.AsError()
		counters.CountCallError(cp.id, string(m.ErrorCode))
		pending, ok := cp.pending.Reject(m.UniqueId, callError)
		if !ok {
			cp.addFrame(DirectionIn, FrameCallError, "", m.UniqueId, string(data))
			cp.logger.Warn(fmt.Sprintf("[%s] error for unknown message %s", cp.id, m.UniqueId))
			return
		}
		cp.addFrame(DirectionIn, FrameCallError, pending.Action, m.UniqueId, string(data))
		cp.onCallError(pending, callError)
	}
}

func (cp *ChargePoint) write(message ocpp.Message, action string) error {
	if cp.closed || cp.transport == nil {
		return ocpp.ErrNotConnected
	}
	data, err := ocpp.Encode(message)
	if err != nil {
		return err
	}
	if err = cp.transport.WriteMessage(data); err != nil {
		return fmt.Errorf("%w: %s", ocpp.ErrTransportSend, err)
	}
	cp.logger.RawDataEvent("OUT", cp.id, string(data))
	frameType := FrameType(message.GetMessageTypeId().String())
	cp.addFrame(DirectionOut, frameType, action, message.GetUniqueId(), string(data))
	return nil
}

// send writes a CALL and registers it for correlation.
func (cp *ChargePoint) send(action string, payload json.RawMessage) (*ocpp.PendingCall, error) {
	if cp.closed || cp.Status() != StatusConnected {
		return nil, ocpp.ErrNotConnected
	}
	call := &ocpp.Call{UniqueId: utility.NewUUID(), Action: action, Payload: payload}
	pending, err := cp.pending.Register(call.UniqueId, action, payload)
	if err != nil {
		return nil, err
	}
	if err = cp.write(call, action); err != nil {
		cp.pending.Reject(call.UniqueId, err)
		return nil, err
	}
	return pending, nil
}

// notify sends a CALL whose outcome only matters to the result hooks; failures are logged.
func (cp *ChargePoint) notify(request ocpp.Request) {
	payload, err := json.Marshal(request)
	if err != nil {
		cp.logger.Error(fmt.Sprintf("[%s] encode %s", cp.id, request.GetFeatureName()), err)
		return
	}
	if _, err = cp.send(request.GetFeatureName(), payload); err != nil {
		cp.logger.Warn(fmt.Sprintf("[%s] %s not sent: %s", cp.id, request.GetFeatureName(), err))
	}
}

// Call sends a request and waits for the response payload. It must not be called from the
// charge point goroutine.
func (cp *ChargePoint) Call(ctx context.Context, request ocpp.Request) (json.RawMessage, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	return cp.CallAction(ctx, request.GetFeatureName(), payload)
}

// CallAction sends an arbitrary action. A CALLERROR answer is returned as *ocpp.Error.
func (cp *ChargePoint) CallAction(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error) {
	if cp.Status() != StatusConnected {
		return nil, ocpp.ErrNotConnected
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	type outcome struct {
		pending *ocpp.PendingCall
		err     error
	}
	sent := make(chan outcome, 1)
	if !cp.post(func() {
		pending, err := cp.send(action, payload)
		sent <- outcome{pending: pending, err: err}
	}) {
		return nil, ocpp.ErrNotConnected
	}

	var result outcome
	select {
	case result = <-sent:
	case <-cp.done:
		return nil, ocpp.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if result.err != nil {
		return nil, result.err
	}

	if cp.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cp.callTimeout)
		defer cancel()
	}
	response, err := result.pending.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		cp.pending.Reject(result.pending.UniqueId, err)
	}
	return response, err
}

// onCallResult applies the side effects of a central system answer, whoever sent the call.
func (cp *ChargePoint) onCallResult(pending *ocpp.PendingCall, payload json.RawMessage) {
	switch pending.Action {
	case core.BootNotificationFeatureName:
		var response core.BootNotificationResponse
		if err := ocpp.UnmarshalPayload(payload, &response); err != nil {
			cp.logger.Warn(fmt.Sprintf("[%s] boot notification response: %s", cp.id, err))
			return
		}
		cp.onBootAccepted(&response)
	case core.StartTransactionFeatureName:
		var request core.StartTransactionRequest
		var response core.StartTransactionResponse
		if err := json.Unmarshal(pending.Payload, &request); err != nil {
			cp.logger.Warn(fmt.Sprintf("[%s] start transaction request: %s", cp.id, err))
			return
		}
		if err := ocpp.UnmarshalPayload(payload, &response); err != nil {
			cp.logger.Warn(fmt.Sprintf("[%s] start transaction response: %s", cp.id, err))
			cp.abortStart(request.ConnectorId)
			return
		}
		cp.transactionStarted(&request, &response)
	case core.StopTransactionFeatureName:
		var request core.StopTransactionRequest
		if err := json.Unmarshal(pending.Payload, &request); err != nil {
			cp.logger.Warn(fmt.Sprintf("[%s] stop transaction request: %s", cp.id, err))
			return
		}
		cp.transactionStopped(request.TransactionId, request.Reason)
	}
}

func (cp *ChargePoint) onCallError(pending *ocpp.PendingCall, err *ocpp.Error) {
	cp.logger.Warn(fmt.Sprintf("[%s] %s rejected: %s", cp.id, pending.Action, err))
	if pending.Action == core.StartTransactionFeatureName {
		var request core.StartTransactionRequest
		if e := json.Unmarshal(pending.Payload, &request); e == nil {
			cp.abortStart(request.ConnectorId)
		}
	}
}

func (cp *ChargePoint) onBootAccepted(response *core.BootNotificationResponse) {
	if response.Status != core.RegistrationStatusAccepted {
		cp.logger.FeatureEvent(featureName, cp.id, fmt.Sprintf("boot notification %s", response.Status))
		return
	}
	if response.Interval > 0 {
		interval := strconv.Itoa(response.Interval)
		if value, _ := cp.configuration.Value(KeyHeartbeatInterval); value != interval {
			cp.configuration.Set(KeyHeartbeatInterval, interval)
			cp.onConfigurationChanged(KeyHeartbeatInterval)
		}
	}
	if cp.registered {
		return
	}
	cp.registered = true
	cp.logger.FeatureEvent(featureName, cp.id, fmt.Sprintf("registered, heartbeat every %ds", cp.configuration.Int(KeyHeartbeatInterval)))
	cp.notify(core.NewStatusNotificationRequest(0, cp.chargePointStatus(), cp.clock()))
	for _, id := range cp.connectorIds() {
		cp.notify(core.NewStatusNotificationRequest(id, cp.connectors[id].Status, cp.clock()))
	}
}

// chargePointStatus is the status reported for connector 0.
func (cp *ChargePoint) chargePointStatus() types.ChargePointStatus {
	for _, c := range cp.connectors {
		if c.Availability != core.AvailabilityTypeInoperative {
			return types.ChargePointStatusAvailable
		}
	}
	return types.ChargePointStatusUnavailable
}

// setConnectorStatus records the status and reports it once the current event is handled.
func (cp *ChargePoint) setConnectorStatus(c *Connector, status types.ChargePointStatus) {
	changed := c.Status != status
	c.Status = status
	cp.saveConnector(c)
	if !changed {
		return
	}
	connectorId := c.Id
	cp.schedule(func() {
		cp.notify(core.NewStatusNotificationRequest(connectorId, status, cp.clock()))
	})
	event := cp.event(internal.EventStatus, connectorId, string(status))
	event.IdTag = c.IdTag
	if c.TransactionId != nil {
		event.TransactionId = *c.TransactionId
	}
	cp.events.OnStatusNotification(event)
}

func (cp *ChargePoint) saveConnector(c *Connector) {
	if err := storeConnector(cp.ctx, cp.store, cp.id, c); err != nil {
		cp.logger.Error(fmt.Sprintf("[%s] save connector %d", cp.id, c.Id), err)
	}
}

func (cp *ChargePoint) connectorIds() []int {
	ids := make([]int, 0, len(cp.connectors))
	for id := range cp.connectors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (cp *ChargePoint) connectorByTransaction(transactionId int) *Connector {
	for _, c := range cp.connectors {
		if c.TransactionId != nil && *c.TransactionId == transactionId {
			return c
		}
	}
	return nil
}

// freeConnector picks the requested connector, or the first one able to start.
func (cp *ChargePoint) freeConnector(connectorId *int) (*Connector, bool) {
	if connectorId != nil {
		c, ok := cp.connectors[*connectorId]
		return c, ok
	}
	for _, id := range cp.connectorIds() {
		c := cp.connectors[id]
		if !c.busy() && c.operative() && c.ReservationId == nil {
			return c, true
		}
	}
	return nil, false
}

func (cp *ChargePoint) applyLimit(connectorId int) {
	limit, ok := cp.profiles.LimitKW(connectorId, cp.clock(), cp.electrical)
	if !ok {
		cp.engine.SetLimit(connectorId, nil)
		return
	}
	cp.engine.SetLimit(connectorId, &limit)
}

func (cp *ChargePoint) applyLimits() {
	for _, id := range cp.connectorIds() {
		cp.applyLimit(id)
	}
}

func (cp *ChargePoint) onMeterTick() {
	now := cp.clock()
	cp.report(cp.engine.Tick(cp.ctx, now), now)
}

// report sends the samples of one tick and updates the connectors they belong to.
func (cp *ChargePoint) report(samples []meter.Sample, now time.Time) {
	measurands := cp.configuration.Measurands(KeyMeterValuesSampledData)
	for _, sample := range samples {
		c, ok := cp.connectors[sample.ConnectorId]
		if !ok {
			continue
		}
		c.MeterWh = sample.State.EnergyWh
		transactionId := sample.TransactionId
		cp.notify(cp.engine.MeterValues(sample.ConnectorId, &transactionId, sample.State, measurands, types.ReadingContextSamplePeriodic, now))
		counters.ObserveMeter(cp.id, strconv.Itoa(c.Id), sample.State.PowerKW, sample.State.SocPct, sample.State.EnergyWh)

		event := cp.event(internal.EventMeterValues, c.Id, string(c.Status))
		event.TransactionId = transactionId
		event.IdTag = c.IdTag
		event.Payload = sample.State.Rounded()
		switch {
		case sample.Completed:
			event.Type = internal.EventChargeComplete
			event.Info = fmt.Sprintf("%.1f%%, %.3f kWh", sample.State.SocPct, sample.State.EnergyWh/1000)
			cp.setConnectorStatus(c, types.ChargePointStatusSuspendedEV)
		case c.stopping:
			cp.saveConnector(c)
		case sample.State.PowerKW == 0:
			cp.setConnectorStatus(c, types.ChargePointStatusSuspendedEVSE)
		default:
			cp.setConnectorStatus(c, types.ChargePointStatusCharging)
		}
		cp.events.OnMeterValues(event)
	}
}

// transactionStarted binds the transaction the central system assigned and starts the meter.
func (cp *ChargePoint) transactionStarted(request *core.StartTransactionRequest, response *core.StartTransactionResponse) {
	c, ok := cp.connectors[request.ConnectorId]
	if !ok {
		cp.logger.Warn(fmt.Sprintf("[%s] transaction %d on unknown connector %d", cp.id, response.TransactionId, request.ConnectorId))
		return
	}
	transactionId := response.TransactionId
	if c.TransactionId != nil && *c.TransactionId != transactionId {
		cp.logger.Warn(fmt.Sprintf("[%s] connector %d already runs transaction %d, ignoring %d", cp.id, c.Id, *c.TransactionId, transactionId))
		return
	}

	c.starting = false
	c.TransactionId = &transactionId
	c.IdTag = request.IdTag
	if c.ReservationId != nil {
		if entry, ok := cp.reservations[*c.ReservationId]; ok {
			entry.timer.Stop()
			delete(cp.reservations, entry.id)
		}
		c.ReservationId = nil
	}

	now := cp.clock()
	state, err := cp.engine.Start(cp.ctx, transactionId, c.Id, float64(request.MeterStart), nil, now)
	if err != nil {
		cp.logger.Error(fmt.Sprintf("[%s] start meter", cp.id), err)
	}
	c.MeterWh = state.EnergyWh
	cp.applyLimit(c.Id)
	cp.setConnectorStatus(c, types.ChargePointStatusCharging)

	counters.CountTransaction(cp.id)
	counters.ObserveTransactions(cp.id, len(cp.engine.Sessions()))
	event := cp.event(internal.EventTransactionStart, c.Id, string(c.Status))
	event.IdTag = c.IdTag
	event.TransactionId = transactionId
	event.Info = fmt.Sprintf("meter start %d Wh", request.MeterStart)
	cp.events.OnTransactionStart(event)

	if response.IdTagInfo != nil && response.IdTagInfo.Status != types.AuthorizationStatusAccepted {
		cp.logger.FeatureEvent(featureName, cp.id, fmt.Sprintf("transaction %d not authorized: %s", transactionId, response.IdTagInfo.Status))
		cp.startStopFlow(transactionId, core.ReasonDeAuthorized)
	}
}

// transactionStopped stops the meter and frees the connector; repeated calls are harmless.
func (cp *ChargePoint) transactionStopped(transactionId int, reason core.Reason) {
	c := cp.connectorByTransaction(transactionId)
	if c == nil {
		return
	}
	for _, session := range cp.engine.Stop(cp.ctx, &transactionId) {
		c.MeterWh = session.State.EnergyWh
	}
	if state, ok := cp.engine.GetState(c.Id); ok && state.EnergyWh > c.MeterWh {
		c.MeterWh = state.EnergyWh
	}

	idTag := c.IdTag
	c.TransactionId = nil
	c.IdTag = ""
	c.stopping = false
	cp.profiles.ClearTransaction(c.Id)
	cp.applyLimit(c.Id)
	if c.PendingAvailability != "" {
		c.Availability = c.PendingAvailability
		c.PendingAvailability = ""
	}
	cp.setConnectorStatus(c, c.idleStatus())

	counters.ObserveTransactions(cp.id, len(cp.engine.Sessions()))
	event := cp.event(internal.EventTransactionStop, c.Id, string(c.Status))
	event.IdTag = idTag
	event.TransactionId = transactionId
	event.Info = fmt.Sprintf("%s, meter %.3f kWh", reason, c.MeterWh/1000)
	cp.events.OnTransactionStop(event)
}

// abortStart returns a connector whose start flow failed to its idle status.
func (cp *ChargePoint) abortStart(connectorId int) {
	c, ok := cp.connectors[connectorId]
	if !ok || c.TransactionId != nil {
		return
	}
	c.starting = false
	cp.profiles.ClearTransaction(c.Id)
	cp.applyLimit(c.Id)
	cp.setConnectorStatus(c, c.idleStatus())
}

func (cp *ChargePoint) event(eventType string, connectorId int, status string) *internal.EventMessage {
	return &internal.EventMessage{
		Type:          eventType,
		ChargePointId: cp.id,
		ConnectorId:   connectorId,
		Time:          cp.clock(),
		Status:        status,
	}
}

func (cp *ChargePoint) addFrame(direction Direction, frameType FrameType, action, uniqueId, raw string) {
	cp.frames.Add(Frame{
		ChargePointId: cp.id,
		Time:          cp.clock(),
		Direction:     direction,
		Type:          frameType,
		Action:        action,
		UniqueId:      uniqueId,
		Raw:           raw,
	})
}
