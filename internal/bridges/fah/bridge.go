package fah

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-fah/internal/device"
	fahsession "github.com/nerrad567/gray-logic-fah/internal/fah"
	"github.com/nerrad567/gray-logic-fah/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// commandTimeout is the timeout for executing one command against the SysAP.
	commandTimeout = 10 * time.Second

	// discoverTimeout is the timeout for fetching and parsing the configuration.
	discoverTimeout = 60 * time.Second
)

// Request actions.
const (
	ActionReadState = "read_state"
	ActionReadAll   = "read_all"
	ActionDiscover  = "discover"
)

// Bridge translates between the SysAP session and MQTT.
// It handles:
//   - Publishing device state whenever the registry reports a change
//   - Receiving commands via MQTT and writing the matching datapoints
//   - Answering read and discovery requests
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       Config
	topics    Topics
	mqtt      MQTTClient
	session   Session
	telemetry Telemetry
	health    *HealthReporter

	// State cache for change detection, keyed by device address
	stateCache   map[string]device.State
	stateCacheMu sync.Mutex

	commandsSent   atomic.Uint64
	commandsFailed atomic.Uint64
	statesSent     atomic.Uint64

	// Shutdown coordination. doneMu orders wg.Add against close(done).
	done      chan struct{}
	doneMu    sync.Mutex
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// Config holds the bridge settings.
type Config struct {
	// ID identifies the bridge in health and discovery messages.
	ID string

	// TopicPrefix is the first level of every topic.
	TopicPrefix string

	// HealthInterval is how often health is published.
	HealthInterval time.Duration

	// Version is reported in health messages.
	Version string
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Session is the part of the SysAP session the bridge drives.
// It is satisfied by *fah.Session.
type Session interface {
	Connector

	// Registry returns the device registry kept current by the session.
	Registry() *device.Registry

	// FindDevices re-reads the configuration and rebuilds the registry.
	FindDevices(ctx context.Context) (int, error)
}

// Telemetry stores device state and session counters.
// It is satisfied by *influxdb.Client and is optional.
type Telemetry interface {
	SessionStatsWriter
	WriteDeviceState(kind, key string, state map[string]any)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the bridge configuration.
	Config Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Session is the SysAP session.
	Session Session

	// Telemetry is optional time-series storage.
	Telemetry Telemetry

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config.ID == "" {
		return nil, errors.New("bridge id is required")
	}
	if opts.MQTTClient == nil {
		return nil, errors.New("MQTT client is required")
	}
	if opts.Session == nil {
		return nil, errors.New("SysAP session is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        opts.Config,
		topics:     NewTopics(opts.Config.TopicPrefix),
		mqtt:       opts.MQTTClient,
		session:    opts.Session,
		telemetry:  opts.Telemetry,
		stateCache: make(map[string]device.State),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:   opts.Config.ID,
		Version:    opts.Config.Version,
		Interval:   opts.Config.HealthInterval,
		Topics:     b.topics,
		Publisher:  opts.MQTTClient,
		Session:    opts.Session,
		Statistics: b.statistics,
		Telemetry:  opts.Telemetry,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Topics returns the bridge's topic builders.
func (b *Bridge) Topics() Topics {
	return b.topics
}

// Start begins bridge operation.
// This hooks the device registry, subscribes to MQTT topics, publishes
// the current device states and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	registry := b.session.Registry()
	registry.OnChange(b.handleDeviceChange)

	commandTopic := b.topics.Commands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := b.topics.Requests()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	devices := registry.Devices("")
	for _, d := range devices {
		b.publishState(d)
	}
	b.health.SetDeviceCount(len(devices))

	b.health.Start(ctx)

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started",
		"bridge_id", b.cfg.ID,
		"devices", len(devices))

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.doneMu.Lock()
		close(b.done)
		b.doneMu.Unlock()

		// Cancel bridge context to abort in-flight commands
		b.ctxCancel()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		// Wait for in-flight handlers
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// Discover re-reads the SysAP configuration, publishes the discovery
// message and prunes state for devices that disappeared.
func (b *Bridge) Discover(ctx context.Context) (int, error) {
	count, err := b.session.FindDevices(ctx)
	if err != nil {
		return 0, fmt.Errorf("find devices: %w", err)
	}

	devices := b.session.Registry().Devices("")
	b.health.SetDeviceCount(len(devices))
	b.PruneStateCache()

	msg := NewDiscoveryMessage(b.cfg.ID, devices)
	if err := b.publishJSON(b.topics.Discovery(), msg, true); err != nil {
		b.logError("failed to publish discovery", err)
	}

	b.logInfo("discovery complete", "devices", count)
	return count, nil
}

// track registers an in-flight handler unless the bridge is stopping.
func (b *Bridge) track() bool {
	b.doneMu.Lock()
	defer b.doneMu.Unlock()
	select {
	case <-b.done:
		return false
	default:
	}
	b.wg.Add(1)
	return true
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	if !b.track() {
		return nil
	}
	defer b.wg.Done()

	category, rest, err := b.topics.Route(topic)
	if err != nil {
		return err
	}

	switch category {
	case "command":
		b.handleCommand(rest, payload)
	case "request":
		b.handleRequest(payload)
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidTopic, category)
	}
	return nil
}

// handleCommand processes a command for the device at address.
func (b *Bridge) handleCommand(address string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"address", address,
		"command", cmd.Command)

	d, err := b.lookup(address)
	if err != nil {
		b.commandsFailed.Add(1)
		b.publishAckError(cmd, address, ErrCodeNotConfigured, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := executeCommand(ctx, d, cmd); err != nil {
		b.commandsFailed.Add(1)
		b.publishAckError(cmd, address, errorCode(err), err.Error())
		return
	}

	b.commandsSent.Add(1)
	b.publishAck(cmd, address, AckAccepted)

	// Light on/off is tracked optimistically, publish it without waiting
	// for the SysAP to echo the change.
	b.publishState(d)
}

// lookup resolves a topic address to a registered device.
func (b *Bridge) lookup(address string) (device.Device, error) {
	kind, key, err := ParseDeviceAddress(address)
	if err != nil {
		return nil, err
	}
	return b.session.Registry().Device(kind, key)
}

// errorCode maps an execution error to an ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, device.ErrInvalidValue):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrUnknownCommand), errors.Is(err, device.ErrUnsupported):
		return ErrCodeInvalidCommand
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, fahsession.ErrDisconnected), errors.Is(err, fahsession.ErrClosed),
		errors.Is(err, device.ErrNoWriter):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, context.Canceled):
		return ErrCodeBridgeError
	default:
		return ErrCodeProtocolError
	}
}

// publishAck publishes a command acknowledgment.
//
//nolint:unparam // status parameter will carry AckTimeout once retries are added
func (b *Bridge) publishAck(cmd CommandMessage, address string, status AckStatus) {
	ack := NewAckMessage(cmd, status, address)
	if err := b.publishJSON(b.topics.Ack(address), ack, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string) {
	ack := NewAckError(cmd, address, code, message)
	if err := b.publishJSON(b.topics.Ack(address), ack, false); err != nil {
		b.logError("failed to publish ack error", err)
	}

	b.logError("command failed",
		fmt.Errorf("address=%s code=%s message=%s", address, code, message))
}

// handleRequest processes a request message.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage

	switch req.Action {
	case ActionReadState:
		resp = b.handleReadState(req)
	case ActionReadAll:
		resp = b.handleReadAll(req)
	case ActionDiscover:
		resp = b.handleDiscover(req)
	default:
		resp = failedResponse(req, ErrCodeInvalidCommand,
			fmt.Sprintf("%v: %s", ErrUnknownAction, req.Action))
	}

	if err := b.publishJSON(b.topics.Response(req.RequestID), resp, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

// handleReadState answers with the cached state of one device.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return failedResponse(req, ErrCodeInvalidParameters, "device_id is required")
	}

	d, err := b.lookup(req.DeviceID)
	if err != nil {
		return failedResponse(req, ErrCodeNotConfigured, err.Error())
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"address": DeviceAddress(d.Kind(), d.Key()),
			"name":    d.Name(),
			"state":   d.State(),
		},
	}
}

// handleReadAll republishes every device state, bypassing the cache.
func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	b.ClearStateCache()

	devices := b.session.Registry().Devices("")
	for _, d := range devices {
		b.publishState(d)
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"devices": len(devices),
			"message": "state republished",
		},
	}
}

// handleDiscover re-reads the configuration.
func (b *Bridge) handleDiscover(req RequestMessage) ResponseMessage {
	ctx, cancel := context.WithTimeout(b.ctx, discoverTimeout)
	defer cancel()

	count, err := b.Discover(ctx)
	if err != nil {
		code := ErrCodeDeviceUnreachable
		if errors.Is(err, context.DeadlineExceeded) {
			code = ErrCodeTimeout
		}
		return failedResponse(req, code, err.Error())
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"devices": count,
		},
	}
}

func failedResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error: &ResponseError{
			Code:    code,
			Message: message,
		},
	}
}

// handleDeviceChange is registered with the device registry.
func (b *Bridge) handleDeviceChange(d device.Device) {
	select {
	case <-b.done:
		return
	default:
	}
	b.publishState(d)
}

// publishState publishes a device's state when it differs from the last
// one published, and records it as telemetry.
func (b *Bridge) publishState(d device.Device) {
	msg := NewStateMessage(d)
	if b.stateUnchanged(msg.Address, msg.State) {
		return
	}

	if err := b.publishJSON(b.topics.State(d.Kind(), d.Key()), msg, true); err != nil {
		b.logError("failed to publish state", fmt.Errorf("address=%s: %w", msg.Address, err))
		b.forgetState(msg.Address)
		return
	}
	b.statesSent.Add(1)
	b.logDebug("published state", "address", msg.Address, "state", msg.State)

	if b.telemetry != nil {
		b.telemetry.WriteDeviceState(string(d.Kind()), d.Key(), msg.State)
	}
}

// stateUnchanged records state for address and reports whether it equals
// the previous entry.
func (b *Bridge) stateUnchanged(address string, state device.State) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	prev, ok := b.stateCache[address]
	if ok && maps.Equal(prev, state) {
		return true
	}
	b.stateCache[address] = maps.Clone(state)
	return false
}

func (b *Bridge) forgetState(address string) {
	b.stateCacheMu.Lock()
	delete(b.stateCache, address)
	b.stateCacheMu.Unlock()
}

// ClearStateCache removes all entries from the state cache, so the next
// change of every device is published.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	b.stateCache = make(map[string]device.State)
}

// PruneStateCache removes cache entries for devices no longer registered.
func (b *Bridge) PruneStateCache() {
	valid := make(map[string]struct{})
	for _, d := range b.session.Registry().Devices("") {
		valid[DeviceAddress(d.Kind(), d.Key())] = struct{}{}
	}

	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	for address := range b.stateCache {
		if _, ok := valid[address]; !ok {
			delete(b.stateCache, address)
		}
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	return b.mqtt.Publish(topic, payload, 1, retained)
}

func (b *Bridge) statistics() BridgeStatistics {
	return BridgeStatistics{
		MessagesSent: b.commandsSent.Load(),
		Errors:       b.commandsFailed.Load(),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) log() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	if b.logger == nil {
		return nopLogger{}
	}
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) { b.log().Info(msg, keysAndValues...) }

func (b *Bridge) logDebug(msg string, keysAndValues ...any) { b.log().Debug(msg, keysAndValues...) }

func (b *Bridge) logError(msg string, err error) { b.log().Error(msg, "error", err) }

// BridgeMetrics is a snapshot of bridge and session counters.
type BridgeMetrics struct {
	Connected       bool
	Status          string
	CommandsSent    uint64
	CommandsFailed  uint64
	StatesPublished uint64
	UpdatesReceived uint64
	DevicesManaged  int
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	stats := b.session.Stats()
	return BridgeMetrics{
		Connected:       b.session.IsConnected(),
		Status:          stats.State,
		CommandsSent:    b.commandsSent.Load(),
		CommandsFailed:  b.commandsFailed.Load(),
		StatesPublished: b.statesSent.Load(),
		UpdatesReceived: stats.UpdatesReceived,
		DevicesManaged:  b.session.Registry().Len(),
	}
}
