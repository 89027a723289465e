package fah

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	fahsession "github.com/nerrad567/gray-logic-fah/internal/fah"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the part of the MQTT client the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Connector reports on the SysAP session.
type Connector interface {
	IsConnected() bool
	Host() string
	Stats() fahsession.Stats
}

// SessionStatsWriter stores session counters on every health report.
type SessionStatsWriter interface {
	WriteSessionStats(host string, connected bool, updatesReceived, updatesDropped, reconnects uint64)
}

// HealthReporterConfig configures NewHealthReporter. Only Publisher is
// needed to publish anything; a nil Session reports unhealthy.
type HealthReporterConfig struct {
	BridgeID string
	Version  string
	Interval time.Duration // default 30s
	Topics   Topics

	Publisher HealthPublisher
	Session   Connector

	// Statistics supplies the bridge's own command counters. Optional.
	Statistics func() BridgeStatistics

	// Telemetry receives the session counters on each report. Optional.
	Telemetry SessionStatsWriter
}

// HealthReporter publishes a retained HealthMessage on a fixed interval
// and whenever asked. Status transitions are logged.
type HealthReporter struct {
	cfg       HealthReporterConfig
	interval  time.Duration
	startTime time.Time

	deviceCount atomic.Int64
	lastStatus  atomic.Value // HealthStatus

	logger   Logger
	loggerMu sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter returns a reporter that is not yet running; see Start.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		interval:  interval,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// Start reports every interval until ctx ends or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-ticker.C:
				if err := h.PublishNow(); err != nil {
					h.log().Error("failed to publish health", "error", err)
				}
			}
		}
	}()
}

// Stop ends periodic reporting and publishes a final "stopping" report.
// Later calls do nothing.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		//nolint:errcheck // shutting down, the Last Will covers a lost report
		h.publish(HealthStopping, "")
	})
}

// SetDeviceCount records how many devices the last discovery found.
func (h *HealthReporter) SetDeviceCount(count int) {
	h.deviceCount.Store(int64(count))
}

// SetLogger sets the logger used for publish failures and transitions.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting reports that the bridge is initialising.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow evaluates and publishes the current status, writing session
// telemetry on the way.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	h.noteTransition(status, reason)
	h.writeTelemetry()
	return h.publish(status, reason)
}

// LWTPayload is the JSON Last Will to register with the broker.
func LWTPayload(bridgeID string) ([]byte, error) {
	return json.Marshal(NewLWTMessage(bridgeID))
}

// determineStatus: MQTT down is degraded since state cannot be delivered;
// a session that gave up (bad credentials, closed) is unhealthy, any other
// disconnected state is degraded while the supervisor retries.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	session := h.cfg.Session
	if session == nil {
		return HealthUnhealthy, "no SysAP session"
	}
	if session.IsConnected() {
		return HealthHealthy, ""
	}

	switch state := session.Stats().State; state {
	case fahsession.StateAuthFailed.String(), fahsession.StateClosed.String():
		return HealthUnhealthy, "SysAP session " + state
	default:
		return HealthDegraded, "SysAP session " + state
	}
}

func (h *HealthReporter) noteTransition(status HealthStatus, reason string) {
	prev, _ := h.lastStatus.Swap(status).(HealthStatus)
	if prev == status || prev == "" {
		return
	}
	if status == HealthHealthy {
		h.log().Info("bridge healthy", "previous", prev)
		return
	}
	h.log().Warn("bridge health changed", "status", status, "previous", prev, "reason", reason)
}

func (h *HealthReporter) writeTelemetry() {
	if h.cfg.Telemetry == nil || h.cfg.Session == nil {
		return
	}
	s := h.cfg.Session.Stats()
	h.cfg.Telemetry.WriteSessionStats(h.cfg.Session.Host(), h.cfg.Session.IsConnected(),
		s.UpdatesReceived, s.UpdatesDropped, s.Reconnects)
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	var (
		stats fahsession.Stats
		host  string
	)
	if h.cfg.Session != nil {
		stats = h.cfg.Session.Stats()
		host = h.cfg.Session.Host()
	}

	msg := NewHealthMessage(h.cfg.BridgeID, h.cfg.Version, host, status, stats,
		int(h.deviceCount.Load()), h.startTime)
	msg.Reason = reason

	counters := BridgeStatistics{MessagesReceived: stats.UpdatesReceived, Errors: stats.UpdatesDropped}
	if h.cfg.Statistics != nil {
		own := h.cfg.Statistics()
		counters.MessagesSent = own.MessagesSent
		counters.Errors += own.Errors
	}
	msg.Statistics = &counters

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topics.Health(), payload, 1, true)
}

func (h *HealthReporter) log() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	if h.logger == nil {
		return nopLogger{}
	}
	return h.logger
}
